package sink

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/receipts-ingest/constants"
	"github.com/joseph-ayodele/receipts-ingest/internal/common"
	"github.com/joseph-ayodele/receipts-ingest/internal/entity"
)

type fakeSink struct {
	name      string
	userErr   error
	appendErr error
	panicMsg  string
	calls     *[]string
	got       []entity.ExpandedLineItem
	closeErr  error
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) EnsureUser(_ context.Context, identity string) (entity.UserAccount, error) {
	*f.calls = append(*f.calls, f.name+".user")
	if f.userErr != nil {
		return entity.UserAccount{}, f.userErr
	}
	return entity.UserAccount{ID: f.name + "-1", Identity: identity}, nil
}

func (f *fakeSink) AppendLineItems(_ context.Context, _ entity.UserAccount, items []entity.ExpandedLineItem) error {
	*f.calls = append(*f.calls, f.name+".append")
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.appendErr != nil {
		return f.appendErr
	}
	f.got = append(f.got, items...)
	return nil
}

func (f *fakeSink) Close() error { return f.closeErr }

func items(n int) []entity.ExpandedLineItem {
	out := make([]entity.ExpandedLineItem, n)
	for i := range out {
		out[i] = entity.ExpandedLineItem{Seq: i + 1, OriginalName: "x", Quantity: 1}
	}
	return out
}

func TestNewFanOutRequiresSinks(t *testing.T) {
	_, err := NewFanOut(nil, nil)
	assert.ErrorIs(t, err, common.ErrNoSinks)
}

func TestPersistIsolatesFailures(t *testing.T) {
	var calls []string
	a := &fakeSink{name: "a", appendErr: errors.New("disk full"), calls: &calls}
	b := &fakeSink{name: "b", calls: &calls}
	c := &fakeSink{name: "c", userErr: errors.New("conn refused"), calls: &calls}
	d := &fakeSink{name: "d", panicMsg: "boom", calls: &calls}
	e := &fakeSink{name: "e", calls: &calls}

	f, err := NewFanOut([]Sink{a, b, c, d, e}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, f.Names())

	res := f.Persist(context.Background(), "u1", items(3))
	require.Len(t, res, 5)

	assert.Equal(t, constants.SinkFailed, res[0].Status)
	assert.Contains(t, res[0].Error, "disk full")
	assert.Equal(t, constants.SinkOK, res[1].Status)
	assert.Equal(t, 3, res[1].Written)
	require.NotNil(t, res[1].User)
	assert.Equal(t, "b-1", res[1].User.ID)
	assert.Equal(t, constants.SinkFailed, res[2].Status)
	assert.Nil(t, res[2].User)
	assert.Equal(t, constants.SinkFailed, res[3].Status)
	assert.Contains(t, res[3].Error, "panic: boom")
	assert.Equal(t, constants.SinkOK, res[4].Status)

	assert.Len(t, b.got, 3)
	assert.Len(t, e.got, 3)
	assert.Equal(t, []string{
		"a.user", "a.append", "b.user", "b.append", "c.user", "d.user", "d.append", "e.user", "e.append",
	}, calls)
	assert.Equal(t, constants.SubmissionPartial, Summarize(res))
}

func TestPersistSkipsWorkOnCancelledContext(t *testing.T) {
	var calls []string
	f, err := NewFanOut([]Sink{&fakeSink{name: "a", calls: &calls}}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := f.Persist(ctx, "u1", items(1))
	assert.Equal(t, constants.SinkFailed, res[0].Status)
	assert.Empty(t, calls)
}

func TestSummarize(t *testing.T) {
	ok := entity.SinkResult{Status: constants.SinkOK}
	bad := entity.SinkResult{Status: constants.SinkFailed}

	assert.Equal(t, constants.SubmissionPersisted, Summarize([]entity.SinkResult{ok, ok}))
	assert.Equal(t, constants.SubmissionPartial, Summarize([]entity.SinkResult{bad, ok}))
	assert.Equal(t, constants.SubmissionFailed, Summarize([]entity.SinkResult{bad, bad}))
	assert.Equal(t, constants.SubmissionFailed, Summarize(nil))
}

func TestCloseJoinsErrors(t *testing.T) {
	var calls []string
	f, err := NewFanOut([]Sink{
		&fakeSink{name: "a", calls: &calls, closeErr: errors.New("a broke")},
		&fakeSink{name: "b", calls: &calls},
	}, nil)
	require.NoError(t, err)
	err = f.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a: a broke")
}
