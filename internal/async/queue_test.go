package async

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/receipts-ingest/constants"
	"github.com/joseph-ayodele/receipts-ingest/internal/common"
	"github.com/joseph-ayodele/receipts-ingest/internal/entity"
)

type slowProcessor struct {
	delay time.Duration
	done  atomic.Int32
	panic bool
}

func (p *slowProcessor) Process(ctx context.Context, sub entity.ReceiptSubmission) (entity.SubmissionReport, error) {
	if p.panic {
		panic("boom")
	}
	select {
	case <-time.After(p.delay):
	case <-ctx.Done():
		return entity.SubmissionReport{}, ctx.Err()
	}
	p.done.Add(1)
	return entity.SubmissionReport{SubmissionID: sub.ID, Status: constants.SubmissionPersisted}, nil
}

type reports struct {
	mu  sync.Mutex
	got []entity.SubmissionReport
}

func (r *reports) Record(rep entity.SubmissionReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, rep)
}

func sub() entity.ReceiptSubmission {
	return entity.ReceiptSubmission{ID: uuid.New(), Submitter: "alice"}
}

func TestShutdownDrainsQueuedSubmissions(t *testing.T) {
	proc := &slowProcessor{delay: 10 * time.Millisecond}
	rep := &reports{}
	q := New(proc, nil, WithWorkers(2), WithQueueSize(16), WithReporter(rep))

	for i := 0; i < 10; i++ {
		require.NoError(t, q.Enqueue(context.Background(), sub()))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, q.Shutdown(ctx))
	assert.EqualValues(t, 10, proc.done.Load())

	rep.mu.Lock()
	assert.Len(t, rep.got, 10)
	assert.Equal(t, constants.SubmissionQueued, rep.got[0].Status)
	rep.mu.Unlock()

	assert.ErrorIs(t, q.Enqueue(context.Background(), sub()), common.ErrQueueClosed)
	assert.NoError(t, q.Shutdown(context.Background()))
}

func TestShutdownHonoursContext(t *testing.T) {
	proc := &slowProcessor{delay: 500 * time.Millisecond}
	q := New(proc, nil, WithWorkers(1), WithQueueSize(4))
	require.NoError(t, q.Enqueue(context.Background(), sub()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Shutdown(ctx), context.DeadlineExceeded)
}

func TestEnqueueBlocksWhenFullUntilContextEnds(t *testing.T) {
	proc := &slowProcessor{delay: time.Second}
	q := New(proc, nil, WithWorkers(1), WithQueueSize(1), WithProcessTimeout(2*time.Second))
	defer q.Shutdown(context.Background())

	require.NoError(t, q.Enqueue(context.Background(), sub())) // taken by the worker
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Enqueue(context.Background(), sub())) // fills the buffer

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Enqueue(ctx, sub()), context.DeadlineExceeded)
	assert.Equal(t, 1, q.Len())
}

func TestWorkerSurvivesPanic(t *testing.T) {
	proc := &slowProcessor{panic: true}
	q := New(proc, nil, WithWorkers(1))
	require.NoError(t, q.Enqueue(context.Background(), sub()))
	require.NoError(t, q.Enqueue(context.Background(), sub()))
	assert.NoError(t, q.Shutdown(context.Background()))
}
