package album

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/receipts-ingest/constants"
	"github.com/joseph-ayodele/receipts-ingest/internal/common"
	"github.com/joseph-ayodele/receipts-ingest/internal/entity"
)

type collector struct {
	ch chan entity.ReceiptSubmission
}

func newCollector() *collector {
	return &collector{ch: make(chan entity.ReceiptSubmission, 512)}
}

func (c *collector) dispatch(sub entity.ReceiptSubmission) { c.ch <- sub }

func (c *collector) next(t *testing.T, within time.Duration) entity.ReceiptSubmission {
	t.Helper()
	select {
	case sub := <-c.ch:
		return sub
	case <-time.After(within):
		t.Fatalf("no submission dispatched within %s", within)
		return entity.ReceiptSubmission{}
	}
}

func (c *collector) none(t *testing.T, during time.Duration) {
	t.Helper()
	select {
	case sub := <-c.ch:
		t.Fatalf("unexpected submission %s with %d photo(s)", sub.ID, len(sub.Photos))
	case <-time.After(during):
	}
}

func photo(user, group, name string) entity.PhotoAsset {
	return entity.PhotoAsset{Submitter: user, GroupKey: group, Filename: name, Data: []byte(name)}
}

func names(sub entity.ReceiptSubmission) []string {
	out := make([]string, len(sub.Photos))
	for i, p := range sub.Photos {
		out[i] = p.Filename
	}
	return out
}

func TestBurstBecomesOneSubmissionAndLatePhotoStartsAnother(t *testing.T) {
	// Scaled version of 500ms gaps under a 2s window, then a photo 3s later.
	c := newCollector()
	b := New(Config{Quiescence: 200 * time.Millisecond, MaxAge: 5 * time.Second, MaxPhotos: 10}, c.dispatch, nil)
	defer b.Close()

	id1, err := b.Accept(photo("u1", "album-1", "p1"))
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	id2, err := b.Accept(photo("u1", "album-1", "p2"))
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	first := c.next(t, time.Second)
	assert.Equal(t, id1, first.ID)
	assert.Equal(t, []string{"p1", "p2"}, names(first))
	assert.Equal(t, constants.FlushQuiescence, first.FlushReason)

	time.Sleep(100 * time.Millisecond)
	id3, err := b.Accept(photo("u1", "album-1", "p3"))
	require.NoError(t, err)
	assert.NotEqual(t, id1, id3)

	second := c.next(t, time.Second)
	assert.Equal(t, id3, second.ID)
	assert.Equal(t, []string{"p3"}, names(second))
	c.none(t, 300*time.Millisecond)
}

func TestFlushWaitsForQuiescence(t *testing.T) {
	c := newCollector()
	quiet := 150 * time.Millisecond
	b := New(Config{Quiescence: quiet, MaxAge: 5 * time.Second, MaxPhotos: 10}, c.dispatch, nil)
	defer b.Close()

	start := time.Now()
	_, err := b.Accept(photo("u1", "", "solo"))
	require.NoError(t, err)

	c.none(t, quiet/2)
	sub := c.next(t, time.Second)
	assert.GreaterOrEqual(t, time.Since(start), quiet)
	assert.Equal(t, []string{"solo"}, names(sub))
	assert.Equal(t, 0, b.Pending())
}

func TestEachArrivalResetsTheTimer(t *testing.T) {
	c := newCollector()
	b := New(Config{Quiescence: 120 * time.Millisecond, MaxAge: 5 * time.Second, MaxPhotos: 50}, c.dispatch, nil)
	defer b.Close()

	for i := 0; i < 5; i++ {
		_, err := b.Accept(photo("u1", "g", fmt.Sprintf("p%d", i)))
		require.NoError(t, err)
		time.Sleep(60 * time.Millisecond)
	}
	sub := c.next(t, time.Second)
	assert.Equal(t, []string{"p0", "p1", "p2", "p3", "p4"}, names(sub))
}

func TestMaxPhotosFlushesEarly(t *testing.T) {
	c := newCollector()
	b := New(Config{Quiescence: time.Second, MaxAge: 5 * time.Second, MaxPhotos: 3}, c.dispatch, nil)
	defer b.Close()

	for _, n := range []string{"a", "b", "c", "d"} {
		_, err := b.Accept(photo("u1", "g", n))
		require.NoError(t, err)
	}

	sub := c.next(t, 200*time.Millisecond)
	assert.Equal(t, []string{"a", "b", "c"}, names(sub))
	assert.Equal(t, constants.FlushMaxPhotos, sub.FlushReason)
	assert.Equal(t, 1, b.Pending())
}

func TestMaxAgeCapsAContinuousStream(t *testing.T) {
	c := newCollector()
	b := New(Config{Quiescence: 100 * time.Millisecond, MaxAge: 250 * time.Millisecond, MaxPhotos: 100}, c.dispatch, nil)
	defer b.Close()

	stop := time.After(450 * time.Millisecond)
	tick := time.NewTicker(40 * time.Millisecond)
	defer tick.Stop()
	sent := 0
loop:
	for {
		select {
		case <-stop:
			break loop
		case <-tick.C:
			_, err := b.Accept(photo("u1", "g", fmt.Sprintf("p%d", sent)))
			require.NoError(t, err)
			sent++
		}
	}

	first := c.next(t, time.Second)
	assert.Equal(t, constants.FlushMaxAge, first.FlushReason)
	second := c.next(t, time.Second)
	assert.Equal(t, sent, len(first.Photos)+len(second.Photos))
}

func TestGroupsAreScopedPerSubmitter(t *testing.T) {
	c := newCollector()
	b := New(Config{Quiescence: 80 * time.Millisecond, MaxAge: time.Second, MaxPhotos: 10}, c.dispatch, nil)
	defer b.Close()

	idA, err := b.Accept(photo("alice", "same", "a1"))
	require.NoError(t, err)
	idB, err := b.Accept(photo("bob", "same", "b1"))
	require.NoError(t, err)
	assert.NotEqual(t, idA, idB)

	got := map[string][]string{}
	for i := 0; i < 2; i++ {
		sub := c.next(t, time.Second)
		got[sub.Submitter] = names(sub)
	}
	assert.Equal(t, map[string][]string{"alice": {"a1"}, "bob": {"b1"}}, got)
}

func TestConcurrentArrivalsAreNeverLost(t *testing.T) {
	c := newCollector()
	b := New(Config{Quiescence: 5 * time.Millisecond, MaxAge: 50 * time.Millisecond, MaxPhotos: 7}, c.dispatch, nil)
	defer b.Close()

	const senders, perSender = 8, 25
	var wg sync.WaitGroup
	for s := 0; s < senders; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				_, err := b.Accept(photo("u1", "hot", fmt.Sprintf("%d-%d", s, i)))
				assert.NoError(t, err)
				if i%5 == 0 {
					time.Sleep(3 * time.Millisecond)
				}
			}
		}(s)
	}
	wg.Wait()

	seen := map[string]bool{}
	deadline := time.After(2 * time.Second)
	for len(seen) < senders*perSender {
		select {
		case sub := <-c.ch:
			for _, p := range sub.Photos {
				require.False(t, seen[p.Filename], "photo %s dispatched twice", p.Filename)
				seen[p.Filename] = true
			}
		case <-deadline:
			t.Fatalf("only %d of %d photos dispatched", len(seen), senders*perSender)
		}
	}
}

func TestCloseAbandonsPendingSubmissions(t *testing.T) {
	c := newCollector()
	b := New(Config{Quiescence: 100 * time.Millisecond, MaxAge: time.Second, MaxPhotos: 10}, c.dispatch, nil)

	_, err := b.Accept(photo("u1", "g1", "p1"))
	require.NoError(t, err)
	_, err = b.Accept(photo("u2", "", "p2"))
	require.NoError(t, err)

	assert.Equal(t, 2, b.Close())
	assert.Equal(t, 0, b.Close())
	c.none(t, 250*time.Millisecond)

	_, err = b.Accept(photo("u1", "g1", "p3"))
	assert.ErrorIs(t, err, common.ErrBufferClosed)
}

func TestAcceptRejectsIncompleteAsset(t *testing.T) {
	b := New(Config{Quiescence: time.Second}, nil, nil)
	defer b.Close()

	_, err := b.Accept(entity.PhotoAsset{Submitter: "u1"})
	assert.ErrorIs(t, err, common.ErrInvalidInput)
	_, err = b.Accept(entity.PhotoAsset{Data: []byte{1}})
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}
