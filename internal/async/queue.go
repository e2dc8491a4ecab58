// Package async runs flushed submissions on a fixed pool of workers so that
// extraction never blocks photo intake.
package async

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/joseph-ayodele/receipts-ingest/constants"
	"github.com/joseph-ayodele/receipts-ingest/internal/common"
	"github.com/joseph-ayodele/receipts-ingest/internal/entity"
	"github.com/joseph-ayodele/receipts-ingest/internal/metrics"
)

type Processor interface {
	Process(ctx context.Context, sub entity.ReceiptSubmission) (entity.SubmissionReport, error)
}

type Reporter interface {
	Record(report entity.SubmissionReport)
}

type Queue struct {
	proc     Processor
	reporter Reporter
	logger   *slog.Logger
	workers  int
	timeout  time.Duration

	ch   chan entity.ReceiptSubmission
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.RWMutex // held for writing only to close ch
	closed bool
}

type Option func(*Queue)

func WithWorkers(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.ch = make(chan entity.ReceiptSubmission, n)
		}
	}
}

func WithProcessTimeout(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

// WithReporter records a QUEUED report for every accepted submission.
func WithReporter(r Reporter) Option {
	return func(q *Queue) { q.reporter = r }
}

func New(proc Processor, logger *slog.Logger, opts ...Option) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		proc:    proc,
		logger:  logger,
		workers: 4,
		timeout: 3 * time.Minute,
		ch:      make(chan entity.ReceiptSubmission, 256),
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *Queue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Debug("worker.started", "worker_id", workerID)
				for sub := range q.ch {
					q.run(workerID, sub)
				}
				q.logger.Debug("worker.stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (q *Queue) run(workerID int, sub entity.ReceiptSubmission) {
	metrics.WorkerInFlight.Inc()
	defer metrics.WorkerInFlight.Dec()

	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("worker.panic", "worker_id", workerID, "submission_id", sub.ID, "panic", fmt.Sprint(r))
		}
	}()

	report, err := q.proc.Process(ctx, sub)
	if err != nil {
		q.logger.Warn("worker.submission_failed",
			"worker_id", workerID,
			"submission_id", sub.ID,
			"user", sub.Submitter,
			"error", err,
		)
		return
	}
	q.logger.Debug("worker.submission_done", "worker_id", workerID, "submission_id", sub.ID, "status", report.Status)
}

// Enqueue hands sub to a worker. It blocks while the queue is full until ctx
// is done, and fails with ErrQueueClosed after Shutdown.
func (q *Queue) Enqueue(ctx context.Context, sub entity.ReceiptSubmission) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return common.ErrQueueClosed
	}

	select {
	case q.ch <- sub:
	default:
		q.logger.Warn("queue.full", "submission_id", sub.ID, "capacity", cap(q.ch))
		select {
		case q.ch <- sub:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if q.reporter != nil {
		q.reporter.Record(entity.SubmissionReport{
			SubmissionID: sub.ID,
			Submitter:    sub.Submitter,
			Status:       constants.SubmissionQueued,
			Photos:       len(sub.Photos),
		})
	}
	q.logger.Debug("queue.enqueued", "submission_id", sub.ID, "photos", len(sub.Photos))
	return nil
}

// Dispatch adapts Enqueue to the album buffer's callback. A submission that
// cannot be queued is dropped and counted as abandoned.
func (q *Queue) Dispatch(sub entity.ReceiptSubmission) {
	if err := q.Enqueue(context.Background(), sub); err != nil {
		metrics.SubmissionsAbandoned.Inc()
		q.logger.Warn("queue.dropped", "submission_id", sub.ID, "user", sub.Submitter, "error", err)
	}
}

// Len reports how many submissions are waiting for a worker.
func (q *Queue) Len() int { return len(q.ch) }

// Shutdown stops intake and waits for queued submissions to finish or for
// ctx to end, whichever comes first.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	pending := len(q.ch)
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("queue.shutdown_interrupted", "pending", len(q.ch))
		return ctx.Err()
	case <-done:
		q.logger.Info("queue.drained", "processed_after_close", pending)
		return nil
	}
}
