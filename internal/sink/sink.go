// Package sink fans validated line items out to independent persistence
// targets. Sinks share no transaction: each one succeeds or fails on its own.
package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/receipts-ingest/constants"
	"github.com/joseph-ayodele/receipts-ingest/internal/common"
	"github.com/joseph-ayodele/receipts-ingest/internal/entity"
	"github.com/joseph-ayodele/receipts-ingest/internal/metrics"
)

// Sink is one persistence target. EnsureUser is idempotent per identity.
type Sink interface {
	Name() string
	EnsureUser(ctx context.Context, identity string) (entity.UserAccount, error)
	AppendLineItems(ctx context.Context, user entity.UserAccount, items []entity.ExpandedLineItem) error
	Close() error
}

type FanOut struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewFanOut keeps sinks in the given order. Zero sinks is a configuration
// error.
func NewFanOut(sinks []Sink, logger *slog.Logger) (*FanOut, error) {
	if len(sinks) == 0 {
		return nil, common.NewAppError("CONFIG_ERROR", "fan-out needs at least one sink", common.ErrNoSinks)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FanOut{sinks: append([]Sink(nil), sinks...), logger: logger}, nil
}

// Names returns the sink names in invocation order.
func (f *FanOut) Names() []string {
	out := make([]string, len(f.sinks))
	for i, s := range f.sinks {
		out[i] = s.Name()
	}
	return out
}

// Persist calls every sink in order and reports each outcome. A failing or
// panicking sink never stops the ones after it.
func (f *FanOut) Persist(ctx context.Context, identity string, items []entity.ExpandedLineItem) []entity.SinkResult {
	results := make([]entity.SinkResult, 0, len(f.sinks))
	for _, s := range f.sinks {
		results = append(results, f.persistOne(ctx, s, identity, items))
	}
	return results
}

func (f *FanOut) persistOne(ctx context.Context, s Sink, identity string, items []entity.ExpandedLineItem) (res entity.SinkResult) {
	name := s.Name()
	start := time.Now()
	res = entity.SinkResult{Sink: name, Status: constants.SinkFailed}

	defer func() {
		if r := recover(); r != nil {
			res.Status = constants.SinkFailed
			res.Written = 0
			res.Error = fmt.Sprintf("panic: %v", r)
		}
		res.ElapsedMS = time.Since(start).Milliseconds()
		metrics.SinkDurationSeconds.WithLabelValues(name).Observe(time.Since(start).Seconds())
		metrics.SinkWrites.WithLabelValues(name, string(res.Status)).Inc()

		if res.Status == constants.SinkOK {
			f.logger.Info("sink.append.ok",
				"sink", name,
				"user", identity,
				"written", res.Written,
				"elapsed_ms", res.ElapsedMS,
			)
			return
		}
		f.logger.Error("sink.append.failed",
			"sink", name,
			"user", identity,
			"error", res.Error,
			"elapsed_ms", res.ElapsedMS,
		)
	}()

	if err := ctx.Err(); err != nil {
		res.Error = err.Error()
		return res
	}
	user, err := s.EnsureUser(ctx, identity)
	if err != nil {
		res.Error = fmt.Errorf("ensure user: %w", err).Error()
		return res
	}
	res.User = &user
	if err := s.AppendLineItems(ctx, user, items); err != nil {
		res.Error = fmt.Errorf("append line items: %w", err).Error()
		return res
	}
	res.Status = constants.SinkOK
	res.Written = len(items)
	return res
}

// Close closes every sink and joins their errors.
func (f *FanOut) Close() error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Summarize derives the submission status from per-sink results.
func Summarize(results []entity.SinkResult) constants.SubmissionStatus {
	ok := 0
	for _, r := range results {
		if r.Status == constants.SinkOK {
			ok++
		}
	}
	switch {
	case len(results) > 0 && ok == len(results):
		return constants.SubmissionPersisted
	case ok > 0:
		return constants.SubmissionPartial
	default:
		return constants.SubmissionFailed
	}
}
