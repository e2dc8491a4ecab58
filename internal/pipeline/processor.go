// Package pipeline runs one flushed submission through extraction, parsing,
// validation and the sink fan-out, and reports the outcome.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joseph-ayodele/receipts-ingest/constants"
	"github.com/joseph-ayodele/receipts-ingest/internal/common"
	"github.com/joseph-ayodele/receipts-ingest/internal/entity"
	"github.com/joseph-ayodele/receipts-ingest/internal/llm"
	"github.com/joseph-ayodele/receipts-ingest/internal/metrics"
	"github.com/joseph-ayodele/receipts-ingest/internal/parse"
	"github.com/joseph-ayodele/receipts-ingest/internal/photo"
	"github.com/joseph-ayodele/receipts-ingest/internal/sink"
	"github.com/joseph-ayodele/receipts-ingest/internal/taxonomy"
	"github.com/joseph-ayodele/receipts-ingest/internal/validate"
)

const rawLogLimit = 2000

// Persister is the fan-out as seen by the processor.
type Persister interface {
	Persist(ctx context.Context, identity string, items []entity.ExpandedLineItem) []entity.SinkResult
}

// Reporter receives the final report of every processed submission.
type Reporter interface {
	Record(report entity.SubmissionReport)
}

type Config struct {
	MaxPhotoBytes int64
	MaxDimension  int
	RawArchiveDir string // empty disables archiving
	Prompt        llm.PromptOptions
}

// Processor coordinates extraction, then parsing and validation, then
// persistence.
type Processor struct {
	logger    *slog.Logger
	cfg       Config
	prompt    llm.Prompt
	extractor llm.Extractor
	parser    *parse.Parser
	validator *validate.Validator
	persister Persister
	reporter  Reporter
}

func NewProcessor(
	logger *slog.Logger,
	cfg Config,
	idx *taxonomy.Index,
	extractor llm.Extractor,
	validator *validate.Validator,
	persister Persister,
	reporter Reporter,
) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		logger:    logger,
		cfg:       cfg,
		prompt:    llm.BuildPrompt(idx, cfg.Prompt),
		extractor: extractor,
		parser:    parse.New(logger),
		validator: validator,
		persister: persister,
		reporter:  reporter,
	}
}

// Extraction is everything derived from a submission before persistence.
type Extraction struct {
	Result   llm.ExtractResult
	Parsed   parse.Result
	Outcome  validate.Outcome
	Photos   int
	Rejected int
	Warnings []entity.RowWarning
}

// Extract prepares the photos, calls the model and validates what it
// returned. Nothing is persisted. The returned Extraction is filled as far as
// processing got, also on error.
func (p *Processor) Extract(ctx context.Context, sub entity.ReceiptSubmission) (Extraction, error) {
	log := common.LoggerFrom(ctx, p.logger)
	var ex Extraction

	images := make([]llm.Image, 0, len(sub.Photos))
	for i, ph := range sub.Photos {
		img, err := p.prepare(ph)
		if err != nil {
			ex.Rejected++
			ex.Warnings = append(ex.Warnings, entity.RowWarning{
				Kind:    constants.WarnPhotoRejected,
				Message: fmt.Sprintf("photo %d (%s): %v", i+1, ph.Filename, err),
			})
			log.Warn("pipeline.photo.rejected", "index", i+1, "filename", ph.Filename, "error", err)
			continue
		}
		images = append(images, img)
	}
	ex.Photos = len(images)
	if len(images) == 0 {
		return ex, common.NewAppError("PHOTO_ERROR", "no usable photo in submission", common.ErrInvalidInput)
	}

	res, err := p.extractor.Extract(ctx, llm.ExtractRequest{
		SubmissionID: sub.ID.String(),
		Images:       images,
		Prompt:       p.prompt,
	})
	ex.Result = res
	if res.Text != "" {
		p.archive(log, sub, res.Text)
	}
	if err != nil {
		if errors.Is(err, llm.ErrRefused) {
			ex.Warnings = append(ex.Warnings, entity.RowWarning{
				Kind:    constants.WarnExtractionRefused,
				Message: llm.Excerpt(res.Text, 200),
			})
		}
		return ex, fmt.Errorf("%w: %w", common.ErrExtractionFailed, err)
	}

	parsed, err := p.parser.Parse(res.Text)
	ex.Parsed = parsed
	ex.Warnings = append(ex.Warnings, parsed.Warnings...)
	if err != nil {
		log.Debug("pipeline.raw", "text", llm.Excerpt(res.Text, rawLogLimit))
		return ex, err
	}

	fallback := sub.CreatedAt
	if len(sub.Photos) > 0 && !sub.Photos[0].ReceivedAt.IsZero() {
		fallback = sub.Photos[0].ReceivedAt
	}
	out := p.validator.Validate(validate.Input{
		SubmissionID: sub.ID,
		Submitter:    sub.Submitter,
		Candidates:   parsed.Records,
		Total:        parsed.Total,
		FallbackDate: fallback,
	})
	ex.Outcome = out
	ex.Warnings = append(ex.Warnings, out.Warnings...)
	if len(out.Items) == 0 {
		return ex, common.NewAppError("VALIDATE_ERROR",
			fmt.Sprintf("%d candidate row(s), none valid", len(parsed.Records)), common.ErrNoValidRecords)
	}
	return ex, nil
}

// Process runs the whole submission and returns its report. The error is the
// terminal failure, if any; sink failures are not errors and only show up in
// the report.
func (p *Processor) Process(ctx context.Context, sub entity.ReceiptSubmission) (entity.SubmissionReport, error) {
	ctx = common.WithSubmission(ctx, sub.ID.String(), sub.Submitter)
	log := common.LoggerFrom(ctx, p.logger)

	report := entity.SubmissionReport{
		SubmissionID: sub.ID,
		Submitter:    sub.Submitter,
		Status:       constants.SubmissionQueued,
		Photos:       len(sub.Photos),
		StartedAt:    time.Now().UTC(),
	}
	log.Info("pipeline.start", "photos", len(sub.Photos), "flush_reason", sub.FlushReason)

	ex, err := p.Extract(ctx, sub)
	fill(&report, ex)
	if err != nil {
		return p.finish(log, report, err), err
	}
	if p.persister == nil {
		err := common.NewAppError("CONFIG_ERROR", "no persister configured", common.ErrNoSinks)
		return p.finish(log, report, err), err
	}

	results := p.persister.Persist(ctx, sub.Submitter, ex.Outcome.Items)
	report.Sinks = results
	for _, r := range results {
		if r.Status != constants.SinkOK {
			report.Warnings = append(report.Warnings, entity.RowWarning{
				Kind:    constants.WarnSinkFailed,
				Message: r.Sink + ": " + r.Error,
			})
		}
	}
	report.Status = sink.Summarize(results)
	return p.finish(log, report, nil), nil
}

func (p *Processor) finish(log *slog.Logger, report entity.SubmissionReport, err error) entity.SubmissionReport {
	report.FinishedAt = time.Now().UTC()
	elapsed := report.FinishedAt.Sub(report.StartedAt).Milliseconds()
	if err != nil {
		report.Status = constants.SubmissionFailed
		report.Error = err.Error()
		log.Error("pipeline.failed",
			"error", err,
			"photos", report.Photos,
			"candidates", report.Candidates,
			"elapsed_ms", elapsed,
		)
	} else {
		log.Info("pipeline.done",
			"status", report.Status,
			"records", report.Records,
			"items", report.Items,
			"excluded", report.Excluded,
			"warnings", len(report.Warnings),
			"elapsed_ms", elapsed,
		)
	}
	metrics.SubmissionsProcessed.WithLabelValues(string(report.Status)).Inc()
	if p.reporter != nil {
		p.reporter.Record(report)
	}
	return report
}

func (p *Processor) prepare(ph entity.PhotoAsset) (llm.Image, error) {
	if _, err := photo.Inspect(ph.Data, p.cfg.MaxPhotoBytes); err != nil {
		return llm.Image{}, err
	}
	data, mime, err := photo.Normalize(ph.Data, p.cfg.MaxDimension)
	if err != nil {
		return llm.Image{}, err
	}
	return llm.Image{Name: ph.Filename, MimeType: mime, Data: data}, nil
}

// archive writes the raw model text next to earlier responses. Failures are
// logged and otherwise ignored.
func (p *Processor) archive(log *slog.Logger, sub entity.ReceiptSubmission, text string) {
	if p.cfg.RawArchiveDir == "" {
		return
	}
	if err := os.MkdirAll(p.cfg.RawArchiveDir, 0o755); err != nil {
		log.Warn("pipeline.archive.failed", "error", err)
		return
	}
	name := fmt.Sprintf("receipt_%s_%s.txt", time.Now().UTC().Format("20060102_150405"), sub.ID)
	path := filepath.Join(p.cfg.RawArchiveDir, name)
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		log.Warn("pipeline.archive.failed", "path", path, "error", err)
		return
	}
	log.Debug("pipeline.archived", "path", path, "bytes", len(text))
}

func fill(r *entity.SubmissionReport, ex Extraction) {
	r.Candidates = len(ex.Parsed.Records)
	r.Records = len(ex.Outcome.Records) - ex.Outcome.Excluded
	if r.Records < 0 {
		r.Records = 0
	}
	r.Items = len(ex.Outcome.Items)
	r.Excluded = ex.Outcome.Excluded
	r.Warnings = append([]entity.RowWarning(nil), ex.Warnings...)
	r.Reconciliation = ex.Outcome.Reconciliation
}
