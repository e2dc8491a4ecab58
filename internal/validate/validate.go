// Package validate resolves categories, normalizes numbers and expands
// candidate rows into unit line items.
package validate

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/receipts-ingest/constants"
	"github.com/joseph-ayodele/receipts-ingest/internal/common"
	"github.com/joseph-ayodele/receipts-ingest/internal/entity"
	"github.com/joseph-ayodele/receipts-ingest/internal/metrics"
	"github.com/joseph-ayodele/receipts-ingest/internal/taxonomy"
)

type Options struct {
	DefaultCurrency string
	ToleranceAbs    decimal.Decimal
	TolerancePct    decimal.Decimal // percent of the extracted total
	MaxQuantity     int             // rows above it are excluded; 0 means DefaultMaxQuantity
}

const DefaultMaxQuantity = 1000

// Input is everything known about one submission after parsing.
type Input struct {
	SubmissionID uuid.UUID
	Submitter    string
	Candidates   []entity.CandidateRecord
	Total        *decimal.Decimal
	FallbackDate time.Time // used when no row carries a date
}

type Outcome struct {
	Records        []entity.ValidatedRecord
	Items          []entity.ExpandedLineItem
	Excluded       int
	Warnings       []entity.RowWarning
	Reconciliation *entity.Reconciliation
}

type Validator struct {
	taxonomy *taxonomy.Index
	opts     Options
	logger   *slog.Logger
}

var hundred = decimal.NewFromInt(100)

func New(idx *taxonomy.Index, opts Options, logger *slog.Logger) (*Validator, error) {
	if idx == nil {
		return nil, common.NewAppError("VALIDATE_ERROR", "taxonomy index is required", common.ErrInvalidInput)
	}
	if logger == nil {
		logger = slog.Default()
	}
	opts.DefaultCurrency = strings.ToUpper(strings.TrimSpace(opts.DefaultCurrency))
	if err := common.NewValidator().
		Field("default_currency", opts.DefaultCurrency, common.Required, common.CurrencyCode).
		Error(); err != nil {
		return nil, err
	}
	if opts.ToleranceAbs.IsNegative() || opts.TolerancePct.IsNegative() {
		return nil, common.NewAppError("VALIDATE_ERROR", "reconciliation tolerance must not be negative", common.ErrInvalidInput)
	}
	if opts.MaxQuantity <= 0 {
		opts.MaxQuantity = DefaultMaxQuantity
	}
	return &Validator{taxonomy: idx, opts: opts, logger: logger}, nil
}

// Validate never drops a row for an unknown category; only rows without a
// usable price are excluded. Items keep the order of their source rows.
func (v *Validator) Validate(in Input) Outcome {
	var out Outcome
	fill, filled := v.fillDate(in)

	for _, c := range in.Candidates {
		rec := v.record(c)
		if rec.Source.Date == nil {
			rec.ReceiptDate = fill
			if filled {
				rec.Warnings = append(rec.Warnings, warn(c.Row, constants.WarnDateFilled,
					"receipt date missing, using "+fill.Format("2006-01-02")))
			}
		}
		out.Records = append(out.Records, rec)
		out.Warnings = append(out.Warnings, rec.Warnings...)
		if !rec.Valid {
			out.Excluded++
			continue
		}
		for i := 0; i < rec.Quantity; i++ {
			out.Items = append(out.Items, entity.ExpandedLineItem{
				SubmissionID:   in.SubmissionID,
				Submitter:      in.Submitter,
				Seq:            len(out.Items) + 1,
				SourceRow:      c.Row,
				OriginalName:   c.OriginalName,
				TranslatedName: c.TranslatedName,
				Category:       rec.Category.Category,
				Subcategory:    rec.Category.Subcategory,
				UnitPrice:      rec.UnitPrice,
				Currency:       rec.Currency,
				Quantity:       1,
				ReceiptDate:    rec.ReceiptDate,
			})
		}
	}

	out.Reconciliation = v.reconcile(out.Records, in.Total)
	if out.Reconciliation.Mismatch {
		metrics.ReconciliationMismatches.Inc()
		out.Warnings = append(out.Warnings, warn(0, constants.WarnTotalMismatch,
			fmt.Sprintf("receipt total %s differs from line sum %s", *out.Reconciliation.Extracted, out.Reconciliation.Computed)))
	}
	for _, w := range out.Warnings {
		metrics.RowWarnings.WithLabelValues(w.Kind).Inc()
	}

	v.logger.Info("validate.done",
		"submission_id", in.SubmissionID,
		"candidates", len(in.Candidates),
		"items", len(out.Items),
		"excluded", out.Excluded,
		"warnings", len(out.Warnings),
		"mismatch", out.Reconciliation.Mismatch,
	)
	return out
}

func (v *Validator) record(c entity.CandidateRecord) entity.ValidatedRecord {
	rec := entity.ValidatedRecord{Source: c, Valid: true}
	if c.Date != nil {
		rec.ReceiptDate = *c.Date
	}

	entry, match := v.taxonomy.Resolve(c.Category, c.Subcategory)
	rec.Category, rec.Match = entry, match
	switch match {
	case entity.MatchSubcategory:
		rec.Warnings = append(rec.Warnings, warn(c.Row, constants.WarnSubcategoryMatch,
			fmt.Sprintf("category %q not found with %q, matched %s", c.Category, c.Subcategory, entry)))
	case entity.MatchUnclassified:
		rec.Warnings = append(rec.Warnings, warn(c.Row, constants.WarnUnclassified,
			fmt.Sprintf("no taxonomy match for %q / %q", c.Category, c.Subcategory)))
	}

	switch {
	case c.Price == nil:
		rec.Valid = false
		rec.Warnings = append(rec.Warnings, warn(c.Row, constants.WarnMissingPrice,
			fmt.Sprintf("price %q is not a number, row excluded", c.PriceRaw)))
	case c.Price.IsNegative():
		rec.Valid = false
		rec.Warnings = append(rec.Warnings, warn(c.Row, constants.WarnNegativePrice,
			fmt.Sprintf("price %s is negative, row excluded", c.Price.String())))
	default:
		rec.UnitPrice = c.Price.Round(2)
	}

	rec.Quantity, rec.OriginalQty = 1, decimal.NewFromInt(1)
	switch {
	case c.Quantity == nil:
		if strings.TrimSpace(c.QuantityRaw) != "" {
			rec.Warnings = append(rec.Warnings, warn(c.Row, constants.WarnQuantityAdjusted,
				fmt.Sprintf("quantity %q is not a number, using 1", c.QuantityRaw)))
		}
	case !c.Quantity.IsPositive():
		rec.Warnings = append(rec.Warnings, warn(c.Row, constants.WarnQuantityAdjusted,
			fmt.Sprintf("quantity %s is not positive, using 1", c.Quantity.String())))
	case c.Quantity.Round(0).GreaterThan(decimal.NewFromInt(int64(v.opts.MaxQuantity))):
		rec.Valid = false
		rec.Warnings = append(rec.Warnings, warn(c.Row, constants.WarnQuantityTooLarge,
			fmt.Sprintf("quantity %s exceeds %d, row excluded", c.Quantity.String(), v.opts.MaxQuantity)))
	default:
		rec.OriginalQty = *c.Quantity
		q := c.Quantity.Round(0).IntPart()
		if q < 1 {
			q = 1
		}
		rec.Quantity = int(q)
		if !c.Quantity.Equal(decimal.NewFromInt(q)) {
			rec.Warnings = append(rec.Warnings, warn(c.Row, constants.WarnQuantityAdjusted,
				fmt.Sprintf("quantity %s rounded to %d", c.Quantity.String(), q)))
		}
	}

	rec.Currency = strings.ToUpper(strings.TrimSpace(c.Currency))
	if err := common.NewValidator().Field("currency", rec.Currency, common.CurrencyCode).Error(); err != nil {
		if rec.Currency != "" {
			rec.Warnings = append(rec.Warnings, warn(c.Row, constants.WarnInvalidCurrency,
				fmt.Sprintf("currency %q is not an ISO code, using %s", c.Currency, v.opts.DefaultCurrency)))
		}
		rec.Currency = v.opts.DefaultCurrency
	}
	return rec
}

// fillDate picks the date for rows that carry none: the most common date of
// the sibling rows, else the fallback date. The bool is false when every row
// has its own date.
func (v *Validator) fillDate(in Input) (time.Time, bool) {
	counts := map[time.Time]int{}
	var order []time.Time
	missing := false
	for _, c := range in.Candidates {
		if c.Date == nil {
			missing = true
			continue
		}
		if counts[*c.Date] == 0 {
			order = append(order, *c.Date)
		}
		counts[*c.Date]++
	}
	if !missing {
		return time.Time{}, false
	}
	var best time.Time
	for _, d := range order {
		if counts[d] > counts[best] {
			best = d
		}
	}
	if !best.IsZero() {
		return best, true
	}
	fb := in.FallbackDate
	if fb.IsZero() {
		fb = time.Now()
	}
	fb = fb.UTC()
	return time.Date(fb.Year(), fb.Month(), fb.Day(), 0, 0, 0, 0, time.UTC), true
}

// reconcile compares the extracted total with the sum of unit price times
// original quantity. The allowed gap is the larger of the absolute and the
// relative tolerance.
func (v *Validator) reconcile(records []entity.ValidatedRecord, total *decimal.Decimal) *entity.Reconciliation {
	sum := decimal.Zero
	for _, r := range records {
		if r.Valid {
			sum = sum.Add(r.UnitPrice.Mul(r.OriginalQty))
		}
	}
	rec := &entity.Reconciliation{Computed: sum.StringFixed(2)}
	if total == nil {
		return rec
	}
	extracted := total.StringFixed(2)
	rec.Extracted = &extracted

	tol := decimal.Max(v.opts.ToleranceAbs, total.Abs().Mul(v.opts.TolerancePct).Div(hundred))
	rec.Mismatch = total.Sub(sum).Abs().GreaterThan(tol)
	return rec
}

func warn(row int, kind, msg string) entity.RowWarning {
	return entity.RowWarning{Row: row, Kind: kind, Message: msg}
}
