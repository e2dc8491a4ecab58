// Package parse turns free-form model output into candidate line items.
// Malformed rows are skipped with a warning; only a response with no usable
// row at all is an error.
package parse

import (
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/receipts-ingest/constants"
	"github.com/joseph-ayodele/receipts-ingest/internal/entity"
)

var ErrNoTableFound = errors.New("no table found in model response")

type field int

const (
	fieldName field = iota
	fieldTranslated
	fieldCategory
	fieldSubcategory
	fieldPrice
	fieldCurrency
	fieldQuantity
	fieldDate
)

var headerAliases = map[string]field{
	"original_product_name":   fieldName,
	"original_name":           fieldName,
	"product_name":            fieldName,
	"product":                 fieldName,
	"name":                    fieldName,
	"item":                    fieldName,
	"translated_product_name": fieldTranslated,
	"translated_name":         fieldTranslated,
	"translation":             fieldTranslated,
	"category":                fieldCategory,
	"subcategory":             fieldSubcategory,
	"sub_category":            fieldSubcategory,
	"price":                   fieldPrice,
	"unit_price":              fieldPrice,
	"currency":                fieldCurrency,
	"currency_code":           fieldCurrency,
	"quantity":                fieldQuantity,
	"qty":                     fieldQuantity,
	"receipt_date":            fieldDate,
	"purchase_date":           fieldDate,
	"date":                    fieldDate,
}

var requiredFields = []field{fieldName, fieldCategory, fieldSubcategory, fieldPrice}

var delimiters = []rune{',', ';', '\t', '|'}

var (
	totalLine = regexp.MustCompile(`(?i)^\s*\|?\s*\**"?(` + constants.TotalLineKey + `|total)"?\**\s*[,;:=|\t]\s*(.+?)\s*\|?\s*$`)
	separator = regexp.MustCompile(`^[\s|:\-+]+$`)
	number    = regexp.MustCompile(`[-+]?\d[\d\s.,']*`)
)

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"2006.01.02",
	"02.01.2006",
	"2.1.2006",
	"02/01/2006",
	"02-01-2006",
	"02.01.06",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// Result is the outcome of one parse.
type Result struct {
	Records   []entity.CandidateRecord
	Warnings  []entity.RowWarning
	Total     *decimal.Decimal
	TotalRaw  string
	Delimiter rune
}

type Parser struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{logger: logger}
}

type header struct {
	delim   rune
	columns []field // position -> field, -1 for unknown columns
	width   int
}

type block struct {
	header   header
	records  []entity.CandidateRecord
	warnings []entity.RowWarning
}

// Parse locates the tabular block in raw, preferring the one with the most
// usable rows, and returns its rows in order. The same input always yields
// the same result.
func (p *Parser) Parse(raw string) (Result, error) {
	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")

	var (
		blocks   []*block
		cur      *block
		last     *header
		totalRaw string
	)
	for i, line := range lines {
		lineNo := i + 1
		trimmed := strings.TrimSpace(line)

		if trimmed == "" {
			continue
		}
		if v, ok := matchTotal(trimmed, last); ok {
			totalRaw = v
			continue
		}
		if strings.HasPrefix(trimmed, "```") {
			cur = nil
			continue
		}
		if h, ok := detectHeader(trimmed); ok {
			cur = &block{header: h}
			blocks = append(blocks, cur)
			last = &cur.header
			continue
		}
		if cur == nil {
			continue
		}
		if separator.MatchString(trimmed) {
			continue
		}
		if !strings.ContainsRune(trimmed, cur.header.delim) {
			// commentary after the table
			cur = nil
			continue
		}
		rec, warn := cur.header.row(trimmed, lineNo)
		if warn != nil {
			cur.warnings = append(cur.warnings, *warn)
			continue
		}
		cur.records = append(cur.records, rec)
	}

	var best *block
	for _, b := range blocks {
		if best == nil || len(b.records) > len(best.records) {
			best = b
		}
	}

	res := Result{TotalRaw: totalRaw}
	if totalRaw != "" {
		res.Total = parseDecimal(totalRaw)
	}
	if best == nil || len(best.records) == 0 {
		if best != nil {
			res.Warnings = best.warnings
		}
		p.logger.Warn("parse.no_table", "blocks", len(blocks), "lines", len(lines))
		return res, ErrNoTableFound
	}

	res.Records = best.records
	res.Warnings = best.warnings
	if totalRaw != "" && res.Total == nil {
		res.Warnings = append(res.Warnings, entity.RowWarning{
			Kind:    constants.WarnTotalUnparseable,
			Message: fmt.Sprintf("receipt total %q is not a number", totalRaw),
		})
	}
	res.Delimiter = best.header.delim
	for _, w := range best.warnings {
		p.logger.Warn("parse.row_skipped", "row", w.Row, "reason", w.Message)
	}
	p.logger.Debug("parse.ok",
		"blocks", len(blocks),
		"records", len(res.Records),
		"skipped", len(res.Warnings),
		"has_total", res.Total != nil,
	)
	return res, nil
}

// matchTotal recognizes the trailing total line. A line with as many cells
// as the table header, or more than a key and a value, is a product row even
// when its first cell reads "total".
func matchTotal(line string, h *header) (string, bool) {
	m := totalLine.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	delim, width := ',', 0
	if h != nil {
		delim, width = h.delim, h.width
	}
	if strings.ContainsRune(line, delim) {
		if cells, err := split(line, delim); err == nil && (len(cells) > 2 || (width > 0 && len(cells) >= width)) {
			return "", false
		}
	}
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(m[2]), `"*`)), true
}

// detectHeader reports whether line is a header row for one of the known
// delimiters. Column order does not matter.
func detectHeader(line string) (header, bool) {
	for _, d := range delimiters {
		if !strings.ContainsRune(line, d) {
			continue
		}
		cells, err := split(line, d)
		if err != nil {
			continue
		}
		cols := make([]field, len(cells))
		seen := map[field]bool{}
		for i, c := range cells {
			f, ok := headerAliases[normalizeToken(c)]
			if !ok || seen[f] {
				cols[i] = -1
				continue
			}
			cols[i] = f
			seen[f] = true
		}
		complete := true
		for _, f := range requiredFields {
			if !seen[f] {
				complete = false
				break
			}
		}
		if complete {
			return header{delim: d, columns: cols, width: len(cells)}, true
		}
	}
	return header{}, false
}

func (h header) row(line string, lineNo int) (entity.CandidateRecord, *entity.RowWarning) {
	cells, err := split(line, h.delim)
	if err != nil {
		return entity.CandidateRecord{}, malformed(lineNo, fmt.Sprintf("unreadable row: %v", err))
	}
	if len(cells) != h.width {
		return entity.CandidateRecord{}, malformed(lineNo, fmt.Sprintf("expected %d columns, got %d", h.width, len(cells)))
	}

	rec := entity.CandidateRecord{Row: lineNo}
	for i, f := range h.columns {
		v := cleanCell(cells[i])
		switch f {
		case fieldName:
			rec.OriginalName = v
		case fieldTranslated:
			rec.TranslatedName = v
		case fieldCategory:
			rec.Category = v
		case fieldSubcategory:
			rec.Subcategory = v
		case fieldPrice:
			rec.PriceRaw = v
			rec.Price = parseDecimal(v)
		case fieldCurrency:
			rec.Currency = v
		case fieldQuantity:
			rec.QuantityRaw = v
			rec.Quantity = parseDecimal(v)
		case fieldDate:
			rec.Date = parseDate(v)
		}
	}
	if rec.OriginalName == "" {
		return entity.CandidateRecord{}, malformed(lineNo, "empty product name")
	}
	return rec, nil
}

func malformed(row int, msg string) *entity.RowWarning {
	return &entity.RowWarning{Row: row, Kind: constants.WarnMalformedRow, Message: msg}
}

// split reads one delimited line, honoring quoted fields that contain the
// delimiter. Markdown pipe tables lose their outer pipes first.
func split(line string, delim rune) ([]string, error) {
	if delim == '|' {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "|")
		line = strings.TrimSuffix(line, "|")
	}
	r := csv.NewReader(strings.NewReader(line))
	r.Comma = delim
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1
	return r.Read()
}

func normalizeToken(s string) string {
	s = strings.ToLower(cleanCell(s))
	s = strings.Trim(s, "*_`")
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}

func cleanCell(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}

// parseDecimal accepts "1.29", "1,29", "1 234,50", "€1.29" and similar. It
// returns nil when the text holds no single number.
func parseDecimal(s string) *decimal.Decimal {
	matches := number.FindAllString(s, -1)
	if len(matches) != 1 {
		return nil
	}
	n := strings.NewReplacer(" ", "", "'", "").Replace(strings.TrimSpace(matches[0]))
	n = strings.TrimRight(n, ".,")

	lastDot := strings.LastIndex(n, ".")
	lastComma := strings.LastIndex(n, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			n = strings.ReplaceAll(n, ".", "")
			n = strings.Replace(n, ",", ".", 1)
		} else {
			n = strings.ReplaceAll(n, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(n, ",") == 1 {
			n = strings.Replace(n, ",", ".", 1)
		} else {
			n = strings.ReplaceAll(n, ",", "")
		}
	case strings.Count(n, ".") > 1:
		n = strings.ReplaceAll(n, ".", "")
	}

	d, err := decimal.NewFromString(n)
	if err != nil {
		return nil
	}
	return &d
}

func parseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			return &d
		}
	}
	return nil
}
