package entity

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CandidateRecord is one parsed table row before validation. Numeric and date
// fields are nil when the source text did not parse.
type CandidateRecord struct {
	Row            int              `json:"row"`
	OriginalName   string           `json:"original_name"`
	TranslatedName string           `json:"translated_name"`
	Category       string           `json:"category"`
	Subcategory    string           `json:"subcategory"`
	Price          *decimal.Decimal `json:"price,omitempty"`
	PriceRaw       string           `json:"price_raw"`
	Currency       string           `json:"currency"`
	Quantity       *decimal.Decimal `json:"quantity,omitempty"`
	QuantityRaw    string           `json:"quantity_raw"`
	Date           *time.Time       `json:"date,omitempty"`
}

// MatchKind records how a record's category pair was resolved.
type MatchKind string

const (
	MatchExact        MatchKind = "exact"
	MatchSubcategory  MatchKind = "subcategory"
	MatchUnclassified MatchKind = "unclassified"
)

// ValidatedRecord is a CandidateRecord with a resolved category, a rounded
// non-negative unit price and a positive integer quantity.
type ValidatedRecord struct {
	Source      CandidateRecord `json:"source"`
	Category    TaxonomyEntry   `json:"category"`
	Match       MatchKind       `json:"match"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Currency    string          `json:"currency"`
	Quantity    int             `json:"quantity"`
	OriginalQty decimal.Decimal `json:"original_quantity"`
	ReceiptDate time.Time       `json:"receipt_date"`
	Valid       bool            `json:"valid"`
	Warnings    []RowWarning    `json:"warnings,omitempty"`
}

// ExpandedLineItem is one persisted unit row. Quantity is always 1.
type ExpandedLineItem struct {
	SubmissionID   uuid.UUID       `json:"submission_id"`
	Submitter      string          `json:"submitter"`
	Seq            int             `json:"seq"`
	SourceRow      int             `json:"source_row"`
	OriginalName   string          `json:"original_name"`
	TranslatedName string          `json:"translated_name"`
	Category       string          `json:"category"`
	Subcategory    string          `json:"subcategory"`
	UnitPrice      decimal.Decimal `json:"price"`
	Currency       string          `json:"currency"`
	Quantity       int             `json:"quantity"`
	ReceiptDate    time.Time       `json:"receipt_date"`
}
