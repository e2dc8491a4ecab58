package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipts-ingest/constants"
)

// ReceiptSubmission is the set of photos of one physical receipt, in arrival order.
type ReceiptSubmission struct {
	ID          uuid.UUID             `json:"id"`
	Submitter   string                `json:"submitter"`
	GroupKey    string                `json:"group_key"`
	Photos      []PhotoAsset          `json:"photos"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
	FlushReason constants.FlushReason `json:"flush_reason,omitempty"`
}

// RowWarning is a per-row diagnostic. Row is the 1-based line in the model
// response, or 0 when unknown.
type RowWarning struct {
	Row     int    `json:"row"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Reconciliation compares the extracted receipt total with the computed sum.
type Reconciliation struct {
	Extracted *string `json:"extracted,omitempty"`
	Computed  string  `json:"computed"`
	Mismatch  bool    `json:"mismatch"`
}

// SinkResult is the outcome of one sink for one submission.
type SinkResult struct {
	Sink      string               `json:"sink"`
	Status    constants.SinkStatus `json:"status"`
	User      *UserAccount         `json:"user,omitempty"`
	Written   int                  `json:"written"`
	Error     string               `json:"error,omitempty"`
	ElapsedMS int64                `json:"elapsed_ms"`
}

// SubmissionReport is the diagnostics output for one submission.
type SubmissionReport struct {
	SubmissionID   uuid.UUID                  `json:"submission_id"`
	Submitter      string                     `json:"submitter"`
	Status         constants.SubmissionStatus `json:"status"`
	Photos         int                        `json:"photos"`
	Candidates     int                        `json:"candidates"`
	Records        int                        `json:"records"`
	Items          int                        `json:"items"`
	Excluded       int                        `json:"excluded"`
	Warnings       []RowWarning               `json:"warnings,omitempty"`
	Reconciliation *Reconciliation            `json:"reconciliation,omitempty"`
	Sinks          []SinkResult               `json:"sinks,omitempty"`
	Error          string                     `json:"error,omitempty"`
	StartedAt      time.Time                  `json:"started_at"`
	FinishedAt     time.Time                  `json:"finished_at"`
}
