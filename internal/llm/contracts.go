package llm

import (
	"context"
	"time"
)

// Image is one receipt photo, already normalized, in submission order.
type Image struct {
	Name     string
	MimeType string
	Data     []byte
}

// Prompt is the fixed instruction pair sent with every submission.
type Prompt struct {
	System string
	User   string
}

type ExtractRequest struct {
	SubmissionID string
	Images       []Image
	Prompt       Prompt
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ExtractResult carries the unparsed model text plus call metadata.
type ExtractResult struct {
	Text         string
	Model        string
	FinishReason string
	Usage        Usage
	RequestBytes int
	Elapsed      time.Duration
}

// Extractor is the interface the pipeline depends on. Implementations do not
// retry; failures come back as *StatusError.
type Extractor interface {
	Extract(ctx context.Context, req ExtractRequest) (ExtractResult, error)
}
