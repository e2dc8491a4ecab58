package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joseph-ayodele/receipts-ingest/internal/llm"
	"github.com/joseph-ayodele/receipts-ingest/internal/metrics"
)

const rawLogLimit = 2000

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		FinishReason string `json:"finish_reason"`
		Message      struct {
			Content string `json:"content"`
			Refusal string `json:"refusal"`
		} `json:"message"`
	} `json:"choices"`
	Usage llm.Usage `json:"usage"`
}

// Extract implements llm.Extractor with one chat/completions call carrying
// every image of the submission in order.
func (c *Client) Extract(ctx context.Context, req llm.ExtractRequest) (llm.ExtractResult, error) {
	start := time.Now()
	log := c.logger.With("submission_id", req.SubmissionID, "model", c.cfg.Model)

	if len(req.Images) == 0 {
		return llm.ExtractResult{}, fmt.Errorf("extract: no images")
	}

	content := make([]map[string]any, 0, len(req.Images)+1)
	content = append(content, map[string]any{"type": "text", "text": req.Prompt.User})
	for _, img := range req.Images {
		content = append(content, map[string]any{
			"type": "image_url",
			"image_url": map[string]any{
				"url":    llm.DataURL(img),
				"detail": c.cfg.ImageDetail,
			},
		})
	}
	messages := []map[string]any{}
	if req.Prompt.System != "" {
		messages = append(messages, map[string]any{"role": "system", "content": req.Prompt.System})
	}
	messages = append(messages, map[string]any{"role": "user", "content": content})

	body := map[string]any{
		"model":      c.cfg.Model,
		"max_tokens": c.cfg.MaxTokens,
		"messages":   messages,
	}
	if c.cfg.Temperature > 0 {
		body["temperature"] = c.cfg.Temperature
	}

	log.Info("llm.extract.start", "images", len(req.Images), "detail", c.cfg.ImageDetail)

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	headers := map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}
	raw, reqBytes, err := llm.SendJSON(ctx, c.http, endpoint, body, headers, log)
	if err != nil {
		return c.fail(log, start, llm.ExtractResult{RequestBytes: reqBytes}, err)
	}

	var cc chatResponse
	if err := json.Unmarshal(raw, &cc); err != nil {
		return c.fail(log, start, llm.ExtractResult{RequestBytes: reqBytes},
			&llm.StatusError{Kind: llm.ErrServiceUnavailable, StatusCode: 200, Err: fmt.Errorf("decode response: %w", err), Body: llm.Excerpt(string(raw), 300)})
	}

	res := llm.ExtractResult{
		Model:        cc.Model,
		Usage:        cc.Usage,
		RequestBytes: reqBytes,
	}
	if len(cc.Choices) == 0 {
		return c.fail(log, start, res, &llm.StatusError{Kind: llm.ErrEmptyContent, StatusCode: 200})
	}
	choice := cc.Choices[0]
	res.FinishReason = choice.FinishReason
	res.Text = strings.TrimSpace(choice.Message.Content)

	switch {
	case choice.Message.Refusal != "":
		return c.fail(log, start, res, &llm.StatusError{Kind: llm.ErrRefused, StatusCode: 200, Body: llm.Excerpt(choice.Message.Refusal, 300)})
	case res.Text == "":
		return c.fail(log, start, res, &llm.StatusError{Kind: llm.ErrEmptyContent, StatusCode: 200})
	case llm.LooksLikeRefusal(res.Text):
		return c.fail(log, start, res, &llm.StatusError{Kind: llm.ErrRefused, StatusCode: 200, Body: llm.Excerpt(res.Text, 300)})
	}

	res.Elapsed = time.Since(start)
	metrics.ExtractionDurationSeconds.WithLabelValues("ok").Observe(res.Elapsed.Seconds())
	metrics.ExtractionTokens.WithLabelValues("prompt").Add(float64(cc.Usage.PromptTokens))
	metrics.ExtractionTokens.WithLabelValues("completion").Add(float64(cc.Usage.CompletionTokens))

	log.Info("llm.extract.ok",
		"response_model", cc.Model,
		"finish_reason", res.FinishReason,
		"prompt_tokens", cc.Usage.PromptTokens,
		"completion_tokens", cc.Usage.CompletionTokens,
		"total_tokens", cc.Usage.TotalTokens,
		"request_bytes", reqBytes,
		"response_chars", len(res.Text),
		"elapsed_ms", res.Elapsed.Milliseconds(),
	)
	log.Debug("llm.extract.raw", "content", llm.Excerpt(res.Text, rawLogLimit))
	return res, nil
}

func (c *Client) fail(log *slog.Logger, start time.Time, res llm.ExtractResult, err error) (llm.ExtractResult, error) {
	res.Elapsed = time.Since(start)
	outcome := llm.Outcome(err)
	metrics.ExtractionDurationSeconds.WithLabelValues(outcome).Observe(res.Elapsed.Seconds())
	log.Error("llm.extract.failed",
		"outcome", outcome,
		"error", err,
		"elapsed_ms", res.Elapsed.Milliseconds(),
	)
	return res, err
}
