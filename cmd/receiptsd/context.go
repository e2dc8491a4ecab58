package main

import (
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/receipts-ingest/internal/common"
	"github.com/joseph-ayodele/receipts-ingest/internal/llm"
	"github.com/joseph-ayodele/receipts-ingest/internal/llm/openai"
	"github.com/joseph-ayodele/receipts-ingest/internal/pipeline"
	"github.com/joseph-ayodele/receipts-ingest/internal/taxonomy"
	"github.com/joseph-ayodele/receipts-ingest/internal/validate"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *common.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*common.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		c.config, c.configErr = common.LoadConfig(path)
	})
	return c.config, c.configErr
}

func newLogger(cfg *common.Config) *slog.Logger {
	logger := common.NewLogger(cfg.Log.Level, cfg.Log.Format, os.Stdout)
	slog.SetDefault(logger)
	return logger
}

// buildProcessor wires the extraction client, validator and processor from
// cfg. persister may be nil for a dry run.
func buildProcessor(cfg *common.Config, idx *taxonomy.Index, persister pipeline.Persister, reporter pipeline.Reporter, logger *slog.Logger) (*pipeline.Processor, error) {
	v, err := validate.New(idx, validate.Options{
		DefaultCurrency: cfg.Validation.DefaultCurrency,
		ToleranceAbs:    decimal.NewFromFloat(cfg.Validation.ToleranceAbs),
		TolerancePct:    decimal.NewFromFloat(cfg.Validation.TolerancePct),
		MaxQuantity:     cfg.Validation.MaxQuantity,
	}, logger)
	if err != nil {
		return nil, err
	}
	client := openai.NewClient(openai.Config{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout.Std(),
		MaxTokens:   cfg.LLM.MaxTokens,
		ImageDetail: cfg.LLM.ImageDetail,
	}, logger)

	return pipeline.NewProcessor(logger, pipeline.Config{
		MaxPhotoBytes: cfg.Photo.MaxBytes,
		MaxDimension:  cfg.Photo.MaxDimension,
		RawArchiveDir: cfg.Archive.RawDir,
		Prompt: llm.PromptOptions{
			TranslateTo:     cfg.LLM.TranslateTo,
			DefaultCurrency: cfg.Validation.DefaultCurrency,
		},
	}, idx, client, v, persister, reporter), nil
}
