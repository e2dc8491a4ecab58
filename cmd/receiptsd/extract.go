package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/receipts-ingest/internal/common"
	"github.com/joseph-ayodele/receipts-ingest/internal/entity"
	"github.com/joseph-ayodele/receipts-ingest/internal/metrics"
	"github.com/joseph-ayodele/receipts-ingest/internal/sink"
	"github.com/joseph-ayodele/receipts-ingest/internal/taxonomy"
)

func newExtractCommand(ctx *commandContext) *cobra.Command {
	var (
		user   string
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "extract --user USER IMAGE...",
		Short: "Run one submission synchronously from image files",
		Long:  "Images form one submission in argument order. With --dry-run nothing is written to the sinks.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if user == "" {
				return common.NewAppError("CONFIG_ERROR", "--user is required", common.ErrInvalidInput)
			}
			if cfg.LLM.APIKey == "" {
				return common.NewAppError("CONFIG_ERROR", "OPENAI_API_KEY is required", common.ErrInvalidInput)
			}
			if !dryRun {
				if err := cfg.ValidateSinks(); err != nil {
					return err
				}
			}
			return runExtract(cmd, cfg, user, args, dryRun)
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "Submitter identity")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Extract and validate without persisting")
	return cmd
}

func runExtract(cmd *cobra.Command, cfg *common.Config, user string, paths []string, dryRun bool) error {
	logger := newLogger(cfg)
	metrics.Register()
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	idx, err := taxonomy.Load(cfg.Taxonomy.Path)
	if err != nil {
		return fmt.Errorf("load taxonomy: %w", err)
	}

	now := time.Now()
	sub := entity.ReceiptSubmission{ID: uuid.New(), Submitter: user, CreatedAt: now, UpdatedAt: now}
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("read %s: %w", p, err)
		}
		sub.Photos = append(sub.Photos, entity.PhotoAsset{
			ID:         uuid.New(),
			Submitter:  user,
			Data:       data,
			Filename:   filepath.Base(p),
			ReceivedAt: now,
		})
	}

	if dryRun {
		proc, err := buildProcessor(cfg, idx, nil, nil, logger)
		if err != nil {
			return err
		}
		ex, err := proc.Extract(ctx, sub)
		printItems(out, ex.Outcome.Items)
		printWarnings(out, ex.Warnings)
		fmt.Fprintf(out, "submission %s (dry run): %d photo(s), %d item(s), %d excluded\n",
			sub.ID, ex.Photos, len(ex.Outcome.Items), ex.Outcome.Excluded)
		return err
	}

	fan, err := sink.Build(ctx, cfg.Sinks, logger)
	if err != nil {
		return err
	}
	defer fan.Close()

	proc, err := buildProcessor(cfg, idx, fan, nil, logger)
	if err != nil {
		return err
	}
	report, err := proc.Process(ctx, sub)
	printWarnings(out, report.Warnings)
	printSinks(out, report.Sinks)
	if report.Reconciliation != nil && report.Reconciliation.Mismatch {
		fmt.Fprintf(out, "total mismatch: extracted %s, computed %s\n",
			*report.Reconciliation.Extracted, report.Reconciliation.Computed)
	}
	fmt.Fprintf(out, "submission %s: %s, %d item(s), %d excluded\n", sub.ID, report.Status, report.Items, report.Excluded)
	return err
}

func printItems(w io.Writer, items []entity.ExpandedLineItem) {
	if len(items) == 0 {
		return
	}
	rows := make([][]string, 0, len(items))
	for _, it := range items {
		date := ""
		if !it.ReceiptDate.IsZero() {
			date = it.ReceiptDate.Format("2006-01-02")
		}
		rows = append(rows, []string{
			strconv.Itoa(it.Seq), it.OriginalName, it.TranslatedName,
			it.Category, it.Subcategory, it.UnitPrice.StringFixed(2), it.Currency, date,
		})
	}
	fmt.Fprintln(w, renderTable(
		[]string{"#", "Product", "Translated", "Category", "Subcategory", "Price", "Cur", "Date"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
	))
}

func printWarnings(w io.Writer, warnings []entity.RowWarning) {
	if len(warnings) == 0 {
		return
	}
	rows := make([][]string, 0, len(warnings))
	for _, wr := range warnings {
		row := "-"
		if wr.Row > 0 {
			row = strconv.Itoa(wr.Row)
		}
		rows = append(rows, []string{row, wr.Kind, wr.Message})
	}
	fmt.Fprintln(w, renderTable([]string{"Row", "Warning", "Detail"}, rows, []columnAlignment{alignRight}))
}

func printSinks(w io.Writer, results []entity.SinkResult) {
	if len(results) == 0 {
		return
	}
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		rows = append(rows, []string{
			r.Sink, string(r.Status), strconv.Itoa(r.Written),
			strconv.FormatInt(r.ElapsedMS, 10) + "ms", r.Error,
		})
	}
	fmt.Fprintln(w, renderTable(
		[]string{"Sink", "Status", "Written", "Elapsed", "Error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight},
	))
}
