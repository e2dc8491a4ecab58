package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/receipts-ingest/internal/sink"
)

func newSinksCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sinks",
		Short: "Inspect the configured persistence sinks",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Open every configured sink, bootstrap schemas and close again",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := cfg.ValidateSinks(); err != nil {
				return err
			}
			logger := newLogger(cfg)

			start := time.Now()
			fan, err := sink.Build(cmd.Context(), cfg.Sinks, logger)
			if err != nil {
				return fmt.Errorf("sink health: FAIL (%w)", err)
			}
			opened := time.Since(start)
			closeErr := fan.Close()

			rows := make([][]string, 0, len(cfg.Sinks.Order))
			for i, name := range fan.Names() {
				rows = append(rows, []string{fmt.Sprint(i + 1), name, "OK"})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable([]string{"#", "Sink", "Status"}, rows, []columnAlignment{alignRight}))
			fmt.Fprintf(out, "sink health: OK (%d sink(s) in %s)\n", len(rows), opened.Round(time.Millisecond))
			return closeErr
		},
	})
	return cmd
}
