package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/receipts-ingest/internal/taxonomy"
)

func newTaxonomyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "taxonomy",
		Short: "Inspect category reference files",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check FILE",
		Short: "Load and validate a taxonomy file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := taxonomy.Load(args[0])
			if err != nil {
				return err
			}
			counts := map[string]int{}
			for _, e := range idx.Entries() {
				counts[e.Category]++
			}
			rows := make([][]string, 0, len(counts))
			for _, c := range idx.Categories() {
				rows = append(rows, []string{c, strconv.Itoa(counts[c])})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable([]string{"Category", "Subcategories"}, rows, []columnAlignment{alignLeft, alignRight}))
			fmt.Fprintf(out, "%s: %d categories, %d pairs\n", args[0], len(rows), idx.Len())
			return nil
		},
	})
	return cmd
}
