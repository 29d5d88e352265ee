package main

import (
	"fmt"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"asr-datamodule/internal/service"
)

func newCountCommand(ctx *commandContext) *cobra.Command {
	var workers int

	cmd := &cobra.Command{
		Use:   "count",
		Short: "Count cuts and hours of every manifest",
		Args:  cobra.NoArgs,
		Long: "Count cuts and pooled duration of every manifest in the manifest directory.\n" +
			"With a database configured, results are stored and unchanged manifests are skipped.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			database, err := ctx.database()
			if err != nil {
				return err
			}

			counter := service.NewCounter(database, cfg.Data.ManifestDir, cfg.Workers.Count, ctx.log().Named("counter"))
			stats, runErr := counter.Run(cmd.Context(), workers)

			rows := make([][]string, 0, len(stats))
			var cuts int64
			var seconds float64
			for _, ms := range stats {
				cuts += ms.NumCuts
				seconds += ms.TotalDuration
				rows = append(rows, []string{
					filepath.Base(ms.Path),
					humanize.Comma(ms.NumCuts),
					fmt.Sprintf("%.2f", ms.TotalDuration/3600),
				})
			}
			st := counter.Status()
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTableWithFooter(
				[]string{"Manifest", "Cuts", "Hours"},
				rows,
				[]string{"total", humanize.Comma(cuts), fmt.Sprintf("%.2f", seconds/3600)},
				[]columnAlignment{alignLeft, alignRight, alignRight},
			))
			fmt.Fprintf(out, "counted %d, skipped %d, errors %d in %s\n",
				st.Processed, st.Skipped, st.Errors, st.Elapsed)
			return runErr
		},
	}

	cmd.Flags().IntVar(&workers, "workers", 0, "Number of manifests counted in parallel (default workers.count)")
	return cmd
}
