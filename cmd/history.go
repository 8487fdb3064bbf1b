package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/LucaCarlo/WebPBatch-Pro/internal/history"
	"github.com/LucaCarlo/WebPBatch-Pro/internal/tui"
)

var (
	historyLimit int
	historyRun   string
	historyPrune time.Duration
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List previous conversion runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		store, err := history.Open(cfg.HistoryPath())
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		if historyPrune > 0 {
			removed, err := store.Prune(ctx, time.Now().Add(-historyPrune))
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Removed %d run(s) older than %s\n", removed, historyPrune)
			return nil
		}

		if historyRun != "" {
			files, err := store.Files(ctx, historyRun)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return fmt.Errorf("no files recorded for run %s", historyRun)
			}
			fmt.Fprintln(out, tui.RenderFileTable(files, isTerminal(os.Stdout)))
			return nil
		}

		runs, err := store.List(ctx, historyLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(out, "No runs recorded yet.")
			return nil
		}
		fmt.Fprintln(out, renderRuns(runs, time.Now()))
		return nil
	},
}

func renderRuns(runs []history.Run, now time.Time) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Run", "Started", "Files", "Errors", "Skipped", "Input", "Output", "Saved", "Duration", "Outcome"})
	for _, r := range runs {
		outcome := "completed"
		switch {
		case r.Error != "":
			outcome = "aborted"
		case r.Cancelled:
			outcome = "cancelled"
		}
		tw.AppendRow(table.Row{
			r.ID,
			humanize.RelTime(r.StartedAt, now, "ago", "from now"),
			fmt.Sprintf("%d/%d", r.Processed, r.Total),
			r.Errors,
			r.Skipped,
			humanize.Bytes(uint64(max(r.InputBytes, 0))),
			humanize.Bytes(uint64(max(r.OutputBytes, 0))),
			fmt.Sprintf("%d%%", r.SavedPercent),
			r.Duration.Round(time.Millisecond).String(),
			outcome,
		})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
		{Number: 7, Align: text.AlignRight},
		{Number: 8, Align: text.AlignRight},
	})
	return tw.Render()
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of runs to show (0 for all)")
	historyCmd.Flags().StringVar(&historyRun, "run", "", "show the per-file table of one run")
	historyCmd.Flags().DurationVar(&historyPrune, "prune", 0, "delete runs older than this duration instead of listing")

	rootCmd.AddCommand(historyCmd)
}
