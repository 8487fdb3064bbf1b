package cmd

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/LucaCarlo/WebPBatch-Pro/internal/metadata"
	"github.com/LucaCarlo/WebPBatch-Pro/internal/scan"
	"github.com/LucaCarlo/WebPBatch-Pro/internal/tui"
	"github.com/LucaCarlo/WebPBatch-Pro/pkg/imgutil"
)

var inspectRecursive bool

var inspectCmd = &cobra.Command{
	Use:   "inspect <path>...",
	Short: "List the images a convert would pick up and the metadata they carry",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jobs, err := scan.Collect(cmd.Context(), args, scan.Options{Recursive: inspectRecursive})
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(jobs) == 0 {
			fmt.Fprintln(out, "No supported images found.")
			return nil
		}

		var totalBytes int64
		for i, job := range jobs {
			if i > 0 {
				fmt.Fprintln(out)
			}
			totalBytes += job.Size
			fmt.Fprintf(out, "%s %s\n", inspectFileStyle.Render(job.Path), inspectDimStyle.Render(humanize.Bytes(uint64(job.Size))))

			data, err := os.ReadFile(job.Path)
			if err != nil {
				fmt.Fprintf(out, "  %s %s\n", inspectBulletStyle.Render("-"), inspectDimStyle.Render(err.Error()))
				continue
			}
			kind := imgutil.Detect(data)
			fmt.Fprintf(out, "  %s %s\n", inspectCategoryStyle.Render("format:"), inspectValueStyle.Render(kind.String()))

			analysis, err := metadata.Analyze(data, kind)
			if err != nil {
				fmt.Fprintf(out, "  %s %s\n", inspectBulletStyle.Render("-"), inspectDimStyle.Render("metadata unreadable: "+err.Error()))
				continue
			}
			details := metadataDetails(analysis)
			if len(details) == 0 {
				fmt.Fprintf(out, "  %s %s\n", inspectBulletStyle.Render("-"), inspectDimStyle.Render("no identifying metadata"))
				continue
			}
			fmt.Fprintf(out, "  %s\n", inspectCategoryStyle.Render("metadata:"))
			for _, d := range details {
				fmt.Fprintf(out, "    %s %s\n", inspectBulletStyle.Render("-"), inspectValueStyle.Render(d))
			}
		}

		fmt.Fprintln(out)
		fmt.Fprintln(out, tui.RenderSummary([]tui.SummaryRow{
			{Label: "Images found", Value: fmt.Sprintf("%d", len(jobs))},
			{Label: "Total size", Value: humanize.Bytes(uint64(totalBytes))},
		}))
		return nil
	},
}

func metadataDetails(a metadata.Analysis) []string {
	var details []string
	if a.HasGPS {
		details = append(details, fmt.Sprintf("GPS location (%d tags)", a.GPSCount))
	}
	if a.HasModel {
		details = append(details, "camera make/model")
	}
	if a.HasTimestamp {
		details = append(details, "capture timestamp")
	}
	if a.SerialCount > 0 {
		details = append(details, fmt.Sprintf("device serial numbers (%d)", a.SerialCount))
	}
	return details
}

var (
	inspectFileStyle     = lipgloss.NewStyle().Bold(true).Foreground(tui.ColorAccent)
	inspectCategoryStyle = lipgloss.NewStyle().Foreground(tui.ColorAccentAlt)
	inspectValueStyle    = lipgloss.NewStyle().Foreground(tui.ColorInk)
	inspectDimStyle      = lipgloss.NewStyle().Foreground(tui.ColorDim)
	inspectBulletStyle   = lipgloss.NewStyle().Foreground(tui.ColorDim)
)

func init() {
	inspectCmd.Flags().BoolVarP(&inspectRecursive, "recursive", "r", false, "descend into subfolders")
	rootCmd.AddCommand(inspectCmd)
}
