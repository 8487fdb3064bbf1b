package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/LucaCarlo/WebPBatch-Pro/internal/batch"
)

type SummaryRow struct {
	Label string
	Value string
}

// RunSummary lists the totals of a finished run.
func RunSummary(r batch.RunReport) []SummaryRow {
	outcome := "completed"
	if r.Cancelled {
		outcome = "cancelled"
	}
	if r.Error != "" {
		outcome = "aborted: " + r.Error
	}
	return []SummaryRow{
		{Label: "Run", Value: r.ID},
		{Label: "Outcome", Value: outcome},
		{Label: "Files processed", Value: fmt.Sprintf("%d/%d", r.Processed, r.Total)},
		{Label: "Converted", Value: fmt.Sprintf("%d", r.Done())},
		{Label: "Skipped", Value: fmt.Sprintf("%d", r.Skipped)},
		{Label: "Errors", Value: fmt.Sprintf("%d", r.Errors)},
		{Label: "Input size", Value: humanize.Bytes(uint64(max(r.TotalInputSize, 0)))},
		{Label: "Output size", Value: humanize.Bytes(uint64(max(r.TotalOutputSize, 0)))},
		{Label: "Space saved", Value: fmt.Sprintf("%s (%d%%)", signedBytes(r.SavedBytes), r.SavedPercent)},
		{Label: "Elapsed", Value: r.TotalTime.Round(time.Millisecond).String()},
	}
}

func RenderSummary(rows []SummaryRow) string {
	labelWidth := 0
	valueWidth := 0
	for _, row := range rows {
		labelWidth = max(labelWidth, lipgloss.Width(row.Label))
		valueWidth = max(valueWidth, lipgloss.Width(row.Value))
	}

	hline := dimStyle.Render(strings.Repeat("─", labelWidth+valueWidth+3))
	lines := []string{hline}
	for _, row := range rows {
		label := padRight(row.Label, labelWidth)
		value := padRight(row.Value, valueWidth)
		lines = append(lines, fmt.Sprintf("%s │ %s", labelStyle.Render(label), valueStyle.Render(value)))
	}
	lines = append(lines, hline)
	return strings.Join(lines, "\n")
}

func signedBytes(n int64) string {
	if n < 0 {
		return "-" + humanize.Bytes(uint64(-n))
	}
	return humanize.Bytes(uint64(n))
}

func padRight(s string, width int) string {
	if w := lipgloss.Width(s); w < width {
		return s + strings.Repeat(" ", width-w)
	}
	return s
}

var valueStyle = lipgloss.NewStyle().Foreground(ColorInk).Bold(true)
