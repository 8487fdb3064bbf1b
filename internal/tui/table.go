package tui

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/LucaCarlo/WebPBatch-Pro/internal/batch"
)

// StatusLabel renders a file status for display, including the skip reason.
func StatusLabel(f batch.FileReport) string {
	label := cases.Title(language.Und).String(string(f.Status))
	if f.Reason != "" {
		label += " (" + f.Reason + ")"
	}
	return label
}

// RenderFileTable lists per-file outcomes in input order. colorize adds
// terminal colours to the status column.
func RenderFileTable(files []batch.FileReport, colorize bool) string {
	if len(files) == 0 {
		return ""
	}
	ordered := append([]batch.FileReport(nil), files...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"#", "File", "Status", "Input", "Output", "Saved", "Quality", "Time", "Detail"})

	for _, f := range ordered {
		status := StatusLabel(f)
		if colorize {
			status = StatusStyle(string(f.Status)).Render(status)
		}
		detail := filepath.Base(f.OutputPath)
		output, saved := humanize.Bytes(uint64(max(f.OutputSize, 0))), fmt.Sprintf("%d%%", f.SavedPercent)
		switch f.Status {
		case batch.StatusError:
			detail = f.Error
			output, saved = "-", "-"
		case batch.StatusSkipped:
			saved = "-"
		}
		tw.AppendRow(table.Row{
			f.Index,
			f.Name,
			status,
			humanize.Bytes(uint64(max(f.InputSize, 0))),
			output,
			saved,
			f.Quality,
			f.Time.Round(time.Millisecond).String(),
			detail,
		})
	}

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
		{Number: 7, Align: text.AlignRight},
		{Number: 8, Align: text.AlignRight},
		{Number: 9, WidthMax: 48},
	})
	return tw.Render()
}
