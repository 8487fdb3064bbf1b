package tui

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/LucaCarlo/WebPBatch-Pro/internal/batch"
)

// Controls is the part of batch.Controller the model steers.
type Controls interface {
	Pause()
	Resume()
	Cancel()
	Paused() bool
}

// Model renders live progress of one run from its event stream.
type Model struct {
	events     <-chan batch.Event
	ctrl       Controls
	now        func() time.Time
	started    time.Time
	width      int
	total      int
	processed  int
	errors     int
	skipped    int
	inBytes    int64
	outBytes   int64
	lastFile   string
	paused     bool
	cancelling bool
	quitting   bool
}

type doneMsg struct{}

type eventMsg batch.Event

// NewModel builds a model reading events until the channel is closed. total
// seeds the counter before the first event arrives; ctrl may be nil.
func NewModel(events <-chan batch.Event, ctrl Controls, total int) Model {
	return Model{events: events, ctrl: ctrl, total: total, now: time.Now, started: time.Now()}
}

func (m Model) Init() tea.Cmd {
	return listenForEvents(m.events)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case eventMsg:
		m = m.apply(batch.Event(msg))
		return m, listenForEvents(m.events)
	case doneMsg:
		m.quitting = true
		return m, tea.Quit
	case tea.KeyMsg:
		return m.handleKey(msg), nil
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	default:
		return m, nil
	}
}

func (m Model) apply(ev batch.Event) Model {
	if ev.Progress.Total > 0 {
		m.total = ev.Progress.Total
	}
	m.processed = ev.Progress.Processed
	m.errors = ev.Progress.Errors
	switch ev.Kind {
	case batch.EventFileDone:
		if ev.File.Status == batch.StatusSkipped {
			m.skipped++
		}
		m.inBytes += ev.File.InputSize
		m.outBytes += ev.File.OutputSize
		m.lastFile = ev.File.Name
	case batch.EventFileError:
		m.lastFile = ev.File.Name
	case batch.EventComplete:
		m.skipped = ev.Report.Skipped
		m.inBytes = ev.Report.TotalInputSize
		m.outBytes = ev.Report.TotalOutputSize
	}
	return m
}

func (m Model) handleKey(msg tea.KeyMsg) Model {
	if m.ctrl == nil {
		return m
	}
	switch msg.String() {
	case "p", " ":
		if m.cancelling {
			return m
		}
		if m.ctrl.Paused() {
			m.ctrl.Resume()
		} else {
			m.ctrl.Pause()
		}
		m.paused = m.ctrl.Paused()
	case "c", "q", "ctrl+c", "esc":
		m.ctrl.Cancel()
		m.cancelling = true
		m.paused = false
	}
	return m
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	barWidth := 40
	if m.width > 0 {
		barWidth = int(math.Min(60, float64(m.width-10)))
		if barWidth < 20 {
			barWidth = 20
		}
	}

	ratio := 0.0
	if m.total > 0 {
		ratio = math.Min(1, float64(m.processed)/float64(m.total))
	}

	saved := m.inBytes - m.outBytes
	savedLabel := humanize.Bytes(uint64(max(saved, 0)))
	if saved < 0 {
		savedLabel = "-" + humanize.Bytes(uint64(-saved))
	}

	lines := []string{
		titleStyle.Render("webpbatch") + " " + m.stateLabel(),
		labelStyle.Render(fmt.Sprintf("Files: %d/%d", m.processed, m.total)) +
			dimStyle.Render(fmt.Sprintf("  errors:%d skipped:%d", m.errors, m.skipped)),
		labelStyle.Render(fmt.Sprintf("Saved: %s", savedLabel)) +
			dimStyle.Render(fmt.Sprintf("  (%s → %s)", humanize.Bytes(uint64(m.inBytes)), humanize.Bytes(uint64(m.outBytes)))),
		dimStyle.Render(fmt.Sprintf("Elapsed: %s", m.now().Sub(m.started).Round(time.Millisecond))),
		barStyle.Render(renderBar(barWidth, ratio)),
	}
	if m.lastFile != "" {
		lines = append(lines, dimStyle.Render("Last: "+filepath.Base(m.lastFile)))
	}
	if m.ctrl != nil && !m.cancelling {
		lines = append(lines, dimStyle.Render("p pause/resume · c cancel"))
	}
	return strings.Join(lines, "\n")
}

func (m Model) stateLabel() string {
	switch {
	case m.cancelling:
		return warnStyle.Render("cancelling, finishing active files")
	case m.paused:
		return warnStyle.Render("paused")
	default:
		return accentStyle.Render("converting")
	}
}

func listenForEvents(events <-chan batch.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return doneMsg{}
		}
		return eventMsg(ev)
	}
}

func renderBar(width int, ratio float64) string {
	filled := int(math.Round(ratio * float64(width)))
	filled = min(max(filled, 0), width)
	return "[" + strings.Repeat("=", filled) + strings.Repeat(" ", width-filled) + "]"
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(ColorInk)
	labelStyle  = lipgloss.NewStyle().Foreground(ColorInk)
	barStyle    = lipgloss.NewStyle().Foreground(ColorAccent)
	dimStyle    = lipgloss.NewStyle().Foreground(ColorDim)
	accentStyle = lipgloss.NewStyle().Foreground(ColorAccentAlt)
	warnStyle   = lipgloss.NewStyle().Foreground(ColorWarn)
	okStyle     = lipgloss.NewStyle().Foreground(ColorSuccess)
	errStyle    = lipgloss.NewStyle().Foreground(ColorError)
)
