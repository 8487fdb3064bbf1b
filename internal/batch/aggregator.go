package batch

import (
	"math"
	"sync"
	"time"
)

// Progress is the run-level counter snapshot sent after each file.
type Progress struct {
	Processed int
	Total     int
	Errors    int
	Percent   int
}

// Aggregator accumulates per-file outcomes. Every method is goroutine-safe and
// every returned report is a copy.
type Aggregator struct {
	mu     sync.Mutex
	report RunReport
	states []Status
}

func newAggregator(id string, total int, start time.Time) *Aggregator {
	states := make([]Status, total)
	for i := range states {
		states[i] = StatusQueued
	}
	return &Aggregator{
		report: RunReport{ID: id, Total: total, StartTime: start},
		states: states,
	}
}

// begin moves the job at index from queued to processing. It returns false if
// the job already left the queued state.
func (a *Aggregator) begin(index int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.states[index] != StatusQueued {
		return false
	}
	a.states[index] = StatusProcessing
	return true
}

// record publishes the terminal report of a processing job and returns the
// updated progress. A job that is not processing is ignored.
func (a *Aggregator) record(fr FileReport) (Progress, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	index := fr.Index - 1
	if index < 0 || index >= len(a.states) || a.states[index] != StatusProcessing || !fr.Status.Terminal() {
		return a.progressLocked(), false
	}
	a.states[index] = fr.Status

	r := &a.report
	r.Processed++
	switch fr.Status {
	case StatusError:
		r.Errors++
	case StatusSkipped:
		r.Skipped++
	}
	if fr.Status != StatusError {
		r.TotalInputSize += fr.InputSize
		r.TotalOutputSize += fr.OutputSize
	}
	r.Files = append(r.Files, fr)
	return a.progressLocked(), true
}

func (a *Aggregator) progressLocked() Progress {
	return progressOf(a.report)
}

func progressOf(r RunReport) Progress {
	p := Progress{Processed: r.Processed, Total: r.Total, Errors: r.Errors}
	if r.Total > 0 {
		p.Percent = int(math.Round(float64(r.Processed) / float64(r.Total) * 100))
	}
	return p
}

// Snapshot returns a copy of the report as it stands.
func (a *Aggregator) Snapshot() RunReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.copyLocked()
}

// States returns a copy of the per-job statuses in input order.
func (a *Aggregator) States() []Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Status, len(a.states))
	copy(out, a.states)
	return out
}

// finalize stamps the end time and derived savings and returns the final copy.
func (a *Aggregator) finalize(end time.Time, cancelled bool, runErr string) RunReport {
	a.mu.Lock()
	defer a.mu.Unlock()

	r := &a.report
	r.EndTime = end
	r.TotalTime = end.Sub(r.StartTime)
	r.Cancelled = cancelled
	r.Error = runErr
	r.SavedBytes = r.TotalInputSize - r.TotalOutputSize
	r.SavedPercent = savedPercent(r.TotalInputSize, r.TotalOutputSize)
	return a.copyLocked()
}

func (a *Aggregator) copyLocked() RunReport {
	out := a.report
	out.Files = make([]FileReport, len(a.report.Files))
	copy(out.Files, a.report.Files)
	return out
}

func savedPercent(input, output int64) int {
	if input <= 0 {
		return 0
	}
	return int(math.Round(float64(input-output) / float64(input) * 100))
}
