package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/LucaCarlo/WebPBatch-Pro/internal/encoder"
	"github.com/LucaCarlo/WebPBatch-Pro/internal/logging"
	"github.com/LucaCarlo/WebPBatch-Pro/internal/naming"
	"github.com/LucaCarlo/WebPBatch-Pro/internal/overlay"
)

// ErrNoEncoder is returned by Start when Deps carries no Encoder.
var ErrNoEncoder = errors.New("batch: encoder is required")

// Deps are the collaborators of a run. Only Encoder is required.
type Deps struct {
	Encoder Encoder
	Namer   Namer
	Overlay Overlayer
	Logger  *slog.Logger
	Clock   func() time.Time
}

// Controller steers a running batch. Pause, Resume and Cancel are idempotent
// and become no-ops once the run has finished.
type Controller struct {
	id      string
	workers int
	gate    *PauseGate
	agg     *Aggregator
	done    chan struct{}

	mu    sync.Mutex
	final *RunReport
}

type runner struct {
	settings Settings
	deps     Deps
	queue    *JobQueue
	gate     *PauseGate
	agg      *Aggregator
	resolver *naming.Resolver
	locks    pathLocks
	logger   *slog.Logger
	now      func() time.Time

	emitMu  sync.Mutex
	handler EventHandler
}

// Start launches a run over jobs in a background goroutine and returns
// immediately. Cancelling ctx has the same effect as Controller.Cancel; it
// never interrupts an encode already in flight.
func Start(ctx context.Context, jobs []Job, settings Settings, deps Deps, handler EventHandler) (*Controller, error) {
	if deps.Encoder == nil {
		return nil, ErrNoEncoder
	}
	settings = withDefaults(settings)
	if deps.Namer == nil {
		deps.Namer = naming.Template{Now: deps.Clock}
	}
	if deps.Overlay == nil {
		deps.Overlay = overlay.Renderer{}
	}
	if deps.Logger == nil {
		deps.Logger = logging.Nop()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}

	id := uuid.NewString()
	agg := newAggregator(id, len(jobs), deps.Clock())
	gate := NewPauseGate()
	c := &Controller{
		id:      id,
		workers: settings.WorkerCount(),
		gate:    gate,
		agg:     agg,
		done:    make(chan struct{}),
	}
	r := &runner{
		settings: settings,
		deps:     deps,
		queue:    NewJobQueue(jobs),
		gate:     gate,
		agg:      agg,
		resolver: naming.NewResolver(),
		logger:   deps.Logger.With(slog.String("run_id", id)),
		now:      deps.Clock,
		handler:  handler,
	}

	go func() {
		select {
		case <-ctx.Done():
			c.Cancel()
		case <-c.done:
		}
	}()
	go c.run(context.WithoutCancel(ctx), r)

	return c, nil
}

func withDefaults(s Settings) Settings {
	s.Format = encoder.NormalizeFormat(s.Format)
	if s.Quality <= 0 {
		s.Quality = 80
	}
	if s.Duplicate == "" {
		s.Duplicate = naming.Rename
	}
	if s.NamingTemplate == "" {
		s.NamingTemplate = naming.DefaultTemplate
	}
	if s.OutputSubdir == "" {
		s.OutputSubdir = DefaultOutputSubdir
	}
	return s
}

func (c *Controller) run(ctx context.Context, r *runner) {
	defer close(c.done)

	r.logger.Info("batch run started",
		slog.Int("files", r.queue.Remaining()),
		slog.Int("workers", c.workers),
	)

	runErr := c.dispatch(ctx, r)
	if runErr != nil {
		r.logger.Error("batch run aborted", slog.String("error", runErr.Error()))
	}

	report := r.agg.finalize(r.now(), r.gate.Cancelled(), errString(runErr))
	c.mu.Lock()
	c.final = &report
	c.mu.Unlock()

	r.logger.Info("batch run finished",
		slog.Int("processed", report.Processed),
		slog.Int("errors", report.Errors),
		slog.Int("skipped", report.Skipped),
		slog.Bool("cancelled", report.Cancelled),
		slog.Duration("elapsed", report.TotalTime),
	)
	r.emit(Event{Kind: EventComplete, Report: report, Progress: progressOf(report)})
}

// dispatch keeps up to c.workers pipelines active until the queue is empty
// and every active pipeline has returned, or until cancellation drains them.
// A recovered panic cancels the run and still waits for active pipelines, so
// nothing is recorded after the final report.
func (c *Controller) dispatch(ctx context.Context, r *runner) (err error) {
	finished := make(chan struct{}, c.workers)
	active := 0
	defer func() {
		if p := recover(); p != nil {
			r.gate.Cancel()
			for ; active > 0; active-- {
				<-finished
			}
			err = fmt.Errorf("dispatch panic: %v", p)
		}
	}()

	for {
		for active < c.workers && r.queue.Remaining() > 0 && r.gate.Wait() {
			job, index, ok := r.queue.Next()
			if !ok {
				break
			}
			r.logger.Debug("job dispensed", slog.String("file", job.Path), slog.Int("index", index+1))
			active++
			go func() {
				defer func() { finished <- struct{}{} }()
				r.process(ctx, job, index)
			}()
		}
		if active == 0 {
			return nil
		}
		<-finished
		active--
	}
}

func (r *runner) emit(ev Event) {
	if r.handler == nil {
		return
	}
	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("event handler panicked", slog.String("event", ev.Kind.String()), slog.Any("panic", p))
		}
	}()
	r.handler(ev)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// ID is the run's unique identifier.
func (c *Controller) ID() string { return c.id }

// Workers is the resolved pool size.
func (c *Controller) Workers() int { return c.workers }

// Pause stops new jobs from starting. Jobs already converting finish.
func (c *Controller) Pause() {
	if c.finished() {
		return
	}
	c.gate.Pause()
}

// Resume lets paused workers continue.
func (c *Controller) Resume() {
	if c.finished() {
		return
	}
	c.gate.Resume()
}

// Cancel stops dispensing jobs and lets active ones drain to completion.
func (c *Controller) Cancel() {
	if c.finished() {
		return
	}
	c.gate.Cancel()
}

// Paused reports whether the run is currently paused.
func (c *Controller) Paused() bool { return c.gate.Paused() }

// Done is closed after the complete event has been delivered.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Wait blocks until the run finishes and returns the final report.
func (c *Controller) Wait() RunReport {
	<-c.done
	return c.Report()
}

// Report returns the final report once the run has finished, or a snapshot
// of the progress so far.
func (c *Controller) Report() RunReport {
	c.mu.Lock()
	final := c.final
	c.mu.Unlock()
	if final == nil {
		return c.agg.Snapshot()
	}
	out := *final
	out.Files = append([]FileReport(nil), final.Files...)
	return out
}

// States returns every job's status in input order.
func (c *Controller) States() []Status { return c.agg.States() }

func (c *Controller) finished() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
