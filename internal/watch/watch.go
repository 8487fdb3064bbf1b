// Package watch converts images as they appear in watched folders.
//
// Files are picked up once they have been quiet for a settle period, so a
// copy in progress is not read half written. Settled files are grouped into
// one batch run per tick. Every path is converted at most once per session,
// and outputs reported by a run are never picked up as new inputs.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/LucaCarlo/WebPBatch-Pro/internal/batch"
	"github.com/LucaCarlo/WebPBatch-Pro/internal/logging"
	"github.com/LucaCarlo/WebPBatch-Pro/internal/scan"
)

const defaultSettle = 500 * time.Millisecond

// ErrNoDirectories is returned when none of the given paths is a directory.
var ErrNoDirectories = errors.New("watch: no directories to watch")

// Options controls which folders are watched.
type Options struct {
	Recursive bool
	// SkipDir names directories never watched, typically the output subdir.
	SkipDir string
	// OutputDir is never watched when it lies below a watched folder.
	OutputDir string
	// Settle is how long a file must see no events before it is converted.
	Settle time.Duration
	Logger *slog.Logger
}

// RunFunc converts one group of settled files.
type RunFunc func(ctx context.Context, jobs []batch.Job) (batch.RunReport, error)

type watcher struct {
	fsw       *fsnotify.Watcher
	opts      Options
	logger    *slog.Logger
	roots     map[string]bool
	outputAbs string
	pending   map[string]time.Time
	seen      map[string]struct{}
}

// Watch blocks until ctx is cancelled, handing settled new or rewritten
// images under dirs to run. Paths that are not directories are ignored.
func Watch(ctx context.Context, dirs []string, opts Options, run RunFunc) error {
	if opts.Settle <= 0 {
		opts.Settle = defaultSettle
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close()

	w := &watcher{
		fsw:     fsw,
		opts:    opts,
		logger:  logger,
		roots:   make(map[string]bool),
		pending: make(map[string]time.Time),
		seen:    make(map[string]struct{}),
	}
	if opts.OutputDir != "" {
		abs, err := filepath.Abs(opts.OutputDir)
		if err != nil {
			return fmt.Errorf("resolve output dir: %w", err)
		}
		w.outputAbs = abs
	}

	for _, dir := range dirs {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", dir, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return fmt.Errorf("stat %s: %w", dir, err)
		}
		if info.IsDir() {
			w.roots[abs] = true
		}
	}
	if len(w.roots) == 0 {
		return ErrNoDirectories
	}
	for root := range w.roots {
		if err := w.addTree(root, false, time.Time{}); err != nil {
			return err
		}
	}
	logger.Info("watching folders", slog.Int("folders", len(w.roots)), slog.Duration("settle", opts.Settle))

	ticker := time.NewTicker(max(opts.Settle/4, time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ev, time.Now())
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch error", slog.String("error", err.Error()))
		case now := <-ticker.C:
			jobs := w.due(now)
			if len(jobs) == 0 {
				continue
			}
			logger.Info("new files settled", slog.Int("files", len(jobs)))
			report, err := run(ctx, jobs)
			for _, f := range report.Files {
				if f.OutputPath != "" {
					w.seen[f.OutputPath] = struct{}{}
				}
			}
			if err != nil {
				logger.Warn("watch run failed", slog.String("error", err.Error()))
			}
		}
	}
}

// addTree watches dir and, when recursive, every directory below it. With
// seed set, supported files already inside are queued as pending.
func (w *watcher) addTree(dir string, seed bool, now time.Time) error {
	if !w.opts.Recursive {
		if err := w.fsw.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		return nil
	}
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if path != dir && w.skipDir(path) {
				return fs.SkipDir
			}
			if err := w.fsw.Add(path); err != nil {
				return fmt.Errorf("watch %s: %w", path, err)
			}
			return nil
		}
		if seed {
			w.queue(path, now)
		}
		return nil
	})
}

func (w *watcher) skipDir(path string) bool {
	if w.opts.SkipDir != "" && filepath.Base(path) == w.opts.SkipDir {
		return true
	}
	return w.outputAbs != "" && !w.roots[w.outputAbs] && scan.IsWithin(path, w.outputAbs)
}

func (w *watcher) handle(ev fsnotify.Event, now time.Time) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}
	if ev.Has(fsnotify.Create) {
		info, err := os.Stat(ev.Name)
		if err == nil && info.IsDir() {
			if w.opts.Recursive && !w.skipDir(ev.Name) {
				if err := w.addTree(ev.Name, true, now); err != nil {
					w.logger.Warn("watch new folder failed", slog.String("dir", ev.Name), slog.String("error", err.Error()))
				}
			}
			return
		}
	}
	w.queue(ev.Name, now)
}

func (w *watcher) queue(path string, now time.Time) {
	if !scan.Supported(path) {
		return
	}
	if dir := filepath.Dir(path); !w.roots[dir] && w.skipDir(dir) {
		return
	}
	if _, done := w.seen[path]; done {
		return
	}
	w.pending[path] = now
}

// due removes and returns the pending files that have settled, in path order.
func (w *watcher) due(now time.Time) []batch.Job {
	var ready []string
	for path, at := range w.pending {
		if now.Sub(at) >= w.opts.Settle {
			ready = append(ready, path)
		}
	}
	slices.Sort(ready)

	jobs := make([]batch.Job, 0, len(ready))
	for _, path := range ready {
		delete(w.pending, path)
		if _, done := w.seen[path]; done {
			continue
		}
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		w.seen[path] = struct{}{}
		jobs = append(jobs, scan.JobFor(path, info))
	}
	return jobs
}
