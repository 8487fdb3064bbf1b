package batch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/LucaCarlo/WebPBatch-Pro/internal/encoder"
	"github.com/LucaCarlo/WebPBatch-Pro/internal/naming"
	"github.com/LucaCarlo/WebPBatch-Pro/internal/overlay"
)

const (
	qualityStep  = 10
	qualityFloor = 10
)

// process runs one job end to end. A job cancelled before it starts is left
// queued and produces no report.
func (r *runner) process(ctx context.Context, job Job, index int) {
	if r.gate.Cancelled() || !r.gate.Wait() {
		return
	}
	if !r.agg.begin(index) {
		return
	}

	fr := r.convert(ctx, job, index)
	progress, ok := r.agg.record(fr)
	if !ok {
		return
	}

	kind := EventFileDone
	if fr.Status == StatusError {
		kind = EventFileError
		r.logger.Warn("file failed",
			slog.String("file", job.Path),
			slog.String("error", fr.Error),
		)
	} else {
		r.logger.Debug("file finished",
			slog.String("file", job.Path),
			slog.String("status", string(fr.Status)),
			slog.String("output", fr.OutputPath),
			slog.Int("attempts", fr.Attempts),
		)
	}
	r.emit(Event{Kind: kind, File: fr, Progress: progress})
	r.emit(Event{Kind: EventProgress, Progress: progress})
}

func (r *runner) convert(ctx context.Context, job Job, index int) (fr FileReport) {
	start := r.now()
	fr = FileReport{
		Index:     index + 1,
		Name:      job.Name,
		InputPath: job.Path,
		InputSize: job.Size,
		Format:    encoder.NormalizeFormat(r.settings.Format),
		Quality:   r.settings.Quality,
		Status:    StatusProcessing,
	}

	defer func() {
		if p := recover(); p != nil {
			fr.Status = StatusError
			fr.Error = fmt.Sprintf("panic: %v", p)
		}
		fr.Time = r.now().Sub(start)
	}()

	if err := r.convertInto(ctx, job, &fr); err != nil {
		fr.Status = StatusError
		fr.Error = err.Error()
	}
	return fr
}

func (r *runner) convertInto(ctx context.Context, job Job, fr *FileReport) error {
	dir := r.outputDir(job)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	opts := r.settings.encodeOptions()
	res, err := r.deps.Encoder.Encode(ctx, job.Path, opts)
	fr.Attempts = 1
	if err != nil {
		return err
	}
	fr.MetadataTags = res.MetadataTags
	if res.Format != "" {
		fr.Format = res.Format
	}

	if r.settings.Smart.Enabled {
		if r.belowSavingFloor(job, res) {
			fr.Status = StatusSkipped
			fr.Reason = ReasonLowSavings
			fr.OutputSize = job.Size
			fr.Width, fr.Height = res.Width, res.Height
			return nil
		}
		res, err = r.fitTarget(ctx, job, opts, res, fr)
		if err != nil {
			return err
		}
	}

	data := res.Data
	if r.settings.Overlay.Active() {
		data, err = r.deps.Overlay.Apply(data, overlay.Frame{Width: res.Width, Height: res.Height, Quality: fr.Quality, Lossless: r.settings.Lossless}, r.settings.Overlay)
		if err != nil {
			return fmt.Errorf("apply overlay: %w", err)
		}
	}

	name := r.deps.Namer.NameFor(r.settings.NamingTemplate, naming.Data{
		OriginalName: job.Name,
		Width:        res.Width,
		Height:       res.Height,
		Sequence:     fr.Index,
		Ext:          naming.Extension(fr.Format),
	})
	path, skip := r.resolver.Resolve(dir, name, r.settings.Duplicate)
	fr.Width, fr.Height = res.Width, res.Height
	if skip {
		fr.Status = StatusSkipped
		fr.Reason = ReasonExists
		fr.OutputPath = path
		fr.OutputSize = job.Size
		return nil
	}

	if r.gate.Cancelled() {
		r.logger.Debug("draining active job after cancel", slog.String("file", job.Path))
	}
	if err := r.writeAtomic(path, data); err != nil {
		return err
	}

	fr.Status = StatusDone
	fr.OutputPath = path
	fr.OutputSize = int64(len(data))
	fr.SavedPercent = savedPercent(job.Size, fr.OutputSize)
	return nil
}

func (r *runner) belowSavingFloor(job Job, res encoder.Result) bool {
	floor := r.settings.Smart.MinSavingPercent
	if floor <= 0 || job.Size <= 0 {
		return false
	}
	saved := float64(job.Size-int64(len(res.Data))) / float64(job.Size) * 100
	return saved < floor
}

// fitTarget lowers quality in fixed steps until the output fits the target
// size or the quality floor is reached.
func (r *runner) fitTarget(ctx context.Context, job Job, opts encoder.Options, res encoder.Result, fr *FileReport) (encoder.Result, error) {
	target := r.settings.Smart.TargetSizeBytes
	if target <= 0 {
		return res, nil
	}

	quality := opts.Quality
	for int64(len(res.Data)) > target && quality > qualityFloor {
		quality -= qualityStep
		opts.Quality = quality
		retry, err := r.deps.Encoder.Encode(ctx, job.Path, opts)
		fr.Attempts++
		if err != nil {
			return res, err
		}
		r.logger.Debug("target size retry",
			slog.String("file", job.Path),
			slog.Int("quality", quality),
			slog.Int("bytes", len(retry.Data)),
			slog.Int64("target", target),
		)
		res = retry
		fr.Quality = quality
	}
	return res, nil
}

func (r *runner) outputDir(job Job) string {
	if r.settings.OutputDir != "" {
		return r.settings.OutputDir
	}
	dir := job.Dir
	if dir == "" {
		dir = filepath.Dir(job.Path)
	}
	return filepath.Join(dir, r.settings.OutputSubdir)
}

// writeAtomic writes data to path.tmp and renames it into place, holding the
// per-path lock for the whole sequence.
func (r *runner) writeAtomic(path string, data []byte) error {
	unlock := r.locks.lock(path)
	defer unlock()

	tmpPath := path + ".tmp"
	tmpFile, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := replaceFile(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename output: %w", err)
	}
	return nil
}

func replaceFile(tmpPath, destPath string) error {
	if err := os.Rename(tmpPath, destPath); err == nil {
		return nil
	}
	if err := os.Remove(destPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return os.Rename(tmpPath, destPath)
}

// pathLocks serializes writers of the same final path.
type pathLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (p *pathLocks) lock(path string) func() {
	p.mu.Lock()
	if p.locks == nil {
		p.locks = make(map[string]*sync.Mutex)
	}
	m, ok := p.locks[path]
	if !ok {
		m = &sync.Mutex{}
		p.locks[path] = m
	}
	p.mu.Unlock()

	m.Lock()
	return m.Unlock
}
