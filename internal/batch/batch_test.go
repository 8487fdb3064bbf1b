package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/LucaCarlo/WebPBatch-Pro/internal/encoder"
	"github.com/LucaCarlo/WebPBatch-Pro/internal/naming"
	"github.com/LucaCarlo/WebPBatch-Pro/internal/overlay"
)

type encodeCall struct {
	path    string
	quality int
}

type fakeEncoder struct {
	mu        sync.Mutex
	active    int
	maxActive int
	calls     []encodeCall
	ctxErrs   []error

	size    func(path string, quality int) (int, error)
	onStart func(path string)
}

func (f *fakeEncoder) Encode(ctx context.Context, path string, opts encoder.Options) (encoder.Result, error) {
	f.mu.Lock()
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	f.calls = append(f.calls, encodeCall{path: path, quality: opts.Quality})
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if f.onStart != nil {
		f.onStart(path)
	}
	f.mu.Lock()
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	f.mu.Unlock()

	n := 100
	if f.size != nil {
		var err error
		n, err = f.size(path, opts.Quality)
		if err != nil {
			return encoder.Result{}, err
		}
	}
	return encoder.Result{Data: bytes.Repeat([]byte{'x'}, n), Width: 10, Height: 10, Format: "webp"}, nil
}

func (f *fakeEncoder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type recorder struct {
	mu     sync.Mutex
	events []Event
	files  chan FileReport
}

func newRecorder() *recorder {
	return &recorder{files: make(chan FileReport, 64)}
}

func (r *recorder) handle(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	if ev.Kind == EventFileDone || ev.Kind == EventFileError {
		r.files <- ev.File
	}
}

func (r *recorder) count(kind EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func makeJobs(dir string, n int, size int64) []Job {
	jobs := make([]Job, n)
	for i := range jobs {
		name := fmt.Sprintf("img%02d.png", i)
		jobs[i] = Job{Path: filepath.Join(dir, name), Name: name, Size: size, Dir: dir}
	}
	return jobs
}

func startRun(t *testing.T, jobs []Job, settings Settings, deps Deps, rec *recorder) *Controller {
	t.Helper()
	var handler EventHandler
	if rec != nil {
		handler = rec.handle
	}
	c, err := Start(context.Background(), jobs, settings, deps, handler)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return c
}

func waitRun(t *testing.T, c *Controller) RunReport {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("run did not finish")
	}
	return c.Report()
}

func statusCounts(files []FileReport) map[Status]int {
	counts := make(map[Status]int)
	for _, f := range files {
		counts[f.Status]++
	}
	return counts
}

func TestStartRequiresEncoder(t *testing.T) {
	if _, err := Start(context.Background(), nil, Settings{}, Deps{}, nil); !errors.Is(err, ErrNoEncoder) {
		t.Fatalf("expected ErrNoEncoder, got %v", err)
	}
}

func TestRunCompletesEveryJob(t *testing.T) {
	out := t.TempDir()
	enc := &fakeEncoder{onStart: func(string) { time.Sleep(2 * time.Millisecond) }}
	rec := newRecorder()
	jobs := makeJobs(t.TempDir(), 20, 1000)

	c := startRun(t, jobs, Settings{Workers: 3, OutputDir: out}, Deps{Encoder: enc}, rec)
	report := waitRun(t, c)

	if report.Processed != report.Total || report.Total != 20 {
		t.Fatalf("processed %d of %d", report.Processed, report.Total)
	}
	counts := statusCounts(report.Files)
	if counts[StatusDone]+counts[StatusError]+counts[StatusSkipped] != report.Processed {
		t.Fatalf("status counts %v do not add up to %d", counts, report.Processed)
	}
	if report.Done() != 20 || counts[StatusDone] != 20 {
		t.Fatalf("expected 20 done, got %v", counts)
	}
	if enc.maxActive > 3 {
		t.Fatalf("max active %d exceeds 3 workers", enc.maxActive)
	}
	if enc.callCount() != 20 {
		t.Fatalf("encoder called %d times, want 20", enc.callCount())
	}
	for i, s := range c.States() {
		if s != StatusDone {
			t.Fatalf("job %d state = %s", i, s)
		}
	}

	entries, err := os.ReadDir(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if len(entries) != 20 {
		t.Fatalf("expected 20 outputs, got %d", len(entries))
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Fatalf("temporary file left behind: %s", e.Name())
		}
		info, err := e.Info()
		if err != nil || info.Size() != 100 {
			t.Fatalf("output %s has unexpected size (err=%v)", e.Name(), err)
		}
	}

	if report.TotalInputSize != 20000 || report.TotalOutputSize != 2000 {
		t.Fatalf("totals in=%d out=%d", report.TotalInputSize, report.TotalOutputSize)
	}
	if report.SavedBytes != 18000 || report.SavedPercent != 90 {
		t.Fatalf("saved %d bytes (%d%%)", report.SavedBytes, report.SavedPercent)
	}
	if report.EndTime.Before(report.StartTime) || report.TotalTime != report.EndTime.Sub(report.StartTime) {
		t.Fatalf("bad timing: %+v", report)
	}
	if report.ID == "" || report.ID != c.ID() {
		t.Fatalf("report id %q, controller id %q", report.ID, c.ID())
	}

	if got := rec.count(EventProgress); got != 20 {
		t.Fatalf("progress events = %d, want 20", got)
	}
	if got := rec.count(EventComplete); got != 1 {
		t.Fatalf("complete events = %d, want 1", got)
	}
	rec.mu.Lock()
	last := rec.events[len(rec.events)-1]
	rec.mu.Unlock()
	if last.Kind != EventComplete || last.Report.Processed != 20 || last.Progress.Percent != 100 {
		t.Fatalf("unexpected last event: %+v", last)
	}
}

func TestActiveNeverExceedsJobCount(t *testing.T) {
	enc := &fakeEncoder{onStart: func(string) { time.Sleep(10 * time.Millisecond) }}
	c := startRun(t, makeJobs(t.TempDir(), 3, 1000), Settings{Workers: 8, OutputDir: t.TempDir()}, Deps{Encoder: enc}, nil)
	report := waitRun(t, c)

	if enc.maxActive > 3 {
		t.Fatalf("max active %d exceeds 3 jobs", enc.maxActive)
	}
	if report.Processed != 3 {
		t.Fatalf("processed %d, want 3", report.Processed)
	}
}

func TestEncodeErrorIsScopedToOneFile(t *testing.T) {
	enc := &fakeEncoder{size: func(path string, _ int) (int, error) {
		if strings.Contains(path, "img03") {
			return 0, &encoder.EncodeError{Path: path, Err: encoder.ErrUnsupportedInput}
		}
		return 100, nil
	}}
	rec := newRecorder()
	c := startRun(t, makeJobs(t.TempDir(), 6, 1000), Settings{Workers: 2, OutputDir: t.TempDir()}, Deps{Encoder: enc}, rec)
	report := waitRun(t, c)

	if report.Processed != 6 || report.Errors != 1 || report.Done() != 5 {
		t.Fatalf("processed=%d errors=%d done=%d", report.Processed, report.Errors, report.Done())
	}
	if rec.count(EventFileError) != 1 {
		t.Fatalf("file-error events = %d, want 1", rec.count(EventFileError))
	}
	for _, f := range report.Files {
		if f.Status == StatusError && !strings.Contains(f.Error, "unsupported input") {
			t.Fatalf("error message not captured: %q", f.Error)
		}
	}
	// A failed file contributes neither input nor output bytes, so the
	// run's savings only describe files that were actually converted.
	if report.TotalInputSize != 5000 || report.TotalOutputSize != 500 {
		t.Fatalf("failed file should not count toward totals, got in=%d out=%d", report.TotalInputSize, report.TotalOutputSize)
	}
}

func TestEncoderPanicBecomesFileError(t *testing.T) {
	enc := &fakeEncoder{size: func(path string, _ int) (int, error) {
		if strings.Contains(path, "img01") {
			panic("decoder exploded")
		}
		return 100, nil
	}}
	c := startRun(t, makeJobs(t.TempDir(), 3, 1000), Settings{Workers: 2, OutputDir: t.TempDir()}, Deps{Encoder: enc}, nil)
	report := waitRun(t, c)

	if report.Errors != 1 || report.Processed != 3 {
		t.Fatalf("errors=%d processed=%d", report.Errors, report.Processed)
	}
	for _, f := range report.Files {
		if f.Status == StatusError && !strings.Contains(f.Error, "decoder exploded") {
			t.Fatalf("panic not captured: %q", f.Error)
		}
	}
}

func TestSmartModeSkipsLowSavings(t *testing.T) {
	out := t.TempDir()
	enc := &fakeEncoder{size: func(string, int) (int, error) { return 980, nil }}
	settings := Settings{Workers: 1, OutputDir: out, Smart: SmartMode{Enabled: true, MinSavingPercent: 5}}

	report := waitRun(t, startRun(t, makeJobs(t.TempDir(), 1, 1000), settings, Deps{Encoder: enc}, nil))

	if len(report.Files) != 1 {
		t.Fatalf("expected one file report, got %d", len(report.Files))
	}
	f := report.Files[0]
	if f.Status != StatusSkipped || f.Reason != ReasonLowSavings || f.OutputSize != 1000 {
		t.Fatalf("unexpected report: %+v", f)
	}
	if report.Skipped != 1 || report.TotalInputSize != 1000 || report.TotalOutputSize != 1000 || report.SavedPercent != 0 {
		t.Fatalf("unexpected run totals: %+v", report)
	}
	if entries, _ := os.ReadDir(out); len(entries) != 0 {
		t.Fatalf("skipped file should not be written, found %d entries", len(entries))
	}
}

func TestSmartModeTargetSizeRetry(t *testing.T) {
	const kb = 1024
	sizes := map[int]int{80: 800 * kb, 70: 600 * kb, 60: 480 * kb}
	enc := &fakeEncoder{size: func(_ string, q int) (int, error) {
		if n, ok := sizes[q]; ok {
			return n, nil
		}
		return 400 * kb, nil
	}}
	settings := Settings{
		Workers:   1,
		Quality:   80,
		OutputDir: t.TempDir(),
		Smart:     SmartMode{Enabled: true, TargetSizeBytes: 500 * kb},
	}

	report := waitRun(t, startRun(t, makeJobs(t.TempDir(), 1, 2000*kb), settings, Deps{Encoder: enc}, nil))
	f := report.Files[0]
	if f.Status != StatusDone || f.Quality != 60 || f.OutputSize != 480*kb || f.Attempts != 3 {
		t.Fatalf("unexpected report: %+v", f)
	}
	var qualities []int
	for _, c := range enc.calls {
		qualities = append(qualities, c.quality)
	}
	if fmt.Sprint(qualities) != "[80 70 60]" {
		t.Fatalf("encoder qualities = %v", qualities)
	}
}

func TestSmartModeTargetSizeStopsAtFloor(t *testing.T) {
	enc := &fakeEncoder{size: func(string, int) (int, error) { return 900, nil }}
	settings := Settings{
		Workers:   1,
		Quality:   80,
		OutputDir: t.TempDir(),
		Smart:     SmartMode{Enabled: true, TargetSizeBytes: 500},
	}

	report := waitRun(t, startRun(t, makeJobs(t.TempDir(), 1, 10000), settings, Deps{Encoder: enc}, nil))
	f := report.Files[0]
	if f.Attempts != 8 || f.Quality != 10 || f.Status != StatusDone {
		t.Fatalf("expected 7 retries ending at quality 10, got %+v", f)
	}
}

func TestOverlayReencodesAtAcceptedQuality(t *testing.T) {
	enc := &fakeEncoder{size: func(_ string, q int) (int, error) { return q * 10, nil }}
	ov := &suffixOverlay{}
	settings := Settings{
		Workers:   1,
		Quality:   80,
		Lossless:  true,
		OutputDir: t.TempDir(),
		Smart:     SmartMode{Enabled: true, TargetSizeBytes: 650},
		Overlay:   &overlay.Spec{Text: "(c)"},
	}

	report := waitRun(t, startRun(t, makeJobs(t.TempDir(), 1, 10000), settings, Deps{Encoder: enc, Overlay: ov}, nil))
	f := report.Files[0]
	if f.Quality != 60 || f.Attempts != 3 {
		t.Fatalf("unexpected report: %+v", f)
	}
	if len(ov.frames) != 1 || ov.frames[0].Quality != 60 || !ov.frames[0].Lossless {
		t.Fatalf("overlay frames = %+v, want quality 60 lossless", ov.frames)
	}
}

func TestTargetSizeHoldsThroughImageOverlay(t *testing.T) {
	src := t.TempDir()
	path := filepath.Join(src, "noise.png")
	writeNoisyPNG(t, path, 96, 96)
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat fixture: %v", err)
	}
	jobs := []Job{{Path: path, Name: "noise.png", Size: info.Size(), Dir: src}}

	settings := Settings{
		Format:    "jpeg",
		Quality:   80,
		Workers:   1,
		OutputDir: t.TempDir(),
		Smart:     SmartMode{Enabled: true, TargetSizeBytes: 1},
		Overlay:   &overlay.Spec{Text: "demo", Margin: 2, FontSize: 10},
	}
	report := waitRun(t, startRun(t, jobs, settings, Deps{Encoder: encoder.New()}, nil))
	f := report.Files[0]
	if f.Status != StatusDone || f.Quality != 10 {
		t.Fatalf("unexpected report: %+v", f)
	}

	opts := withDefaults(settings).encodeOptions()
	opts.Quality = f.Quality
	res, err := encoder.New().Encode(context.Background(), path, opts)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want, err := overlay.Renderer{}.Apply(res.Data, overlay.Frame{Width: res.Width, Height: res.Height, Quality: f.Quality}, settings.Overlay)
	if err != nil {
		t.Fatalf("overlay: %v", err)
	}
	got, err := os.ReadFile(f.OutputPath)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("output (%d bytes) was not re-encoded at quality %d (%d bytes)", len(got), f.Quality, len(want))
	}
}

func writeNoisyPNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	seed := uint32(2463534242)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			seed ^= seed << 13
			seed ^= seed >> 17
			seed ^= seed << 5
			img.Set(x, y, color.RGBA{R: uint8(seed), G: uint8(seed >> 8), B: uint8(seed >> 16), A: 0xff})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
}

func TestDuplicateRenameAppendsCounter(t *testing.T) {
	out := t.TempDir()
	jobs := []Job{
		{Path: filepath.Join("x", "a.png"), Name: "a.png", Size: 1000, Dir: "x"},
		{Path: filepath.Join("y", "a.png"), Name: "a.png", Size: 1000, Dir: "y"},
	}
	report := waitRun(t, startRun(t, jobs, Settings{Workers: 2, OutputDir: out}, Deps{Encoder: &fakeEncoder{}}, nil))

	names := map[string]bool{}
	for _, f := range report.Files {
		names[filepath.Base(f.OutputPath)] = true
	}
	if !names["a.webp"] || !names["a-001.webp"] {
		t.Fatalf("expected a.webp and a-001.webp, got %v", names)
	}
}

func TestDuplicateSkipLeavesExistingFile(t *testing.T) {
	out := t.TempDir()
	existing := filepath.Join(out, "img00.webp")
	if err := os.WriteFile(existing, []byte("old"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	settings := Settings{Workers: 1, OutputDir: out, Duplicate: naming.Skip}
	report := waitRun(t, startRun(t, makeJobs(t.TempDir(), 1, 1000), settings, Deps{Encoder: &fakeEncoder{}}, nil))

	f := report.Files[0]
	if f.Status != StatusSkipped || f.Reason != ReasonExists {
		t.Fatalf("unexpected report: %+v", f)
	}
	// Nothing was written, so the skipped file counts as unchanged rather
	// than as a zero-byte output.
	if f.OutputSize != f.InputSize || report.SavedBytes != 0 {
		t.Fatalf("skip should report output size = input size, got %+v", f)
	}
	if data, _ := os.ReadFile(existing); string(data) != "old" {
		t.Fatalf("existing file modified: %q", data)
	}
}

func TestDuplicateOverwriteReplacesFile(t *testing.T) {
	out := t.TempDir()
	existing := filepath.Join(out, "img00.webp")
	if err := os.WriteFile(existing, []byte("old"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	settings := Settings{Workers: 1, OutputDir: out, Duplicate: naming.Overwrite}
	report := waitRun(t, startRun(t, makeJobs(t.TempDir(), 1, 1000), settings, Deps{Encoder: &fakeEncoder{}}, nil))

	if report.Files[0].Status != StatusDone || report.Files[0].OutputPath != existing {
		t.Fatalf("unexpected report: %+v", report.Files[0])
	}
	if info, err := os.Stat(existing); err != nil || info.Size() != 100 {
		t.Fatalf("existing file not replaced (err=%v)", err)
	}
}

func TestConcurrentOverwriteOfOnePath(t *testing.T) {
	out := t.TempDir()
	settings := Settings{
		Workers:        8,
		OutputDir:      out,
		Duplicate:      naming.Overwrite,
		NamingTemplate: "same",
	}
	enc := &fakeEncoder{size: func(path string, _ int) (int, error) {
		return 100 + len(path)%7, nil
	}}
	report := waitRun(t, startRun(t, makeJobs(t.TempDir(), 50, 1000), settings, Deps{Encoder: enc}, nil))

	if report.Done() != 50 || report.Errors != 0 {
		t.Fatalf("done=%d errors=%d", report.Done(), report.Errors)
	}
	want := filepath.Join(out, "same.webp")
	for _, f := range report.Files {
		if f.OutputPath != want {
			t.Fatalf("output path = %s, want %s", f.OutputPath, want)
		}
	}
	entries, err := os.ReadDir(out)
	if err != nil {
		t.Fatalf("read output dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "same.webp" {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("output dir = %v, want only same.webp", names)
	}
}

func TestNamingUsesInputPosition(t *testing.T) {
	jobs := makeJobs(t.TempDir(), 4, 1000)
	enc := &fakeEncoder{onStart: func(path string) {
		// earlier jobs finish later
		for i, j := range jobs {
			if j.Path == path {
				time.Sleep(time.Duration(len(jobs)-i) * 10 * time.Millisecond)
			}
		}
	}}
	settings := Settings{Workers: 4, OutputDir: t.TempDir(), NamingTemplate: "{counter}"}
	report := waitRun(t, startRun(t, jobs, settings, Deps{Encoder: enc}, nil))

	for _, f := range report.Files {
		want := fmt.Sprintf("%03d.webp", f.Index)
		if filepath.Base(f.OutputPath) != want {
			t.Fatalf("%s written as %s, want %s", f.Name, filepath.Base(f.OutputPath), want)
		}
		if jobs[f.Index-1].Path != f.InputPath {
			t.Fatalf("index %d does not match input %s", f.Index, f.InputPath)
		}
	}
}

func TestOutputDirDefaultsToSubdirOfSource(t *testing.T) {
	src := t.TempDir()
	report := waitRun(t, startRun(t, makeJobs(src, 1, 1000), Settings{Workers: 1}, Deps{Encoder: &fakeEncoder{}}, nil))

	want := filepath.Join(src, DefaultOutputSubdir, "img00.webp")
	if report.Files[0].OutputPath != want {
		t.Fatalf("output = %s, want %s", report.Files[0].OutputPath, want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("output missing: %v", err)
	}
}

type suffixOverlay struct {
	mu     sync.Mutex
	frames []overlay.Frame
}

func (s *suffixOverlay) Apply(data []byte, frame overlay.Frame, spec *overlay.Spec) ([]byte, error) {
	s.mu.Lock()
	s.frames = append(s.frames, frame)
	s.mu.Unlock()
	return append(append([]byte{}, data...), []byte(spec.Text)...), nil
}

func TestOverlayIsApplied(t *testing.T) {
	ov := &suffixOverlay{}
	settings := Settings{Workers: 1, OutputDir: t.TempDir(), Overlay: &overlay.Spec{Text: "(c)"}}
	report := waitRun(t, startRun(t, makeJobs(t.TempDir(), 1, 1000), settings, Deps{Encoder: &fakeEncoder{}, Overlay: ov}, nil))

	if report.Files[0].OutputSize != 103 {
		t.Fatalf("output size = %d, want 103", report.Files[0].OutputSize)
	}
	if len(ov.frames) != 1 || ov.frames[0] != (overlay.Frame{Width: 10, Height: 10, Quality: 80}) {
		t.Fatalf("overlay frames = %v", ov.frames)
	}
}

func TestPauseDelaysNextPickup(t *testing.T) {
	started := make(chan string, 10)
	release := make(chan struct{})
	enc := &fakeEncoder{onStart: func(p string) {
		started <- p
		<-release
	}}
	rec := newRecorder()
	c := startRun(t, makeJobs(t.TempDir(), 3, 1000), Settings{Workers: 1, OutputDir: t.TempDir()}, Deps{Encoder: enc}, rec)

	<-started
	c.Pause()
	if !c.Paused() {
		t.Fatal("expected controller to report paused")
	}
	release <- struct{}{}
	if f := <-rec.files; f.Status != StatusDone {
		t.Fatalf("in-flight job should finish while paused, got %+v", f)
	}

	select {
	case p := <-started:
		t.Fatalf("job %s started while paused", p)
	case <-time.After(100 * time.Millisecond):
	}

	c.Resume()
	for i := 0; i < 2; i++ {
		<-started
		release <- struct{}{}
	}
	report := waitRun(t, c)
	if report.Processed != 3 || report.Cancelled {
		t.Fatalf("unexpected report: processed=%d cancelled=%v", report.Processed, report.Cancelled)
	}
}

func TestCancelDrainsActiveJobs(t *testing.T) {
	started := make(chan string, 10)
	release := make(chan struct{})
	enc := &fakeEncoder{onStart: func(p string) {
		started <- p
		<-release
	}}
	c := startRun(t, makeJobs(t.TempDir(), 6, 1000), Settings{Workers: 2, OutputDir: t.TempDir()}, Deps{Encoder: enc}, nil)

	<-started
	<-started
	c.Cancel()
	release <- struct{}{}
	release <- struct{}{}
	report := waitRun(t, c)

	if !report.Cancelled || report.Processed != 2 || report.Done() != 2 {
		t.Fatalf("unexpected report: cancelled=%v processed=%d done=%d", report.Cancelled, report.Processed, report.Done())
	}
	if enc.callCount() != 2 {
		t.Fatalf("encoder called %d times after cancel, want 2", enc.callCount())
	}
	states := c.States()
	for i, s := range states {
		want := StatusQueued
		if i < 2 {
			want = StatusDone
		}
		if s != want {
			t.Fatalf("job %d state = %s, want %s", i, s, want)
		}
	}
}

func TestCancelWhilePausedDoesNotDeadlock(t *testing.T) {
	started := make(chan string, 10)
	release := make(chan struct{})
	enc := &fakeEncoder{onStart: func(p string) {
		started <- p
		<-release
	}}
	rec := newRecorder()
	c := startRun(t, makeJobs(t.TempDir(), 4, 1000), Settings{Workers: 1, OutputDir: t.TempDir()}, Deps{Encoder: enc}, rec)

	<-started
	c.Pause()
	release <- struct{}{}
	<-rec.files
	c.Cancel()

	report := waitRun(t, c)
	if report.Processed != 1 || !report.Cancelled {
		t.Fatalf("processed=%d cancelled=%v", report.Processed, report.Cancelled)
	}
}

func TestContextCancelDrainsWithoutInterruptingEncode(t *testing.T) {
	started := make(chan string, 10)
	release := make(chan struct{})
	enc := &fakeEncoder{onStart: func(p string) {
		started <- p
		<-release
	}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := Start(ctx, makeJobs(t.TempDir(), 5, 1000), Settings{Workers: 1, OutputDir: t.TempDir()}, Deps{Encoder: enc}, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-started
	cancel()
	// wait until the cancellation has reached the gate
	deadline := time.Now().Add(5 * time.Second)
	for !c.gate.Cancelled() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	release <- struct{}{}
	report := waitRun(t, c)

	if report.Processed != 1 || !report.Cancelled {
		t.Fatalf("processed=%d cancelled=%v", report.Processed, report.Cancelled)
	}
	if enc.ctxErrs[0] != nil {
		t.Fatalf("in-flight encode saw a cancelled context: %v", enc.ctxErrs[0])
	}
}

func TestControllerCallsAfterCompletionAreNoops(t *testing.T) {
	c := startRun(t, makeJobs(t.TempDir(), 2, 1000), Settings{Workers: 2, OutputDir: t.TempDir()}, Deps{Encoder: &fakeEncoder{}}, nil)
	before := waitRun(t, c)

	c.Pause()
	c.Pause()
	c.Resume()
	c.Cancel()
	c.Cancel()

	after := c.Wait()
	if c.Paused() || after.Cancelled || after.Processed != before.Processed {
		t.Fatalf("report changed after completion: before=%+v after=%+v", before, after)
	}
}

func TestEmptyRunCompletes(t *testing.T) {
	rec := newRecorder()
	report := waitRun(t, startRun(t, nil, Settings{}, Deps{Encoder: &fakeEncoder{}}, rec))
	if report.Total != 0 || report.Processed != 0 || report.SavedPercent != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if rec.count(EventComplete) != 1 {
		t.Fatal("expected a complete event")
	}
}

func TestRunWithImageEncoder(t *testing.T) {
	src := t.TempDir()
	var jobs []Job
	for i := 0; i < 3; i++ {
		name := fmt.Sprintf("photo%d.png", i)
		path := filepath.Join(src, name)
		img := image.NewRGBA(image.Rect(0, 0, 64, 48))
		for y := 0; y < 48; y++ {
			for x := 0; x < 64; x++ {
				img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 5), B: uint8(i * 60), A: 0xff})
			}
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			t.Fatalf("encode fixture: %v", err)
		}
		if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
			t.Fatalf("write fixture: %v", err)
		}
		jobs = append(jobs, Job{Path: path, Name: name, Size: int64(buf.Len()), Dir: src})
	}

	settings := Settings{
		Format:         "jpeg",
		Quality:        75,
		Workers:        2,
		NamingTemplate: "{name}-{w}x{h}",
		Resize:         encoder.Resize{Mode: encoder.ResizeLongEdge, LongEdge: 32},
		Overlay:        &overlay.Spec{Text: "demo", Position: overlay.BottomRight, Margin: 2, FontSize: 8},
	}
	report := waitRun(t, startRun(t, jobs, settings, Deps{Encoder: encoder.New()}, nil))

	if report.Done() != 3 {
		t.Fatalf("expected 3 done, got %+v", report.Files)
	}
	for _, f := range report.Files {
		if filepath.Base(f.OutputPath) != strings.TrimSuffix(f.Name, ".png")+"-32x24.jpg" {
			t.Fatalf("unexpected output name %s", f.OutputPath)
		}
		data, err := os.ReadFile(f.OutputPath)
		if err != nil {
			t.Fatalf("read output: %v", err)
		}
		cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
		if err != nil || cfg.Width != 32 || cfg.Height != 24 {
			t.Fatalf("output %s: %dx%d err=%v", f.OutputPath, cfg.Width, cfg.Height, err)
		}
	}
}

// panicOnce is a slog handler that panics the second time it sees msg, once
// ready is closed.
type panicOnce struct {
	mu    sync.Mutex
	msg   string
	ready chan struct{}
	seen  int
}

func (h *panicOnce) Enabled(context.Context, slog.Level) bool { return true }

func (h *panicOnce) Handle(_ context.Context, rec slog.Record) error {
	if rec.Message != h.msg {
		return nil
	}
	h.mu.Lock()
	h.seen++
	n := h.seen
	h.mu.Unlock()
	if n == 2 {
		<-h.ready
		panic("logger broke")
	}
	return nil
}

func (h *panicOnce) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *panicOnce) WithGroup(string) slog.Handler      { return h }

func TestDispatchPanicWaitsForActiveJobs(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	enc := &fakeEncoder{onStart: func(p string) {
		if strings.Contains(p, "img00") {
			close(started)
			<-release
		}
	}}
	logger := slog.New(&panicOnce{msg: "job dispensed", ready: started})
	rec := newRecorder()

	c := startRun(t, makeJobs(t.TempDir(), 4, 1000), Settings{Workers: 2, OutputDir: t.TempDir()}, Deps{Encoder: enc, Logger: logger}, rec)
	<-started
	go func() {
		time.Sleep(50 * time.Millisecond)
		close(release)
	}()
	report := waitRun(t, c)

	if !strings.Contains(report.Error, "logger broke") || !report.Cancelled {
		t.Fatalf("expected a cancelled run carrying the panic, got error=%q cancelled=%v", report.Error, report.Cancelled)
	}
	if len(report.Files) != 1 || report.Files[0].Status != StatusDone {
		t.Fatalf("active job should be in the final report, got %+v", report.Files)
	}
	rec.mu.Lock()
	last := rec.events[len(rec.events)-1]
	rec.mu.Unlock()
	if last.Kind != EventComplete {
		t.Fatalf("last event = %v, want complete", last.Kind)
	}
	states := c.States()
	if states[0] != StatusDone || states[1] != StatusQueued || states[2] != StatusQueued {
		t.Fatalf("states = %v", states)
	}
}

func TestPanickingHandlerDoesNotStopRun(t *testing.T) {
	handler := func(ev Event) {
		if ev.Kind == EventFileDone {
			panic("ui gone")
		}
	}
	c, err := Start(context.Background(), makeJobs(t.TempDir(), 3, 1000), Settings{Workers: 2, OutputDir: t.TempDir()}, Deps{Encoder: &fakeEncoder{}}, handler)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if report := waitRun(t, c); report.Done() != 3 {
		t.Fatalf("done = %d, want 3", report.Done())
	}
}
