package cmd

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/LucaCarlo/WebPBatch-Pro/internal/config"
	"github.com/LucaCarlo/WebPBatch-Pro/internal/history"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, key := range []string{config.EnvWorkers, config.EnvOutputDir, config.EnvLogLevel, config.EnvFormat, config.EnvQuality} {
		t.Setenv(key, "")
	}
	configPath = ""
	resetFlags(convertCmd.Flags())
	return home
}

// resetFlags restores defaults left behind by an earlier Execute.
func resetFlags(flags *pflag.FlagSet) {
	flags.VisitAll(func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	})
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 90, A: 0xff})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestConfigInitWritesSample(t *testing.T) {
	home := isolate(t)
	target := filepath.Join(home, "cfg", "webpbatch.toml")

	out, err := execute(t, "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(out, target) {
		t.Fatalf("unexpected output: %s", out)
	}
	if _, err := execute(t, "config", "init", "--path", target); err == nil {
		t.Fatal("expected refusal to overwrite without --overwrite")
	}
}

func TestConvertThenHistory(t *testing.T) {
	home := isolate(t)
	src := filepath.Join(home, "photos")
	dst := filepath.Join(home, "out")
	if err := os.MkdirAll(src, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writePNG(t, filepath.Join(src, "one.png"), 40, 30)
	writePNG(t, filepath.Join(src, "two.png"), 30, 40)

	out, err := execute(t, "convert", "--plain", "--format", "jpeg", "--quality", "70", "--output", dst, "--workers", "2", src)
	if err != nil {
		t.Fatalf("convert: %v\n%s", err, out)
	}
	if !strings.Contains(out, "2/2") {
		t.Fatalf("summary missing processed count:\n%s", out)
	}
	for _, name := range []string{"one.jpg", "two.jpg"} {
		if _, err := os.Stat(filepath.Join(dst, name)); err != nil {
			t.Fatalf("missing output %s: %v", name, err)
		}
	}

	cfg := config.Default()
	state, err := config.ExpandPath(cfg.Paths.StateDir)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	store, err := history.Open(filepath.Join(state, "history.db"))
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	runs, err := store.List(t.Context(), 0)
	_ = store.Close()
	if err != nil || len(runs) != 1 || runs[0].Processed != 2 {
		t.Fatalf("unexpected history: %+v err=%v", runs, err)
	}

	out, err = execute(t, "history")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out, runs[0].ID) {
		t.Fatalf("history output missing run id:\n%s", out)
	}
}

func TestRenderRunsOutcome(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	out := renderRuns([]history.Run{
		{ID: "a", StartedAt: now.Add(-time.Hour), Total: 3, Processed: 2, Cancelled: true, InputBytes: 2048, OutputBytes: 1024, SavedPercent: 50},
		{ID: "b", StartedAt: now.Add(-2 * time.Hour), Total: 1, Processed: 1, Error: "boom"},
	}, now)
	for _, want := range []string{"cancelled", "aborted", "2/3", "50%", "1 hour ago"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}

func TestConvertWatchPicksUpNewImages(t *testing.T) {
	home := isolate(t)
	src := filepath.Join(home, "inbox")
	if err := os.MkdirAll(src, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"convert", "--plain", "--format", "png", "--watch", "--settle", "50ms", src})
	done := make(chan error, 1)
	go func() { done <- rootCmd.ExecuteContext(ctx) }()

	time.Sleep(300 * time.Millisecond)
	converted := filepath.Join(src, "optimized")
	deadline := time.Now().Add(10 * time.Second)
	for i := 0; ; i++ {
		writePNG(t, filepath.Join(src, fmt.Sprintf("drop%d.png", i)), 20, 20)
		time.Sleep(200 * time.Millisecond)
		if entries, _ := os.ReadDir(converted); len(entries) > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("watcher converted nothing")
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("convert --watch: %v\n%s", err, out.String())
		}
	case <-time.After(10 * time.Second):
		t.Fatal("convert --watch did not stop on cancel")
	}
	if !strings.Contains(out.String(), "Watching") {
		t.Fatalf("missing watch banner:\n%s", out.String())
	}
}
