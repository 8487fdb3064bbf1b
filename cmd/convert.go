package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/LucaCarlo/WebPBatch-Pro/internal/batch"
	"github.com/LucaCarlo/WebPBatch-Pro/internal/config"
	"github.com/LucaCarlo/WebPBatch-Pro/internal/encoder"
	"github.com/LucaCarlo/WebPBatch-Pro/internal/history"
	"github.com/LucaCarlo/WebPBatch-Pro/internal/scan"
	"github.com/LucaCarlo/WebPBatch-Pro/internal/tui"
	"github.com/LucaCarlo/WebPBatch-Pro/internal/watch"
)

// ErrRunActive is returned when another convert holds the state lock.
var ErrRunActive = errors.New("another webpbatch run is active")

type convertFlags struct {
	format         string
	quality        int
	lossless       bool
	workers        string
	output         string
	subdir         string
	template       string
	duplicate      string
	recursive      bool
	resizeMode     string
	longEdge       int
	width          int
	height         int
	keepAspect     bool
	sharpen        bool
	strip          bool
	privacy        bool
	keepICC        bool
	smart          bool
	minSaving      float64
	targetKB       int64
	watermarkText  string
	watermarkImage string
	watermarkPos   string
	watermarkAlpha float64
	plain          bool
	details        bool
	noHistory      bool
	watch          bool
	settle         time.Duration
}

var convertOpts convertFlags

var convertCmd = &cobra.Command{
	Use:   "convert [flags] <path>...",
	Short: "Convert images and folders of images",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runConvert,
}

func runConvert(cmd *cobra.Command, args []string) error {
	cfg, _, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := applyConvertFlags(cmd, cfg, convertOpts); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	settings, err := cfg.Settings()
	if err != nil {
		return err
	}

	interactive := !convertOpts.plain && !convertOpts.watch && isTerminal(os.Stdout) && isTerminal(os.Stdin)
	logger, closer, err := newLogger(cfg, interactive)
	if err != nil {
		return err
	}
	defer closer.Close()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	lock := flock.New(cfg.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", cfg.LockPath(), err)
	}
	if !locked {
		return fmt.Errorf("%w (lock %s)", ErrRunActive, cfg.LockPath())
	}
	defer func() { _ = lock.Unlock() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	jobs, err := scan.Collect(ctx, args, scan.Options{
		Recursive: cfg.Processing.Recursive,
		SkipDir:   cfg.Output.Subdir,
		OutputDir: cfg.Output.Dir,
	})
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	runBatch := func(ctx context.Context, jobs []batch.Job) (batch.RunReport, error) {
		report, err := executeRun(ctx, jobs, settings, logger, interactive)
		if err != nil {
			return report, err
		}
		if !convertOpts.noHistory {
			if err := recordHistory(cfg, report); err != nil {
				logger.Warn("history not recorded", slog.String("error", err.Error()))
			}
		}

		fmt.Fprintln(out, tui.RenderSummary(tui.RunSummary(report)))
		if convertOpts.details || report.Errors > 0 {
			fmt.Fprintln(out, tui.RenderFileTable(report.Files, isTerminal(os.Stdout)))
		}
		if report.Error != "" {
			return report, fmt.Errorf("run %s aborted: %s", report.ID, report.Error)
		}
		return report, nil
	}

	if len(jobs) > 0 {
		if _, err := runBatch(ctx, jobs); err != nil {
			return err
		}
	} else if !convertOpts.watch {
		fmt.Fprintln(out, "No supported images found.")
		return nil
	}

	if !convertOpts.watch || ctx.Err() != nil {
		return nil
	}
	fmt.Fprintf(out, "Watching %s for new images (ctrl+c to stop)\n", strings.Join(args, ", "))
	return watch.Watch(ctx, args, watch.Options{
		Recursive: cfg.Processing.Recursive,
		SkipDir:   cfg.Output.Subdir,
		OutputDir: cfg.Output.Dir,
		Settle:    convertOpts.settle,
		Logger:    logger,
	}, runBatch)
}

func executeRun(ctx context.Context, jobs []batch.Job, settings batch.Settings, logger *slog.Logger, interactive bool) (batch.RunReport, error) {
	events := make(chan batch.Event, 256)
	var handler batch.EventHandler
	if interactive {
		handler = func(ev batch.Event) { events <- ev }
	} else {
		handler = plainProgress(logger)
	}

	ctrl, err := batch.Start(ctx, jobs, settings, batch.Deps{Encoder: encoder.New(), Logger: logger}, handler)
	if err != nil {
		return batch.RunReport{}, err
	}
	stopSignals := watchPauseSignals(ctrl, logger)
	defer stopSignals()

	if !interactive {
		return ctrl.Wait(), nil
	}

	program := tea.NewProgram(tui.NewModel(events, ctrl, len(jobs)))
	uiDone := make(chan struct{})
	go func() {
		if _, err := program.Run(); err != nil {
			logger.Error("progress ui failed", slog.String("error", err.Error()))
		}
		close(uiDone)
	}()

	go func() {
		select {
		case <-ctrl.Done():
		case <-uiDone:
			// keep the run unblocked if the UI exits early
			for range events {
			}
		}
	}()

	report := ctrl.Wait()
	close(events)
	<-uiDone
	return report, nil
}

func plainProgress(logger *slog.Logger) batch.EventHandler {
	return func(ev batch.Event) {
		switch ev.Kind {
		case batch.EventFileDone:
			logger.Info("file processed",
				slog.String("file", ev.File.Name),
				slog.String("status", string(ev.File.Status)),
				slog.Int("processed", ev.Progress.Processed),
				slog.Int("total", ev.Progress.Total),
				slog.Int("percent", ev.Progress.Percent),
			)
		case batch.EventFileError:
			logger.Info("file failed",
				slog.String("file", ev.File.Name),
				slog.Int("processed", ev.Progress.Processed),
				slog.Int("total", ev.Progress.Total),
			)
		}
	}
}

func recordHistory(cfg *config.Config, report batch.RunReport) error {
	store, err := history.Open(cfg.HistoryPath())
	if err != nil {
		return err
	}
	defer store.Close()
	return store.Record(context.Background(), report)
}

func applyConvertFlags(cmd *cobra.Command, cfg *config.Config, f convertFlags) error {
	changed := cmd.Flags().Changed
	if changed("format") {
		cfg.Output.Format = encoder.NormalizeFormat(f.format)
	}
	if changed("quality") {
		cfg.Output.Quality = f.quality
	}
	if changed("lossless") {
		cfg.Output.Lossless = f.lossless
	}
	if changed("workers") {
		workers, err := config.ParseWorkers(f.workers)
		if err != nil {
			return err
		}
		cfg.Processing.Workers = config.Workers(workers)
	}
	if changed("output") {
		dir, err := config.ExpandPath(f.output)
		if err != nil {
			return err
		}
		cfg.Output.Dir = dir
	}
	if changed("subdir") {
		cfg.Output.Subdir = f.subdir
	}
	if changed("template") {
		cfg.Output.NamingTemplate = f.template
	}
	if changed("duplicate") {
		cfg.Output.Duplicate = f.duplicate
	}
	if changed("recursive") {
		cfg.Processing.Recursive = f.recursive
	}
	if changed("resize") {
		cfg.Resize.Mode = f.resizeMode
	}
	if changed("long-edge") {
		cfg.Resize.LongEdge = f.longEdge
		if !changed("resize") {
			cfg.Resize.Mode = string(encoder.ResizeLongEdge)
		}
	}
	if changed("width") {
		cfg.Resize.Width = f.width
	}
	if changed("height") {
		cfg.Resize.Height = f.height
	}
	if changed("keep-aspect") {
		cfg.Resize.MaintainAspect = f.keepAspect
	}
	if changed("sharpen") {
		cfg.Processing.Sharpen = f.sharpen
	}
	if changed("strip") {
		cfg.Processing.StripMetadata = f.strip
	}
	if changed("privacy") {
		cfg.Processing.PrivacyMode = f.privacy
	}
	if changed("keep-icc") {
		cfg.Processing.KeepICC = f.keepICC
	}
	if changed("smart") {
		cfg.Smart.Enabled = f.smart
	}
	if changed("min-saving") {
		cfg.Smart.MinSavingPercent = f.minSaving
		cfg.Smart.Enabled = true
	}
	if changed("target-kb") {
		cfg.Smart.TargetSizeKB = f.targetKB
		cfg.Smart.Enabled = true
	}
	if changed("watermark-text") {
		cfg.Watermark.Text = f.watermarkText
		cfg.Watermark.Enabled = true
	}
	if changed("watermark-image") {
		path, err := config.ExpandPath(f.watermarkImage)
		if err != nil {
			return err
		}
		cfg.Watermark.ImagePath = path
		cfg.Watermark.Enabled = true
	}
	if changed("watermark-position") {
		cfg.Watermark.Position = f.watermarkPos
	}
	if changed("watermark-opacity") {
		cfg.Watermark.Opacity = f.watermarkAlpha
	}
	return nil
}

func init() {
	flags := convertCmd.Flags()
	flags.StringVarP(&convertOpts.format, "format", "f", "webp", "output format: webp, jpeg, png, gif")
	flags.IntVarP(&convertOpts.quality, "quality", "q", 80, "encoder quality 1-100")
	flags.BoolVar(&convertOpts.lossless, "lossless", false, "lossless encoding where supported")
	flags.StringVarP(&convertOpts.workers, "workers", "w", "auto", "parallel conversions, or auto")
	flags.StringVarP(&convertOpts.output, "output", "o", "", "write every output into this folder")
	flags.StringVar(&convertOpts.subdir, "subdir", "optimized", "subfolder created next to sources when --output is not set")
	flags.StringVarP(&convertOpts.template, "template", "t", "{name}", "output name template: {name} {w} {h} {date} {counter}")
	flags.StringVar(&convertOpts.duplicate, "duplicate", "rename", "when the output exists: rename, skip, overwrite")
	flags.BoolVarP(&convertOpts.recursive, "recursive", "r", false, "descend into subfolders")
	flags.StringVar(&convertOpts.resizeMode, "resize", "none", "resize mode: none, long-edge, custom, crop")
	flags.IntVar(&convertOpts.longEdge, "long-edge", 0, "longest side in pixels (implies --resize long-edge)")
	flags.IntVar(&convertOpts.width, "width", 0, "target width for custom and crop resize")
	flags.IntVar(&convertOpts.height, "height", 0, "target height for custom and crop resize")
	flags.BoolVar(&convertOpts.keepAspect, "keep-aspect", true, "fit inside width x height instead of stretching")
	flags.BoolVar(&convertOpts.sharpen, "sharpen", false, "apply a light sharpen after resizing")
	flags.BoolVar(&convertOpts.strip, "strip", true, "drop EXIF and text metadata (use --strip=false to keep it)")
	flags.BoolVar(&convertOpts.privacy, "privacy", false, "drop EXIF/GPS metadata")
	flags.BoolVar(&convertOpts.keepICC, "keep-icc", true, "keep ICC colour profiles")
	flags.BoolVar(&convertOpts.smart, "smart", false, "enable smart mode")
	flags.Float64Var(&convertOpts.minSaving, "min-saving", 0, "skip files saving less than this percent (implies --smart)")
	flags.Int64Var(&convertOpts.targetKB, "target-kb", 0, "lower quality until output fits this size (implies --smart)")
	flags.StringVar(&convertOpts.watermarkText, "watermark-text", "", "draw this text as a watermark")
	flags.StringVar(&convertOpts.watermarkImage, "watermark-image", "", "draw this image as a watermark")
	flags.StringVar(&convertOpts.watermarkPos, "watermark-position", "bottom-right", "watermark anchor")
	flags.Float64Var(&convertOpts.watermarkAlpha, "watermark-opacity", 0.5, "watermark opacity 0-1")
	flags.BoolVar(&convertOpts.plain, "plain", false, "log progress lines instead of the interactive view")
	flags.BoolVar(&convertOpts.details, "details", false, "print a per-file table after the run")
	flags.BoolVar(&convertOpts.noHistory, "no-history", false, "do not record this run in the history database")
	flags.BoolVar(&convertOpts.watch, "watch", false, "after converting, keep watching the given folders and convert new images")
	flags.DurationVar(&convertOpts.settle, "settle", 500*time.Millisecond, "with --watch, how long a new file must be unchanged before it is converted")

	rootCmd.AddCommand(convertCmd)
}
