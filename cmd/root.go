package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/LucaCarlo/WebPBatch-Pro/internal/config"
	"github.com/LucaCarlo/WebPBatch-Pro/internal/logging"
)

var (
	configPath string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:           "webpbatch",
	Short:         "webpbatch - batch-convert images to WebP and friends",
	Long:          "webpbatch converts folders of images with a bounded worker pool, smart size targets, watermarks and safe atomic writes.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.toml (default ~/.config/webpbatch/config.toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: console or json")
}

// loadConfig loads the config file and applies the persistent flags.
func loadConfig(cmd *cobra.Command) (*config.Config, string, bool, error) {
	cfg, path, exists, err := config.Load(configPath)
	if err != nil {
		return nil, "", false, fmt.Errorf("load config: %w", err)
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
	if cmd.Flags().Changed("log-format") {
		cfg.Logging.Format = logFormat
	}
	return cfg, path, exists, nil
}

// newLogger builds the run logger. quiet sends console output nowhere so a
// full-screen UI is not disturbed; a configured log file still receives it.
func newLogger(cfg *config.Config, quiet bool) (*slog.Logger, io.Closer, error) {
	opts := logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	}
	if quiet {
		opts.Output = io.Discard
	}
	return logging.New(opts)
}

func isTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
