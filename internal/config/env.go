package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override file values.
const (
	EnvWorkers   = "WEBPBATCH_WORKERS"
	EnvOutputDir = "WEBPBATCH_OUTPUT_DIR"
	EnvLogLevel  = "WEBPBATCH_LOG_LEVEL"
	EnvFormat    = "WEBPBATCH_FORMAT"
	EnvQuality   = "WEBPBATCH_QUALITY"
)

// loadDotEnv seeds the process environment from path when it exists.
// Variables already set in the environment win.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if value, ok := lookup(EnvWorkers); ok {
		workers, err := ParseWorkers(value)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvWorkers, err)
		}
		c.Processing.Workers = Workers(workers)
	}
	if value, ok := lookup(EnvQuality); ok {
		quality, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvQuality, err)
		}
		c.Output.Quality = quality
	}
	if value, ok := lookup(EnvOutputDir); ok {
		c.Output.Dir = value
	}
	if value, ok := lookup(EnvFormat); ok {
		c.Output.Format = value
	}
	if value, ok := lookup(EnvLogLevel); ok {
		c.Logging.Level = value
	}
	return nil
}

func lookup(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	value = strings.TrimSpace(value)
	return value, ok && value != ""
}

// ParseWorkers accepts "auto" (or an empty string) for the CPU-derived
// default, otherwise a positive integer.
func ParseWorkers(value string) (int, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" || value == "auto" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("workers: expected \"auto\" or a number, got %q", value)
	}
	if n < 1 {
		return 0, fmt.Errorf("workers: must be at least 1, got %d", n)
	}
	return n, nil
}
