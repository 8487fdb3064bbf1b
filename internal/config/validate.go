package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/LucaCarlo/WebPBatch-Pro/internal/encoder"
	"github.com/LucaCarlo/WebPBatch-Pro/internal/naming"
	"github.com/LucaCarlo/WebPBatch-Pro/internal/overlay"
)

var watermarkPositions = []overlay.Position{
	overlay.TopLeft, overlay.TopCenter, overlay.TopRight, overlay.Center,
	overlay.BottomLeft, overlay.BottomCenter, overlay.BottomRight,
}

// Validate ensures the configuration is usable. Every problem found is
// reported, joined into one error.
func (c *Config) Validate() error {
	return errors.Join(
		c.validateOutput(),
		c.validateProcessing(),
		c.validateResize(),
		c.validateSmart(),
		c.validateWatermark(),
		c.validateLogging(),
	)
}

func (c *Config) validateOutput() error {
	var errs []error
	if !slices.Contains(encoder.Formats, c.Output.Format) {
		errs = append(errs, fmt.Errorf("output.format must be one of %s, got %q", strings.Join(encoder.Formats, ", "), c.Output.Format))
	}
	if c.Output.Quality < 1 || c.Output.Quality > 100 {
		errs = append(errs, fmt.Errorf("output.quality must be between 1 and 100, got %d", c.Output.Quality))
	}
	if _, err := naming.ParsePolicy(c.Output.Duplicate); err != nil {
		errs = append(errs, fmt.Errorf("output.duplicate: %w", err))
	}
	if strings.ContainsAny(c.Output.Subdir, `/\`) {
		errs = append(errs, fmt.Errorf("output.subdir must be a single directory name, got %q", c.Output.Subdir))
	}
	return errors.Join(errs...)
}

func (c *Config) validateProcessing() error {
	if c.Processing.Workers < 0 {
		return fmt.Errorf("processing.workers must be 0 (auto) or positive, got %d", c.Processing.Workers)
	}
	return nil
}

func (c *Config) validateResize() error {
	mode, err := encoder.ParseResizeMode(c.Resize.Mode)
	if err != nil {
		return fmt.Errorf("resize.mode: %w", err)
	}
	switch mode {
	case encoder.ResizeLongEdge:
		if c.Resize.LongEdge <= 0 {
			return errors.New("resize.long_edge must be positive when resize.mode is long-edge")
		}
	case encoder.ResizeCustom, encoder.ResizeCrop:
		if c.Resize.Width <= 0 || c.Resize.Height <= 0 {
			return fmt.Errorf("resize.width and resize.height must be positive when resize.mode is %s", mode)
		}
	}
	return nil
}

func (c *Config) validateSmart() error {
	var errs []error
	if c.Smart.MinSavingPercent < 0 || c.Smart.MinSavingPercent > 100 {
		errs = append(errs, fmt.Errorf("smart.min_saving_percent must be between 0 and 100, got %v", c.Smart.MinSavingPercent))
	}
	if c.Smart.TargetSizeKB < 0 {
		errs = append(errs, fmt.Errorf("smart.target_size_kb must not be negative, got %d", c.Smart.TargetSizeKB))
	}
	return errors.Join(errs...)
}

func (c *Config) validateWatermark() error {
	w := c.Watermark
	if !w.Enabled {
		return nil
	}
	var errs []error
	if strings.TrimSpace(w.Text) == "" && w.ImagePath == "" {
		errs = append(errs, errors.New("watermark.text or watermark.image_path must be set when watermark.enabled is true"))
	}
	if w.Opacity < 0 || w.Opacity > 1 {
		errs = append(errs, fmt.Errorf("watermark.opacity must be between 0 and 1, got %v", w.Opacity))
	}
	if !slices.Contains(watermarkPositions, overlay.Position(w.Position)) {
		errs = append(errs, fmt.Errorf("watermark.position: unsupported value %q", w.Position))
	}
	if w.Scale < 0 || w.Scale > 1 {
		errs = append(errs, fmt.Errorf("watermark.scale must be between 0 and 1, got %v", w.Scale))
	}
	return errors.Join(errs...)
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
