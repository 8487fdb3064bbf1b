package config

import (
	"fmt"
	"strings"

	"github.com/LucaCarlo/WebPBatch-Pro/internal/encoder"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeOutput()
	c.Resize.Mode = strings.ToLower(strings.TrimSpace(c.Resize.Mode))
	if c.Resize.Mode == "" {
		c.Resize.Mode = defaultResizeMode
	}
	c.Watermark.Position = strings.ToLower(strings.TrimSpace(c.Watermark.Position))
	if c.Watermark.Position == "" {
		c.Watermark.Position = defaultWatermarkPos
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Output.Dir, err = expandPath(strings.TrimSpace(c.Output.Dir)); err != nil {
		return fmt.Errorf("output.dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Logging.File, err = expandPath(strings.TrimSpace(c.Logging.File)); err != nil {
		return fmt.Errorf("logging.file: %w", err)
	}
	if c.Watermark.ImagePath, err = expandPath(strings.TrimSpace(c.Watermark.ImagePath)); err != nil {
		return fmt.Errorf("watermark.image_path: %w", err)
	}
	return nil
}

func (c *Config) normalizeOutput() {
	c.Output.Format = encoder.NormalizeFormat(c.Output.Format)
	c.Output.Subdir = strings.TrimSpace(c.Output.Subdir)
	if c.Output.Subdir == "" {
		c.Output.Subdir = defaultOutputSubdir
	}
	if strings.TrimSpace(c.Output.NamingTemplate) == "" {
		c.Output.NamingTemplate = defaultNamingTemplate
	}
	c.Output.Duplicate = strings.ToLower(strings.TrimSpace(c.Output.Duplicate))
	if c.Output.Duplicate == "" {
		c.Output.Duplicate = defaultDuplicate
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
