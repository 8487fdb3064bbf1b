package config

import (
	"github.com/LucaCarlo/WebPBatch-Pro/internal/batch"
	"github.com/LucaCarlo/WebPBatch-Pro/internal/encoder"
	"github.com/LucaCarlo/WebPBatch-Pro/internal/naming"
	"github.com/LucaCarlo/WebPBatch-Pro/internal/overlay"
)

// Settings converts a validated Config into the settings of one run.
func (c *Config) Settings() (batch.Settings, error) {
	mode, err := encoder.ParseResizeMode(c.Resize.Mode)
	if err != nil {
		return batch.Settings{}, err
	}
	policy, err := naming.ParsePolicy(c.Output.Duplicate)
	if err != nil {
		return batch.Settings{}, err
	}

	s := batch.Settings{
		Format:   c.Output.Format,
		Quality:  c.Output.Quality,
		Lossless: c.Output.Lossless,
		Resize: encoder.Resize{
			Mode:           mode,
			LongEdge:       c.Resize.LongEdge,
			Width:          c.Resize.Width,
			Height:         c.Resize.Height,
			MaintainAspect: c.Resize.MaintainAspect,
		},
		Sharpen:       c.Processing.Sharpen,
		StripMetadata: c.Processing.StripMetadata,
		PrivacyMode:   c.Processing.PrivacyMode,
		KeepICC:       c.Processing.KeepICC,
		Smart: batch.SmartMode{
			Enabled:          c.Smart.Enabled,
			MinSavingPercent: c.Smart.MinSavingPercent,
			TargetSizeBytes:  c.Smart.TargetSizeKB * 1024,
		},
		Duplicate:      policy,
		Workers:        int(c.Processing.Workers),
		NamingTemplate: c.Output.NamingTemplate,
		OutputDir:      c.Output.Dir,
		OutputSubdir:   c.Output.Subdir,
	}
	if c.Watermark.Enabled {
		s.Overlay = &overlay.Spec{
			Text:      c.Watermark.Text,
			ImagePath: c.Watermark.ImagePath,
			Opacity:   c.Watermark.Opacity,
			Position:  overlay.Position(c.Watermark.Position),
			Margin:    c.Watermark.Margin,
			Scale:     c.Watermark.Scale,
			FontSize:  c.Watermark.FontSize,
			Color:     c.Watermark.Color,
		}
	}
	return s, nil
}
