package config

const (
	defaultConfigPath     = "~/.config/webpbatch/config.toml"
	defaultStateDir       = "~/.local/share/webpbatch"
	defaultFormat         = "webp"
	defaultQuality        = 80
	defaultNamingTemplate = "{name}"
	defaultDuplicate      = "rename"
	defaultOutputSubdir   = "optimized"
	defaultResizeMode     = "none"
	defaultLogFormat      = "console"
	defaultLogLevel       = "info"
	defaultWatermarkPos   = "bottom-right"
	defaultWatermarkAlpha = 0.5
	defaultWatermarkScale = 0.2
	defaultWatermarkSize  = 20
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Output: Output{
			Format:         defaultFormat,
			Quality:        defaultQuality,
			Subdir:         defaultOutputSubdir,
			NamingTemplate: defaultNamingTemplate,
			Duplicate:      defaultDuplicate,
		},
		Processing: Processing{
			StripMetadata: true,
			KeepICC:       true,
		},
		Resize: Resize{
			Mode:           defaultResizeMode,
			MaintainAspect: true,
		},
		Watermark: Watermark{
			Position: defaultWatermarkPos,
			Opacity:  defaultWatermarkAlpha,
			Scale:    defaultWatermarkScale,
			Margin:   defaultWatermarkSize,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Paths: Paths{
			StateDir: defaultStateDir,
		},
	}
}
