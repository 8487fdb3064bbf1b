package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Output controls the encoded files and where they land.
type Output struct {
	Format         string `toml:"format"`
	Quality        int    `toml:"quality"`
	Lossless       bool   `toml:"lossless"`
	Dir            string `toml:"dir"`
	Subdir         string `toml:"subdir"`
	NamingTemplate string `toml:"naming_template"`
	Duplicate      string `toml:"duplicate"`
}

// Processing contains per-image processing switches and the pool size.
type Processing struct {
	Workers       Workers `toml:"workers"`
	Recursive     bool    `toml:"recursive"`
	Sharpen       bool    `toml:"sharpen"`
	StripMetadata bool    `toml:"strip_metadata"`
	PrivacyMode   bool    `toml:"privacy_mode"`
	KeepICC       bool    `toml:"keep_icc"`
}

// Workers is the pool size. Zero selects the CPU-derived default and is
// written as "auto"; files may hold either "auto" or a number.
type Workers int

// MarshalText implements encoding.TextMarshaler.
func (w Workers) MarshalText() ([]byte, error) {
	if w == 0 {
		return []byte("auto"), nil
	}
	return []byte(strconv.Itoa(int(w))), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. It accepts "auto", an
// empty value or 0 for the default and any non-negative integer.
func (w *Workers) UnmarshalText(text []byte) error {
	value := strings.ToLower(strings.TrimSpace(string(text)))
	if value == "" || value == "auto" {
		*w = 0
		return nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return fmt.Errorf("workers: expected \"auto\" or a number, got %q", string(text))
	}
	*w = Workers(n)
	return nil
}

// Resize mirrors encoder.Resize with a string mode for the file format.
type Resize struct {
	Mode           string `toml:"mode"`
	LongEdge       int    `toml:"long_edge"`
	Width          int    `toml:"width"`
	Height         int    `toml:"height"`
	MaintainAspect bool   `toml:"maintain_aspect"`
}

// Smart contains the smart-mode thresholds.
type Smart struct {
	Enabled          bool    `toml:"enabled"`
	MinSavingPercent float64 `toml:"min_saving_percent"`
	TargetSizeKB     int64   `toml:"target_size_kb"`
}

// Watermark describes the optional overlay. It is drawn only when enabled
// and either text or image_path is set.
type Watermark struct {
	Enabled   bool    `toml:"enabled"`
	Text      string  `toml:"text"`
	ImagePath string  `toml:"image_path"`
	Opacity   float64 `toml:"opacity"`
	Position  string  `toml:"position"`
	Margin    int     `toml:"margin"`
	Scale     float64 `toml:"scale"`
	FontSize  int     `toml:"font_size"`
	Color     string  `toml:"color"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
	File   string `toml:"file"`
}

// Paths holds locations owned by webpbatch itself.
type Paths struct {
	StateDir string `toml:"state_dir"`
}

// Config encapsulates all configuration values for webpbatch.
type Config struct {
	Output     Output     `toml:"output"`
	Processing Processing `toml:"processing"`
	Resize     Resize     `toml:"resize"`
	Smart      Smart      `toml:"smart"`
	Watermark  Watermark  `toml:"watermark"`
	Logging    Logging    `toml:"logging"`
	Paths      Paths      `toml:"paths"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. A missing file
// is not an error: defaults and environment overrides are used instead.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := loadDotEnv(".env"); err != nil {
		return nil, "", false, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if strings.TrimSpace(path) == "" {
		path = defaultConfigPath
	}
	expanded, err := expandPath(path)
	if err != nil {
		return "", false, err
	}
	info, err := os.Stat(expanded)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return expanded, false, nil
		}
		return "", false, fmt.Errorf("stat config: %w", err)
	}
	if info.IsDir() {
		return "", false, fmt.Errorf("config path %s is a directory", expanded)
	}
	return expanded, true, nil
}

// EnsureDirectories creates the state directory used for history and locks.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.Paths.StateDir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", c.Paths.StateDir, err)
	}
	return nil
}

// HistoryPath is the SQLite database recording past runs.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.Paths.StateDir, "history.db")
}

// LockPath is the file guarding against concurrent runs.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "webpbatch.lock")
}

// Encode renders cfg as TOML.
func (c *Config) Encode() ([]byte, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}

// ExpandPath exposes the path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}
