package batch

import (
	"context"
	"runtime"
	"time"

	"github.com/LucaCarlo/WebPBatch-Pro/internal/encoder"
	"github.com/LucaCarlo/WebPBatch-Pro/internal/naming"
	"github.com/LucaCarlo/WebPBatch-Pro/internal/overlay"
)

// Job is one input file queued for conversion.
type Job struct {
	Path string
	Name string
	Size int64
	Dir  string
}

// Status is the lifecycle state of one file.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusError      Status = "error"
	StatusSkipped    Status = "skipped"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusError || s == StatusSkipped
}

// Skip reasons recorded on FileReport.Reason.
const (
	ReasonLowSavings = "low-savings"
	ReasonExists     = "exists"
)

// SmartMode skips low-value conversions and lowers quality to hit a size target.
type SmartMode struct {
	Enabled          bool    `toml:"enabled"`
	MinSavingPercent float64 `toml:"min_saving_percent"`
	TargetSizeBytes  int64   `toml:"target_size_bytes"`
}

// Settings is the immutable configuration of one run.
type Settings struct {
	Format         string
	Quality        int
	Lossless       bool
	Resize         encoder.Resize
	Sharpen        bool
	StripMetadata  bool
	PrivacyMode    bool
	KeepICC        bool
	Smart          SmartMode
	Duplicate      naming.Policy
	Workers        int // 0 selects the CPU-derived default
	NamingTemplate string
	OutputDir      string
	OutputSubdir   string
	Overlay        *overlay.Spec
}

// DefaultOutputSubdir is created next to each source when no OutputDir is set.
const DefaultOutputSubdir = "optimized"

const maxAutoWorkers = 8

// WorkerCount resolves the pool size: an explicit count wins, otherwise
// NumCPU-1 clamped to [1, 8].
func (s Settings) WorkerCount() int {
	if s.Workers > 0 {
		return s.Workers
	}
	return min(max(runtime.NumCPU()-1, 1), maxAutoWorkers)
}

func (s Settings) encodeOptions() encoder.Options {
	return encoder.Options{
		Format:        s.Format,
		Quality:       s.Quality,
		Lossless:      s.Lossless,
		Resize:        s.Resize,
		Sharpen:       s.Sharpen,
		StripMetadata: s.StripMetadata,
		PrivacyMode:   s.PrivacyMode,
		KeepICC:       s.KeepICC,
	}
}

// FileReport is the outcome of one job.
type FileReport struct {
	Index        int
	Name         string
	InputPath    string
	InputSize    int64
	OutputSize   int64
	Format       string
	Quality      int
	Time         time.Duration
	Status       Status
	Reason       string
	Error        string
	OutputPath   string
	Width        int
	Height       int
	SavedPercent int
	Attempts     int
	MetadataTags int
}

// RunReport aggregates every FileReport of one run.
type RunReport struct {
	ID              string
	Total           int
	Processed       int
	Errors          int
	Skipped         int
	TotalInputSize  int64
	TotalOutputSize int64
	StartTime       time.Time
	EndTime         time.Time
	TotalTime       time.Duration
	SavedBytes      int64
	SavedPercent    int
	Cancelled       bool
	Error           string
	Files           []FileReport
}

// Done is the number of files converted and written.
func (r RunReport) Done() int {
	return r.Processed - r.Errors - r.Skipped
}

// Encoder produces encoded bytes for one source file.
type Encoder interface {
	Encode(ctx context.Context, path string, opts encoder.Options) (encoder.Result, error)
}

// Namer renders output filenames.
type Namer interface {
	NameFor(template string, data naming.Data) string
}

// Overlayer draws a watermark onto encoded bytes.
type Overlayer interface {
	Apply(data []byte, frame overlay.Frame, spec *overlay.Spec) ([]byte, error)
}
