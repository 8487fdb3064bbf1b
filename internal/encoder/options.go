package encoder

import (
	"fmt"
	"strings"
)

// ResizeMode selects how the source is scaled before encoding.
type ResizeMode string

const (
	ResizeNone     ResizeMode = "none"
	ResizeLongEdge ResizeMode = "long-edge"
	ResizeCustom   ResizeMode = "custom"
	ResizeCrop     ResizeMode = "crop"
)

// ParseResizeMode accepts the mode names used in config files. Empty input
// selects ResizeNone.
func ParseResizeMode(value string) (ResizeMode, error) {
	switch ResizeMode(strings.ToLower(strings.TrimSpace(value))) {
	case "", ResizeNone:
		return ResizeNone, nil
	case ResizeLongEdge:
		return ResizeLongEdge, nil
	case ResizeCustom:
		return ResizeCustom, nil
	case ResizeCrop:
		return ResizeCrop, nil
	default:
		return "", fmt.Errorf("resize mode: unsupported value %q", value)
	}
}

// Resize holds the resize parameters. Images are never enlarged.
type Resize struct {
	Mode           ResizeMode `toml:"mode"`
	LongEdge       int        `toml:"long_edge"`
	Width          int        `toml:"width"`
	Height         int        `toml:"height"`
	MaintainAspect bool       `toml:"maintain_aspect"`
}

// Options controls a single encode.
type Options struct {
	Format        string
	Quality       int
	Lossless      bool
	Resize        Resize
	Sharpen       bool
	StripMetadata bool
	PrivacyMode   bool
	KeepICC       bool
}

// Result is the encoded image together with its final dimensions.
type Result struct {
	Data   []byte
	Width  int
	Height int
	Format string
	// MetadataTags counts privacy-sensitive tags found in the source.
	MetadataTags int
}

// Formats lists the output formats Encode can produce.
var Formats = []string{"webp", "jpeg", "png", "gif"}

// NormalizeFormat canonicalizes a user-supplied format name.
func NormalizeFormat(format string) string {
	switch f := strings.ToLower(strings.TrimSpace(format)); f {
	case "":
		return "webp"
	case "jpg":
		return "jpeg"
	default:
		return f
	}
}
