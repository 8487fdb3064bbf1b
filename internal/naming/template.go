package naming

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultTemplate keeps the source file's stem.
const DefaultTemplate = "{name}"

// Data carries the values a naming template can reference.
type Data struct {
	OriginalName string
	Width        int
	Height       int
	Sequence     int // 1-based position of the job in the input list
	Ext          string
}

// Template renders output filenames from tokens:
// {name} {w} {h} {date} {counter}. Token matching is case-insensitive.
type Template struct {
	Now func() time.Time
}

var (
	tokenPattern   = regexp.MustCompile(`(?i)\{(name|w|h|date|counter)\}`)
	invalidPattern = regexp.MustCompile(`[<>:"/\\|?*]`)
)

// NameFor expands template with data and appends data.Ext.
func (t Template) NameFor(template string, data Data) string {
	if strings.TrimSpace(template) == "" {
		template = DefaultTemplate
	}
	now := time.Now
	if t.Now != nil {
		now = t.Now
	}

	stem := strings.TrimSuffix(data.OriginalName, filepath.Ext(data.OriginalName))
	sequence := data.Sequence
	if sequence <= 0 {
		sequence = 1
	}

	result := tokenPattern.ReplaceAllStringFunc(template, func(token string) string {
		switch strings.ToLower(token) {
		case "{name}":
			return stem
		case "{w}":
			return strconv.Itoa(data.Width)
		case "{h}":
			return strconv.Itoa(data.Height)
		case "{date}":
			return now().Format("20060102")
		case "{counter}":
			return fmt.Sprintf("%03d", sequence)
		}
		return token
	})

	return invalidPattern.ReplaceAllString(result, "_") + data.Ext
}

// Extension maps an output format to its file extension. Unknown formats
// fall back to .webp.
func Extension(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "webp", "":
		return ".webp"
	case "jpg", "jpeg":
		return ".jpg"
	case "png":
		return ".png"
	case "gif":
		return ".gif"
	case "avif":
		return ".avif"
	default:
		return ".webp"
	}
}
