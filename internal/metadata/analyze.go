package metadata

import (
	"bytes"
	"errors"
	"io"
	"strings"

	exif "github.com/dsoprea/go-exif/v3"

	"github.com/LucaCarlo/WebPBatch-Pro/pkg/imgutil"
)

// Analysis summarizes the privacy-sensitive metadata found in one image.
type Analysis struct {
	HasGPS       bool
	GPSCount     int
	HasModel     bool
	HasTimestamp bool
	SerialCount  int
}

// Leaks is the number of identifying tags that a stripping re-encode removes.
func (a Analysis) Leaks() int {
	n := a.GPSCount + a.SerialCount
	if a.HasModel {
		n++
	}
	if a.HasTimestamp {
		n++
	}
	return n
}

// Analyze inspects data according to kind. Formats without a metadata reader
// return an empty analysis.
func Analyze(data []byte, kind imgutil.Kind) (Analysis, error) {
	switch kind {
	case imgutil.KindJPEG, imgutil.KindTIFF, imgutil.KindWebP:
		return analyzeExif(bytes.NewReader(data))
	case imgutil.KindPNG:
		return analyzePNG(bytes.NewReader(data))
	default:
		return Analysis{}, nil
	}
}

func analyzeExif(rs io.ReadSeeker) (Analysis, error) {
	analysis := Analysis{}

	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return analysis, err
	}

	tags, _, err := exif.GetFlatExifDataUniversalSearchWithReadSeeker(rs, nil, true)
	if err != nil {
		if errors.Is(err, exif.ErrNoExif) || isNoExif(err) {
			return analysis, nil
		}
		return analysis, err
	}

	for _, tag := range tags {
		name := tag.TagName
		lower := strings.ToLower(name)

		if strings.HasPrefix(name, "GPS") || strings.Contains(tag.IfdPath, "GPS") {
			analysis.HasGPS = true
			analysis.GPSCount++
		}
		if name == "Model" || name == "CameraModelName" {
			analysis.HasModel = true
		}
		if name == "DateTimeOriginal" || name == "DateTimeDigitized" || name == "DateTime" {
			analysis.HasTimestamp = true
		}
		if strings.Contains(lower, "serial") {
			analysis.SerialCount++
		}
	}

	return analysis, nil
}

func isNoExif(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "no exif")
}

func analyzePNG(r io.Reader) (Analysis, error) {
	var analysis Analysis
	want := func(name string) bool {
		switch name {
		case "tEXt", "zTXt", "iTXt", "tIME", "eXIf":
			return true
		}
		return false
	}
	err := walkPNG(r, want, func(name string, raw []byte) {
		body := raw[8 : len(raw)-4]
		switch name {
		case "tIME":
			analysis.HasTimestamp = true
		case "eXIf":
			// a malformed embedded block is not fatal
			if embedded, err := analyzeExif(bytes.NewReader(body)); err == nil {
				analysis = merge(analysis, embedded)
			}
		default:
			if idx := bytes.IndexByte(body, 0); idx > 0 {
				applyPNGTextKey(&analysis, string(body[:idx]))
			}
		}
	})
	return analysis, err
}

func merge(a, b Analysis) Analysis {
	return Analysis{
		HasGPS:       a.HasGPS || b.HasGPS,
		GPSCount:     a.GPSCount + b.GPSCount,
		HasModel:     a.HasModel || b.HasModel,
		HasTimestamp: a.HasTimestamp || b.HasTimestamp,
		SerialCount:  a.SerialCount + b.SerialCount,
	}
}

func applyPNGTextKey(analysis *Analysis, key string) {
	lower := strings.ToLower(key)
	if strings.Contains(lower, "gps") || strings.Contains(lower, "latitude") || strings.Contains(lower, "longitude") {
		analysis.HasGPS = true
		analysis.GPSCount++
	}
	if strings.Contains(lower, "model") || strings.Contains(lower, "make") {
		analysis.HasModel = true
	}
	if strings.Contains(lower, "date") || strings.Contains(lower, "time") {
		analysis.HasTimestamp = true
	}
	if strings.Contains(lower, "serial") {
		analysis.SerialCount++
	}
}
