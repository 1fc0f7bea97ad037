package render

import "strings"

// Rotation axes accepted by the renderer.
const (
	AxisX = "X"
	AxisY = "Y"
	AxisZ = "Z"
)

// Options are the per-job render settings. Values outside the renderer's
// accepted ranges are clamped by Normalized rather than rejected, matching
// the tool's own tolerance for sloppy input.
type Options struct {
	Axis           string
	OffsetDeg      float64
	AutoOrient     bool
	Quality        string // fast | standard | ultra
	Format         string // mp4 | webm
	Size           int    // square resolution
	Kelvin         int    // color temperature
	AutoBrightness bool
	Exposure       float64 // ignored when AutoBrightness is set
	Watermark      bool
}

// validSizes is the renderer's resolution whitelist.
var validSizes = map[int]bool{720: true, 1080: true, 1440: true, 2160: true}

// Normalized returns a copy of o with every field forced into the
// renderer's accepted domain, falling back to def for enumerations.
func (o Options) Normalized(def Options) Options {
	out := o

	out.Axis = strings.ToUpper(strings.TrimSpace(out.Axis))
	switch out.Axis {
	case AxisX, AxisY, AxisZ:
	default:
		out.Axis = def.Axis
	}

	out.OffsetDeg = clampFloat(out.OffsetDeg, 0, 360)

	out.Quality = strings.ToLower(strings.TrimSpace(out.Quality))
	switch out.Quality {
	case "fast", "standard", "ultra":
	default:
		out.Quality = def.Quality
	}

	out.Format = strings.ToLower(strings.TrimSpace(out.Format))
	switch out.Format {
	case "mp4", "webm":
	default:
		out.Format = def.Format
	}

	if !validSizes[out.Size] {
		out.Size = def.Size
	}

	if out.Kelvin == 0 {
		out.Kelvin = def.Kelvin
	}
	out.Kelvin = clampInt(out.Kelvin, 2000, 10000)

	if out.AutoBrightness {
		out.Exposure = 0
	} else {
		out.Exposure = clampFloat(out.Exposure, -2, 2)
	}

	return out
}

// Suffix returns the artifact file extension for the output format.
func (o Options) Suffix() string {
	if o.Format == "webm" {
		return ".webm"
	}
	return ".mp4"
}

// MimeType returns the artifact content type for the output format.
func (o Options) MimeType() string {
	if o.Format == "webm" {
		return "video/webm"
	}
	return "video/mp4"
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
