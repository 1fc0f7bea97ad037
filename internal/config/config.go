// Package config loads orbit's runtime configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every tunable of the render orchestrator. Defaults mirror
// production values; all can be overridden per environment.
type Config struct {
	// HTTP
	HTTPPort string

	// External tools.
	RendererBin    string // explicit renderer binary path, empty = autodetect
	RendererScript string // helper script handed to the renderer
	FFmpegBin      string

	// Render defaults.
	Seconds     float64 // requested turntable duration
	BaseFPS     int     // frame rate the renderer produces at
	PlaybackFPS int     // target frame rate after post-processing
	Size        int
	Axis        string
	Quality     string
	Format      string

	// Submission limits.
	MaxUploadBytes  int64
	MaxJobsPerOwner int

	// ETA estimation. Empirically tuned; see render.EstimatorConfig.
	ETAWindow       int
	ETAWarmup       int
	ETASafetyFactor float64
	ETASlowFactor   float64
	ETASlowWeight   float64

	// Cancellation.
	CancelGrace time.Duration

	// Storage.
	StorageRoot string
}

// Load reads configuration from the environment, applying defaults.
func Load() Config {
	return Config{
		HTTPPort: env("HTTP_PORT", "8080"),

		RendererBin:    os.Getenv("ORBIT_RENDERER_BIN"),
		RendererScript: env("ORBIT_RENDERER_SCRIPT", "turntable.py"),
		FFmpegBin:      env("ORBIT_FFMPEG", "ffmpeg"),

		Seconds:     envFloat("ORBIT_SECONDS", 10),
		BaseFPS:     clampMin(envInt("ORBIT_RENDER_FPS", 11), 1),
		PlaybackFPS: clampMin(envInt("ORBIT_FPS", 25), 1),
		Size:        envInt("ORBIT_SIZE", 1080),
		Axis:        normalizeAxis(env("ORBIT_AXIS", "Z")),
		Quality:     normalizeQuality(env("ORBIT_QUALITY", "ultra")),
		Format:      normalizeFormat(env("ORBIT_FORMAT", "mp4")),

		MaxUploadBytes:  envInt64("ORBIT_MAX_UPLOAD_BYTES", 100<<20),
		MaxJobsPerOwner: envInt("ORBIT_MAX_JOBS_PER_OWNER", 5),

		ETAWindow:       envInt("ORBIT_ETA_WINDOW", 20),
		ETAWarmup:       envInt("ORBIT_ETA_WARMUP", 5),
		ETASafetyFactor: envFloat("ORBIT_ETA_SAFETY", 1.25),
		ETASlowFactor:   envFloat("ORBIT_ETA_SLOW_FACTOR", 1.5),
		ETASlowWeight:   envFloat("ORBIT_ETA_SLOW_WEIGHT", 0.5),

		CancelGrace: envDuration("ORBIT_CANCEL_GRACE", 500*time.Millisecond),

		StorageRoot: env("STORAGE_LOCAL_ROOT", "/data"),
	}
}

func normalizeAxis(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	switch s {
	case "X", "Y", "Z":
		return s
	}
	return "Z"
}

func normalizeQuality(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "fast", "standard", "ultra":
		return s
	}
	return "ultra"
}

func normalizeFormat(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "mp4", "webm":
		return s
	}
	return "mp4"
}

func clampMin(v, min int) int {
	if v < min {
		return min
	}
	return v
}

func env(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
