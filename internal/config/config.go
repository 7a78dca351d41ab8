package config

import (
	"os"
	"strconv"
)

type Config struct {
	ListenAddr string
	OutputRoot string
	ImagesSub  string
	VideosSub  string
	TZ         string
	LogLevel   string

	CaptureInterval       int // seconds
	MaxConcurrentCaptures int
	CaptureTimeout        int // seconds

	DefaultFrameRate   int
	DefaultCRF         int
	DefaultPixelFormat string
	EncoderTimeout     int // seconds

	DailyTime    string // "HH:MM"
	MultidayDay  string // monday..sunday
	MultidayTime string
	CleanupTime  string

	RetentionDaysImages   int
	RetentionDaysVideos   int
	CleanupAfterTimelapse bool
	StorageWarnPercent    float64

	AppriseEnabled         bool
	AppriseURL             string
	MinFailuresBeforeAlert int
	AlertCooldownMinutes   int

	BlankThreshold float64
}

var pixelFormats = map[string]bool{
	"yuv420p": true,
	"yuv444p": true,
	"rgb24":   true,
}

func Load() *Config {
	cfg := &Config{
		ListenAddr: envOr("LISTEN_ADDR", ":8080"),
		OutputRoot: envOr("OUTPUT_ROOT", "./output"),
		ImagesSub:  envOr("IMAGES_SUBPATH", "images"),
		VideosSub:  envOr("VIDEOS_SUBPATH", "videos"),
		TZ:         envOr("TZ", "UTC"),
		LogLevel:   envOr("LOG_LEVEL", "info"),

		CaptureInterval:       clampInt(envIntOr("CAPTURE_INTERVAL", 30), 10, 3600),
		MaxConcurrentCaptures: clampInt(envIntOr("MAX_CONCURRENT_CAPTURES", 50), 1, 200),
		CaptureTimeout:        clampInt(envIntOr("CAPTURE_TIMEOUT", 30), 5, 120),

		DefaultFrameRate:   clampInt(envIntOr("DEFAULT_FRAME_RATE", 30), 1, 120),
		DefaultCRF:         clampInt(envIntOr("DEFAULT_CRF", 20), 0, 51),
		DefaultPixelFormat: envOr("DEFAULT_PIXEL_FORMAT", "yuv444p"),
		EncoderTimeout:     envIntOr("ENCODER_TIMEOUT", 14400),

		DailyTime:    envOr("DAILY_TIMELAPSE_TIME", "01:00"),
		MultidayDay:  envOr("MULTIDAY_GENERATION_DAY", "sunday"),
		MultidayTime: envOr("MULTIDAY_GENERATION_TIME", "02:00"),
		CleanupTime:  envOr("CLEANUP_TIME", "03:00"),

		RetentionDaysImages:   envIntOr("RETENTION_DAYS_IMAGES", 7),
		RetentionDaysVideos:   envIntOr("RETENTION_DAYS_VIDEOS", 365),
		CleanupAfterTimelapse: envBoolOr("CLEANUP_AFTER_TIMELAPSE", false),
		StorageWarnPercent:    envFloatOr("STORAGE_WARN_PERCENT", 85),

		AppriseEnabled:         envBoolOr("APPRISE_ENABLED", false),
		AppriseURL:             envOr("APPRISE_URL", "http://apprise:8000"),
		MinFailuresBeforeAlert: envIntOr("MIN_FAILURES_BEFORE_ALERT", 3),
		AlertCooldownMinutes:   envIntOr("ALERT_COOLDOWN_MINUTES", 30),

		BlankThreshold: envFloatOr("BLANK_THRESHOLD", 0.02),
	}

	if cfg.EncoderTimeout < 60 {
		cfg.EncoderTimeout = 60
	}
	if !pixelFormats[cfg.DefaultPixelFormat] {
		cfg.DefaultPixelFormat = "yuv444p"
	}
	if cfg.RetentionDaysImages < 1 {
		cfg.RetentionDaysImages = 1
	}
	if cfg.RetentionDaysVideos < 1 {
		cfg.RetentionDaysVideos = 1
	}
	if cfg.MinFailuresBeforeAlert < 1 {
		cfg.MinFailuresBeforeAlert = 1
	}

	return cfg
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

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
