package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.CaptureInterval != 30 {
		t.Errorf("CaptureInterval = %d, want 30", cfg.CaptureInterval)
	}
	if cfg.MaxConcurrentCaptures != 50 {
		t.Errorf("MaxConcurrentCaptures = %d, want 50", cfg.MaxConcurrentCaptures)
	}
	if cfg.DefaultPixelFormat != "yuv444p" {
		t.Errorf("DefaultPixelFormat = %s, want yuv444p", cfg.DefaultPixelFormat)
	}
	if cfg.DailyTime != "01:00" || cfg.CleanupTime != "03:00" {
		t.Errorf("schedule defaults = %s / %s", cfg.DailyTime, cfg.CleanupTime)
	}
}

func TestLoadClampsBounds(t *testing.T) {
	t.Setenv("CAPTURE_INTERVAL", "5")
	t.Setenv("MAX_CONCURRENT_CAPTURES", "1000")
	t.Setenv("DEFAULT_CRF", "99")
	t.Setenv("ENCODER_TIMEOUT", "10")

	cfg := Load()

	if cfg.CaptureInterval != 10 {
		t.Errorf("CaptureInterval = %d, want clamped to 10", cfg.CaptureInterval)
	}
	if cfg.MaxConcurrentCaptures != 200 {
		t.Errorf("MaxConcurrentCaptures = %d, want clamped to 200", cfg.MaxConcurrentCaptures)
	}
	if cfg.DefaultCRF != 51 {
		t.Errorf("DefaultCRF = %d, want clamped to 51", cfg.DefaultCRF)
	}
	if cfg.EncoderTimeout != 60 {
		t.Errorf("EncoderTimeout = %d, want floor of 60", cfg.EncoderTimeout)
	}
}

func TestLoadRejectsUnknownPixelFormat(t *testing.T) {
	t.Setenv("DEFAULT_PIXEL_FORMAT", "bgr555")
	cfg := Load()
	if cfg.DefaultPixelFormat != "yuv444p" {
		t.Errorf("DefaultPixelFormat = %s, want fallback yuv444p", cfg.DefaultPixelFormat)
	}
}

func TestLoadIgnoresGarbageNumbers(t *testing.T) {
	t.Setenv("RETENTION_DAYS_IMAGES", "not-a-number")
	cfg := Load()
	if cfg.RetentionDaysImages != 7 {
		t.Errorf("RetentionDaysImages = %d, want default 7", cfg.RetentionDaysImages)
	}
}
