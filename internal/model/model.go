package model

import "time"

// Camera capture status values.
const (
	CaptureStatusSuccess = "success"
	CaptureStatusFailed  = "failed"
)

// VideoJob kinds.
const (
	JobKindDaily    = "daily"
	JobKindMultiday = "multiday"
)

// VideoJob statuses. Completed and failed are terminal.
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// CollectionConfig modes.
const (
	ModeHistorical  = "historical"
	ModeProspective = "prospective"
)

// CollectionConfig statuses.
const (
	ConfigStatusIdle       = "idle"
	ConfigStatusCollecting = "collecting"
	ConfigStatusReady      = "ready"
	ConfigStatusCompleted  = "completed"
	ConfigStatusFailed     = "failed"
)

// Frame protection reasons. An unprotected frame carries no reason and no
// owning config.
const (
	ProtectionManual      = "manual"
	ProtectionMultiday    = "multiday_timelapse"
	ProtectionProspective = "prospective"
)

// Cleanup scopes.
const (
	CleanupScopeImages   = "images"
	CleanupScopeVideos   = "videos"
	CleanupScopeAfterJob = "after_job"
)

type Camera struct {
	ID                string
	Name              string
	Host              string
	CaptureInterval   int // seconds between captures
	Active            bool
	BlackoutStart     string // "HH:MM:SS", empty when no blackout window
	BlackoutEnd       string
	TimelapseEnabled  bool
	LastCaptureAt     *time.Time
	LastCaptureStatus string
	ConsecutiveErrors int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// SnapshotURL returns the camera's still-image endpoint.
func (c *Camera) SnapshotURL() string {
	return "http://" + c.Host + "/snap.jpeg"
}

// InBlackout reports whether t falls inside the camera's blackout window.
// A window with start > end spans midnight: the blackout then covers
// t >= start or t <= end.
func (c *Camera) InBlackout(t time.Time) bool {
	if c.BlackoutStart == "" || c.BlackoutEnd == "" {
		return false
	}
	clock := t.Format("15:04:05")
	if c.BlackoutStart > c.BlackoutEnd {
		return clock >= c.BlackoutStart || clock <= c.BlackoutEnd
	}
	return clock >= c.BlackoutStart && clock <= c.BlackoutEnd
}

type Frame struct {
	ID                  string
	CameraID            string
	CapturedAt          time.Time // camera-local naive time
	FilePath            string    // relative to the output root
	FileSize            int64
	Width               *int64
	Height              *int64
	Protected           bool
	ProtectionReason    string
	ProtectedByConfigID *string
	ConsumedByJobID     *string
	CreatedAt           time.Time
}

type VideoJob struct {
	ID              string
	CameraID        string
	Kind            string
	DateStart       time.Time // date only, midnight
	DateEnd         time.Time
	FrameRate       int
	CRF             int
	PixelFormat     string
	Status          string
	FilePath        string
	FileSize        int64
	FrameCount      int
	DurationSeconds float64
	ErrorMessage    string
	CreatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
}

type CollectionConfig struct {
	ID                  string
	CameraID            string
	Name                string
	Enabled             bool
	Mode                string
	Status              string
	FramesPerHour       int
	DaysToInclude       int
	GenerationDay       string
	GenerationTime      string // "HH:MM"
	FrameRate           int
	CRF                 int
	PixelFormat         string
	CollectionStartDate *time.Time
	CollectionEndDate   *time.Time
	ProgressDays        int
	AutoGenerate        bool
	LastGenerationAt    *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

type CleanupReport struct {
	ID               string
	Scope            string
	CameraID         string // empty for all cameras
	FilesDeleted     int
	BytesFreed       int64
	ProtectedSkipped int
	ExecutedAt       time.Time
}
