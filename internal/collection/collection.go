// Package collection drives multi-day timelapse configs through their
// lifecycle. Historical configs sample whatever frames retention has kept;
// prospective configs protect frames as they arrive over a declared window
// and encode once the window closes.
package collection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/camlapse/camlapse/internal/db"
	"github.com/camlapse/camlapse/internal/encoder"
	"github.com/camlapse/camlapse/internal/model"
	"github.com/camlapse/camlapse/internal/notify"
	"github.com/camlapse/camlapse/internal/selector"
	"github.com/camlapse/camlapse/internal/storage"
)

var (
	// ErrNotFound means the config does not exist.
	ErrNotFound = errors.New("collection: config not found")
	// ErrConflict means the config's current status forbids the operation.
	ErrConflict = errors.New("collection: operation conflicts with config status")
	// ErrBusy means a generation for this config is already running.
	ErrBusy = errors.New("collection: generation already in progress")
	// ErrNoFrames means the selection produced nothing to encode.
	ErrNoFrames = errors.New("collection: no frames found for window")
)

type Machine struct {
	DB       *sql.DB
	Store    *storage.Store
	Encoder  *encoder.Encoder
	Notifier *notify.Notifier
	Now      func() time.Time // naive camera-local clock

	mu   sync.Mutex
	busy map[string]bool
}

func New(database *sql.DB, store *storage.Store, enc *encoder.Encoder,
	notifier *notify.Notifier, now func() time.Time) *Machine {
	return &Machine{
		DB:       database,
		Store:    store,
		Encoder:  enc,
		Notifier: notifier,
		Now:      now,
		busy:     make(map[string]bool),
	}
}

// StartCollection begins a prospective run: the window opens today and spans
// the given number of days. Only an idle config can start; anything else is
// a conflict and the config is left untouched.
func (m *Machine) StartCollection(id string, days int) (*model.CollectionConfig, error) {
	cfg, err := db.GetConfig(m.DB, id)
	if err != nil {
		return nil, fmt.Errorf("get config: %w", err)
	}
	if cfg == nil {
		return nil, ErrNotFound
	}

	if days < 1 {
		days = cfg.DaysToInclude
	}
	if days < 1 {
		days = 1
	}
	if days > 365 {
		days = 365
	}

	start := dateOf(m.Now())
	end := start.AddDate(0, 0, days-1)

	ok, err := db.StartCollection(m.DB, id, start, end, days)
	if err != nil {
		return nil, fmt.Errorf("start collection: %w", err)
	}
	if !ok {
		return nil, ErrConflict
	}

	slog.Info("collection started", "config", cfg.Name,
		"start", db.FormatDate(start), "end", db.FormatDate(end), "days", days)
	return db.GetConfig(m.DB, id)
}

// CancelCollection aborts a collecting run and returns the config to idle.
// When unprotect is set the frames the run had claimed are released to
// normal retention. Video jobs are never touched.
func (m *Machine) CancelCollection(id string, unprotect bool) error {
	cfg, err := db.GetConfig(m.DB, id)
	if err != nil {
		return fmt.Errorf("get config: %w", err)
	}
	if cfg == nil {
		return ErrNotFound
	}

	ok, err := db.CancelCollection(m.DB, id)
	if err != nil {
		return fmt.Errorf("cancel collection: %w", err)
	}
	if !ok {
		return ErrConflict
	}

	if unprotect {
		released, err := db.UnprotectFramesForConfig(m.DB, id)
		if err != nil {
			return fmt.Errorf("unprotect frames: %w", err)
		}
		slog.Info("collection cancelled", "config", cfg.Name, "frames_released", released)
	} else {
		slog.Info("collection cancelled, frames kept protected", "config", cfg.Name)
	}
	return nil
}

// AdvanceAll moves every collecting config forward: frames captured so far
// inside the window are protected, progress is updated, and a config whose
// window has closed becomes ready. Protection re-runs over the whole elapsed
// window each time, so a missed day is healed on the next pass.
func (m *Machine) AdvanceAll() {
	configs, err := db.ListEnabledConfigs(m.DB)
	if err != nil {
		slog.Error("collection: list configs", "error", err)
		return
	}
	for _, cfg := range configs {
		if cfg.Status != model.ConfigStatusCollecting {
			continue
		}
		if err := m.advance(&cfg); err != nil {
			slog.Error("collection: advance", "config", cfg.Name, "error", err)
		}
	}
}

// ProtectCollecting claims newly captured frames for every collecting
// config. It runs after each capture pass so frames enter protection long
// before any retention decision can see them.
func (m *Machine) ProtectCollecting() {
	configs, err := db.ListEnabledConfigs(m.DB)
	if err != nil {
		slog.Error("collection: list configs", "error", err)
		return
	}
	for _, cfg := range configs {
		if cfg.Status != model.ConfigStatusCollecting {
			continue
		}
		if err := m.protectWindow(&cfg); err != nil {
			slog.Error("collection: protect frames", "config", cfg.Name, "error", err)
		}
	}
}

func (m *Machine) protectWindow(cfg *model.CollectionConfig) error {
	if cfg.CollectionStartDate == nil || cfg.CollectionEndDate == nil {
		return fmt.Errorf("collecting config %s has no window", cfg.ID)
	}
	start, end := *cfg.CollectionStartDate, *cfg.CollectionEndDate

	protectThrough := dateOf(m.Now())
	if protectThrough.After(end) {
		protectThrough = end
	}
	claimed, err := db.ProtectFramesForConfig(m.DB, cfg.CameraID, cfg.ID,
		start, protectThrough.AddDate(0, 0, 1))
	if err != nil {
		return err
	}
	if claimed > 0 {
		slog.Debug("frames protected for collection", "config", cfg.Name, "count", claimed)
	}
	return nil
}

func (m *Machine) advance(cfg *model.CollectionConfig) error {
	if err := m.protectWindow(cfg); err != nil {
		return fmt.Errorf("protect frames: %w", err)
	}
	start, end := *cfg.CollectionStartDate, *cfg.CollectionEndDate
	today := dateOf(m.Now())

	progress := int(today.Sub(start).Hours()/24) + 1
	if progress < 0 {
		progress = 0
	}
	if progress > cfg.DaysToInclude {
		progress = cfg.DaysToInclude
	}
	if progress != cfg.ProgressDays {
		if err := db.SetConfigProgress(m.DB, cfg.ID, progress); err != nil {
			return fmt.Errorf("set progress: %w", err)
		}
	}

	if today.After(end) {
		if err := db.MarkConfigReady(m.DB, cfg.ID); err != nil {
			return fmt.Errorf("mark ready: %w", err)
		}
		slog.Info("collection window closed", "config", cfg.Name,
			"days", cfg.DaysToInclude)
	}
	return nil
}

// Generate encodes the multi-day timelapse for one config. At most one
// generation per config runs at a time.
func (m *Machine) Generate(ctx context.Context, id string) (*model.VideoJob, error) {
	if !m.tryLock(id) {
		return nil, ErrBusy
	}
	defer m.unlock(id)

	cfg, err := db.GetConfig(m.DB, id)
	if err != nil {
		return nil, fmt.Errorf("get config: %w", err)
	}
	if cfg == nil {
		return nil, ErrNotFound
	}

	camera, err := db.GetCamera(m.DB, cfg.CameraID)
	if err != nil {
		return nil, fmt.Errorf("get camera: %w", err)
	}
	if camera == nil {
		return nil, fmt.Errorf("config %s references missing camera", cfg.ID)
	}

	start, end, err := m.window(cfg)
	if err != nil {
		return nil, err
	}

	job, err := m.claimJob(cfg, start, end)
	if err != nil {
		return nil, err
	}

	frames, err := db.ListFramesBetween(m.DB, cfg.CameraID, start, end.AddDate(0, 0, 1))
	if err != nil {
		db.FailJob(m.DB, job.ID, "list frames: "+err.Error())
		return nil, fmt.Errorf("list frames: %w", err)
	}
	selected := selector.Select(frames, cfg.FramesPerHour)
	if len(selected) == 0 {
		db.FailJob(m.DB, job.ID, "no frames found for window")
		return nil, ErrNoFrames
	}

	ids := make([]string, len(selected))
	paths := make([]string, len(selected))
	for i, f := range selected {
		ids[i] = f.ID
		paths[i] = m.Store.Abs(f.FilePath)
	}

	// Historical runs protect their selection before encoding so a cleanup
	// pass racing the encode cannot pull frames out from under it.
	// Prospective frames are already protected by the collection itself.
	if cfg.Mode == model.ModeHistorical {
		if err := db.ProtectFrameIDs(m.DB, ids, model.ProtectionMultiday, cfg.ID); err != nil {
			db.FailJob(m.DB, job.ID, "protect selection: "+err.Error())
			return nil, fmt.Errorf("protect selection: %w", err)
		}
	}
	if err := db.MarkFramesConsumed(m.DB, ids, job.ID); err != nil {
		db.FailJob(m.DB, job.ID, "mark frames consumed: "+err.Error())
		return nil, fmt.Errorf("mark frames consumed: %w", err)
	}

	outRel := m.Store.SummaryVideoRel(camera.Name, start, end)
	slog.Info("encoding multiday timelapse", "config", cfg.Name,
		"frames", len(selected), "output", outRel)

	result, err := m.Encoder.Encode(ctx, encoder.Params{
		FramePaths:  paths,
		OutputPath:  m.Store.Abs(outRel),
		FrameRate:   cfg.FrameRate,
		CRF:         cfg.CRF,
		PixelFormat: cfg.PixelFormat,
	})
	if err != nil {
		db.FailJob(m.DB, job.ID, err.Error())
		if cfg.Mode == model.ModeProspective {
			db.MarkConfigFailed(m.DB, cfg.ID)
		}
		return nil, fmt.Errorf("encode: %w", err)
	}

	if err := db.CompleteJob(m.DB, job.ID, outRel,
		result.FileSize, result.FrameCount, result.DurationSeconds); err != nil {
		return nil, fmt.Errorf("complete job: %w", err)
	}
	encoder.Thumbnail(ctx, m.Store.Abs(outRel), 1.0, m.Store.Abs(m.Store.ThumbnailRel(outRel)))

	if cfg.Mode == model.ModeProspective {
		if err := db.MarkConfigCompleted(m.DB, cfg.ID); err != nil {
			slog.Error("mark config completed", "config", cfg.Name, "error", err)
		}
	} else {
		if err := db.SetLastGeneration(m.DB, cfg.ID); err != nil {
			slog.Error("stamp generation time", "config", cfg.Name, "error", err)
		}
	}

	m.Notifier.JobComplete(camera.Name, model.JobKindMultiday, outRel, result.FrameCount)
	return db.GetJob(m.DB, job.ID)
}

// GenerateDue runs the weekly pass: collecting windows are advanced first,
// then every config due today is generated. Historical configs are due on
// their configured weekday; prospective configs are due once ready, when
// auto-generation is on.
func (m *Machine) GenerateDue(ctx context.Context) {
	m.AdvanceAll()

	configs, err := db.ListEnabledConfigs(m.DB)
	if err != nil {
		slog.Error("collection: list configs", "error", err)
		return
	}

	weekday := strings.ToLower(m.Now().Weekday().String())
	for _, cfg := range configs {
		due := false
		switch cfg.Mode {
		case model.ModeHistorical:
			due = cfg.GenerationDay == weekday
		case model.ModeProspective:
			due = cfg.Status == model.ConfigStatusReady && cfg.AutoGenerate
		}
		if !due {
			continue
		}
		if _, err := m.Generate(ctx, cfg.ID); err != nil {
			if errors.Is(err, ErrNoFrames) || errors.Is(err, ErrConflict) || errors.Is(err, ErrBusy) {
				slog.Warn("multiday generation skipped", "config", cfg.Name, "reason", err)
			} else {
				slog.Error("multiday generation failed", "config", cfg.Name, "error", err)
			}
		}
	}
}

// window resolves the date range to encode. Historical configs look back
// from yesterday; prospective configs must have finished collecting.
func (m *Machine) window(cfg *model.CollectionConfig) (start, end time.Time, err error) {
	switch cfg.Mode {
	case model.ModeProspective:
		if cfg.Status != model.ConfigStatusReady {
			return start, end, ErrConflict
		}
		if cfg.CollectionStartDate == nil || cfg.CollectionEndDate == nil {
			return start, end, fmt.Errorf("ready config %s has no window", cfg.ID)
		}
		return *cfg.CollectionStartDate, *cfg.CollectionEndDate, nil
	default:
		end = dateOf(m.Now()).AddDate(0, 0, -1)
		start = end.AddDate(0, 0, -(cfg.DaysToInclude - 1))
		return start, end, nil
	}
}

// claimJob finds or creates the job for the window and claims it. A job
// that already completed is a conflict; a failed one is retried.
func (m *Machine) claimJob(cfg *model.CollectionConfig, start, end time.Time) (*model.VideoJob, error) {
	job, err := db.GetJobByWindow(m.DB, cfg.CameraID, model.JobKindMultiday, start, end)
	if err != nil {
		return nil, fmt.Errorf("find job: %w", err)
	}
	if job == nil {
		job = &model.VideoJob{
			ID:          uuid.New().String(),
			CameraID:    cfg.CameraID,
			Kind:        model.JobKindMultiday,
			DateStart:   start,
			DateEnd:     end,
			FrameRate:   cfg.FrameRate,
			CRF:         cfg.CRF,
			PixelFormat: cfg.PixelFormat,
		}
		if err := db.CreateJob(m.DB, job); err != nil {
			return nil, fmt.Errorf("create job: %w", err)
		}
	}

	switch job.Status {
	case model.JobStatusCompleted:
		return nil, ErrConflict
	case model.JobStatusFailed:
		if err := db.ResetJob(m.DB, job.ID); err != nil {
			return nil, fmt.Errorf("reset failed job: %w", err)
		}
	}

	started, err := db.StartJob(m.DB, job.ID)
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	if !started {
		return nil, ErrBusy
	}
	return job, nil
}

func (m *Machine) tryLock(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busy[id] {
		return false
	}
	m.busy[id] = true
	return true
}

func (m *Machine) unlock(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.busy, id)
}

func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
