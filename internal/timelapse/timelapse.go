// Package timelapse builds the per-camera daily videos and resumes work a
// previous run left pending.
package timelapse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/camlapse/camlapse/internal/cleanup"
	"github.com/camlapse/camlapse/internal/db"
	"github.com/camlapse/camlapse/internal/encoder"
	"github.com/camlapse/camlapse/internal/model"
	"github.com/camlapse/camlapse/internal/notify"
	"github.com/camlapse/camlapse/internal/storage"
)

// ErrNoFrames means the camera captured nothing on the requested date.
var ErrNoFrames = errors.New("timelapse: no frames for date")

type Generator struct {
	DB       *sql.DB
	Store    *storage.Store
	Encoder  *encoder.Encoder
	Notifier *notify.Notifier
	Sweeper  *cleanup.Sweeper
	Now      func() time.Time // naive camera-local clock

	FrameRate    int
	CRF          int
	PixelFormat  string
	CleanupAfter bool
}

// RunDaily encodes yesterday's video for every active camera that has
// timelapse enabled. Failures are per-camera.
func (g *Generator) RunDaily(ctx context.Context) {
	cameras, err := db.ListActiveCameras(g.DB)
	if err != nil {
		slog.Error("timelapse: list cameras", "error", err)
		return
	}

	date := dateOf(g.Now()).AddDate(0, 0, -1)
	for _, cam := range cameras {
		if !cam.TimelapseEnabled {
			continue
		}
		if _, err := g.GenerateFor(ctx, cam.ID, date); err != nil {
			if errors.Is(err, ErrNoFrames) {
				slog.Warn("no frames for daily timelapse",
					"camera", cam.Name, "date", db.FormatDate(date))
			} else {
				slog.Error("daily timelapse failed",
					"camera", cam.Name, "date", db.FormatDate(date), "error", err)
			}
		}
	}
}

// GenerateFor encodes one camera's daily video for the given date, using
// every frame captured that day in capture order.
func (g *Generator) GenerateFor(ctx context.Context, cameraID string, date time.Time) (*model.VideoJob, error) {
	camera, err := db.GetCamera(g.DB, cameraID)
	if err != nil {
		return nil, fmt.Errorf("get camera: %w", err)
	}
	if camera == nil {
		return nil, fmt.Errorf("camera %s not found", cameraID)
	}

	date = dateOf(date)
	job, err := db.GetJobByWindow(g.DB, camera.ID, model.JobKindDaily, date, date)
	if err != nil {
		return nil, fmt.Errorf("find job: %w", err)
	}
	if job == nil {
		job = &model.VideoJob{
			ID:          uuid.New().String(),
			CameraID:    camera.ID,
			Kind:        model.JobKindDaily,
			DateStart:   date,
			DateEnd:     date,
			FrameRate:   g.FrameRate,
			CRF:         g.CRF,
			PixelFormat: g.PixelFormat,
		}
		if err := db.CreateJob(g.DB, job); err != nil {
			return nil, fmt.Errorf("create job: %w", err)
		}
	}

	switch job.Status {
	case model.JobStatusCompleted:
		slog.Debug("daily timelapse already encoded",
			"camera", camera.Name, "date", db.FormatDate(date))
		return job, nil
	case model.JobStatusFailed:
		if err := db.ResetJob(g.DB, job.ID); err != nil {
			return nil, fmt.Errorf("reset failed job: %w", err)
		}
	}

	started, err := db.StartJob(g.DB, job.ID)
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	if !started {
		return nil, fmt.Errorf("job %s already claimed", job.ID)
	}

	return g.runClaimed(ctx, camera, job)
}

func (g *Generator) runClaimed(ctx context.Context, camera *model.Camera, job *model.VideoJob) (*model.VideoJob, error) {
	date := job.DateStart
	frames, err := db.ListFramesBetween(g.DB, camera.ID, date, date.AddDate(0, 0, 1))
	if err != nil {
		db.FailJob(g.DB, job.ID, "list frames: "+err.Error())
		return nil, fmt.Errorf("list frames: %w", err)
	}
	if len(frames) == 0 {
		db.FailJob(g.DB, job.ID, "no frames found for date")
		return nil, ErrNoFrames
	}

	ids := make([]string, len(frames))
	paths := make([]string, len(frames))
	for i, f := range frames {
		ids[i] = f.ID
		paths[i] = g.Store.Abs(f.FilePath)
	}
	if err := db.MarkFramesConsumed(g.DB, ids, job.ID); err != nil {
		db.FailJob(g.DB, job.ID, "mark frames consumed: "+err.Error())
		return nil, fmt.Errorf("mark frames consumed: %w", err)
	}

	outRel := g.Store.DailyVideoRel(camera.Name, date)
	slog.Info("encoding daily timelapse", "camera", camera.Name,
		"date", db.FormatDate(date), "frames", len(frames))

	result, err := g.Encoder.Encode(ctx, encoder.Params{
		FramePaths:  paths,
		OutputPath:  g.Store.Abs(outRel),
		FrameRate:   job.FrameRate,
		CRF:         job.CRF,
		PixelFormat: job.PixelFormat,
	})
	if err != nil {
		db.FailJob(g.DB, job.ID, err.Error())
		return nil, fmt.Errorf("encode: %w", err)
	}

	if err := db.CompleteJob(g.DB, job.ID, outRel,
		result.FileSize, result.FrameCount, result.DurationSeconds); err != nil {
		return nil, fmt.Errorf("complete job: %w", err)
	}
	encoder.Thumbnail(ctx, g.Store.Abs(outRel), 1.0, g.Store.Abs(g.Store.ThumbnailRel(outRel)))

	g.Notifier.JobComplete(camera.Name, model.JobKindDaily, outRel, result.FrameCount)

	if g.CleanupAfter && g.Sweeper != nil {
		if _, err := g.Sweeper.AfterJobCompletion(job.ID, camera.ID); err != nil {
			slog.Error("post-job cleanup", "job", job.ID, "error", err)
		}
	}

	return db.GetJob(g.DB, job.ID)
}

// ProcessPending re-runs daily jobs left pending by an earlier run, for
// example after a crash restored them from processing. Multiday jobs are
// left for their own schedule.
func (g *Generator) ProcessPending(ctx context.Context) {
	jobs, err := db.ListPendingJobs(g.DB)
	if err != nil {
		slog.Error("timelapse: list pending jobs", "error", err)
		return
	}
	for _, job := range jobs {
		if job.Kind != model.JobKindDaily {
			continue
		}
		slog.Info("resuming pending daily job",
			"job", job.ID, "date", db.FormatDate(job.DateStart))
		if _, err := g.GenerateFor(ctx, job.CameraID, job.DateStart); err != nil {
			slog.Error("resume daily job", "job", job.ID, "error", err)
		}
	}
}

func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
