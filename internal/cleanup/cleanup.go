// Package cleanup enforces frame and video retention. Protected frames are
// never deleted, whatever their age.
package cleanup

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/camlapse/camlapse/internal/db"
	"github.com/camlapse/camlapse/internal/diskstat"
	"github.com/camlapse/camlapse/internal/model"
	"github.com/camlapse/camlapse/internal/notify"
	"github.com/camlapse/camlapse/internal/storage"
)

type Sweeper struct {
	DB                  *sql.DB
	Store               *storage.Store
	Disk                *diskstat.Cache
	Notifier            *notify.Notifier
	RetentionDaysImages int
	RetentionDaysVideos int
	StorageWarnPercent  float64

	now func() time.Time
}

func New(database *sql.DB, store *storage.Store, disk *diskstat.Cache,
	notifier *notify.Notifier, retentionImages, retentionVideos int,
	warnPercent float64) *Sweeper {
	return &Sweeper{
		DB:                  database,
		Store:               store,
		Disk:                disk,
		Notifier:            notifier,
		RetentionDaysImages: retentionImages,
		RetentionDaysVideos: retentionVideos,
		StorageWarnPercent:  warnPercent,
		now:                 time.Now,
	}
}

// Run is the nightly pass: both retention sweeps plus a storage pressure
// check.
func (s *Sweeper) Run() {
	if _, err := s.SweepImages(""); err != nil {
		slog.Error("cleanup: image sweep", "error", err)
	}
	if _, err := s.SweepVideos(""); err != nil {
		slog.Error("cleanup: video sweep", "error", err)
	}
	s.checkStorage()
}

// SweepImages deletes unprotected frames older than the image retention
// window, for one camera or, with an empty cameraID, for all. A frame already
// missing from disk still has its record removed, but only an actual unlink
// counts toward files_deleted and bytes_freed.
func (s *Sweeper) SweepImages(cameraID string) (*model.CleanupReport, error) {
	cutoff := s.now().AddDate(0, 0, -s.RetentionDaysImages)

	frames, err := db.ListExpiredUnprotectedFrames(s.DB, cutoff, cameraID)
	if err != nil {
		return nil, fmt.Errorf("list expired frames: %w", err)
	}

	report := &model.CleanupReport{
		ID:         uuid.New().String(),
		Scope:      model.CleanupScopeImages,
		CameraID:   cameraID,
		ExecutedAt: s.now(),
	}

	for _, f := range frames {
		freed, err := s.Store.DeleteFile(f.FilePath)
		if err != nil {
			slog.Warn("cleanup: unlink frame", "path", f.FilePath, "error", err)
			continue
		}
		if err := db.DeleteFrame(s.DB, f.ID); err != nil {
			slog.Error("cleanup: delete frame record", "id", f.ID, "error", err)
			continue
		}
		if freed {
			report.FilesDeleted++
			report.BytesFreed += f.FileSize
		}
	}

	if skipped, err := db.CountProtectedExpiredFrames(s.DB, cutoff, cameraID); err == nil {
		report.ProtectedSkipped = skipped
	}

	s.record(report)
	slog.Info("image sweep complete",
		"deleted", report.FilesDeleted, "bytes_freed", report.BytesFreed,
		"protected_skipped", report.ProtectedSkipped)
	return report, nil
}

// SweepVideos deletes completed video outputs whose covered window ended
// before the video retention cutoff, along with their job records. An empty
// cameraID sweeps all cameras.
func (s *Sweeper) SweepVideos(cameraID string) (*model.CleanupReport, error) {
	cutoff := s.now().AddDate(0, 0, -s.RetentionDaysVideos)

	jobs, err := db.ListExpiredCompletedJobs(s.DB, cutoff, cameraID)
	if err != nil {
		return nil, fmt.Errorf("list expired jobs: %w", err)
	}

	report := &model.CleanupReport{
		ID:         uuid.New().String(),
		Scope:      model.CleanupScopeVideos,
		CameraID:   cameraID,
		ExecutedAt: s.now(),
	}

	for _, j := range jobs {
		freed, err := s.Store.DeleteFile(j.FilePath)
		if err != nil {
			slog.Warn("cleanup: unlink video", "path", j.FilePath, "error", err)
			continue
		}
		if err := db.DeleteJob(s.DB, j.ID); err != nil {
			slog.Error("cleanup: delete job record", "id", j.ID, "error", err)
			continue
		}
		if freed {
			report.FilesDeleted++
			report.BytesFreed += j.FileSize
		}
	}

	s.record(report)
	slog.Info("video sweep complete",
		"deleted", report.FilesDeleted, "bytes_freed", report.BytesFreed)
	return report, nil
}

// AfterJobCompletion removes the source frames a finished job consumed,
// unless protection still holds them for a future collection.
func (s *Sweeper) AfterJobCompletion(jobID, cameraID string) (*model.CleanupReport, error) {
	frames, err := db.ListConsumedUnprotectedFrames(s.DB, jobID)
	if err != nil {
		return nil, fmt.Errorf("list consumed frames: %w", err)
	}

	report := &model.CleanupReport{
		ID:         uuid.New().String(),
		Scope:      model.CleanupScopeAfterJob,
		CameraID:   cameraID,
		ExecutedAt: s.now(),
	}

	for _, f := range frames {
		freed, err := s.Store.DeleteFile(f.FilePath)
		if err != nil {
			slog.Warn("cleanup: unlink consumed frame", "path", f.FilePath, "error", err)
			continue
		}
		if err := db.DeleteFrame(s.DB, f.ID); err != nil {
			slog.Error("cleanup: delete frame record", "id", f.ID, "error", err)
			continue
		}
		if freed {
			report.FilesDeleted++
			report.BytesFreed += f.FileSize
		}
	}

	if skipped, err := db.CountProtectedConsumed(s.DB, jobID); err == nil {
		report.ProtectedSkipped = skipped
	}

	s.record(report)
	slog.Info("post-job sweep complete", "job", jobID,
		"deleted", report.FilesDeleted, "protected_skipped", report.ProtectedSkipped)
	return report, nil
}

func (s *Sweeper) record(report *model.CleanupReport) {
	if err := db.InsertCleanupLog(s.DB, report); err != nil {
		slog.Error("cleanup: record log entry", "error", err)
	}
}

func (s *Sweeper) checkStorage() {
	if s.Disk == nil {
		return
	}
	s.Disk.Refresh()
	stats := s.Disk.Get()
	if stats.TotalBytes == 0 {
		return
	}
	if pct := stats.PctUsed(); pct >= s.StorageWarnPercent {
		slog.Warn("storage pressure", "pct_used", pct, "free_bytes", stats.FreeBytes)
		s.Notifier.StorageWarning(pct, int64(stats.FreeBytes))
	}
}
