package collection

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	camlapse "github.com/camlapse/camlapse"
	"github.com/camlapse/camlapse/internal/db"
	"github.com/camlapse/camlapse/internal/encoder"
	"github.com/camlapse/camlapse/internal/model"
	"github.com/camlapse/camlapse/internal/notify"
	"github.com/camlapse/camlapse/internal/storage"
)

type fixture struct {
	machine  *Machine
	database *sql.DB
	store    *storage.Store
	camera   *model.Camera
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()

	database, err := db.Open(root)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.Migrate(database, camlapse.MigrationFS); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cam := &model.Camera{
		ID: uuid.New().String(), Name: "garden", Host: "192.168.1.10",
		CaptureInterval: 30, Active: true, TimelapseEnabled: true,
	}
	if err := db.CreateCamera(database, cam); err != nil {
		t.Fatalf("create camera: %v", err)
	}

	f := &fixture{
		database: database,
		store:    storage.New(root, "images", "videos"),
		camera:   cam,
		now:      time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
	}
	f.machine = New(database, f.store, &encoder.Encoder{Timeout: time.Minute},
		notify.New(false, "", 3, time.Minute),
		func() time.Time { return f.now })
	return f
}

func (f *fixture) addConfig(t *testing.T, mode string) *model.CollectionConfig {
	t.Helper()
	cfg := &model.CollectionConfig{
		ID: uuid.New().String(), CameraID: f.camera.ID, Name: "week-" + mode,
		Enabled: true, Mode: mode,
		FramesPerHour: 2, DaysToInclude: 7,
		GenerationDay: "sunday", GenerationTime: "02:00",
		FrameRate: 30, CRF: 20, PixelFormat: "yuv444p", AutoGenerate: true,
	}
	if err := db.CreateConfig(f.database, cfg); err != nil {
		t.Fatalf("create config: %v", err)
	}
	return cfg
}

func (f *fixture) addFrame(t *testing.T, at time.Time) *model.Frame {
	t.Helper()
	frame := &model.Frame{
		ID:         uuid.New().String(),
		CameraID:   f.camera.ID,
		CapturedAt: at,
		FilePath:   f.store.FrameRel(f.camera.Name, at),
		FileSize:   1000,
	}
	if err := db.InsertFrame(f.database, frame); err != nil {
		t.Fatalf("insert frame: %v", err)
	}
	return frame
}

func TestStartCollectionWindow(t *testing.T) {
	f := newFixture(t)
	cfg := f.addConfig(t, model.ModeProspective)

	got, err := f.machine.StartCollection(cfg.ID, 7)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if got.Status != model.ConfigStatusCollecting {
		t.Errorf("status = %s, want collecting", got.Status)
	}
	wantStart := time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)
	wantEnd := wantStart.AddDate(0, 0, 6)
	if !got.CollectionStartDate.Equal(wantStart) || !got.CollectionEndDate.Equal(wantEnd) {
		t.Errorf("window = %v..%v, want %v..%v",
			got.CollectionStartDate, got.CollectionEndDate, wantStart, wantEnd)
	}

	if _, err := f.machine.StartCollection(cfg.ID, 7); !errors.Is(err, ErrConflict) {
		t.Errorf("second start = %v, want ErrConflict", err)
	}
	after, _ := db.GetConfig(f.database, cfg.ID)
	if !after.CollectionStartDate.Equal(wantStart) {
		t.Error("rejected start changed the window")
	}
}

func TestStartCollectionNotFound(t *testing.T) {
	f := newFixture(t)
	if _, err := f.machine.StartCollection(uuid.New().String(), 7); !errors.Is(err, ErrNotFound) {
		t.Errorf("start of unknown config = %v, want ErrNotFound", err)
	}
}

func TestAdvanceProtectsAndCompletes(t *testing.T) {
	f := newFixture(t)
	cfg := f.addConfig(t, model.ModeProspective)
	if _, err := f.machine.StartCollection(cfg.ID, 7); err != nil {
		t.Fatalf("start: %v", err)
	}

	inWindow := f.addFrame(t, f.now.Add(-2*time.Hour))
	f.machine.AdvanceAll()

	got, _ := db.GetConfig(f.database, cfg.ID)
	if got.ProgressDays != 1 {
		t.Errorf("progress = %d, want 1 on day one", got.ProgressDays)
	}
	frames, _ := db.ListFramesBetween(f.database, f.camera.ID,
		f.now.AddDate(0, 0, -1), f.now.AddDate(0, 0, 1))
	if len(frames) != 1 || !frames[0].Protected ||
		frames[0].ProtectedByConfigID == nil || *frames[0].ProtectedByConfigID != cfg.ID {
		t.Errorf("frame not claimed: %+v", frames)
	}
	_ = inWindow

	// window over
	f.now = f.now.AddDate(0, 0, 7)
	f.machine.AdvanceAll()
	got, _ = db.GetConfig(f.database, cfg.ID)
	if got.Status != model.ConfigStatusReady {
		t.Errorf("status after window end = %s, want ready", got.Status)
	}
	if got.ProgressDays != 7 {
		t.Errorf("progress = %d, want capped at 7", got.ProgressDays)
	}
}

func TestCancelReleasesFramesKeepsJobs(t *testing.T) {
	f := newFixture(t)
	cfg := f.addConfig(t, model.ModeProspective)
	if _, err := f.machine.StartCollection(cfg.ID, 7); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.addFrame(t, f.now.Add(-time.Hour))
	f.machine.AdvanceAll()

	date := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	job := &model.VideoJob{
		ID: uuid.New().String(), CameraID: f.camera.ID, Kind: model.JobKindDaily,
		DateStart: date, DateEnd: date,
		FrameRate: 30, CRF: 20, PixelFormat: "yuv444p",
	}
	if err := db.CreateJob(f.database, job); err != nil {
		t.Fatalf("create job: %v", err)
	}
	db.StartJob(f.database, job.ID)
	db.CompleteJob(f.database, job.ID, "videos/garden/daily/20260820.mp4", 10, 5, 1)

	if err := f.machine.CancelCollection(cfg.ID, true); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	frames, _ := db.ListFramesBetween(f.database, f.camera.ID,
		f.now.AddDate(0, 0, -1), f.now.AddDate(0, 0, 1))
	for _, fr := range frames {
		if fr.Protected {
			t.Error("frame still protected after cancel with unprotect")
		}
	}
	gotJob, _ := db.GetJob(f.database, job.ID)
	if gotJob.Status != model.JobStatusCompleted {
		t.Errorf("video job touched by cancel: status = %s", gotJob.Status)
	}
	gotCfg, _ := db.GetConfig(f.database, cfg.ID)
	if gotCfg.Status != model.ConfigStatusIdle {
		t.Errorf("status after cancel = %s, want idle", gotCfg.Status)
	}

	if err := f.machine.CancelCollection(cfg.ID, true); !errors.Is(err, ErrConflict) {
		t.Errorf("second cancel = %v, want ErrConflict", err)
	}
}

func TestGenerateNoFramesFailsJob(t *testing.T) {
	f := newFixture(t)
	cfg := f.addConfig(t, model.ModeHistorical)

	_, err := f.machine.Generate(context.Background(), cfg.ID)
	if !errors.Is(err, ErrNoFrames) {
		t.Fatalf("generate without frames = %v, want ErrNoFrames", err)
	}

	end := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	start := end.AddDate(0, 0, -6)
	job, _ := db.GetJobByWindow(f.database, f.camera.ID, model.JobKindMultiday, start, end)
	if job == nil || job.Status != model.JobStatusFailed {
		t.Errorf("job = %+v, want failed", job)
	}

	// empty selection is a validation failure, not a config failure
	gotCfg, _ := db.GetConfig(f.database, cfg.ID)
	if gotCfg.Status == model.ConfigStatusFailed {
		t.Error("historical config marked failed on empty selection")
	}
}

func TestGenerateMissingFilesFailsJobKeepsProtection(t *testing.T) {
	f := newFixture(t)
	cfg := f.addConfig(t, model.ModeHistorical)

	// frames recorded in the database but never written to disk
	at := f.now.AddDate(0, 0, -2)
	f.addFrame(t, at)
	f.addFrame(t, at.Add(30*time.Minute))

	_, err := f.machine.Generate(context.Background(), cfg.ID)
	if !errors.Is(err, encoder.ErrNoInputFrames) {
		t.Fatalf("generate with files missing = %v, want ErrNoInputFrames", err)
	}

	end := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	start := end.AddDate(0, 0, -6)
	job, _ := db.GetJobByWindow(f.database, f.camera.ID, model.JobKindMultiday, start, end)
	if job == nil || job.Status != model.JobStatusFailed {
		t.Fatalf("job = %+v, want failed", job)
	}

	// the historical selection stays protected so a retry can still use it
	frames, _ := db.ListFramesBetween(f.database, f.camera.ID, start, end.AddDate(0, 0, 1))
	for _, fr := range frames {
		if !fr.Protected || fr.ProtectionReason != model.ProtectionMultiday {
			t.Errorf("selected frame lost protection: %+v", fr)
		}
		if fr.ConsumedByJobID == nil || *fr.ConsumedByJobID != job.ID {
			t.Errorf("frame not stamped with job: %+v", fr)
		}
	}
}

func TestGenerateFrameQueryErrorFailsJob(t *testing.T) {
	f := newFixture(t)
	cfg := f.addConfig(t, model.ModeHistorical)

	// break the frame listing while config and job claiming still work
	if _, err := f.database.Exec(`DROP TABLE frames`); err != nil {
		t.Fatalf("drop frames: %v", err)
	}

	_, err := f.machine.Generate(context.Background(), cfg.ID)
	if err == nil || errors.Is(err, ErrNoFrames) {
		t.Fatalf("generate with broken frame store = %v, want query error", err)
	}

	// the claimed job must not be stranded in processing
	end := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	start := end.AddDate(0, 0, -6)
	job, _ := db.GetJobByWindow(f.database, f.camera.ID, model.JobKindMultiday, start, end)
	if job == nil || job.Status != model.JobStatusFailed {
		t.Errorf("job = %+v, want failed", job)
	}
}

func TestGenerateProspectiveRequiresReady(t *testing.T) {
	f := newFixture(t)
	cfg := f.addConfig(t, model.ModeProspective)
	if _, err := f.machine.StartCollection(cfg.ID, 7); err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := f.machine.Generate(context.Background(), cfg.ID); !errors.Is(err, ErrConflict) {
		t.Errorf("generate while collecting = %v, want ErrConflict", err)
	}
}

func TestGenerateBusyGuard(t *testing.T) {
	f := newFixture(t)
	cfg := f.addConfig(t, model.ModeHistorical)

	if !f.machine.tryLock(cfg.ID) {
		t.Fatal("tryLock failed on free config")
	}
	if _, err := f.machine.Generate(context.Background(), cfg.ID); !errors.Is(err, ErrBusy) {
		t.Errorf("generate while locked = %v, want ErrBusy", err)
	}
	f.machine.unlock(cfg.ID)
}
