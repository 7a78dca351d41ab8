// Package capture pulls snapshot images from cameras on their configured
// intervals. Fetches run concurrently but bounded, and one camera's failure
// never affects another's capture.
package capture

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/camlapse/camlapse/internal/db"
	"github.com/camlapse/camlapse/internal/model"
	"github.com/camlapse/camlapse/internal/notify"
	"github.com/camlapse/camlapse/internal/quality"
	"github.com/camlapse/camlapse/internal/storage"
)

// maxSnapshotBytes caps a single snapshot read. Cameras serve stills of a
// few MB; anything larger is a misbehaving endpoint.
const maxSnapshotBytes = 32 << 20

type Controller struct {
	DB             *sql.DB
	Store          *storage.Store
	Notifier       *notify.Notifier
	MaxConcurrent  int
	Timeout        time.Duration
	BlankThreshold float64
	Location       *time.Location

	client *http.Client
	now    func() time.Time
}

func New(database *sql.DB, store *storage.Store, notifier *notify.Notifier,
	maxConcurrent int, timeout time.Duration, blankThreshold float64,
	loc *time.Location) *Controller {
	return &Controller{
		DB:             database,
		Store:          store,
		Notifier:       notifier,
		MaxConcurrent:  maxConcurrent,
		Timeout:        timeout,
		BlankThreshold: blankThreshold,
		Location:       loc,
		client:         &http.Client{Timeout: timeout},
		now:            time.Now,
	}
}

// Outcome is the per-camera result of one capture pass.
type Outcome struct {
	Camera  model.Camera
	Success bool
	Frame   *model.Frame
	Err     error
}

// LocalNow returns the current camera-local wall-clock time as a naive
// value: clock fields in the configured location, carried in UTC so stored
// timestamps compare without zone arithmetic.
func (c *Controller) LocalNow() time.Time {
	return naive(c.now(), c.Location)
}

func naive(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(),
		lt.Hour(), lt.Minute(), lt.Second(), 0, time.UTC)
}

// DueCameras filters cameras to those that should capture now: active, not
// in a blackout window, and at least capture_interval since the last attempt.
func DueCameras(cameras []model.Camera, now time.Time) []model.Camera {
	var due []model.Camera
	for _, cam := range cameras {
		if !cam.Active {
			continue
		}
		if cam.InBlackout(now) {
			continue
		}
		if cam.LastCaptureAt != nil {
			elapsed := now.Sub(*cam.LastCaptureAt)
			if elapsed < time.Duration(cam.CaptureInterval)*time.Second {
				continue
			}
		}
		due = append(due, cam)
	}
	return due
}

// CaptureAll runs one capture pass over every due camera, at most
// MaxConcurrent fetches in flight. It returns an outcome per attempted
// camera; the error covers only the camera listing itself.
func (c *Controller) CaptureAll(ctx context.Context) ([]Outcome, error) {
	cameras, err := db.ListActiveCameras(c.DB)
	if err != nil {
		return nil, fmt.Errorf("list cameras: %w", err)
	}

	now := c.LocalNow()
	due := DueCameras(cameras, now)
	if len(due) == 0 {
		return nil, nil
	}

	outcomes := make([]Outcome, len(due))
	sem := make(chan struct{}, c.MaxConcurrent)
	var wg sync.WaitGroup

	for i, cam := range due {
		wg.Add(1)
		go func(i int, cam model.Camera) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			outcomes[i] = c.captureOne(ctx, cam)
		}(i, cam)
	}
	wg.Wait()

	var failed int
	for _, o := range outcomes {
		if !o.Success {
			failed++
		}
	}
	slog.Info("capture pass complete",
		"attempted", len(outcomes), "failed", failed)

	return outcomes, nil
}

// CaptureCamera captures one camera immediately, ignoring interval and
// blackout gating. Used by the manual trigger.
func (c *Controller) CaptureCamera(ctx context.Context, cameraID string) (*Outcome, error) {
	cam, err := db.GetCamera(c.DB, cameraID)
	if err != nil {
		return nil, fmt.Errorf("get camera: %w", err)
	}
	if cam == nil {
		return nil, nil
	}
	o := c.captureOne(ctx, *cam)
	return &o, nil
}

func (c *Controller) captureOne(ctx context.Context, cam model.Camera) Outcome {
	capturedAt := c.LocalNow()

	data, err := c.fetch(ctx, cam.SnapshotURL())
	if err != nil {
		return c.recordFailure(cam, capturedAt, err)
	}

	rel := c.Store.FrameRel(cam.Name, capturedAt)
	if err := c.Store.SaveImage(rel, data); err != nil {
		return c.recordFailure(cam, capturedAt, err)
	}

	frame := &model.Frame{
		ID:         uuid.New().String(),
		CameraID:   cam.ID,
		CapturedAt: capturedAt,
		FilePath:   rel,
		FileSize:   int64(len(data)),
	}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		w, h := int64(cfg.Width), int64(cfg.Height)
		frame.Width = &w
		frame.Height = &h
	}

	if err := db.InsertFrame(c.DB, frame); err != nil {
		// a frame without a record is invisible to selection and retention
		if _, derr := c.Store.DeleteFile(rel); derr != nil {
			slog.Warn("remove unrecorded frame", "path", rel, "error", derr)
		}
		return c.recordFailure(cam, capturedAt, fmt.Errorf("insert frame: %w", err))
	}
	if err := db.MarkCaptureSuccess(c.DB, cam.ID, capturedAt); err != nil {
		slog.Error("mark capture success", "camera", cam.Name, "error", err)
	}

	if sig, err := quality.Measure(data); err == nil && sig.Blank(c.BlankThreshold) {
		slog.Warn("captured frame looks blank",
			"camera", cam.Name, "mean_luma", sig.MeanLuma, "stddev", sig.StdDev)
	}

	slog.Debug("frame captured", "camera", cam.Name, "path", rel, "bytes", len(data))
	return Outcome{Camera: cam, Success: true, Frame: frame}
}

func (c *Controller) recordFailure(cam model.Camera, at time.Time, err error) Outcome {
	slog.Warn("capture failed", "camera", cam.Name, "error", err)

	count, derr := db.MarkCaptureFailure(c.DB, cam.ID, at)
	if derr != nil {
		slog.Error("mark capture failure", "camera", cam.Name, "error", derr)
	} else {
		c.Notifier.CaptureFailure(cam.ID, cam.Name, count, err)
	}
	return Outcome{Camera: cam, Success: false, Err: err}
}

func (c *Controller) fetch(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("snapshot returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBytes))
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("snapshot was empty")
	}
	return data, nil
}
