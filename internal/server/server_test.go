package server

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	camlapse "github.com/camlapse/camlapse"
	"github.com/camlapse/camlapse/internal/capture"
	"github.com/camlapse/camlapse/internal/cleanup"
	"github.com/camlapse/camlapse/internal/collection"
	"github.com/camlapse/camlapse/internal/db"
	"github.com/camlapse/camlapse/internal/diskstat"
	"github.com/camlapse/camlapse/internal/encoder"
	"github.com/camlapse/camlapse/internal/model"
	"github.com/camlapse/camlapse/internal/notify"
	"github.com/camlapse/camlapse/internal/scheduler"
	"github.com/camlapse/camlapse/internal/storage"
)

func testHandler(t *testing.T) (*Handler, *sql.DB) {
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

	store := storage.New(root, "images", "videos")
	notifier := notify.New(false, "", 3, time.Minute)
	enc := &encoder.Encoder{Timeout: time.Minute}
	controller := capture.New(database, store, notifier, 4, time.Second, 0.02, time.UTC)

	h := &Handler{
		DB:        database,
		Capture:   controller,
		Machine:   collection.New(database, store, enc, notifier, controller.LocalNow),
		Sweeper:   cleanup.New(database, store, nil, notifier, 7, 365, 85),
		Disk:      diskstat.New(root, "images", "videos", time.Minute),
		Scheduler: &scheduler.Scheduler{},
	}
	return h, database
}

func TestHealthStaleHeartbeat(t *testing.T) {
	h, _ := testHandler(t)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 with no heartbeat", resp.StatusCode)
	}
}

func TestListCameras(t *testing.T) {
	h, database := testHandler(t)
	cam := &model.Camera{
		ID: uuid.New().String(), Name: "garden", Host: "192.168.1.10",
		CaptureInterval: 30, Active: true, TimelapseEnabled: true,
	}
	if err := db.CreateCamera(database, cam); err != nil {
		t.Fatalf("create camera: %v", err)
	}

	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/cameras")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body struct {
		Cameras []model.Camera `json:"cameras"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Cameras) != 1 || body.Cameras[0].Name != "garden" {
		t.Errorf("cameras = %+v", body.Cameras)
	}
}

func TestStartCollectionErrors(t *testing.T) {
	h, database := testHandler(t)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	// unknown config
	resp, err := http.Post(srv.URL+"/api/configs/"+uuid.New().String()+"/start-collection",
		"application/json", strings.NewReader(`{"days":7}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown config status = %d, want 404", resp.StatusCode)
	}

	cam := &model.Camera{
		ID: uuid.New().String(), Name: "garden", Host: "192.168.1.10",
		CaptureInterval: 30, Active: true, TimelapseEnabled: true,
	}
	if err := db.CreateCamera(database, cam); err != nil {
		t.Fatalf("create camera: %v", err)
	}
	cfg := &model.CollectionConfig{
		ID: uuid.New().String(), CameraID: cam.ID, Name: "week",
		Enabled: true, Mode: model.ModeProspective,
		FramesPerHour: 2, DaysToInclude: 7,
		GenerationDay: "sunday", GenerationTime: "02:00",
		FrameRate: 30, CRF: 20, PixelFormat: "yuv444p", AutoGenerate: true,
	}
	if err := db.CreateConfig(database, cfg); err != nil {
		t.Fatalf("create config: %v", err)
	}

	resp, err = http.Post(srv.URL+"/api/configs/"+cfg.ID+"/start-collection",
		"application/json", strings.NewReader(`{"days":7}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("start status = %d, want 200", resp.StatusCode)
	}

	// starting again conflicts
	resp, err = http.Post(srv.URL+"/api/configs/"+cfg.ID+"/start-collection",
		"application/json", strings.NewReader(`{"days":7}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("double start status = %d, want 409", resp.StatusCode)
	}
}

func TestRunCleanupUnknownScope(t *testing.T) {
	h, _ := testHandler(t)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/cleanup/everything", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestRunCleanupCameraScope(t *testing.T) {
	h, database := testHandler(t)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	cam := &model.Camera{
		ID: uuid.New().String(), Name: "garden", Host: "192.168.1.10",
		CaptureInterval: 30, Active: true, TimelapseEnabled: true,
	}
	if err := db.CreateCamera(database, cam); err != nil {
		t.Fatalf("create camera: %v", err)
	}

	resp, err := http.Post(srv.URL+"/api/cleanup/images?camera_id="+cam.ID,
		"application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		Report model.CleanupReport `json:"report"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Report.CameraID != cam.ID {
		t.Errorf("report camera = %q, want %q", body.Report.CameraID, cam.ID)
	}
	if body.Report.Scope != model.CleanupScopeImages {
		t.Errorf("report scope = %q", body.Report.Scope)
	}
}

func TestCaptureUnknownCamera(t *testing.T) {
	h, _ := testHandler(t)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/cameras/"+uuid.New().String()+"/capture",
		"application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}
