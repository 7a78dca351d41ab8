package notify

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func countingApprise(t *testing.T, count *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p payload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("bad payload: %v", err)
		}
		atomic.AddInt32(count, 1)
	}))
}

func TestCaptureFailureThreshold(t *testing.T) {
	var posts int32
	srv := countingApprise(t, &posts)
	defer srv.Close()

	n := New(true, srv.URL, 3, time.Hour)
	err := errors.New("connection refused")

	n.CaptureFailure("cam-1", "garden", 1, err)
	n.CaptureFailure("cam-1", "garden", 2, err)
	if atomic.LoadInt32(&posts) != 0 {
		t.Fatalf("alert fired below threshold")
	}

	n.CaptureFailure("cam-1", "garden", 3, err)
	if atomic.LoadInt32(&posts) != 1 {
		t.Fatalf("posts = %d, want 1 at threshold", posts)
	}
}

func TestCaptureFailureCooldown(t *testing.T) {
	var posts int32
	srv := countingApprise(t, &posts)
	defer srv.Close()

	n := New(true, srv.URL, 1, time.Hour)
	err := errors.New("timeout")

	n.CaptureFailure("cam-1", "garden", 5, err)
	n.CaptureFailure("cam-1", "garden", 6, err)
	n.CaptureFailure("cam-1", "garden", 7, err)
	if got := atomic.LoadInt32(&posts); got != 1 {
		t.Errorf("posts = %d, want 1 inside cooldown window", got)
	}

	// a different camera has its own limiter
	n.CaptureFailure("cam-2", "rear", 5, err)
	if got := atomic.LoadInt32(&posts); got != 2 {
		t.Errorf("posts = %d, want 2 after second camera", got)
	}
}

func TestDisabledNotifierNeverPosts(t *testing.T) {
	var posts int32
	srv := countingApprise(t, &posts)
	defer srv.Close()

	n := New(false, srv.URL, 1, time.Minute)
	n.Send("title", "body", "info")
	n.CaptureFailure("cam-1", "garden", 99, errors.New("x"))
	n.StorageWarning(99, 1)
	if atomic.LoadInt32(&posts) != 0 {
		t.Error("disabled notifier posted")
	}
}

func TestSendSwallowsServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := New(true, srv.URL, 1, time.Minute)
	// must not panic or return anything
	n.Send("title", "body", "info")
	n.JobComplete("garden", "daily", "videos/garden/daily/20260824.mp4", 100)
}
