// Package notify sends best-effort alerts through an Apprise endpoint.
// Delivery failures are logged and swallowed: a dead notifier never blocks
// capture or encoding.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type Notifier struct {
	Enabled     bool
	AppriseURL  string
	MinFailures int

	client *http.Client

	// per-camera alert cooldown
	mu       sync.Mutex
	limiters map[string]*cameraLimiter
	cooldown time.Duration
}

type cameraLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func New(enabled bool, appriseURL string, minFailures int, cooldown time.Duration) *Notifier {
	return &Notifier{
		Enabled:     enabled,
		AppriseURL:  appriseURL,
		MinFailures: minFailures,
		client:      &http.Client{Timeout: 10 * time.Second},
		limiters:    make(map[string]*cameraLimiter),
		cooldown:    cooldown,
	}
}

type payload struct {
	URLs  string `json:"urls"`
	Title string `json:"title"`
	Body  string `json:"body"`
	Type  string `json:"type"`
}

// Send posts one notification. Errors are logged, never returned.
func (n *Notifier) Send(title, body, kind string) {
	if n == nil || !n.Enabled {
		return
	}

	data, err := json.Marshal(payload{Title: title, Body: body, Type: kind})
	if err != nil {
		slog.Error("notify marshal", "error", err)
		return
	}

	resp, err := n.client.Post(n.AppriseURL+"/notify", "application/json", bytes.NewReader(data))
	if err != nil {
		slog.Warn("notify post failed", "title", title, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		slog.Warn("notify rejected", "title", title, "status", resp.StatusCode)
		return
	}
	slog.Info("notification sent", "title", title)
}

// CaptureFailure alerts on a camera's repeated capture errors. Alerts fire
// only once the consecutive-failure count reaches MinFailures, and at most
// once per cooldown window per camera.
func (n *Notifier) CaptureFailure(cameraID, cameraName string, consecutive int, err error) {
	if n == nil || !n.Enabled || consecutive < n.MinFailures {
		return
	}
	if !n.allow(cameraID) {
		slog.Debug("capture alert suppressed by cooldown", "camera", cameraName)
		return
	}
	n.Send(
		fmt.Sprintf("Camera %s capture failing", cameraName),
		fmt.Sprintf("%d consecutive capture failures, last error: %v", consecutive, err),
		"failure",
	)
}

// JobComplete announces a finished timelapse.
func (n *Notifier) JobComplete(cameraName, kind, filePath string, frameCount int) {
	n.Send(
		fmt.Sprintf("Timelapse ready for %s", cameraName),
		fmt.Sprintf("%s timelapse encoded from %d frames: %s", kind, frameCount, filePath),
		"success",
	)
}

// StorageWarning alerts when the output volume is filling up.
func (n *Notifier) StorageWarning(pctUsed float64, freeBytes int64) {
	n.Send(
		"Storage running low",
		fmt.Sprintf("Output volume %.1f%% used, %d bytes free", pctUsed, freeBytes),
		"warning",
	)
}

func (n *Notifier) allow(cameraID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	cl, ok := n.limiters[cameraID]
	if !ok {
		cl = &cameraLimiter{limiter: rate.NewLimiter(rate.Every(n.cooldown), 1)}
		n.limiters[cameraID] = cl
	}
	cl.lastSeen = time.Now()

	// evict cameras not seen for several cooldown windows
	for id, other := range n.limiters {
		if time.Since(other.lastSeen) > 4*n.cooldown {
			delete(n.limiters, id)
		}
	}

	return cl.limiter.Allow()
}
