// Package scheduler drives the five recurring cadences: capture, daily
// timelapse, weekly multiday generation, nightly cleanup, and the liveness
// heartbeat. Each cadence runs at most one instance at a time; a firing
// that lands while the previous run is still going is skipped.
package scheduler

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/camlapse/camlapse/internal/capture"
	"github.com/camlapse/camlapse/internal/cleanup"
	"github.com/camlapse/camlapse/internal/collection"
	"github.com/camlapse/camlapse/internal/timelapse"
)

const heartbeatEvery = 30 * time.Second

type Scheduler struct {
	Capture  *capture.Controller
	Daily    *timelapse.Generator
	Multiday *collection.Machine
	Sweeper  *cleanup.Sweeper
	Location *time.Location

	CaptureEvery time.Duration
	DailyAt      string // "HH:MM"
	MultidayDay  time.Weekday
	MultidayAt   string
	CleanupAt    string

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	inflight  map[string]bool
	heartbeat time.Time
}

func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.inflight = make(map[string]bool)

	s.beat()

	s.wg.Add(5)
	go s.captureLoop(ctx)
	go s.timeOfDayLoop(ctx, "daily_timelapse", s.nextDaily(s.DailyAt), func() {
		s.Daily.ProcessPending(ctx)
		s.Daily.RunDaily(ctx)
	})
	go s.timeOfDayLoop(ctx, "multiday_generation", s.nextWeekly(s.MultidayDay, s.MultidayAt), func() {
		s.Multiday.GenerateDue(ctx)
	})
	go s.timeOfDayLoop(ctx, "cleanup", s.nextDaily(s.CleanupAt), func() {
		// Collecting windows advance before retention so today's frames are
		// protected ahead of the sweep.
		s.Multiday.AdvanceAll()
		s.Sweeper.Run()
	})
	go s.heartbeatLoop(ctx)

	slog.Info("scheduler started",
		"capture_every", s.CaptureEvery,
		"daily_at", s.DailyAt,
		"multiday", s.MultidayDay.String()+" "+s.MultidayAt,
		"cleanup_at", s.CleanupAt)
}

func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
		s.wg.Wait()
	}
	slog.Info("scheduler stopped")
}

// Heartbeat returns the time of the most recent liveness beat.
func (s *Scheduler) Heartbeat() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heartbeat
}

func (s *Scheduler) captureLoop(ctx context.Context) {
	defer s.wg.Done()

	s.runGuarded("capture", s.capturePass(ctx))

	ticker := time.NewTicker(s.CaptureEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runGuarded("capture", s.capturePass(ctx))
		}
	}
}

func (s *Scheduler) timeOfDayLoop(ctx context.Context, name string, next func(time.Time) time.Time, fn func()) {
	defer s.wg.Done()

	for {
		fireAt := next(time.Now().In(s.Location))
		timer := time.NewTimer(time.Until(fireAt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.runGuarded(name, fn)
		}
	}
}

// capturePass runs one capture sweep and then claims any fresh frames for
// collecting configs, so protection lands well before retention looks.
func (s *Scheduler) capturePass(ctx context.Context) func() {
	return func() {
		if _, err := s.Capture.CaptureAll(ctx); err != nil {
			slog.Error("capture pass", "error", err)
		}
		s.Multiday.ProtectCollecting()
	}
}

func (s *Scheduler) heartbeatLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(heartbeatEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.beat()
		}
	}
}

func (s *Scheduler) beat() {
	s.mu.Lock()
	s.heartbeat = time.Now()
	s.mu.Unlock()
}

// runGuarded runs fn unless a previous run under the same name is still in
// flight, in which case the firing is dropped.
func (s *Scheduler) runGuarded(name string, fn func()) {
	s.mu.Lock()
	if s.inflight[name] {
		s.mu.Unlock()
		slog.Warn("previous run still in progress, skipping", "job", name)
		return
	}
	s.inflight[name] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.inflight, name)
		s.mu.Unlock()
	}()
	fn()
}

// nextDaily returns a function computing the next occurrence of the given
// local wall-clock time, strictly after now.
func (s *Scheduler) nextDaily(at string) func(time.Time) time.Time {
	hour, minute := parseClock(at)
	return func(now time.Time) time.Time {
		next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
		return next
	}
}

// nextWeekly returns a function computing the next occurrence of the given
// weekday and local wall-clock time, strictly after now.
func (s *Scheduler) nextWeekly(day time.Weekday, at string) func(time.Time) time.Time {
	hour, minute := parseClock(at)
	return func(now time.Time) time.Time {
		next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
		days := (int(day) - int(now.Weekday()) + 7) % 7
		next = next.AddDate(0, 0, days)
		if !next.After(now) {
			next = next.AddDate(0, 0, 7)
		}
		return next
	}
}

func parseClock(at string) (hour, minute int) {
	t, err := time.Parse("15:04", at)
	if err != nil {
		return 0, 0
	}
	return t.Hour(), t.Minute()
}

// ParseWeekday maps a lowercase day name to its weekday; unknown names fall
// back to Sunday.
func ParseWeekday(name string) time.Weekday {
	switch strings.ToLower(name) {
	case "monday":
		return time.Monday
	case "tuesday":
		return time.Tuesday
	case "wednesday":
		return time.Wednesday
	case "thursday":
		return time.Thursday
	case "friday":
		return time.Friday
	case "saturday":
		return time.Saturday
	default:
		return time.Sunday
	}
}
