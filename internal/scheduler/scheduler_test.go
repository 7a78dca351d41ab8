package scheduler

import (
	"sync"
	"testing"
	"time"
)

func TestNextDaily(t *testing.T) {
	s := &Scheduler{}
	next := s.nextDaily("03:00")

	now := time.Date(2026, 8, 25, 1, 0, 0, 0, time.UTC)
	got := next(now)
	want := time.Date(2026, 8, 25, 3, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("next from 01:00 = %v, want %v", got, want)
	}

	now = time.Date(2026, 8, 25, 3, 0, 0, 0, time.UTC)
	got = next(now)
	want = time.Date(2026, 8, 26, 3, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("next from exactly 03:00 = %v, want tomorrow %v", got, want)
	}

	now = time.Date(2026, 8, 25, 12, 30, 0, 0, time.UTC)
	got = next(now)
	if !got.Equal(want) {
		t.Errorf("next from 12:30 = %v, want %v", got, want)
	}
}

func TestNextWeekly(t *testing.T) {
	s := &Scheduler{}
	next := s.nextWeekly(time.Sunday, "02:00")

	// 2026-08-25 is a Tuesday
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	got := next(now)
	want := time.Date(2026, 8, 30, 2, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("next sunday from tuesday = %v, want %v", got, want)
	}
	if got.Weekday() != time.Sunday {
		t.Errorf("fires on %v", got.Weekday())
	}

	// already past the slot on the right weekday: wait a full week
	now = time.Date(2026, 8, 30, 2, 0, 0, 0, time.UTC)
	got = next(now)
	want = time.Date(2026, 9, 6, 2, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("next sunday from sunday 02:00 = %v, want %v", got, want)
	}
}

func TestParseWeekday(t *testing.T) {
	tests := map[string]time.Weekday{
		"monday":    time.Monday,
		"Friday":    time.Friday,
		"sunday":    time.Sunday,
		"notaday":   time.Sunday,
		"WEDNESDAY": time.Wednesday,
	}
	for name, want := range tests {
		if got := ParseWeekday(name); got != want {
			t.Errorf("ParseWeekday(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestRunGuardedSkipsOverlap(t *testing.T) {
	s := &Scheduler{inflight: make(map[string]bool)}

	started := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.runGuarded("job", func() {
			close(started)
			<-release
		})
	}()
	<-started

	ran := false
	s.runGuarded("job", func() { ran = true })
	if ran {
		t.Error("second run executed while the first was in flight")
	}

	close(release)
	wg.Wait()

	s.runGuarded("job", func() { ran = true })
	if !ran {
		t.Error("run after completion was skipped")
	}
}

func TestHeartbeat(t *testing.T) {
	s := &Scheduler{}
	if !s.Heartbeat().IsZero() {
		t.Error("heartbeat set before any beat")
	}
	s.beat()
	if time.Since(s.Heartbeat()) > time.Second {
		t.Error("heartbeat not fresh after beat")
	}
}
