package flow

import (
	"sync/atomic"
	"testing"
	"time"
)

// scheduled counts the timers that have neither fired nor been cancelled.
func scheduled(timer *SimpleTimer) int {
	timer.mu.Lock()
	defer timer.mu.Unlock()
	return len(timer.timers)
}

func TestSimpleTimerScheduleAfter(t *testing.T) {
	timer := NewSimpleTimer()
	defer timer.Stop()

	done := make(chan struct{})
	if _, err := timer.ScheduleAfter(10*time.Millisecond, func() { close(done) }); err != nil {
		t.Fatalf("ScheduleAfter failed: %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduled function did not run")
	}
	if scheduled(timer) != 0 {
		t.Error("fired timer still tracked")
	}
}

func TestSimpleTimerCancel(t *testing.T) {
	timer := NewSimpleTimer()
	defer timer.Stop()

	var fired atomic.Bool
	id, _ := timer.ScheduleAfter(20*time.Millisecond, func() { fired.Store(true) })
	if n := scheduled(timer); n != 1 {
		t.Fatalf("expected 1 scheduled timer, got %d", n)
	}
	if err := timer.Cancel(id); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if err := timer.Cancel("timer_unknown"); err != nil {
		t.Errorf("Cancel of unknown id should be a no-op, got %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if fired.Load() {
		t.Error("cancelled function ran")
	}
	if scheduled(timer) != 0 {
		t.Error("cancelled timer still tracked")
	}
}

func TestSimpleTimerStop(t *testing.T) {
	timer := NewSimpleTimer()
	var fired atomic.Int32
	for i := 0; i < 3; i++ {
		timer.ScheduleAfter(20*time.Millisecond, func() { fired.Add(1) })
	}
	timer.Stop()
	time.Sleep(50 * time.Millisecond)
	if fired.Load() != 0 {
		t.Errorf("expected no functions to run after Stop, got %d", fired.Load())
	}
}

func TestSimpleTimerRejectsNegativeDelay(t *testing.T) {
	timer := NewSimpleTimer()
	if _, err := timer.ScheduleAfter(-time.Second, func() {}); err == nil {
		t.Error("expected error for negative delay")
	}
}
