package scheduler

import (
	"sync/atomic"
	"testing"
	"time"
)

// TestScheduler_EveryAndRemove verifies a job fires repeatedly and stops after Remove.
func TestScheduler_EveryAndRemove(t *testing.T) {
	s := New()
	s.Start()
	defer s.Stop()

	var runs atomic.Int32
	job, err := s.Every(20*time.Millisecond, func() { runs.Add(1) })
	if err != nil {
		t.Fatalf("Every() error = %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", s.Len())
	}

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if runs.Load() < 2 {
		t.Fatalf("job ran %d times, want at least 2", runs.Load())
	}

	s.Remove(job)
	if s.Len() != 0 {
		t.Errorf("Len() after Remove = %d, want 0", s.Len())
	}
	time.Sleep(30 * time.Millisecond)
	after := runs.Load()
	time.Sleep(60 * time.Millisecond)
	if runs.Load() != after {
		t.Errorf("job kept running after Remove: %d -> %d", after, runs.Load())
	}
}

func TestScheduler_RejectsNonPositiveInterval(t *testing.T) {
	s := New()
	if _, err := s.Every(0, func() {}); err == nil {
		t.Fatal("Every(0) expected error")
	}
	s.Remove(nil)
}
