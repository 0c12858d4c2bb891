package traffic

import (
	"sync"
	"time"
)

// Outcome classifies a recorded weather lookup.
type Outcome uint8

const (
	Success Outcome = iota
	Failure
	Denied
)

// retention bounds how far back any window may look.
const retention = 10 * time.Minute

var defaultTracker Tracker

// RecordSuccess records a weather lookup that produced a reading.
func RecordSuccess() { defaultTracker.Record(Success) }

// RecordError records a weather lookup that failed (upstream, decode, location).
func RecordError() { defaultTracker.Record(Failure) }

// RecordDenied records a rate-limit denial (429).
func RecordDenied() { defaultTracker.Record(Denied) }

// RequestCount returns the number of outcomes of any kind within the window.
func RequestCount(window time.Duration) int {
	s, f, d := defaultTracker.Counts(window)
	return s + f + d
}

// DenialCount returns the number of denials within the window.
func DenialCount(window time.Duration) int {
	_, _, d := defaultTracker.Counts(window)
	return d
}

// ErrorRate returns (errorCount, totalCount) within the window; denials are excluded.
func ErrorRate(window time.Duration) (errors, total int) {
	s, f, _ := defaultTracker.Counts(window)
	return f, s + f
}

// Reset clears all recorded outcomes. For tests only.
func Reset() { defaultTracker.Reset() }

type event struct {
	at      time.Time
	outcome Outcome
}

// Tracker keeps a time-ordered log of outcomes for sliding-window health decisions.
type Tracker struct {
	mu     sync.Mutex
	events []event
	now    func() time.Time
}

func (t *Tracker) clock() time.Time {
	if t.now != nil {
		return t.now()
	}
	return time.Now()
}

// Record appends an outcome stamped with the current time.
func (t *Tracker) Record(o Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock()
	t.events = append(t.events, event{at: now, outcome: o})
	t.pruneLocked(now)
}

// Counts returns (successes, failures, denials) recorded within the window ending now.
func (t *Tracker) Counts(window time.Duration) (successes, failures, denials int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock()
	t.pruneLocked(now)
	cutoff := now.Add(-window)
	for i := len(t.events) - 1; i >= 0; i-- {
		e := t.events[i]
		if e.at.Before(cutoff) {
			break
		}
		switch e.outcome {
		case Success:
			successes++
		case Failure:
			failures++
		case Denied:
			denials++
		}
	}
	return successes, failures, denials
}

// Reset clears all recorded outcomes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = nil
}

// pruneLocked drops events older than retention. Must be called with mu held.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-retention)
	i := 0
	for ; i < len(t.events) && t.events[i].at.Before(cutoff); i++ {
	}
	if i > 0 {
		t.events = append(t.events[:0], t.events[i:]...)
	}
}
