// Package lifecycle records when the process started draining.
package lifecycle

import (
	"sync/atomic"
	"time"
)

// drainingSince is the drain start in unix nanoseconds, zero while serving.
var drainingSince atomic.Int64

// SetShuttingDown marks the process as draining, or serving again when v is false.
// Repeated calls with true keep the first drain time.
func SetShuttingDown(v bool) {
	if !v {
		drainingSince.Store(0)
		return
	}
	drainingSince.CompareAndSwap(0, time.Now().UnixNano())
}

// IsShuttingDown reports whether sessions and new requests should be turned away.
func IsShuttingDown() bool {
	return drainingSince.Load() != 0
}

// DrainingFor is how long the process has been draining, zero while serving.
func DrainingFor() time.Duration {
	since := drainingSince.Load()
	if since == 0 {
		return 0
	}
	return time.Since(time.Unix(0, since))
}
