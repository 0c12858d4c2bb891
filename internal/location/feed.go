package location

import (
	"context"
	"sync"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-lookup-service/internal/models"
	"github.com/kjstillabower/weather-lookup-service/internal/scheduler"
)

// DeviceFeed is a Platform backed by fixes that a device reports to the service.
// Pushed fixes reach listeners at most once per FastestInterval; the last fix is
// re-emitted every Interval so a stationary device still produces ticks.
type DeviceFeed struct {
	scheduler *scheduler.Scheduler
	logger    *zap.Logger

	mu         sync.Mutex
	permission bool
	enabled    bool
	last       models.Coordinates
	hasLast    bool
	nextID     Registration
	listeners  map[Registration]*listener
}

type listener struct {
	cb      func(models.Coordinates)
	limiter *rate.Limiter
	job     *gocron.Job
}

func NewDeviceFeed(sched *scheduler.Scheduler, logger *zap.Logger) *DeviceFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeviceFeed{
		scheduler: sched,
		logger:    logger,
		listeners: make(map[Registration]*listener),
	}
}

// SetPermission records whether the device granted location access.
func (f *DeviceFeed) SetPermission(granted bool) {
	f.mu.Lock()
	f.permission = granted
	f.mu.Unlock()
}

// SetServiceEnabled records whether the device has a location provider switched on.
func (f *DeviceFeed) SetServiceEnabled(enabled bool) {
	f.mu.Lock()
	f.enabled = enabled
	f.mu.Unlock()
}

// Report stores c as the last fix and forwards it to listeners whose throttle allows it.
// A device that reports is treated as having location services enabled.
func (f *DeviceFeed) Report(c models.Coordinates) {
	f.mu.Lock()
	f.last = c
	f.hasLast = true
	f.enabled = true
	targets := f.allowedLocked()
	f.mu.Unlock()

	for _, cb := range targets {
		cb(c)
	}
}

func (f *DeviceFeed) allowedLocked() []func(models.Coordinates) {
	var out []func(models.Coordinates)
	for _, l := range f.listeners {
		if l.limiter.Allow() {
			out = append(out, l.cb)
		}
	}
	return out
}

func (f *DeviceFeed) PermissionGranted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.permission
}

func (f *DeviceFeed) ServiceEnabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled
}

func (f *DeviceFeed) LastLocation(ctx context.Context) (models.Coordinates, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.Coordinates{}, false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last, f.hasLast, nil
}

func (f *DeviceFeed) RequestUpdates(req Request, cb func(models.Coordinates)) (Registration, error) {
	l := &listener{cb: cb, limiter: rate.NewLimiter(rate.Every(req.FastestInterval), 1)}

	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.listeners[id] = l
	f.mu.Unlock()

	job, err := f.scheduler.Every(req.Interval, func() { f.tick(id) })
	if err != nil {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
		return 0, err
	}

	f.mu.Lock()
	if _, ok := f.listeners[id]; ok {
		l.job = job
		job = nil
	}
	f.mu.Unlock()
	// Removed while scheduling.
	f.scheduler.Remove(job)

	f.logger.Debug("location updates registered",
		zap.Uint64("registration", uint64(id)),
		zap.Duration("interval", req.Interval),
		zap.Duration("fastestInterval", req.FastestInterval),
	)
	return id, nil
}

func (f *DeviceFeed) RemoveUpdates(reg Registration) {
	f.mu.Lock()
	l, ok := f.listeners[reg]
	delete(f.listeners, reg)
	f.mu.Unlock()
	if !ok {
		return
	}
	f.scheduler.Remove(l.job)
	f.logger.Debug("location updates removed", zap.Uint64("registration", uint64(reg)))
}

// Listeners reports the number of active registrations.
func (f *DeviceFeed) Listeners() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

func (f *DeviceFeed) tick(id Registration) {
	f.mu.Lock()
	l, ok := f.listeners[id]
	if !ok || !f.hasLast || !l.limiter.Allow() {
		f.mu.Unlock()
		return
	}
	c := f.last
	f.mu.Unlock()
	l.cb(c)
}
