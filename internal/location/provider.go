// Package location supplies last-known and continuous device coordinates.
package location

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-lookup-service/internal/models"
	"github.com/kjstillabower/weather-lookup-service/internal/observability"
)

var (
	ErrPermissionDenied   = errors.New("location permission not granted")
	ErrServiceUnavailable = errors.New("location services unavailable")
)

// Priority hints how precise fixes should be.
type Priority int

const (
	PriorityHighAccuracy Priority = iota
	PriorityBalanced
)

// Request describes the cadence of continuous updates.
type Request struct {
	Interval        time.Duration
	FastestInterval time.Duration
	Priority        Priority
}

// DefaultRequest asks for high-accuracy fixes every 10s, at most one per 5s.
func DefaultRequest() Request {
	return Request{
		Interval:        10 * time.Second,
		FastestInterval: 5 * time.Second,
		Priority:        PriorityHighAccuracy,
	}
}

// Registration identifies an active update registration on a Platform.
type Registration uint64

// Platform is the device location service a Provider sits on.
type Platform interface {
	PermissionGranted() bool
	ServiceEnabled() bool
	LastLocation(ctx context.Context) (models.Coordinates, bool, error)
	RequestUpdates(req Request, cb func(models.Coordinates)) (Registration, error)
	RemoveUpdates(reg Registration)
}

type Provider struct {
	platform Platform
	request  Request
	logger   *zap.Logger
}

func NewProvider(platform Platform, request Request, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{platform: platform, request: request, logger: logger}
}

func (p *Provider) HasPermission() bool {
	return p.platform.PermissionGranted()
}

// LastKnownLocation returns the cached fix. ok is false when there is none, permission is
// missing, or the platform lookup fails.
func (p *Provider) LastKnownLocation(ctx context.Context) (models.Coordinates, bool) {
	if !p.platform.PermissionGranted() {
		return models.Coordinates{}, false
	}
	coords, ok, err := p.platform.LastLocation(ctx)
	if err != nil {
		observability.LoggerFromContext(ctx, p.logger).Debug("last location lookup failed", zap.Error(err))
		return models.Coordinates{}, false
	}
	return coords, ok
}

// Updates starts continuous updates. Without permission or an enabled service the returned
// Subscription is already closed and Err reports why. The registration is removed when ctx
// is done or Cancel is called, whichever happens first.
func (p *Provider) Updates(ctx context.Context) *Subscription {
	sub := newSubscription()

	if !p.platform.PermissionGranted() {
		sub.fail(ErrPermissionDenied)
		return sub
	}
	if !p.platform.ServiceEnabled() {
		sub.fail(ErrServiceUnavailable)
		return sub
	}

	reg, err := p.platform.RequestUpdates(p.request, sub.deliver)
	if err != nil {
		sub.fail(err)
		return sub
	}
	observability.LocationSubscriptionsActive.Inc()
	sub.teardown = func() {
		p.platform.RemoveUpdates(reg)
		observability.LocationSubscriptionsActive.Dec()
	}

	go func() {
		select {
		case <-ctx.Done():
			sub.Cancel()
		case <-sub.done:
		}
	}()
	return sub
}

// Subscription is a cancellable stream of coordinates. It holds only the newest
// undelivered fix; older ones are dropped when the consumer falls behind.
type Subscription struct {
	ch   chan models.Coordinates
	done chan struct{}

	mu       sync.Mutex
	closed   bool
	err      error
	once     sync.Once
	teardown func()
}

func newSubscription() *Subscription {
	return &Subscription{
		ch:   make(chan models.Coordinates, 1),
		done: make(chan struct{}),
	}
}

// C returns the channel of fixes. It is closed after Cancel.
func (s *Subscription) C() <-chan models.Coordinates {
	return s.ch
}

// Done is closed once the subscription has been torn down.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err reports why the subscription failed to start, or nil.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Cancel closes the stream and removes the platform registration. Safe to call repeatedly.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()

		if s.teardown != nil {
			s.teardown()
		}
		close(s.done)
	})
}

func (s *Subscription) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.Cancel()
}

func (s *Subscription) deliver(c models.Coordinates) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	observability.LocationTicksTotal.Inc()
	select {
	case s.ch <- c:
		return
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- c:
	default:
	}
}
