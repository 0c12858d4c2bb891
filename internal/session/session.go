// Package session ties one user's location feed, weather controller and
// manual-search mode together, the way a single open weather screen behaves.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-lookup-service/internal/controller"
	"github.com/kjstillabower/weather-lookup-service/internal/location"
	"github.com/kjstillabower/weather-lookup-service/internal/models"
	"github.com/kjstillabower/weather-lookup-service/internal/observability"
)

// PermissionMessage is published when a location lookup is attempted without permission.
const PermissionMessage = "Location permission not granted"

var ErrClosed = errors.New("session closed")

// Options are what the device declares when it opens a session.
type Options struct {
	PermissionGranted bool `json:"permission_granted"`
	ServiceEnabled    bool `json:"service_enabled"`
}

type Session struct {
	userID     string
	feed       *location.DeviceFeed
	provider   *location.Provider
	controller *controller.Controller
	logger     *zap.Logger
	tickTTL    time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	// startMu serialises subscription restarts so only one registration is live.
	startMu sync.Mutex

	mu         sync.Mutex
	manual     bool
	sub        *location.Subscription
	lastActive time.Time
	closed     bool
	closeOnce  sync.Once
	closeErr   error
}

func (s *Session) UserID() string { return s.userID }

// Controller exposes the session's observable weather state.
func (s *Session) Controller() *controller.Controller { return s.controller }

// ManualSearch reports whether location ticks are currently ignored.
func (s *Session) ManualSearch() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.manual
}

// LastActive is the time of the last operation on the session.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// Refresh is UseLocation under the name the pull-to-refresh gesture uses.
func (s *Session) Refresh(ctx context.Context) error {
	return s.UseLocation(ctx)
}

// UseLocation leaves manual-search mode, fetches weather for the last known fix if there is
// one and (re)starts continuous updates. Without permission it publishes PermissionMessage
// and returns location.ErrPermissionDenied.
func (s *Session) UseLocation(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.manual = false
	s.lastActive = time.Now()
	s.mu.Unlock()

	if !s.provider.HasPermission() {
		s.controller.PublishError(PermissionMessage)
		return location.ErrPermissionDenied
	}

	var (
		fetched  bool
		fetchErr error
	)
	if coords, ok := s.provider.LastKnownLocation(ctx); ok {
		fetched = true
		fetchErr = s.controller.RequestByLocation(ctx, coords.Latitude, coords.Longitude)
	}

	subErr := s.startUpdates()
	if fetched {
		return fetchErr
	}
	return subErr
}

// SearchCity fetches weather for name and ignores location ticks until UseLocation.
// An empty name behaves like UseLocation.
func (s *Session) SearchCity(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return s.UseLocation(ctx)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.manual = true
	s.lastActive = time.Now()
	s.mu.Unlock()

	return s.controller.RequestByCity(ctx, name)
}

// ReportLocation feeds a device fix into the session's location feed.
func (s *Session) ReportLocation(c models.Coordinates) {
	s.touch()
	s.feed.Report(c)
}

// SetPermission updates the device's permission. Revoking it stops continuous updates.
func (s *Session) SetPermission(granted bool) {
	s.feed.SetPermission(granted)
	if !granted {
		s.stopUpdates()
	}
	s.touch()
}

// SetServiceEnabled updates whether the device's location service is on.
func (s *Session) SetServiceEnabled(enabled bool) {
	s.feed.SetServiceEnabled(enabled)
	s.touch()
}

func (s *Session) startUpdates() error {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	old := s.sub
	s.sub = nil
	s.mu.Unlock()
	if old != nil {
		old.Cancel()
	}

	sub := s.provider.Updates(s.ctx)
	if err := sub.Err(); err != nil {
		s.logger.Debug("location updates unavailable", zap.Error(err))
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		sub.Cancel()
		return ErrClosed
	}
	prev := s.sub
	s.sub = sub
	s.mu.Unlock()
	if prev != nil {
		prev.Cancel()
	}

	go s.consume(sub)
	return nil
}

func (s *Session) stopUpdates() {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()
	if sub != nil {
		sub.Cancel()
	}
}

// consume turns location ticks into weather requests while manual search is off.
func (s *Session) consume(sub *location.Subscription) {
	for coords := range sub.C() {
		if s.ManualSearch() {
			continue
		}
		ctx, cancel := context.WithTimeout(s.ctx, s.tickTTL)
		err := s.controller.RequestByLocation(ctx, coords.Latitude, coords.Longitude)
		cancel()
		if err != nil && !errors.Is(err, controller.ErrSuperseded) && !errors.Is(err, controller.ErrClosed) {
			s.logger.Debug("location tick fetch failed", zap.Error(err))
		}
	}
}

// Close stops updates, cancels in-flight fetches and waits for pending history saves.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		sub := s.sub
		s.sub = nil
		s.mu.Unlock()

		s.cancel()
		if sub != nil {
			sub.Cancel()
		}
		s.closeErr = s.controller.Close(ctx)
		observability.SessionsActive.Dec()
		s.logger.Info("session closed")
	})
	return s.closeErr
}
