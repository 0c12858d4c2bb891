package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-lookup-service/internal/cache"
	"github.com/kjstillabower/weather-lookup-service/internal/client"
	"github.com/kjstillabower/weather-lookup-service/internal/controller"
	"github.com/kjstillabower/weather-lookup-service/internal/location"
	"github.com/kjstillabower/weather-lookup-service/internal/models"
	"github.com/kjstillabower/weather-lookup-service/internal/observability"
	"github.com/kjstillabower/weather-lookup-service/internal/scheduler"
)

var ErrNoSession = errors.New("no open session")

// Deps are shared by every session a Manager opens. Client and Scheduler are required;
// Archiver and Cache are optional.
type Deps struct {
	Client    client.WeatherClient
	Archiver  controller.Archiver
	Scheduler *scheduler.Scheduler
	Cache     cache.Cache
	CacheTTL  time.Duration
	Request   location.Request
	// IdleTTL closes sessions with no activity for this long. Zero disables the sweep.
	IdleTTL time.Duration
	// FetchTimeout bounds fetches triggered by location ticks.
	FetchTimeout time.Duration
	Logger       *zap.Logger
}

// Manager owns the open sessions, one per user id.
type Manager struct {
	deps   Deps
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	sweepJob *gocron.Job
	now      func() time.Time
}

func NewManager(deps Deps) (*Manager, error) {
	if deps.Client == nil || deps.Scheduler == nil {
		return nil, errors.New("session: client and scheduler are required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.FetchTimeout <= 0 {
		deps.FetchTimeout = 10 * time.Second
	}
	if deps.Request.Interval <= 0 {
		deps.Request = location.DefaultRequest()
	}
	m := &Manager{
		deps:     deps,
		logger:   deps.Logger,
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
	if deps.IdleTTL > 0 {
		job, err := deps.Scheduler.Every(sweepInterval(deps.IdleTTL), func() { m.Sweep(context.Background()) })
		if err != nil {
			return nil, fmt.Errorf("schedule idle sweep: %w", err)
		}
		m.sweepJob = job
	}
	return m, nil
}

func sweepInterval(ttl time.Duration) time.Duration {
	if d := ttl / 2; d >= time.Second {
		return d
	}
	return time.Second
}

// Open returns the user's session, creating it if needed, and applies opts to its feed.
func (m *Manager) Open(userID string, opts Options) *Session {
	s, created := m.GetOrOpen(userID, opts)
	if !created {
		s.feed.SetPermission(opts.PermissionGranted)
		s.feed.SetServiceEnabled(opts.ServiceEnabled)
	}
	return s
}

// GetOrOpen returns the user's session, creating it with opts when none is open. An existing
// session keeps its permission and service flags. created reports whether it was opened now.
func (m *Manager) GetOrOpen(userID string, opts Options) (s *Session, created bool) {
	m.mu.Lock()
	s, ok := m.sessions[userID]
	if !ok {
		s = m.newSession(userID)
		s.feed.SetPermission(opts.PermissionGranted)
		s.feed.SetServiceEnabled(opts.ServiceEnabled)
		m.sessions[userID] = s
		observability.SessionsActive.Inc()
	}
	m.mu.Unlock()

	s.touch()
	if !ok {
		s.logger.Info("session opened",
			zap.Bool("permissionGranted", opts.PermissionGranted),
			zap.Bool("serviceEnabled", opts.ServiceEnabled),
		)
	}
	return s, !ok
}

func (m *Manager) newSession(userID string) *Session {
	logger := m.logger.With(zap.String("userId", userID))
	feed := location.NewDeviceFeed(m.deps.Scheduler, logger)
	ctx, cancel := context.WithCancel(context.Background())
	ctx = observability.ContextWithLogger(ctx, logger)

	s := &Session{
		userID:     userID,
		feed:       feed,
		provider:   location.NewProvider(feed, m.deps.Request, logger),
		logger:     logger,
		tickTTL:    m.deps.FetchTimeout,
		ctx:        ctx,
		cancel:     cancel,
		lastActive: m.now(),
	}
	s.controller = controller.New(controller.Config{
		UserID:    userID,
		Client:    m.deps.Client,
		Archiver:  m.deps.Archiver,
		Logger:    logger,
		OnReading: m.mirror(logger),
	})
	return s
}

// mirror copies each published reading into the latest-reading cache, best effort.
func (m *Manager) mirror(logger *zap.Logger) func(models.WeatherReading) {
	if m.deps.Cache == nil {
		return nil
	}
	return func(r models.WeatherReading) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := m.deps.Cache.Set(ctx, r.UserID, r, m.deps.CacheTTL); err != nil {
			logger.Warn("failed to cache latest reading", zap.Error(err))
		}
	}
}

func (m *Manager) Get(userID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	return s, ok
}

// Close closes and forgets the user's session.
func (m *Manager) Close(ctx context.Context, userID string) error {
	m.mu.Lock()
	s, ok := m.sessions[userID]
	delete(m.sessions, userID)
	m.mu.Unlock()
	if !ok {
		return ErrNoSession
	}
	return s.Close(ctx)
}

// Len reports the number of open sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep closes sessions idle for longer than IdleTTL.
func (m *Manager) Sweep(ctx context.Context) int {
	if m.deps.IdleTTL <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.deps.IdleTTL)

	m.mu.Lock()
	var idle []*Session
	for id, s := range m.sessions {
		if s.LastActive().Before(cutoff) {
			idle = append(idle, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range idle {
		if err := s.Close(ctx); err != nil {
			s.logger.Warn("idle session close incomplete", zap.Error(err))
		}
	}
	if len(idle) > 0 {
		m.logger.Info("closed idle sessions", zap.Int("count", len(idle)))
	}
	return len(idle)
}

// CloseAll stops the idle sweep and closes every session, bounded by ctx.
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mu.Lock()
	job := m.sweepJob
	m.sweepJob = nil
	sessions := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		sessions = append(sessions, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	m.deps.Scheduler.Remove(job)

	var errs []error
	for _, s := range sessions {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close session %s: %w", s.userID, err))
		}
	}
	return errors.Join(errs...)
}
