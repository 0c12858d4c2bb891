// Package controller holds the observable weather state of one session and drives fetches.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-lookup-service/internal/client"
	"github.com/kjstillabower/weather-lookup-service/internal/models"
	"github.com/kjstillabower/weather-lookup-service/internal/observability"
	"github.com/kjstillabower/weather-lookup-service/internal/traffic"
)

var (
	ErrClosed = errors.New("controller closed")
	// ErrSuperseded is returned to a caller whose request was overtaken by a newer one.
	ErrSuperseded = errors.New("request superseded by a newer request")
)

// State is a snapshot of what the session shows. Reading survives failed requests.
type State struct {
	Reading    *models.WeatherReading `json:"reading,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Loading    bool                   `json:"loading"`
	Generation uint64                 `json:"generation"`
}

// Archiver accepts published readings for persistence without blocking. done is
// called once the reading has been handled; Enqueue returns false if it was dropped.
type Archiver interface {
	Enqueue(reading models.WeatherReading, done func()) bool
}

// Config wires a Controller. Archiver and OnReading are optional.
type Config struct {
	UserID    string
	Client    client.WeatherClient
	Archiver  Archiver
	Logger    *zap.Logger
	OnReading func(models.WeatherReading)
}

type Controller struct {
	userID    string
	client    client.WeatherClient
	archiver  Archiver
	logger    *zap.Logger
	onReading func(models.WeatherReading)

	mu          sync.Mutex
	state       State
	generation  uint64
	cancel      context.CancelFunc
	subscribers map[*subscriber]struct{}
	closed      bool
	done        chan struct{}

	inflight sync.WaitGroup
	saves    sync.WaitGroup
}

func New(cfg Config) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		userID:      cfg.UserID,
		client:      cfg.Client,
		archiver:    cfg.Archiver,
		logger:      logger,
		onReading:   cfg.OnReading,
		subscribers: make(map[*subscriber]struct{}),
		done:        make(chan struct{}),
	}
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RequestByCity fetches weather for a city name and publishes the outcome.
func (c *Controller) RequestByCity(ctx context.Context, name string) error {
	observability.RecordCitySearch(name)
	return c.request(ctx, "city", func(ctx context.Context) (models.WeatherReading, error) {
		return c.client.FetchByCity(ctx, name)
	})
}

// RequestByLocation fetches weather for coordinates and publishes the outcome.
func (c *Controller) RequestByLocation(ctx context.Context, lat, lon float64) error {
	return c.request(ctx, "location", func(ctx context.Context) (models.WeatherReading, error) {
		return c.client.FetchByCoordinates(ctx, lat, lon)
	})
}

// PublishError records a failure that did not come from a fetch, e.g. a missing permission.
// It supersedes any request in flight.
func (c *Controller) PublishError(message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.supersedeLocked()
	c.state.Error = message
	c.state.Loading = false
	c.state.Generation = c.generation
	c.publishLocked()
}

func (c *Controller) supersedeLocked() uint64 {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.generation++
	return c.generation
}

// request runs fetch under a fresh generation. The most recently issued request wins:
// issuing a new one cancels the previous fetch and its result is discarded.
func (c *Controller) request(ctx context.Context, kind string, fetch func(context.Context) (models.WeatherReading, error)) error {
	logger := observability.LoggerFromContext(ctx, c.logger)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	gen := c.supersedeLocked()
	fetchCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.state.Loading = true
	c.state.Generation = gen
	c.publishLocked()
	c.inflight.Add(1)
	c.mu.Unlock()

	defer c.inflight.Done()
	defer cancel()

	reading, err := fetch(fetchCtx)

	c.mu.Lock()
	if c.closed || gen != c.generation {
		c.mu.Unlock()
		observability.WeatherRequestsTotal.WithLabelValues(kind, "superseded").Inc()
		logger.Debug("discarding superseded weather result", zap.Uint64("generation", gen))
		return ErrSuperseded
	}
	c.cancel = nil

	// The caller went away. The previous reading and error stay.
	if err != nil && errors.Is(ctx.Err(), context.Canceled) {
		c.state.Loading = false
		c.publishLocked()
		c.mu.Unlock()

		observability.WeatherRequestsTotal.WithLabelValues(kind, "canceled").Inc()
		logger.Debug("weather request abandoned by caller", zap.String("kind", kind))
		return err
	}

	if err != nil {
		c.state.Error = errorMessage(err)
		c.state.Loading = false
		c.publishLocked()
		c.mu.Unlock()

		traffic.RecordError()
		observability.WeatherRequestsTotal.WithLabelValues(kind, "error").Inc()
		logger.Warn("weather request failed",
			zap.String("kind", kind),
			zap.String("category", string(client.CategorizeError(err))),
			zap.Error(err),
		)
		return err
	}

	published := reading.WithUser(c.userID)
	c.state.Reading = &published
	c.state.Error = ""
	c.state.Loading = false
	c.publishLocked()
	if c.archiver != nil {
		c.saves.Add(1)
	}
	c.mu.Unlock()

	traffic.RecordSuccess()
	observability.WeatherRequestsTotal.WithLabelValues(kind, "success").Inc()
	logger.Info("weather reading published",
		zap.String("kind", kind),
		zap.String("city", published.CityName),
		zap.Int("weatherId", published.WeatherID),
	)

	if c.archiver != nil && !c.archiver.Enqueue(published, c.saves.Done) {
		c.saves.Done()
	}
	if c.onReading != nil {
		c.onReading(published)
	}
	return nil
}

// errorMessage renders err for display. Upstream status failures carry the HTTP code.
func errorMessage(err error) string {
	var statusErr *client.StatusError
	switch {
	case errors.As(err, &statusErr):
		return fmt.Sprintf("Failed to fetch weather data: %d", statusErr.StatusCode)
	case errors.Is(err, client.ErrDecode):
		return "Failed to read weather data"
	case errors.Is(err, client.ErrNetwork):
		return "Network error while fetching weather data"
	case errors.Is(err, context.DeadlineExceeded):
		return "Timed out fetching weather data"
	}
	return "Failed to fetch weather data: " + err.Error()
}

// Close cancels in-flight requests, closes subscriber channels and waits for this
// controller's queued history saves, bounded by ctx.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	for sub := range c.subscribers {
		sub.close()
		delete(c.subscribers, sub)
	}
	c.mu.Unlock()

	if err := waitGroup(ctx, &c.inflight); err != nil {
		return fmt.Errorf("waiting for in-flight requests: %w", err)
	}
	if err := waitGroup(ctx, &c.saves); err != nil {
		return fmt.Errorf("waiting for history saves: %w", err)
	}
	return nil
}

func waitGroup(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
