// Package cache keeps the latest published reading per user so it can be served
// after the session that produced it has gone.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/kjstillabower/weather-lookup-service/internal/models"
	"github.com/kjstillabower/weather-lookup-service/internal/observability"
)

// Cache stores the latest reading per user id.
// Get returns the reading if present and not expired.
type Cache interface {
	Get(ctx context.Context, userID string) (models.WeatherReading, bool, error)
	Set(ctx context.Context, userID string, value models.WeatherReading, ttl time.Duration) error
	Ping(ctx context.Context) error
	Close() error
}

// InMemoryCache implements Cache with a mutex-guarded map. Expired entries are removed on access.
type InMemoryCache struct {
	mu   sync.Mutex
	data map[string]cacheEntry
	now  func() time.Time
}

type cacheEntry struct {
	value     models.WeatherReading
	expiresAt time.Time
}

func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{
		data: make(map[string]cacheEntry),
		now:  time.Now,
	}
}

func (c *InMemoryCache) Get(ctx context.Context, userID string) (models.WeatherReading, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data[userID]
	if !ok {
		observability.CacheOperationsTotal.WithLabelValues("get", "miss").Inc()
		return models.WeatherReading{}, false, nil
	}
	if c.now().After(entry.expiresAt) {
		delete(c.data, userID)
		observability.CacheOperationsTotal.WithLabelValues("get", "miss").Inc()
		return models.WeatherReading{}, false, nil
	}
	observability.CacheOperationsTotal.WithLabelValues("get", "hit").Inc()
	return entry.value, true, nil
}

func (c *InMemoryCache) Set(ctx context.Context, userID string, value models.WeatherReading, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[userID] = cacheEntry{
		value:     value,
		expiresAt: c.now().Add(ttl),
	}
	observability.CacheOperationsTotal.WithLabelValues("set", "success").Inc()
	return nil
}

func (c *InMemoryCache) Ping(ctx context.Context) error { return nil }

func (c *InMemoryCache) Close() error { return nil }
