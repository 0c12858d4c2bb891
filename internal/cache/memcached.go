package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/kjstillabower/weather-lookup-service/internal/models"
	"github.com/kjstillabower/weather-lookup-service/internal/observability"
)

const keyPrefix = "latest:"

// MemcachedCache implements Cache using memcached, so the latest reading is shared
// across service instances.
type MemcachedCache struct {
	client *memcache.Client
}

// NewMemcachedCache creates a MemcachedCache. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// use package defaults if zero.
func NewMemcachedCache(addrs string, timeout time.Duration, maxIdleConns int) (*MemcachedCache, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedCache{client: client}, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// key maps a user id to a memcached key. Memcached keys may not contain spaces or
// control characters, so those are replaced.
func key(userID string) string {
	return keyPrefix + strings.Map(func(r rune) rune {
		if r <= ' ' || r == 0x7f {
			return '_'
		}
		return r
	}, userID)
}

// Get returns false, nil on cache miss; false, err on error.
func (c *MemcachedCache) Get(ctx context.Context, userID string) (models.WeatherReading, bool, error) {
	if ctx.Err() != nil {
		return models.WeatherReading{}, false, ctx.Err()
	}
	item, err := c.client.Get(key(userID))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			observability.CacheOperationsTotal.WithLabelValues("get", "miss").Inc()
			return models.WeatherReading{}, false, nil
		}
		observability.CacheOperationsTotal.WithLabelValues("get", "error").Inc()
		return models.WeatherReading{}, false, err
	}
	var data models.WeatherReading
	if err := json.Unmarshal(item.Value, &data); err != nil {
		observability.CacheOperationsTotal.WithLabelValues("get", "error").Inc()
		return models.WeatherReading{}, false, err
	}
	observability.CacheOperationsTotal.WithLabelValues("get", "hit").Inc()
	return data, true, nil
}

func (c *MemcachedCache) Set(ctx context.Context, userID string, value models.WeatherReading, ttl time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	err = c.client.Set(&memcache.Item{
		Key:        key(userID),
		Value:      raw,
		Expiration: expirationSeconds(ttl),
	})
	if err != nil {
		observability.CacheOperationsTotal.WithLabelValues("set", "error").Inc()
		return err
	}
	observability.CacheOperationsTotal.WithLabelValues("set", "success").Inc()
	return nil
}

// expirationSeconds clamps ttl to memcached's relative expiration range, falling back to 1h.
func expirationSeconds(ttl time.Duration) int32 {
	const maxRelativeExp = 30 * 24 * 60 * 60
	exp := int64(ttl / time.Second)
	if exp <= 0 || exp > maxRelativeExp {
		return 3600
	}
	return int32(exp)
}

// Ping checks if memcached is reachable. Used for health checks.
func (c *MemcachedCache) Ping(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return c.client.Ping()
}

// Close closes the memcached client connections.
func (c *MemcachedCache) Close() error {
	return c.client.Close()
}
