package observability

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kjstillabower/weather-lookup-service/internal/traffic"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight.
	HTTPRequestsInFlight prometheus.Gauge

	// OpenWeatherMap API call rate by status label.
	WeatherAPICallsTotal *prometheus.CounterVec

	// External API latency per request. Watch for: p95 > 2s (upstream degradation).
	WeatherAPIDuration *prometheus.HistogramVec

	// Controller requests by kind (city, location) and outcome (success, error, superseded).
	WeatherRequestsTotal *prometheus.CounterVec

	// Per-city manual search count (allow-list; others go to "other").
	CitySearchesTotal *prometheus.CounterVec

	// History archive outcomes. Watch for: error growth = storage trouble.
	HistorySavesTotal *prometheus.CounterVec

	// Archive jobs dropped because the forwarder queue was full.
	HistoryArchiveDroppedTotal prometheus.Counter

	// Location ticks delivered to sessions.
	LocationTicksTotal prometheus.Counter

	// Active location subscriptions. Should return to 0 when all sessions close.
	LocationSubscriptionsActive prometheus.Gauge

	// Open sessions.
	SessionsActive prometheus.Gauge

	// Latest-reading cache operations by op and outcome.
	CacheOperationsTotal *prometheus.CounterVec

	// Signup/login attempts by op and outcome.
	AuthAttemptsTotal *prometheus.CounterVec

	// Rate limit denials.
	RateLimitDeniedTotal prometheus.Counter

	trackedCitiesMu sync.RWMutex
	trackedCities   map[string]struct{}

	rateLimitGaugesOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	WeatherAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherApiCallsTotal",
			Help: "Total number of OpenWeatherMap API calls",
		},
		[]string{"status"},
	)
	WeatherAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weatherApiDurationSeconds",
			Help:    "OpenWeatherMap API latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"status"},
	)
	WeatherRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherRequestsTotal",
			Help: "Controller weather requests by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)
	CitySearchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citySearchesTotal",
			Help: "Manual city searches (allow-list; others use city=other)",
		},
		[]string{"city"},
	)
	HistorySavesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "historySavesTotal",
			Help: "History archive saves by outcome",
		},
		[]string{"outcome"},
	)
	HistoryArchiveDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "historyArchiveDroppedTotal",
			Help: "Readings not archived because the archive queue was full",
		},
	)
	LocationTicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "locationTicksTotal",
			Help: "Location updates delivered to subscribers",
		},
	)
	LocationSubscriptionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "locationSubscriptionsActive",
			Help: "Location update registrations currently held",
		},
	)
	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sessionsActive",
			Help: "Open user sessions",
		},
	)
	CacheOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheOperationsTotal",
			Help: "Latest-reading cache operations by op and outcome",
		},
		[]string{"op", "outcome"},
	)
	AuthAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authAttemptsTotal",
			Help: "Signup and login attempts by outcome",
		},
		[]string{"op", "outcome"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		WeatherAPICallsTotal, WeatherAPIDuration,
		WeatherRequestsTotal, CitySearchesTotal,
		HistorySavesTotal, HistoryArchiveDroppedTotal,
		LocationTicksTotal, LocationSubscriptionsActive, SessionsActive,
		CacheOperationsTotal, AuthAttemptsTotal,
		RateLimitDeniedTotal,
	)
}

// RegisterRateLimitGauges registers load and rejects gauges for the rate-limited path.
// Call from main after config load with the health error window.
func RegisterRateLimitGauges(window time.Duration) {
	rateLimitGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRequestsInWindow",
					Help: "Requests hitting rate-limited path in sliding window",
				},
				func() float64 { return float64(traffic.RequestCount(window)) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRejectsInWindow",
					Help: "429 responses in sliding window",
				},
				func() float64 { return float64(traffic.DenialCount(window)) },
			),
		)
	})
}

// SetTrackedCities sets the allow-list for city search metrics. Non-tracked cities increment "other".
func SetTrackedCities(cities []string) {
	trackedCitiesMu.Lock()
	defer trackedCitiesMu.Unlock()
	trackedCities = make(map[string]struct{}, len(cities))
	for _, c := range cities {
		trackedCities[normalizeCityForMetrics(c)] = struct{}{}
	}
}

// RecordCitySearch records a manual search for the given city.
func RecordCitySearch(city string) {
	CitySearchesTotal.WithLabelValues(MetricCityLabel(city)).Inc()
}

// MetricCityLabel returns the label for city, collapsing untracked names into "other".
func MetricCityLabel(city string) string {
	c := normalizeCityForMetrics(city)
	trackedCitiesMu.RLock()
	_, ok := trackedCities[c] // nil map read is safe in Go
	trackedCitiesMu.RUnlock()
	if ok {
		return c
	}
	return "other"
}

func normalizeCityForMetrics(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
