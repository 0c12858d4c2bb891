package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// TestMetrics_Usable verifies that all Prometheus metrics can be used without
// panic, ensuring label dimensions match usage across client, controller, history and http packages.
func TestMetrics_Usable(t *testing.T) {
	HTTPRequestsTotal.WithLabelValues("GET", "/weather", "2xx").Inc()
	HTTPRequestDuration.WithLabelValues("GET", "/weather").Observe(0.01)
	WeatherAPICallsTotal.WithLabelValues("success").Inc()
	WeatherAPIDuration.WithLabelValues("success").Observe(0.1)
	WeatherRequestsTotal.WithLabelValues("city", "success").Inc()
	WeatherRequestsTotal.WithLabelValues("location", "superseded").Inc()
	HistorySavesTotal.WithLabelValues("error").Inc()
	HistoryArchiveDroppedTotal.Inc()
	LocationTicksTotal.Inc()
	LocationSubscriptionsActive.Inc()
	LocationSubscriptionsActive.Dec()
	SessionsActive.Set(0)
	CacheOperationsTotal.WithLabelValues("set", "success").Inc()
	AuthAttemptsTotal.WithLabelValues("login", "failure").Inc()
	RateLimitDeniedTotal.Inc()
}

// TestMetricCityLabel verifies that tracked cities keep their own label and
// everything else collapses into "other".
func TestMetricCityLabel(t *testing.T) {
	SetTrackedCities([]string{"London", " paris "})
	defer SetTrackedCities(nil)

	tests := []struct {
		in   string
		want string
	}{
		{"london", "london"},
		{"  LONDON ", "london"},
		{"Paris", "paris"},
		{"Springfield", "other"},
	}
	for _, tt := range tests {
		if got := MetricCityLabel(tt.in); got != tt.want {
			t.Errorf("MetricCityLabel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	RecordCitySearch("london")
}

// TestMetricsHandler_ServesPrometheusFormat verifies that MetricsHandler serves
// Prometheus text exposition format with correct HTTP status and metric output.
func TestMetricsHandler_ServesPrometheusFormat(t *testing.T) {
	HTTPRequestsTotal.WithLabelValues("GET", "/health", "2xx").Inc()
	handler := MetricsHandler()
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("MetricsHandler status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "httpRequestsTotal") {
		t.Error("MetricsHandler response should contain metric output")
	}
}
