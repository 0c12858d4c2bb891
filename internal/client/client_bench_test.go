package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// BenchmarkOpenWeatherClient_FetchByCity benchmarks one lookup against a local server,
// including decoding and timezone resolution.
func BenchmarkOpenWeatherClient_FetchByCity(b *testing.B) {
	body, err := json.Marshal(londonPayload())
	if err != nil {
		b.Fatalf("marshal payload: %v", err)
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	defer server.Close()

	c, err := NewOpenWeatherClient("bench-api-key-12345", server.URL, 2*time.Second)
	if err != nil {
		b.Fatalf("NewOpenWeatherClient() error = %v", err)
	}
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := c.FetchByCity(ctx, "London"); err != nil {
			b.Fatalf("FetchByCity() error = %v", err)
		}
	}
}

// BenchmarkTimezoneFor benchmarks coordinate to timezone resolution.
func BenchmarkTimezoneFor(b *testing.B) {
	coords := [][2]float64{{51.51, -0.13}, {35.69, 139.69}, {-33.87, 151.21}, {40.71, -74.01}}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c := coords[i%len(coords)]
		_ = timezoneFor(c[0], c[1])
	}
}
