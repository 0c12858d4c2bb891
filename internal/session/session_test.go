package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kjstillabower/weather-lookup-service/internal/cache"
	"github.com/kjstillabower/weather-lookup-service/internal/location"
	"github.com/kjstillabower/weather-lookup-service/internal/models"
	"github.com/kjstillabower/weather-lookup-service/internal/scheduler"
)

type countingClient struct {
	cityCalls  atomic.Int32
	coordCalls atomic.Int32
	mu         sync.Mutex
	lastCoords models.Coordinates
}

func (c *countingClient) FetchByCity(ctx context.Context, name string) (models.WeatherReading, error) {
	c.cityCalls.Add(1)
	return models.WeatherReading{CityName: name, WeatherID: 800, Timestamp: time.Now()}, nil
}

func (c *countingClient) FetchByCoordinates(ctx context.Context, lat, lon float64) (models.WeatherReading, error) {
	c.coordCalls.Add(1)
	c.mu.Lock()
	c.lastCoords = models.Coordinates{Latitude: lat, Longitude: lon}
	c.mu.Unlock()
	return models.WeatherReading{CityName: "Here", WeatherID: 801, Latitude: lat, Longitude: lon, Timestamp: time.Now()}, nil
}

func (c *countingClient) ValidateAPIKey(ctx context.Context) error { return nil }

func newTestManager(t *testing.T, wc *countingClient, c cache.Cache) *Manager {
	t.Helper()
	sched := scheduler.New()
	sched.Start()
	t.Cleanup(sched.Stop)

	m, err := NewManager(Deps{
		Client:    wc,
		Scheduler: sched,
		Cache:     c,
		CacheTTL:  time.Minute,
		Request:   location.Request{Interval: time.Hour, FastestInterval: time.Millisecond},
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	t.Cleanup(func() { _ = m.CloseAll(context.Background()) })
	return m
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// TestSession_UseLocation_NoPermission verifies the permission error is both returned and published.
func TestSession_UseLocation_NoPermission(t *testing.T) {
	wc := &countingClient{}
	s := newTestManager(t, wc, nil).Open("user-1", Options{PermissionGranted: false, ServiceEnabled: true})

	if err := s.UseLocation(context.Background()); !errors.Is(err, location.ErrPermissionDenied) {
		t.Fatalf("UseLocation() error = %v, want ErrPermissionDenied", err)
	}
	if st := s.Controller().Snapshot(); st.Error != PermissionMessage {
		t.Errorf("state error = %q, want %q", st.Error, PermissionMessage)
	}
	if wc.coordCalls.Load() != 0 {
		t.Error("no fetch expected without permission")
	}
}

func TestSession_UseLocation_ServiceUnavailable(t *testing.T) {
	s := newTestManager(t, &countingClient{}, nil).Open("user-1", Options{PermissionGranted: true})
	if err := s.UseLocation(context.Background()); !errors.Is(err, location.ErrServiceUnavailable) {
		t.Fatalf("UseLocation() error = %v, want ErrServiceUnavailable", err)
	}
}

// TestSession_UseLocation_LastKnown verifies the cached fix is fetched immediately and mirrored to the cache.
func TestSession_UseLocation_LastKnown(t *testing.T) {
	wc := &countingClient{}
	c := cache.NewInMemoryCache()
	s := newTestManager(t, wc, c).Open("user-1", Options{PermissionGranted: true, ServiceEnabled: true})
	s.feed.Report(models.Coordinates{Latitude: 48.85, Longitude: 2.35})

	if err := s.UseLocation(context.Background()); err != nil {
		t.Fatalf("UseLocation() error = %v", err)
	}
	st := s.Controller().Snapshot()
	if st.Reading == nil || st.Reading.Latitude != 48.85 || st.Reading.UserID != "user-1" {
		t.Fatalf("state reading = %+v", st.Reading)
	}
	cached, ok, _ := c.Get(context.Background(), "user-1")
	if !ok || cached.CityName != "Here" {
		t.Errorf("cache = %+v, %v, want mirrored reading", cached, ok)
	}
}

// TestSession_TicksDriveFetches verifies device fixes reach the controller while in location mode.
func TestSession_TicksDriveFetches(t *testing.T) {
	wc := &countingClient{}
	s := newTestManager(t, wc, nil).Open("user-1", Options{PermissionGranted: true, ServiceEnabled: true})

	if err := s.UseLocation(context.Background()); err != nil {
		t.Fatalf("UseLocation() error = %v", err)
	}
	s.ReportLocation(models.Coordinates{Latitude: 10, Longitude: 20})
	waitFor(t, func() bool { return wc.coordCalls.Load() == 1 })

	st := s.Controller().Snapshot()
	waitFor(t, func() bool { st = s.Controller().Snapshot(); return st.Reading != nil })
	if st.Reading.Latitude != 10 || st.Reading.Longitude != 20 {
		t.Errorf("reading coords = %v,%v, want 10,20", st.Reading.Latitude, st.Reading.Longitude)
	}
}

// TestSession_ManualSearchGatesTicks verifies ticks are ignored after a city search until UseLocation.
func TestSession_ManualSearchGatesTicks(t *testing.T) {
	wc := &countingClient{}
	s := newTestManager(t, wc, nil).Open("user-1", Options{PermissionGranted: true, ServiceEnabled: true})
	ctx := context.Background()

	_ = s.UseLocation(ctx)
	if err := s.SearchCity(ctx, "  Paris "); err != nil {
		t.Fatalf("SearchCity() error = %v", err)
	}
	if !s.ManualSearch() {
		t.Fatal("ManualSearch() = false after SearchCity")
	}

	s.ReportLocation(models.Coordinates{Latitude: 1, Longitude: 1})
	time.Sleep(50 * time.Millisecond)
	if wc.coordCalls.Load() != 0 {
		t.Errorf("tick fetched during manual search (%d calls)", wc.coordCalls.Load())
	}
	if st := s.Controller().Snapshot(); st.Reading == nil || st.Reading.CityName != "Paris" {
		t.Errorf("reading = %+v, want Paris", st.Reading)
	}

	if err := s.SearchCity(ctx, ""); err != nil {
		t.Fatalf("SearchCity(\"\") error = %v", err)
	}
	if s.ManualSearch() {
		t.Error("empty search should return to location mode")
	}
	waitFor(t, func() bool { return wc.coordCalls.Load() >= 1 })
}

func TestSession_SetPermissionRevokeStopsUpdates(t *testing.T) {
	s := newTestManager(t, &countingClient{}, nil).Open("user-1", Options{PermissionGranted: true, ServiceEnabled: true})
	_ = s.UseLocation(context.Background())
	if s.feed.Listeners() != 1 {
		t.Fatalf("listeners = %d, want 1", s.feed.Listeners())
	}
	s.SetPermission(false)
	if s.feed.Listeners() != 0 {
		t.Errorf("listeners = %d after revoke, want 0", s.feed.Listeners())
	}
}

// TestSession_Close verifies teardown is idempotent and later calls fail with ErrClosed.
func TestSession_Close(t *testing.T) {
	s := newTestManager(t, &countingClient{}, nil).Open("user-1", Options{PermissionGranted: true, ServiceEnabled: true})
	_ = s.UseLocation(context.Background())

	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if s.feed.Listeners() != 0 {
		t.Errorf("listeners = %d after Close, want 0", s.feed.Listeners())
	}
	if err := s.SearchCity(context.Background(), "Paris"); !errors.Is(err, ErrClosed) {
		t.Errorf("SearchCity() after Close error = %v, want ErrClosed", err)
	}
}

// TestSession_ConcurrentUseLocation_SingleRegistration verifies racing restarts leave exactly one
// live location registration.
func TestSession_ConcurrentUseLocation_SingleRegistration(t *testing.T) {
	s := newTestManager(t, &countingClient{}, nil).Open("user-1", Options{PermissionGranted: true, ServiceEnabled: true})

	for round := 0; round < 20; round++ {
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = s.UseLocation(context.Background())
			}()
		}
		wg.Wait()
		if got := s.feed.Listeners(); got != 1 {
			t.Fatalf("round %d: listeners = %d, want 1", round, got)
		}
	}

	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := s.feed.Listeners(); got != 0 {
		t.Errorf("listeners = %d after Close, want 0", got)
	}
}
