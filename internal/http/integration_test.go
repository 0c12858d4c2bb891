//go:build integration
// +build integration

package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-lookup-service/internal/auth"
	"github.com/kjstillabower/weather-lookup-service/internal/boltdb"
	"github.com/kjstillabower/weather-lookup-service/internal/controller"
	"github.com/kjstillabower/weather-lookup-service/internal/history"
	"github.com/kjstillabower/weather-lookup-service/internal/observability"
	"github.com/kjstillabower/weather-lookup-service/internal/scheduler"
	"github.com/kjstillabower/weather-lookup-service/internal/session"
	testhelpers "github.com/kjstillabower/weather-lookup-service/internal/testhelpers"
)

var testLogger *zap.Logger

func init() {
	var err error
	testLogger, err = observability.NewLogger()
	if err != nil {
		panic(err)
	}
}

// setupIntegrationRouter builds the full stack against the live weather API and returns
// the router plus a bearer token for a fresh user.
func setupIntegrationRouter(t *testing.T, limiter *rate.Limiter) (*mux.Router, string) {
	cfg := testhelpers.GetIntegrationConfig(t)
	weatherClient := testhelpers.SetupIntegrationClient(t, cfg)
	latest := testhelpers.SetupIntegrationCache(t, cfg)

	db, err := boltdb.Open(filepath.Join(t.TempDir(), "integration.db"), time.Second)
	if err != nil {
		t.Fatalf("boltdb.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	users, err := auth.NewUserStore(db)
	if err != nil {
		t.Fatalf("NewUserStore() error = %v", err)
	}
	authSvc, err := auth.NewService(users, "integration-secret-0123", time.Hour, testLogger)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	store, err := history.NewBoltStore(db)
	if err != nil {
		t.Fatalf("NewBoltStore() error = %v", err)
	}

	sched := scheduler.New()
	sched.Start()
	t.Cleanup(sched.Stop)
	fwd := controller.NewForwarder(store, 16, 1, 2*time.Second, testLogger)
	t.Cleanup(func() { _ = fwd.Close(context.Background()) })

	sessions, err := session.NewManager(session.Deps{
		Client:    weatherClient,
		Archiver:  fwd,
		Scheduler: sched,
		Cache:     latest,
		CacheTTL:  time.Minute,
		Logger:    testLogger,
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	t.Cleanup(func() { _ = sessions.CloseAll(context.Background()) })

	h := NewHandler(Deps{
		Auth:     authSvc,
		Sessions: sessions,
		History:  store,
		Cache:    latest,
		Client:   weatherClient,
		Logger:   testLogger,
	})
	router := NewRouter(h, RouterOptions{Logger: testLogger, Limiter: limiter, RequestTimeout: 10 * time.Second})

	call(t, router, "", http.MethodPost, "/auth/signup", `{"email":"it@example.com","password":"secret1","confirmPassword":"secret1"}`)
	w := call(t, router, "", http.MethodPost, "/auth/login", `{"email":"it@example.com","password":"secret1"}`)
	var token auth.Token
	if err := json.NewDecoder(w.Body).Decode(&token); err != nil {
		t.Fatalf("decode token: %v", err)
	}
	return router, token.Value
}

func call(t *testing.T, router *mux.Router, token, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// TestIntegration_SearchCity verifies a live lookup end to end, including the history archive.
func TestIntegration_SearchCity(t *testing.T) {
	router, token := setupIntegrationRouter(t, nil)
	call(t, router, token, http.MethodPost, "/session", `{"permission_granted":true,"service_enabled":true}`)

	w := call(t, router, token, http.MethodGet, "/weather/search?q=London", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var v weatherView
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.Reading == nil || !strings.EqualFold(v.Reading.CityName, "London") {
		t.Fatalf("reading = %+v, want London", v.Reading)
	}
	if v.Reading.Timezone == "" {
		t.Error("timezone was not resolved from coordinates")
	}
	if v.Presentation == nil {
		t.Error("presentation missing")
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		w := call(t, router, token, http.MethodGet, "/history", "")
		if strings.Contains(w.Body.String(), `"count":1`) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("history never recorded the lookup: %s", w.Body.String())
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// TestIntegration_UnknownCity verifies an upstream 404 surfaces as UPSTREAM_FAILED with the status.
func TestIntegration_UnknownCity(t *testing.T) {
	router, token := setupIntegrationRouter(t, nil)
	call(t, router, token, http.MethodPost, "/session", "")

	w := call(t, router, token, http.MethodGet, "/weather/search?q=Qwertyuiopasdfgh", "")
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502 (body %s)", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "Failed to fetch weather data: 404") {
		t.Errorf("body = %s, want status in message", w.Body.String())
	}
}

// TestIntegration_GetHealth_FullStack verifies health reports a valid key against the live API.
func TestIntegration_GetHealth_FullStack(t *testing.T) {
	router, _ := setupIntegrationRouter(t, nil)
	w := call(t, router, "", http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
}

// TestIntegration_RateLimiting_Enforcement verifies the limiter rejects beyond the burst.
func TestIntegration_RateLimiting_Enforcement(t *testing.T) {
	// signup and login spend two of the five tokens
	router, token := setupIntegrationRouter(t, rate.NewLimiter(rate.Every(time.Minute), 5))
	var denied int
	for i := 0; i < 6; i++ {
		if call(t, router, token, http.MethodGet, "/history", "").Code == http.StatusTooManyRequests {
			denied++
		}
	}
	if denied != 3 {
		t.Errorf("denied = %d, want 3", denied)
	}
}
