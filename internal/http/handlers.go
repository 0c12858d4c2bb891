package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-lookup-service/internal/auth"
	"github.com/kjstillabower/weather-lookup-service/internal/cache"
	"github.com/kjstillabower/weather-lookup-service/internal/client"
	"github.com/kjstillabower/weather-lookup-service/internal/controller"
	"github.com/kjstillabower/weather-lookup-service/internal/history"
	"github.com/kjstillabower/weather-lookup-service/internal/lifecycle"
	"github.com/kjstillabower/weather-lookup-service/internal/location"
	"github.com/kjstillabower/weather-lookup-service/internal/models"
	"github.com/kjstillabower/weather-lookup-service/internal/observability"
	"github.com/kjstillabower/weather-lookup-service/internal/presentation"
	"github.com/kjstillabower/weather-lookup-service/internal/session"
	"github.com/kjstillabower/weather-lookup-service/internal/traffic"
	"github.com/kjstillabower/weather-lookup-service/internal/validation"
)

// HealthConfig holds the error-rate threshold for the health handler.
type HealthConfig struct {
	ErrorWindow time.Duration
	ErrorPct    int
}

// Deps are the collaborators a Handler serves from. Cache and HealthConfig are optional.
type Deps struct {
	Auth     *auth.Service
	Sessions *session.Manager
	History  history.Store
	Cache    cache.Cache
	Client   client.WeatherClient
	Health   *HealthConfig
	Logger   *zap.Logger
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	auth         *auth.Service
	sessions     *session.Manager
	history      history.Store
	cache        cache.Cache
	client       client.WeatherClient
	healthConfig *HealthConfig
	logger       *zap.Logger

	healthStatusMu   sync.Mutex
	healthStatusPrev string

	streams     chan struct{}
	streamsOnce sync.Once
}

func NewHandler(deps Deps) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		auth:         deps.Auth,
		sessions:     deps.Sessions,
		history:      deps.History,
		cache:        deps.Cache,
		client:       deps.Client,
		healthConfig: deps.Health,
		logger:       logger,
		streams:      make(chan struct{}),
	}
}

// CloseStreams ends every open state stream. Register it with http.Server.RegisterOnShutdown
// so Shutdown does not wait on long-lived streams.
func (h *Handler) CloseStreams() {
	h.streamsOnce.Do(func() { close(h.streams) })
}

// weatherView is the JSON shape of GET /weather and each stream event.
type weatherView struct {
	Reading      *models.WeatherReading     `json:"reading,omitempty"`
	Error        string                     `json:"error,omitempty"`
	Loading      bool                       `json:"loading"`
	Generation   uint64                     `json:"generation"`
	Condition    string                     `json:"condition,omitempty"`
	Presentation *presentation.Presentation `json:"presentation,omitempty"`
	LocalTime    string                     `json:"localTime,omitempty"`
	Source       string                     `json:"source"`
}

func newWeatherView(state controller.State, source string) weatherView {
	v := weatherView{
		Reading:    state.Reading,
		Error:      state.Error,
		Loading:    state.Loading,
		Generation: state.Generation,
		Source:     source,
	}
	if r := state.Reading; r != nil {
		p := presentation.Map(r.WeatherID)
		v.Presentation = &p
		v.Condition = presentation.Condition(r.WeatherID)
		v.LocalTime = r.LocalTime().Format(time.RFC3339)
	}
	return v
}

// PostSignUp handles POST /auth/signup.
func (h *Handler) PostSignUp(w http.ResponseWriter, r *http.Request) {
	var req auth.SignUpRequest
	if !decodeBody(w, r, &req) {
		return
	}
	userID, err := h.auth.SignUp(r.Context(), req)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"userId": userID})
}

// PostLogin handles POST /auth/login.
func (h *Handler) PostLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	token, err := h.auth.Login(r.Context(), req)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, token)
}

// PostSession handles POST /session. An empty body opens the session with neither
// permission nor location service.
func (h *Handler) PostSession(w http.ResponseWriter, r *http.Request) {
	var opts session.Options
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "request body must be JSON")
		return
	}
	s := h.sessions.Open(userIDFromContext(r.Context()), opts)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"userId":            s.UserID(),
		"permissionGranted": opts.PermissionGranted,
		"serviceEnabled":    opts.ServiceEnabled,
		"state":             newWeatherView(s.Controller().Snapshot(), "session"),
	})
}

// DeleteSession handles DELETE /session.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	err := h.sessions.Close(r.Context(), userIDFromContext(r.Context()))
	if errors.Is(err, session.ErrNoSession) {
		writeError(w, r, http.StatusNotFound, "NO_SESSION", "no open session")
		return
	}
	if err != nil {
		observability.LoggerFromContext(r.Context(), h.logger).Warn("session close incomplete", zap.Error(err))
	}
	w.WriteHeader(http.StatusNoContent)
}

// PostSessionLocation handles POST /session/location. Numeric strings are accepted for
// latitude and longitude.
func (h *Handler) PostSessionLocation(w http.ResponseWriter, r *http.Request) {
	s, ok := h.requireSession(w, r)
	if !ok {
		return
	}
	var raw map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "request body must be a JSON object")
		return
	}
	coords, err := decodeCoordinates(raw)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_COORDINATES", err.Error())
		return
	}
	s.ReportLocation(coords)
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"accepted": true, "location": coords})
}

var errMissingCoordinates = errors.New("latitude and longitude are required")

func decodeCoordinates(raw map[string]interface{}) (models.Coordinates, error) {
	var coords models.Coordinates
	if _, ok := raw["latitude"]; !ok {
		return coords, errMissingCoordinates
	}
	if _, ok := raw["longitude"]; !ok {
		return coords, errMissingCoordinates
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &coords,
	})
	if err != nil {
		return coords, err
	}
	if err := decoder.Decode(raw); err != nil {
		return coords, errors.New("latitude and longitude must be numbers")
	}
	if err := validation.ValidateCoordinates(coords.Latitude, coords.Longitude); err != nil {
		return coords, err
	}
	return coords, nil
}

// PostRefresh handles POST /weather/refresh.
func (h *Handler) PostRefresh(w http.ResponseWriter, r *http.Request) {
	s, ok := h.requireSession(w, r)
	if !ok {
		return
	}
	h.respondAfter(w, r, s, s.Refresh(r.Context()))
}

// PostUseLocation handles POST /weather/location, leaving manual-search mode.
func (h *Handler) PostUseLocation(w http.ResponseWriter, r *http.Request) {
	s, ok := h.requireSession(w, r)
	if !ok {
		return
	}
	h.respondAfter(w, r, s, s.UseLocation(r.Context()))
}

// GetSearch handles GET /weather/search?q=<city>.
func (h *Handler) GetSearch(w http.ResponseWriter, r *http.Request) {
	city, err := validation.ValidateCity(r.URL.Query().Get("q"), validation.CityMinLen, validation.CityMaxLen)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_CITY", err.Error())
		return
	}
	s, ok := h.requireSession(w, r)
	if !ok {
		return
	}
	h.respondAfter(w, r, s, s.SearchCity(r.Context(), city))
}

// GetWeather handles GET /weather. Without an open session, or before its first reading,
// the latest cached reading is served.
func (h *Handler) GetWeather(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	logger := observability.LoggerFromContext(r.Context(), h.logger)

	if s, ok := h.sessions.Get(userID); ok {
		state := s.Controller().Snapshot()
		if state.Reading != nil || state.Loading || state.Error != "" {
			writeJSON(w, http.StatusOK, newWeatherView(state, "session"))
			return
		}
	}

	if h.cache != nil {
		reading, hit, err := h.cache.Get(r.Context(), userID)
		if err != nil {
			logger.Warn("latest reading cache get failed", zap.Error(err))
		}
		if hit {
			logger.Debug("serving cached reading", zap.String("city", reading.CityName))
			writeJSON(w, http.StatusOK, newWeatherView(controller.State{Reading: &reading}, "cache"))
			return
		}
	}
	writeError(w, r, http.StatusNotFound, "NO_READING", "no weather reading yet")
}

// GetHistory handles GET /history for the current user. ?limit=N keeps the newest N.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	records, err := h.history.FindByUser(r.Context(), userIDFromContext(r.Context()))
	h.writeHistory(w, r, records, limit, err)
}

// GetCityHistory handles GET /history/city/{city}.
func (h *Handler) GetCityHistory(w http.ResponseWriter, r *http.Request) {
	city, err := validation.ValidateCity(mux.Vars(r)["city"], validation.CityMinLen, validation.CityMaxLen)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_CITY", err.Error())
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	records, err := h.history.FindByCity(r.Context(), city)
	h.writeHistory(w, r, records, limit, err)
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		writeError(w, r, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer")
		return 0, false
	}
	return n, true
}

func (h *Handler) writeHistory(w http.ResponseWriter, r *http.Request, records []history.Record, limit int, err error) {
	if err != nil {
		observability.LoggerFromContext(r.Context(), h.logger).Error("history lookup failed", zap.Error(err))
		writeError(w, r, http.StatusServiceUnavailable, "HISTORY_UNAVAILABLE", "history is unavailable")
		return
	}
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	if records == nil {
		records = []history.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"readings": records, "count": len(records)})
}

func (h *Handler) requireSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, ok := h.sessions.Get(userIDFromContext(r.Context()))
	if !ok {
		writeError(w, r, http.StatusNotFound, "NO_SESSION", "open a session first")
		return nil, false
	}
	return s, true
}

// respondAfter writes the session state after a lookup, or the error the lookup ended with.
func (h *Handler) respondAfter(w http.ResponseWriter, r *http.Request, s *session.Session, err error) {
	if err != nil {
		writeLookupError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newWeatherView(s.Controller().Snapshot(), "session"))
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus(r.Context())

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := map[string]string{"weatherApi": "healthy"}
	if result.reason == "api_key_invalid" {
		checks["weatherApi"] = "unhealthy"
	}
	if h.cache != nil {
		checks["cache"] = checkStatus(h.cache.Ping(r.Context()))
	}
	if h.history != nil {
		checks["history"] = checkStatus(h.history.Ping(r.Context()))
	}
	if h.sessions != nil {
		checks["sessions"] = strconv.Itoa(h.sessions.Len())
	}

	body := map[string]interface{}{
		"status":    result.status,
		"service":   "weather-lookup-service",
		"version":   "dev",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if d := lifecycle.DrainingFor(); d > 0 {
		body["drainingFor"] = d.Round(time.Millisecond).String()
	}
	writeJSON(w, result.statusCode, body)
}

func checkStatus(err error) string {
	if err != nil {
		return "unhealthy"
	}
	return "healthy"
}

// computeHealthStatus evaluates, in priority order:
// shutting-down > API key invalid > error rate over threshold > healthy.
func (h *Handler) computeHealthStatus(ctx context.Context) healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if err := h.client.ValidateAPIKey(ctx); err != nil {
		return healthResult{"degraded", http.StatusServiceUnavailable, "api_key_invalid"}
	}
	if cfg := h.healthConfig; cfg != nil && cfg.ErrorWindow > 0 && cfg.ErrorPct > 0 {
		errs, total := traffic.ErrorRate(cfg.ErrorWindow)
		if total > 0 && float64(errs)*100/float64(total) >= float64(cfg.ErrorPct) {
			return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "request body must be JSON")
		return false
	}
	return true
}

// writeJSON writes v as JSON with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes {"error":{"code","message","requestId"}}.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationID(r.Context()),
		},
	})
}

func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *auth.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, r, http.StatusBadRequest, "VALIDATION_FAILED", verr.Message)
	case errors.Is(err, auth.ErrEmailTaken):
		writeError(w, r, http.StatusConflict, "EMAIL_TAKEN", err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, "INVALID_CREDENTIALS", err.Error())
	default:
		observability.LoggerFromContext(r.Context(), nil).Error("auth request failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}

// writeLookupError maps a failed lookup to its status and code. The controller has
// already published the same failure to the session state.
func writeLookupError(w http.ResponseWriter, r *http.Request, err error) {
	var statusErr *client.StatusError
	switch {
	case errors.Is(err, location.ErrPermissionDenied):
		writeError(w, r, http.StatusForbidden, "PERMISSION_DENIED", session.PermissionMessage)
	case errors.Is(err, location.ErrServiceUnavailable):
		writeError(w, r, http.StatusConflict, "LOCATION_UNAVAILABLE", "location services are unavailable")
	case errors.Is(err, controller.ErrSuperseded):
		writeError(w, r, http.StatusConflict, "SUPERSEDED", err.Error())
	case errors.Is(err, session.ErrClosed), errors.Is(err, controller.ErrClosed):
		writeError(w, r, http.StatusNotFound, "NO_SESSION", "session closed")
	case errors.As(err, &statusErr):
		writeError(w, r, http.StatusBadGateway, "UPSTREAM_FAILED", "Failed to fetch weather data: "+strconv.Itoa(statusErr.StatusCode))
	case errors.Is(err, client.ErrDecode):
		writeError(w, r, http.StatusBadGateway, "DECODE_FAILED", "Failed to read weather data")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, r, http.StatusGatewayTimeout, "TIMEOUT", "Timed out fetching weather data")
	default:
		writeError(w, r, http.StatusBadGateway, "UPSTREAM_UNAVAILABLE", "Unable to fetch weather data")
	}
	observability.LoggerFromContext(r.Context(), nil).Debug("lookup failed", zap.Error(err))
}
