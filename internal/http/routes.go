package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-lookup-service/internal/observability"
)

// RouterOptions configure the middleware chain. A nil Limiter disables rate limiting.
type RouterOptions struct {
	Logger         *zap.Logger
	Limiter        *rate.Limiter
	RequestTimeout time.Duration
}

// NewRouter mounts the public routes (health, metrics, auth) and the bearer-authenticated
// session, weather and history routes.
func NewRouter(h *Handler, opts RouterOptions) *mux.Router {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)

	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	authRouter := router.PathPrefix("/auth").Subrouter()
	authRouter.Use(RateLimitMiddleware(opts.Limiter))
	authRouter.Use(TimeoutMiddleware(opts.RequestTimeout))
	authRouter.HandleFunc("/signup", h.PostSignUp).Methods(http.MethodPost)
	authRouter.HandleFunc("/login", h.PostLogin).Methods(http.MethodPost)

	api := router.NewRoute().Subrouter()
	api.Use(AuthMiddleware(h.auth))
	api.Use(RateLimitMiddleware(opts.Limiter))
	api.HandleFunc("/weather/stream", h.GetWeatherStream).Methods(http.MethodGet)

	timed := api.NewRoute().Subrouter()
	timed.Use(TimeoutMiddleware(opts.RequestTimeout))
	timed.HandleFunc("/session", h.PostSession).Methods(http.MethodPost)
	timed.HandleFunc("/session", h.DeleteSession).Methods(http.MethodDelete)
	timed.HandleFunc("/session/location", h.PostSessionLocation).Methods(http.MethodPost)
	timed.HandleFunc("/weather", h.GetWeather).Methods(http.MethodGet)
	timed.HandleFunc("/weather/refresh", h.PostRefresh).Methods(http.MethodPost)
	timed.HandleFunc("/weather/location", h.PostUseLocation).Methods(http.MethodPost)
	timed.HandleFunc("/weather/search", h.GetSearch).Methods(http.MethodGet)
	timed.HandleFunc("/history", h.GetHistory).Methods(http.MethodGet)
	timed.HandleFunc("/history/city/{city}", h.GetCityHistory).Methods(http.MethodGet)

	return router
}
