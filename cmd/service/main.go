package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-lookup-service/internal/auth"
	"github.com/kjstillabower/weather-lookup-service/internal/boltdb"
	"github.com/kjstillabower/weather-lookup-service/internal/cache"
	"github.com/kjstillabower/weather-lookup-service/internal/client"
	"github.com/kjstillabower/weather-lookup-service/internal/config"
	"github.com/kjstillabower/weather-lookup-service/internal/controller"
	"github.com/kjstillabower/weather-lookup-service/internal/history"
	httphandler "github.com/kjstillabower/weather-lookup-service/internal/http"
	"github.com/kjstillabower/weather-lookup-service/internal/lifecycle"
	"github.com/kjstillabower/weather-lookup-service/internal/location"
	"github.com/kjstillabower/weather-lookup-service/internal/observability"
	"github.com/kjstillabower/weather-lookup-service/internal/scheduler"
	"github.com/kjstillabower/weather-lookup-service/internal/session"
	"github.com/kjstillabower/weather-lookup-service/internal/telegram"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	weatherClient, err := client.NewOpenWeatherClient(cfg.WeatherAPIKey, cfg.WeatherAPIURL, cfg.WeatherAPITimeout)
	if err != nil {
		logger.Fatal("weather client", zap.Error(err))
	}

	sched := scheduler.New()
	sched.Start()

	db, err := boltdb.Open(cfg.BoltPath, 5*time.Second)
	if err != nil {
		logger.Fatal("bolt database", zap.String("path", cfg.BoltPath), zap.Error(err))
	}

	var store history.Store
	switch cfg.HistoryBackend {
	case "mysql":
		openCtx, openCancel := context.WithTimeout(context.Background(), 10*time.Second)
		ms, err := history.OpenMySQLStore(openCtx, cfg.MySQLDSN)
		openCancel()
		if err != nil {
			logger.Fatal("mysql history store", zap.Error(err))
		}
		store = ms
		logger.Info("history backend: mysql")
	default:
		bs, err := history.NewBoltStore(db)
		if err != nil {
			logger.Fatal("bolt history store", zap.Error(err))
		}
		store = bs
		logger.Info("history backend: bolt", zap.String("path", cfg.BoltPath))
	}

	users, err := auth.NewUserStore(db)
	if err != nil {
		logger.Fatal("user store", zap.Error(err))
	}
	authSvc, err := auth.NewService(users, cfg.JWTSecret, cfg.TokenTTL, logger)
	if err != nil {
		logger.Fatal("auth service", zap.Error(err))
	}

	var latest cache.Cache
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			logger.Fatal("memcached cache", zap.Error(err))
		}
		latest = mc
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		latest = cache.NewInMemoryCache()
		logger.Info("cache backend: in_memory")
	}

	forwarder := controller.NewForwarder(store, cfg.HistoryQueueSize, cfg.HistoryWorkers, cfg.RequestTimeout, logger)

	sessions, err := session.NewManager(session.Deps{
		Client:    weatherClient,
		Archiver:  forwarder,
		Scheduler: sched,
		Cache:     latest,
		CacheTTL:  cfg.CacheTTL,
		Request: location.Request{
			Interval:        cfg.LocationUpdateInterval,
			FastestInterval: cfg.LocationFastestInterval,
			Priority:        location.PriorityHighAccuracy,
		},
		IdleTTL:      cfg.SessionIdleTTL,
		FetchTimeout: cfg.RequestTimeout,
		Logger:       logger,
	})
	if err != nil {
		logger.Fatal("session manager", zap.Error(err))
	}

	observability.RegisterRateLimitGauges(cfg.HealthErrorWindow)
	if len(cfg.TrackedCities) > 0 {
		observability.SetTrackedCities(cfg.TrackedCities)
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	handler := httphandler.NewHandler(httphandler.Deps{
		Auth:     authSvc,
		Sessions: sessions,
		History:  store,
		Cache:    latest,
		Client:   weatherClient,
		Health: &httphandler.HealthConfig{
			ErrorWindow: cfg.HealthErrorWindow,
			ErrorPct:    cfg.HealthErrorPct,
		},
		Logger: logger,
	})
	router := httphandler.NewRouter(handler, httphandler.RouterOptions{
		Logger:         logger,
		Limiter:        limiter,
		RequestTimeout: cfg.RequestTimeout,
	})

	// WriteTimeout stays unset: /weather/stream is long-lived and every other route
	// carries TimeoutMiddleware.
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv.RegisterOnShutdown(handler.CloseStreams)

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	botCtx, botCancel := context.WithCancel(context.Background())
	botDone := make(chan struct{})
	if cfg.TelegramToken != "" {
		api, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
		if err != nil {
			logger.Fatal("telegram bot", zap.Error(err))
		}
		logger.Info("telegram bot authorized", zap.String("username", api.Self.UserName))
		bot := telegram.NewBot(api, sessions, store, cfg.RequestTimeout, logger)
		go func() {
			defer close(botDone)
			bot.Run(botCtx)
		}()
	} else {
		close(botDone)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("waiting for in-flight requests", zap.Int64("count", httphandler.InFlightCount()))
	if err := httphandler.WaitForInFlight(shutdownCtx, 50*time.Millisecond); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	botCancel()
	select {
	case <-botDone:
	case <-shutdownCtx.Done():
		logger.Warn("telegram bot did not stop in time")
	}

	// Sessions drain their pending saves before the forwarder and the stores close.
	if err := sessions.CloseAll(shutdownCtx); err != nil {
		logger.Warn("sessions close", zap.Error(err))
	}
	if err := forwarder.Close(shutdownCtx); err != nil {
		logger.Warn("history forwarder close", zap.Error(err))
	}
	if err := store.Close(); err != nil {
		logger.Error("history store close", zap.Error(err))
	}
	if err := db.Close(); err != nil {
		logger.Error("bolt close", zap.Error(err))
	}
	if err := latest.Close(); err != nil {
		logger.Error("cache close", zap.Error(err))
	}
	sched.Stop()

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
