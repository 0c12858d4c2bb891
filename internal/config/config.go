package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds service configuration loaded from YAML, secrets and env.
type Config struct {
	ServerPort string

	WeatherAPIKey     string
	WeatherAPIURL     string
	WeatherAPITimeout time.Duration

	RequestTimeout time.Duration

	LocationUpdateInterval  time.Duration
	LocationFastestInterval time.Duration

	SessionIdleTTL time.Duration

	HistoryBackend   string // "bolt" or "mysql"
	BoltPath         string
	MySQLDSN         string
	HistoryQueueSize int
	HistoryWorkers   int

	CacheBackend          string // "in_memory" or "memcached"
	CacheTTL              time.Duration
	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	JWTSecret string
	TokenTTL  time.Duration

	TelegramToken string

	RateLimitRPS   int
	RateLimitBurst int

	ShutdownTimeout time.Duration

	HealthErrorWindow time.Duration
	HealthErrorPct    int

	TrackedCities []string
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	WeatherAPI struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"weather_api"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Location struct {
		UpdateInterval  string `yaml:"update_interval"`
		FastestInterval string `yaml:"fastest_interval"`
	} `yaml:"location"`

	Session struct {
		IdleTTL string `yaml:"idle_ttl"`
	} `yaml:"session"`

	History struct {
		Backend   string `yaml:"backend"`
		BoltPath  string `yaml:"bolt_path"`
		QueueSize int    `yaml:"queue_size"`
		Workers   int    `yaml:"workers"`
	} `yaml:"history"`

	Cache struct {
		Backend   string `yaml:"backend"`
		TTL       string `yaml:"ttl"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"cache"`

	Auth struct {
		TokenTTL string `yaml:"token_ttl"`
	} `yaml:"auth"`

	Reliability struct {
		RateLimitRPS   int `yaml:"rate_limit_rps"`
		RateLimitBurst int `yaml:"rate_limit_burst"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	Health struct {
		ErrorWindow string `yaml:"error_window"`
		ErrorPct    int    `yaml:"error_pct"`
	} `yaml:"health"`

	Metrics struct {
		TrackedCities []string `yaml:"tracked_cities"`
	} `yaml:"metrics"`
}

type secretsFile struct {
	WeatherAPIKey string `yaml:"weather_api_key"`
	JWTSecret     string `yaml:"jwt_secret"`
	TelegramToken string `yaml:"telegram_token"`
	MySQLDSN      string `yaml:"mysql_dsn"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) and config/secrets.yaml.
// A .env file in the working directory is loaded first; it never overrides variables that
// are already set. Secrets come from env or the secrets file. Call from project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	if err := godotenv.Load(filepath.Join(cwd, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	sec, err := loadSecrets(filepath.Join(cwd, "config", "secrets.yaml"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{}

	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}

	cfg.WeatherAPIKey = envOr("WEATHER_API_KEY", sec.WeatherAPIKey)
	if cfg.WeatherAPIKey == "" {
		return nil, fmt.Errorf("WEATHER_API_KEY required (set env or config/secrets.yaml weather_api_key)")
	}
	cfg.JWTSecret = envOr("JWT_SECRET", sec.JWTSecret)
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET required (set env or config/secrets.yaml jwt_secret)")
	}
	cfg.TelegramToken = envOr("TELEGRAM_TOKEN", sec.TelegramToken)
	cfg.MySQLDSN = envOr("MYSQL_DSN", sec.MySQLDSN)

	cfg.WeatherAPIURL = fc.WeatherAPI.URL
	if cfg.WeatherAPIURL == "" {
		cfg.WeatherAPIURL = "https://api.openweathermap.org/data/2.5/weather"
	}
	cfg.WeatherAPITimeout = parseDurationOrZero(fc.WeatherAPI.Timeout, 5*time.Second)
	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 10*time.Second)

	cfg.LocationUpdateInterval = parseDuration(fc.Location.UpdateInterval, 10*time.Second)
	cfg.LocationFastestInterval = parseDuration(fc.Location.FastestInterval, 5*time.Second)
	cfg.SessionIdleTTL = parseDuration(fc.Session.IdleTTL, 30*time.Minute)

	cfg.HistoryBackend = lowerTrim(envOr("HISTORY_BACKEND", fc.History.Backend))
	if cfg.HistoryBackend == "" {
		cfg.HistoryBackend = "bolt"
	}
	cfg.BoltPath = strings.TrimSpace(fc.History.BoltPath)
	if cfg.BoltPath == "" {
		cfg.BoltPath = filepath.Join("data", "weather.db")
	}
	cfg.HistoryQueueSize = fc.History.QueueSize
	if cfg.HistoryQueueSize <= 0 {
		cfg.HistoryQueueSize = 256
	}
	cfg.HistoryWorkers = fc.History.Workers
	if cfg.HistoryWorkers <= 0 {
		cfg.HistoryWorkers = 2
	}

	cfg.CacheBackend = lowerTrim(envOr("CACHE_BACKEND", fc.Cache.Backend))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = "in_memory"
	}
	cfg.CacheTTL = parseDuration(fc.Cache.TTL, time.Hour)
	cfg.MemcachedAddrs = strings.TrimSpace(envOr("MEMCACHED_ADDRS", fc.Cache.Memcached.Addrs))
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.TokenTTL = parseDuration(fc.Auth.TokenTTL, 24*time.Hour)

	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 100
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 250
	}

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)

	cfg.HealthErrorWindow = parseDuration(fc.Health.ErrorWindow, 60*time.Second)
	cfg.HealthErrorPct = fc.Health.ErrorPct
	if cfg.HealthErrorPct <= 0 {
		cfg.HealthErrorPct = 50
	}
	cfg.TrackedCities = fc.Metrics.TrackedCities

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadSecrets(path string) (secretsFile, error) {
	var sec secretsFile
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return sec, nil
		}
		return sec, fmt.Errorf("read secrets file: %w", err)
	}
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return sec, fmt.Errorf("parse secrets file: %w", err)
	}
	return sec, nil
}

// envOr returns the trimmed env var key, or fallback when it is unset or blank.
func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return strings.TrimSpace(fallback)
}

func lowerTrim(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Zero or negative durations are returned as-is.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate checks cross-field constraints after load. RequestTimeout is raised above
// WeatherAPITimeout when needed.
func validate(cfg *Config) error {
	if cfg.WeatherAPITimeout <= 0 {
		return fmt.Errorf("weather_api.timeout must be positive")
	}
	if cfg.RequestTimeout <= cfg.WeatherAPITimeout {
		cfg.RequestTimeout = cfg.WeatherAPITimeout + time.Second
	}
	if cfg.LocationFastestInterval > cfg.LocationUpdateInterval {
		return fmt.Errorf("location.fastest_interval (%s) must not exceed location.update_interval (%s)",
			cfg.LocationFastestInterval, cfg.LocationUpdateInterval)
	}
	if len(cfg.JWTSecret) < 16 {
		return fmt.Errorf("jwt secret must be at least 16 characters")
	}
	switch cfg.CacheBackend {
	case "in_memory", "memcached":
	default:
		return fmt.Errorf("cache.backend must be in_memory or memcached, got %q", cfg.CacheBackend)
	}
	switch cfg.HistoryBackend {
	case "bolt":
	case "mysql":
		if cfg.MySQLDSN == "" {
			return fmt.Errorf("history.backend mysql requires MYSQL_DSN (env or config/secrets.yaml mysql_dsn)")
		}
	default:
		return fmt.Errorf("history.backend must be bolt or mysql, got %q", cfg.HistoryBackend)
	}
	return nil
}
