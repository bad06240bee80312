package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Token backends accepted by WEATHERCHAT_TOKEN_BACKEND.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// ClientConfig configures the chat client.
type ClientConfig struct {
	APIBase     string
	HTTPTimeout time.Duration

	// TokenBackend selects durable storage for credentials.
	TokenBackend string
	TokenDB      string
	RedisAddr    string

	// SessionDB is the per-terminal store for the last rendered result.
	// "memory" keeps it in process.
	SessionDB string

	RedirectDelay time.Duration
	LogLevel      slog.Level
}

// BackendConfig configures the reference API server.
type BackendConfig struct {
	Port      string
	JWTSecret string

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// Requests allowed per RateWindow for anonymous and logged-in callers.
	AnonRate   int
	UserRate   int
	RateWindow time.Duration

	CacheTTL          time.Duration
	OpenWeatherAPIKey string
	WeatherAPIKey     string
	HistoryMax        int

	// RevocationSweep controls how often expired revoked tokens are purged.
	RevocationSweep time.Duration
	LogLevel        slog.Level
}

func loadDotenv() {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file loaded", "error", err)
	}
}

// LoadClient reads the client configuration from the environment.
func LoadClient() (*ClientConfig, error) {
	loadDotenv()
	cfg := &ClientConfig{}
	var err error

	cfg.APIBase = strings.TrimRight(getenvDefault("WEATHERCHAT_API_BASE", "http://127.0.0.1:8000"), "/")
	if cfg.HTTPTimeout, err = getenvDuration("WEATHERCHAT_HTTP_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	cfg.TokenBackend = strings.ToLower(getenvDefault("WEATHERCHAT_TOKEN_BACKEND", BackendSQLite))
	cfg.TokenDB = getenvDefault("WEATHERCHAT_TOKEN_DB", defaultTokenDB())
	cfg.RedisAddr = getenvDefault("WEATHERCHAT_REDIS_ADDR", "127.0.0.1:6379")
	cfg.SessionDB = getenvDefault("WEATHERCHAT_SESSION_DB", defaultSessionDB())
	if cfg.RedirectDelay, err = getenvDuration("WEATHERCHAT_REDIRECT_DELAY", 3*time.Second); err != nil {
		return nil, err
	}
	if cfg.LogLevel, err = getenvLevel("WEATHERCHAT_LOG_LEVEL"); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *ClientConfig) Validate() error {
	var errs []error
	if !strings.HasPrefix(c.APIBase, "http://") && !strings.HasPrefix(c.APIBase, "https://") {
		errs = append(errs, fmt.Errorf("WEATHERCHAT_API_BASE must be an http(s) URL, got %q", c.APIBase))
	}
	if c.HTTPTimeout <= 0 {
		errs = append(errs, errors.New("WEATHERCHAT_HTTP_TIMEOUT must be positive"))
	}
	switch c.TokenBackend {
	case BackendSQLite:
		if c.TokenDB == "" {
			errs = append(errs, errors.New("WEATHERCHAT_TOKEN_DB is required for the sqlite backend"))
		}
	case BackendRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("WEATHERCHAT_REDIS_ADDR is required for the redis backend"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown WEATHERCHAT_TOKEN_BACKEND %q", c.TokenBackend))
	}
	if c.RedirectDelay < 0 {
		errs = append(errs, errors.New("WEATHERCHAT_REDIRECT_DELAY must not be negative"))
	}
	return errors.Join(errs...)
}

// LoadBackend reads the reference server configuration from the environment.
func LoadBackend() (*BackendConfig, error) {
	loadDotenv()
	cfg := &BackendConfig{}
	var err error

	cfg.Port = getenvDefault("PORT", "8000")
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.AccessTokenTTL, err = getenvDuration("ACCESS_TOKEN_TTL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.RefreshTokenTTL, err = getenvDuration("REFRESH_TOKEN_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	cfg.AnonRate = getenvInt("WEATHER_ANON_RATE", 5)
	cfg.UserRate = getenvInt("WEATHER_USER_RATE", 30)
	if cfg.RateWindow, err = getenvDuration("WEATHER_RATE_WINDOW", time.Minute); err != nil {
		return nil, err
	}
	if cfg.CacheTTL, err = getenvDuration("WEATHER_CACHE_TTL", 60*time.Minute); err != nil {
		return nil, err
	}
	cfg.OpenWeatherAPIKey = os.Getenv("OPENWEATHER_API_KEY")
	cfg.WeatherAPIKey = os.Getenv("WEATHERAPI_API_KEY")
	cfg.HistoryMax = getenvInt("HISTORY_MAX", 50)
	if cfg.RevocationSweep, err = getenvDuration("REVOCATION_SWEEP", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.LogLevel, err = getenvLevel("LOG_LEVEL"); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *BackendConfig) Validate() error {
	var errs []error
	if len(c.JWTSecret) < 16 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 16 characters"))
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		errs = append(errs, errors.New("token TTLs must be positive"))
	}
	if c.AccessTokenTTL >= c.RefreshTokenTTL {
		errs = append(errs, errors.New("ACCESS_TOKEN_TTL must be shorter than REFRESH_TOKEN_TTL"))
	}
	if c.AnonRate <= 0 || c.UserRate <= 0 || c.RateWindow <= 0 {
		errs = append(errs, errors.New("rate limits and window must be positive"))
	}
	if c.CacheTTL < 0 {
		errs = append(errs, errors.New("WEATHER_CACHE_TTL must not be negative"))
	}
	if c.RevocationSweep <= 0 {
		errs = append(errs, errors.New("REVOCATION_SWEEP must be positive"))
	}
	return errors.Join(errs...)
}

func defaultTokenDB() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "weatherchat", "tokens.db")
	}
	return filepath.Join(home, ".weatherchat", "tokens.db")
}

// defaultSessionDB is keyed by the parent process so each terminal gets its
// own file, the way each browser tab gets its own session storage.
func defaultSessionDB() string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("weatherchat-session-%d.db", os.Getppid()))
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getenvLevel(key string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(getenvDefault(key, "info"))); err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return lvl, nil
}
