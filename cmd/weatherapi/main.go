package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	httpapi "github.com/i474232898/weather-chat/internal/api/http"
	"github.com/i474232898/weather-chat/internal/config"
	"github.com/i474232898/weather-chat/internal/scheduler"
	"github.com/i474232898/weather-chat/internal/store"
	"github.com/i474232898/weather-chat/internal/weather/providers"
)

func main() {
	// Load configuration.
	cfg, err := config.LoadBackend()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(log)

	// Shared HTTP client for outbound provider calls.
	httpClient := &http.Client{
		Timeout: 10 * time.Second,
	}

	// Providers with resilience (backoff + circuit breaker), tried in order.
	var provs []providers.Provider
	if cfg.OpenWeatherAPIKey != "" {
		provs = append(provs, providers.NewOpenWeatherProvider(httpClient, cfg.OpenWeatherAPIKey))
	}
	if cfg.WeatherAPIKey != "" {
		provs = append(provs, providers.NewWeatherAPIProvider(httpClient, cfg.WeatherAPIKey))
	}
	if len(provs) == 0 {
		log.Warn("no upstream API key configured, serving fixture weather")
		provs = append(provs, providers.NewFixtureProvider())
	}

	deps := httpapi.Deps{
		Users:    store.NewUserStore(),
		History:  store.NewHistoryStore(cfg.HistoryMax, 0),
		Cache:    store.NewWeatherCache(cfg.CacheTTL),
		Revoked:  store.NewRevocationList(),
		Provider: providers.NewChain(log, provs...),
		Tokens:   httpapi.NewTokenIssuer(cfg.JWTSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL),
		Limits: httpapi.Limits{
			AnonRate: cfg.AnonRate,
			UserRate: cfg.UserRate,
			Window:   cfg.RateWindow,
		},
		Logger: log,
	}

	// Scheduler that periodically purges expired cache entries and revocations.
	sched := scheduler.New(log)
	if err := sched.Every(cfg.RevocationSweep, "sweep", deps.Sweep); err != nil {
		log.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}
	defer sched.Stop()

	// Global middleware
	app := httpapi.NewApp(deps, logger.New(), recover.New())

	// Start server with graceful shutdown
	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Error("fiber server stopped", "error", err)
		}
	}()
	log.Info("weatherapi listening", "port", cfg.Port)

	// Wait for termination signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error("error during shutdown", "error", err)
	}
}
