package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/i474232898/weather-chat/internal/auth"
	"github.com/i474232898/weather-chat/internal/config"
	"github.com/i474232898/weather-chat/internal/console"
	"github.com/i474232898/weather-chat/internal/kv"
	"github.com/i474232898/weather-chat/internal/scheduler"
	"github.com/i474232898/weather-chat/internal/tokens"
	"github.com/i474232898/weather-chat/internal/transport"
	"github.com/i474232898/weather-chat/internal/weather"
)

func main() {
	cfg, err := config.LoadClient()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	durable, err := openTokenBackend(ctx, cfg)
	if err != nil {
		log.Error("failed to open token storage", "backend", cfg.TokenBackend, "error", err)
		os.Exit(1)
	}
	defer durable.Close()

	sessionStore, err := openSessionStore(cfg)
	if err != nil {
		log.Error("failed to open session storage", "path", cfg.SessionDB, "error", err)
		os.Exit(1)
	}
	defer sessionStore.Close()

	doer := transport.New(&http.Client{Timeout: cfg.HTTPTimeout}, transport.Settings{Name: "weatherapi"}, log)

	presenter := console.NewPresenter(os.Stdout)
	nav := console.NewNavigator()
	sched := scheduler.New(log)
	defer sched.Stop()

	client := auth.NewClient(cfg.APIBase, doer, tokens.NewStore(durable), nav, log)
	session := weather.NewSession(weather.Options{
		BaseURL:       cfg.APIBase,
		RedirectDelay: cfg.RedirectDelay,
		Auth:          client,
		Anonymous:     doer,
		Cache:         sessionStore,
		Presenter:     presenter,
		Navigator:     nav,
		Scheduler:     sched,
		Logger:        log,
	})
	defer session.Close()

	a := &app{
		client:    client,
		session:   session,
		presenter: presenter,
		nav:       nav,
		doer:      doer,
	}
	a.run(ctx, os.Stdin)
}

func openTokenBackend(ctx context.Context, cfg *config.ClientConfig) (kv.Store, error) {
	switch cfg.TokenBackend {
	case config.BackendRedis:
		return kv.NewRedis(ctx, cfg.RedisAddr, "weatherchat:")
	case config.BackendMemory:
		return kv.NewMemory(), nil
	default:
		return kv.NewSQLite(cfg.TokenDB)
	}
}

func openSessionStore(cfg *config.ClientConfig) (kv.Store, error) {
	if cfg.SessionDB == config.BackendMemory {
		return kv.NewMemory(), nil
	}
	return kv.NewSQLite(cfg.SessionDB)
}
