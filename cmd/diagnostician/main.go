package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MikeSquared-Agency/diagnostician/internal/anthropic"
	"github.com/MikeSquared-Agency/diagnostician/internal/api"
	"github.com/MikeSquared-Agency/diagnostician/internal/config"
	"github.com/MikeSquared-Agency/diagnostician/internal/engine"
	"github.com/MikeSquared-Agency/diagnostician/internal/hermes"
	"github.com/MikeSquared-Agency/diagnostician/internal/metrics"
	"github.com/MikeSquared-Agency/diagnostician/internal/retention"
	"github.com/MikeSquared-Agency/diagnostician/internal/session"
	"github.com/MikeSquared-Agency/diagnostician/internal/slack"
	"github.com/MikeSquared-Agency/diagnostician/internal/store"
)

type sessionStore interface {
	session.Store
	retention.Purger
	Close()
}

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	slog.Info("diagnostician starting", "port", cfg.Port, "store", cfg.StoreDriver)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	policy, err := config.LoadPolicy(cfg.PolicyPath)
	if err != nil {
		slog.Error("failed to load policy", "path", cfg.PolicyPath, "error", err)
		os.Exit(1)
	}
	cfg.ApplyTimeouts(&policy, policy)

	// Database
	db, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open store", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("store ready", "driver", cfg.StoreDriver)

	// Anthropic clients: a small model for analysis, the main model for replies
	if cfg.AnthropicAPIKey == "" {
		slog.Error("ANTHROPIC_API_KEY is required")
		os.Exit(1)
	}
	m := metrics.New()
	analyzer := anthropic.NewClient(cfg.AnthropicAPIKey, cfg.AnalyzerModel, anthropic.WithUsageHook(m.ObserveTokens))
	generator := anthropic.NewClient(cfg.AnthropicAPIKey, cfg.AnthropicModel, anthropic.WithUsageHook(m.ObserveTokens))
	slog.Info("anthropic clients ready", "analyzer", cfg.AnalyzerModel, "generator", cfg.AnthropicModel)

	eng := engine.New(analyzer, generator, policy, slog.Default())

	// NATS/Hermes
	hermesClient, err := hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, slog.Default())
	if err != nil {
		slog.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	slog.Info("NATS connected", "url", cfg.NatsURL)

	// Slack poster (optional, without it violations are stored but not reviewed)
	var poster session.ReviewPoster
	if cfg.SlackBotToken != "" && cfg.SlackChannel != "" {
		poster = slack.NewPoster(cfg.SlackBotToken, cfg.SlackChannel, slog.Default())
		slog.Info("slack poster ready", "channel", cfg.SlackChannel)
	} else {
		slog.Warn("slack not configured, running without review loop")
	}

	svc := session.New(eng, db, hermesClient, poster, slog.Default())
	svc.SetMetrics(m)
	svc.SetReviewChannel(cfg.SlackChannel)
	eng.SetReviewSink(svc)

	// Redis session lock (optional, needed when several replicas share a store)
	if cfg.RedisURL != "" {
		locker, err := session.NewRedisLocker(ctx, cfg.RedisURL, slog.Default())
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer locker.Close()
		svc.SetLocker(locker)
		slog.Info("redis session lock ready")
	}

	// Policy hot reload
	if cfg.PolicyPath != "" {
		watcher, err := config.WatchPolicy(ctx, cfg.PolicyPath, cfg, func(p engine.Policy) {
			eng.SetPolicy(p)
			m.PolicyReloaded()
		}, slog.Default())
		if err != nil {
			slog.Warn("policy hot reload disabled", "path", cfg.PolicyPath, "error", err)
		} else {
			defer watcher.Close()
		}
	}

	if err := hermesClient.QueueSubscribe(hermes.SubjectTurnRequested, hermes.QueueGroup, svc.HandleTurnRequest); err != nil {
		slog.Error("failed to subscribe to turn requests", "error", err)
		os.Exit(1)
	}
	if err := hermesClient.Subscribe("swarm.slack.reaction", svc.HandleReaction); err != nil {
		slog.Error("failed to subscribe to slack reactions", "error", err)
		os.Exit(1)
	}

	// Session retention
	if cfg.SessionRetention > 0 {
		sweeper, err := retention.NewSweeper(db, cfg.RetentionSchedule, cfg.SessionRetention, slog.Default())
		if err != nil {
			slog.Error("invalid retention settings", "error", err)
			os.Exit(1)
		}
		sweeper.Start()
		defer sweeper.Stop()
		slog.Info("session retention enabled", "schedule", cfg.RetentionSchedule, "max_age", cfg.SessionRetention)
	}

	// HTTP API
	if cfg.APIToken == "" {
		slog.Warn("DIAGNOSTICIAN_API_TOKEN not set, session routes are unauthenticated")
	}
	srv := api.NewServer(cfg.Port, cfg.APIToken, svc)
	srv.Mount("/metrics", m.Handler())
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	if err := hermesClient.Publish("swarm.agent.diagnostician.registered", map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"port":      cfg.Port,
	}); err != nil {
		slog.Warn("failed to publish registration", "error", err)
	}

	slog.Info("diagnostician ready", "port", cfg.Port)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown", "error", err)
	}
	// Drain turn handlers while the store and the redis lock are still open.
	hermesClient.Close()
	cancel()
	slog.Info("diagnostician stopped")
}

func openStore(ctx context.Context, cfg config.Config) (sessionStore, error) {
	switch cfg.StoreDriver {
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL is required for the postgres store")
		}
		return store.New(ctx, cfg.DatabaseURL)
	case "sqlite":
		return store.NewSQLite(ctx, cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
