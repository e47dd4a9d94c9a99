package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	httpapi "github.com/sketchsync/sketchsync/internal/api/http"
	"github.com/sketchsync/sketchsync/internal/auth"
	"github.com/sketchsync/sketchsync/internal/config"
	"github.com/sketchsync/sketchsync/internal/eventbus"
	"github.com/sketchsync/sketchsync/internal/metrics"
	"github.com/sketchsync/sketchsync/internal/observer"
	"github.com/sketchsync/sketchsync/internal/realtime"
	"github.com/sketchsync/sketchsync/internal/resilience"
	"github.com/sketchsync/sketchsync/internal/storage"
	"github.com/sketchsync/sketchsync/lib/logger/slogpretty"
)

func main() {
	_ = godotenv.Load(".env")

	cfg := config.MustLoad()
	log := setupLogger(cfg.Env)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	dbExec := resilience.NewExecutor(log, executorConfig("database", cfg.Resilience.Database, storage.IsExpectedError))
	apiExec := resilience.NewExecutor(log, executorConfig("api", cfg.Resilience.API, nil))
	extExec := resilience.NewExecutor(log, executorConfig("external", cfg.Resilience.External, nil))
	for _, exec := range []*resilience.Executor{dbExec, apiExec, extExec} {
		exec := exec
		m.WatchBreaker(exec.Name(), func() float64 { return float64(exec.State()) })
	}

	store, err := buildStore(cfg.Database, dbExec)
	if err != nil {
		log.Error("failed to set up storage", slog.Any("error", err))
		os.Exit(1)
	}

	bus := eventbus.New(log)
	defer bus.Close()

	registry := realtime.NewRegistry(log, m, cfg.Realtime.OfflineQueueSize)

	audit := observer.NewAudit(10000)
	analytics := observer.NewAnalytics()
	notification := observer.NewNotification(log, registry)
	perf := observer.NewPerformance(log, m)

	bus.Subscribe(eventbus.TypeWildcard, audit)
	bus.Subscribe(eventbus.TypeWildcard, analytics)
	for _, eventType := range []string{"project.joined", "project.left", "design.updated", "chat.message"} {
		bus.Subscribe(eventType, notification)
	}
	for _, eventType := range []string{"system.warning", "system.error"} {
		bus.Subscribe(eventType, perf)
	}

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	authSvc := auth.NewService(tokens, store, log)
	authz := auth.NewProjectAuthorizer(store, log)

	rooms := realtime.NewRoomManager(log, registry, store, authz, bus, m)

	go sweepStale(log, registry, rooms, cfg.Realtime)

	collab := httpapi.NewCollabController(log, authSvc, registry, rooms, m, httpapi.CollabOptions{
		SendBufferSize: cfg.Realtime.SendBufferSize,
		MessageRate:    cfg.Realtime.MessageRate,
		MessageBurst:   cfg.Realtime.MessageBurst,
	})
	ops := httpapi.NewOpsController(
		[]*resilience.Executor{dbExec, apiExec, extExec},
		bus, audit, analytics, perf, registry, rooms,
	)

	router := httpapi.SetupRouter(collab, ops, cfg.HTTP.AllowedOrigins,
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	log.Info("starting application",
		slog.String("env", cfg.Env),
		slog.String("addr", cfg.HTTP.Address),
	)
	if err := router.Run(cfg.HTTP.Address); err != nil {
		log.Error("http server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = setupPrettySlog()
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = setupPrettySlog()
	}

	return log
}

func setupPrettySlog() *slog.Logger {
	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{
			Level: slog.LevelDebug,
		},
	}

	handler := opts.NewPrettyHandler(os.Stdout)

	return slog.New(handler)
}

// executorConfig builds one dependency class from its config section.
// Expected errors (not-found, duplicate) never trip the breaker or
// trigger a retry.
func executorConfig(name string, d config.DependencyConfig, isExpected func(error) bool) resilience.ExecutorConfig {
	cfg := resilience.ExecutorConfig{
		Name: name,
		Breaker: resilience.BreakerConfig{
			FailureThreshold: d.FailureThreshold,
			RecoveryTimeout:  d.RecoveryTimeout,
			SuccessThreshold: d.SuccessThreshold,
			IsExpected:       isExpected,
		},
		Retry: resilience.RetryConfig{
			MaxRetries: d.MaxRetries,
			BaseDelay:  d.BaseDelay,
			MaxDelay:   d.MaxDelay,
			Jitter:     true,
		},
		Timeout: d.Timeout,
	}
	if isExpected != nil {
		cfg.Retry.IsRetryable = func(err error) bool { return !isExpected(err) }
	}
	return cfg
}

func buildStore(cfg config.DatabaseConfig, exec *resilience.Executor) (storage.RecordStore, error) {
	if cfg.DSN == "" {
		return storage.NewResilient(storage.NewMemoryStore(), exec), nil
	}

	db, err := connectDatabase(cfg)
	if err != nil {
		return nil, err
	}
	return storage.NewResilient(storage.NewPostgresStore(db), exec), nil
}

func connectDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database dsn is empty")
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	return db, nil
}

// sweepStale periodically drops connections with no inbound activity,
// cleaning up after clients that vanished without a close frame.
func sweepStale(log *slog.Logger, registry *realtime.Registry, rooms *realtime.RoomManager, cfg config.RealtimeConfig) {
	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for range ticker.C {
		stale := registry.Stale(cfg.StaleAfter)
		for _, conn := range stale {
			log.Info("dropping stale connection",
				slog.String("conn_id", conn.ID),
				slog.String("user_id", conn.UserID),
				slog.Time("last_seen", conn.LastSeen()),
			)
			rooms.Disconnect(context.Background(), conn)
		}
	}
}
