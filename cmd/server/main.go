package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"livesync/internal/livestream"
	"livesync/internal/platform/config"
	"livesync/internal/platform/events"
	"livesync/internal/platform/logger"
	"livesync/internal/platform/metrics"
	"livesync/internal/tokenstore"
	"livesync/internal/youtube"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
)

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")
	syncEnabled := config.GetEnvBool("SYNC_ENABLED", true)
	syncInterval := config.GetEnvDuration("SYNC_INTERVAL", time.Minute)
	shutdownTimeout := config.GetEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	backend := config.GetEnv("REGISTRY_BACKEND", "memory")
	tokenStore := config.GetEnv("TOKEN_STORE", "env")

	log := logger.New(logLevel, logFormat)
	met := metrics.New()
	ctx := context.Background()

	var redisClient *redis.Client
	if backend == "redis" || tokenStore == "redis" {
		var err error
		redisClient, err = livestream.NewRedisClient(ctx, livestream.RedisOptions{
			Addr:     config.GetEnv("REDIS_ADDR", "localhost:6379"),
			Password: config.GetEnv("REDIS_PASSWORD", ""),
			DB:       config.GetEnvInt("REDIS_DB", 0),
		})
		if err != nil {
			log.Error("redis unavailable", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
	}

	store, err := newStore(ctx, backend, redisClient)
	if err != nil {
		log.Error("registry backend init failed", "backend", backend, "error", err)
		os.Exit(1)
	}
	reg := livestream.NewRegistry(store)

	var tokens tokenstore.Source = tokenstore.Static(config.GetEnv("YOUTUBE_ACCESS_TOKEN", ""))
	if tokenStore == "redis" {
		tokens = tokenstore.NewRedisSource(redisClient, config.GetEnv("YOUTUBE_TOKEN_KEY", "livesync:youtube:token"))
	}

	yt := youtube.NewClient(tokens, youtube.Options{
		BaseURL:    config.GetEnv("YOUTUBE_API_BASE_URL", youtube.DefaultBaseURL),
		HTTPClient: &http.Client{Timeout: config.GetEnvDuration("HTTP_TIMEOUT", 30*time.Second)},
		Privacy:    config.GetEnv("BROADCAST_PRIVACY", "unlisted"),
		Logger:     log.With(slog.String("component", "youtube")),
		Metrics:    met,
	})

	var sink events.Sink = events.NewLogSink(log.With(slog.String("component", "events")))
	if name := config.GetEnv("KINESIS_STREAM_NAME", ""); name != "" {
		ks, err := events.NewKinesisSink(config.GetEnv("AWS_REGION", "us-east-1"), name)
		if err != nil {
			log.Error("kinesis sink init failed", "error", err)
			os.Exit(1)
		}
		sink = ks
	}

	tasks := livestream.NewTaskRunner(log.With(slog.String("component", "tasks")), met)
	svc := livestream.NewService(reg, yt, livestream.Deps{
		Tasks:   tasks,
		Events:  sink,
		Log:     log,
		Metrics: met,
		Defaults: livestream.Defaults{
			AccessTier: config.GetEnv("DEFAULT_ACCESS_TIER", "free"),
			Instructor: config.GetEnv("DEFAULT_INSTRUCTOR", ""),
		},
	})
	h := livestream.NewHandler(svc, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() {
			live, _ := reg.CountByStatus(r.Context(), livestream.StatusLive)
			scheduled, _ := reg.CountByStatus(r.Context(), livestream.StatusScheduled)
			met.SetStreamCounts(live, scheduled)
		}).ServeHTTP(w, r)
	})
	h.Register(r)

	var poller *livestream.Poller
	if syncEnabled {
		poller = livestream.NewPoller(svc.Reconciler(), syncInterval, log.With(slog.String("component", "poller")))
		if err := poller.Start(ctx); err != nil {
			log.Error("poller start failed", "error", err)
			os.Exit(1)
		}
	}

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", port,
		"registry_backend", backend,
		"token_store", tokenStore,
		"sync_enabled", syncEnabled,
		"sync_interval", syncInterval.String(),
		"log_level", logLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
	}
	if poller != nil {
		poller.Stop()
	}
	if err := tasks.Shutdown(shutdownCtx); err != nil {
		log.Warn("background tasks did not finish", "error", err)
	}
	if n := len(svc.Cleanup().Pending()); n > 0 {
		log.Warn("orphaned external resources left in cleanup queue", "count", n)
	}

	log.Info("server stopped")
}

func newStore(ctx context.Context, backend string, redisClient *redis.Client) (livestream.Store, error) {
	switch backend {
	case "memory":
		return livestream.NewInMemoryStore(), nil
	case "redis":
		return livestream.NewRedisStore(redisClient, config.GetEnv("REDIS_KEY_PREFIX", "livesync")), nil
	case "dynamodb":
		db, err := livestream.NewDynamoDBClient(
			config.GetEnv("AWS_REGION", "us-east-1"),
			config.GetEnv("DYNAMODB_ENDPOINT", ""),
		)
		if err != nil {
			return nil, err
		}
		s := livestream.NewDynamoDBStore(db, config.GetEnv("DYNAMODB_TABLE_NAME", "livesync-streams"))
		if err := s.EnsureTable(ctx); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown registry backend %q", backend)
	}
}
