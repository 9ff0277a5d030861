package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
	"golang.org/x/sync/errgroup"

	apihttp "overlaydispatch/internal/api/http"
	"overlaydispatch/internal/app"
	"overlaydispatch/internal/domain"
	"overlaydispatch/internal/metrics"
	"overlaydispatch/internal/overlayhub"
	"overlaydispatch/internal/pairing"
	"overlaydispatch/internal/purge"
	mongorepo "overlaydispatch/internal/repository/mongo"
	"overlaydispatch/internal/scheduler"
	"overlaydispatch/internal/telemetry"
)

const serviceName = "overlay-dispatch"

func main() {
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), serviceName)
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", serviceName),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.String("mongoDatabase", cfg.MongoDatabase),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(rootCtx, 10*time.Second)
	defer cancel()

	mongoOpts := otelmongo.NewMonitor()
	mongoClient, err := mongorepo.Connect(connectCtx, cfg.MongoURI, options.Client().SetMonitor(mongoOpts))
	if err != nil {
		logger.Error("mongo connect failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := mongoClient.Ping(connectCtx, readpref.Primary()); err != nil {
		logger.Error("mongo ping failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	repo := mongorepo.NewRepository(mongoClient, cfg.MongoDatabase)
	if err := repo.EnsureIndexes(connectCtx); err != nil {
		logger.Warn("mongo ensure indexes failed", slog.String("error", err.Error()))
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Error("redis url invalid", slog.String("error", err.Error()))
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(connectCtx).Err(); err != nil {
		logger.Warn("redis ping failed", slog.String("error", err.Error()))
	}
	pairingStore := pairing.NewStore(redisClient)

	hub := overlayhub.New(repo, logger)

	schedCfg := scheduler.Config{
		LockPadding:           cfg.LockPadding,
		StaleGrace:            cfg.StaleGrace,
		MinBusyLock:           cfg.MinBusyLock,
		SnapshotMaxAge:        cfg.SnapshotMaxAge,
		GuildRunMaxIterations: cfg.GuildRunMaxIterations,
		MemeJobPriority:       cfg.MemeJobPriority,
		DefaultDurationSec:    cfg.DefaultDurationSec,
		APIURL:                cfg.APIURL,
	}

	sched := scheduler.New(rootCtx, repo, hub, logger, schedCfg)
	hub.SetScheduler(sched)
	hub.SetPlaybackStateFunc(func(guildID string, jobID *string, state string, remainingMs *int64) {
		sched.OnPlaybackState(scheduler.PlaybackStateEvent{
			GuildID:     guildID,
			JobID:       jobID,
			State:       scheduler.PlaybackState(state),
			RemainingMs: remainingMs,
		})
	})
	hub.SetMemeJobFactory(cfg.MemeJobPriority, func(ctx context.Context, args domain.CreateJobArgs) (domain.PlaybackJob, error) {
		return repo.CreateJob(ctx, args, time.Now().UTC())
	})

	group, groupCtx := errgroup.WithContext(rootCtx)

	group.Go(func() error {
		return sched.Bootstrap(groupCtx)
	})

	purgeWorker := purge.Worker{
		Store:        repo,
		Logger:       logger,
		Interval:     cfg.PurgeInterval,
		JobRetention: cfg.PlaybackJobRetention,
	}
	group.Go(func() error {
		purgeWorker.Run(groupCtx)
		return nil
	})

	group.Go(func() error {
		hub.Run(groupCtx)
		return nil
	})

	server := apihttp.NewServer(repo, hub, pairingStore,
		apihttp.WithLogger(logger),
		apihttp.WithCORSAllowedOrigins(cfg.CORSAllowedOrigins),
		apihttp.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
		apihttp.WithShowTextDefault(cfg.ShowTextDefault),
	)

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.ListenAndServe()
	}()

	logger.Info("server started", slog.String("addr", cfg.HTTPAddr))

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = server.Close()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", slog.String("error", err.Error()))
	}
	stop()
	if err := group.Wait(); err != nil {
		logger.Warn("background worker error", slog.String("error", err.Error()))
	}
	if err := redisClient.Close(); err != nil {
		logger.Warn("redis close error", slog.String("error", err.Error()))
	}
	if err := mongoClient.Disconnect(context.Background()); err != nil {
		logger.Warn("mongo disconnect error", slog.String("error", err.Error()))
	}

	logger.Info("server stopped")
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	opts := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
