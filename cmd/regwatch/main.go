// Package main wires together the source monitoring service.
package main

import (
	"context"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcstorage "cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	gcppubsub "cloud.google.com/go/pubsub"

	aiopenai "github.com/regwatch/regwatch/internal/ai/openai"
	"github.com/regwatch/regwatch/internal/api"
	"github.com/regwatch/regwatch/internal/clock/system"
	"github.com/regwatch/regwatch/internal/config"
	coordmem "github.com/regwatch/regwatch/internal/coordination/memory"
	coordredis "github.com/regwatch/regwatch/internal/coordination/redis"
	"github.com/regwatch/regwatch/internal/credentials"
	"github.com/regwatch/regwatch/internal/detect"
	collyfetcher "github.com/regwatch/regwatch/internal/fetcher/colly"
	headlessfetcher "github.com/regwatch/regwatch/internal/fetcher/headless"
	"github.com/regwatch/regwatch/internal/hash/sha256"
	"github.com/regwatch/regwatch/internal/id/uuid"
	"github.com/regwatch/regwatch/internal/limiter"
	"github.com/regwatch/regwatch/internal/logging"
	"github.com/regwatch/regwatch/internal/metrics"
	"github.com/regwatch/regwatch/internal/monitor"
	"github.com/regwatch/regwatch/internal/normalize"
	"github.com/regwatch/regwatch/internal/notify"
	pubmem "github.com/regwatch/regwatch/internal/publisher/memory"
	pubgcp "github.com/regwatch/regwatch/internal/publisher/pubsub"
	queuemem "github.com/regwatch/regwatch/internal/queue/memory"
	"github.com/regwatch/regwatch/internal/scheduler"
	"github.com/regwatch/regwatch/internal/storage/gcs"
	"github.com/regwatch/regwatch/internal/storage/local"
	storemem "github.com/regwatch/regwatch/internal/storage/memory"
	"github.com/regwatch/regwatch/internal/storage/postgres"
	"github.com/regwatch/regwatch/internal/verify"
	"github.com/regwatch/regwatch/internal/worker"
)

// stores groups the persistence interfaces so either Postgres or the
// in-memory store can back the service.
type stores struct {
	sources       monitor.SourceStore
	jobs          monitor.JobStore
	revisions     monitor.RevisionStore
	suppressions  monitor.SuppressionStore
	verifications monitor.VerificationStore
	notifications monitor.NotificationStore
	members       monitor.MemberStore
}

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("service failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	clock := system.New()
	idGen := uuid.New()
	hasher := sha256.New()

	st, cleanup, err := buildStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	coord, coordClose := buildCoordinator(ctx, cfg, logger)
	defer coordClose()

	blobs, err := buildBlobStore(ctx, cfg)
	if err != nil {
		return err
	}

	publisher, pubClose, err := buildPublisher(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer pubClose()

	extractor, err := aiopenai.New(aiopenai.Config{
		APIKey:     cfg.AI.APIKey,
		Model:      cfg.AI.Model,
		Timeout:    cfg.AI.Timeout,
		MaxRetries: cfg.AI.MaxRetries,
	}, logger.Named("ai"))
	if err != nil {
		return fmt.Errorf("ai extractor init: %w", err)
	}

	httpFetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.HTTP.UserAgent,
		Timeout:   cfg.HTTP.Timeout,
	})
	var headless monitor.Fetcher
	headlessFetcher, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
		MaxParallel:       cfg.Headless.MaxParallel,
		UserAgent:         cfg.HTTP.UserAgent,
		NavigationTimeout: cfg.Headless.NavTimeout,
		WaitAfterReady:    cfg.Headless.WaitAfter,
	})
	if err != nil {
		logger.Warn("headless fetcher init failed, rendered sources will error", zap.Error(err))
	} else {
		headless = headlessFetcher
	}

	var decryptor monitor.CredentialDecryptor
	if cfg.Credentials.Key != "" {
		key, err := base64.StdEncoding.DecodeString(cfg.Credentials.Key)
		if err != nil {
			return fmt.Errorf("decode credentials key: %w", err)
		}
		decryptor, err = credentials.NewDecryptor(key)
		if err != nil {
			return fmt.Errorf("credentials decryptor init: %w", err)
		}
	}

	rateLimiter := limiter.New(coord, limiter.Config{
		TTL:     cfg.Limiter.TTL,
		MaxWait: cfg.Limiter.MaxWait,
	}, logger.Named("limiter"))

	detector := detect.NewDetector(extractor, st.suppressions, logger.Named("detect"))

	pipeline := worker.NewPipeline(
		httpFetcher,
		headless,
		rateLimiter,
		decryptor,
		normalize.New(),
		extractor,
		detector,
		blobs,
		st.revisions,
		hasher,
		idGen,
		clock,
		worker.PipelineConfig{BlobPrefix: cfg.Storage.Prefix},
		logger.Named("pipeline"),
	)

	notifier := notify.NewDispatcher(
		st.members,
		st.notifications,
		notify.NewPublisherNotifier(publisher, cfg.PubSub.Topic),
		idGen,
		clock,
		logger.Named("notify"),
	)

	queue := queuemem.NewQueue(cfg.Worker.QueueDepth)
	policy := monitor.NewRetryPolicy(cfg.Worker.MaxAttempts, cfg.Worker.BaseDelay, cfg.Worker.MaxDelay)

	var workers []*worker.Worker
	for i := 0; i < cfg.Worker.Concurrency; i++ {
		workers = append(workers, worker.New(
			queue,
			st.jobs,
			st.sources,
			pipeline,
			policy,
			coord,
			notifier,
			publisher,
			clock,
			worker.Config{Topic: cfg.PubSub.Topic},
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	pool := worker.NewPool(queue, workers)

	sched := scheduler.New(st.sources, st.jobs, queue, coord, idGen, clock, scheduler.Config{
		Interval:  cfg.Scheduler.Interval,
		LockTTL:   cfg.Scheduler.LockTTL,
		BatchSize: cfg.Scheduler.BatchSize,
	}, logger.Named("scheduler"))

	verifier := verify.NewService(st.revisions, st.verifications, st.suppressions, idGen, clock, logger.Named("verify"))

	apiServer := api.NewServer(
		st.sources, st.jobs, st.revisions, st.suppressions,
		coord, sched, verifier, logger.Named("api"),
	)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("worker pool started", zap.Int("concurrency", cfg.Worker.Concurrency))
		pool.Run(ctx)
	}()
	go func() {
		logger.Info("scheduler started", zap.Duration("interval", cfg.Scheduler.Interval))
		sched.Run(ctx)
	}()
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	queue.Close()
	logger.Info("shutdown complete")
	return nil
}

// buildStores connects Postgres when a DSN is configured and falls back
// to the in-memory store for local development.
func buildStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (stores, func(), error) {
	if cfg.DB.DSN == "" {
		logger.Warn("db.dsn not set, using in-memory persistence")
		mem := storemem.NewStore()
		return stores{
			sources:       mem,
			jobs:          mem,
			revisions:     mem,
			suppressions:  mem,
			verifications: mem,
			notifications: mem,
			members:       mem,
		}, func() {}, nil
	}

	pool, err := postgres.Connect(ctx, postgres.Config{
		DSN:      cfg.DB.DSN,
		MaxConns: cfg.DB.MaxConns,
	})
	if err != nil {
		return stores{}, nil, err
	}
	cleanup := pool.Close

	sourceStore, err := postgres.NewSourceStore(pool)
	if err != nil {
		cleanup()
		return stores{}, nil, err
	}
	jobStore, err := postgres.NewJobStore(pool)
	if err != nil {
		cleanup()
		return stores{}, nil, err
	}
	revisionStore, err := postgres.NewRevisionStore(pool)
	if err != nil {
		cleanup()
		return stores{}, nil, err
	}
	suppressionStore, err := postgres.NewSuppressionStore(pool)
	if err != nil {
		cleanup()
		return stores{}, nil, err
	}
	verificationStore, err := postgres.NewVerificationStore(pool)
	if err != nil {
		cleanup()
		return stores{}, nil, err
	}
	notificationStore, err := postgres.NewNotificationStore(pool)
	if err != nil {
		cleanup()
		return stores{}, nil, err
	}
	memberStore, err := postgres.NewMemberStore(pool)
	if err != nil {
		cleanup()
		return stores{}, nil, err
	}
	return stores{
		sources:       sourceStore,
		jobs:          jobStore,
		revisions:     revisionStore,
		suppressions:  suppressionStore,
		verifications: verificationStore,
		notifications: notificationStore,
		members:       memberStore,
	}, cleanup, nil
}

// coordinator is the shared coordination surface: dispatch lock, origin
// busy markers, and the dead letter queue.
type coordinator interface {
	monitor.Locker
	monitor.BusyMarker
	monitor.DeadLetterQueue
}

func buildCoordinator(ctx context.Context, cfg *config.Config, logger *zap.Logger) (coordinator, func()) {
	coord := coordredis.New(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := coord.Ping(pingCtx); err != nil {
		logger.Warn("redis unreachable, using in-process coordination",
			zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		if closeErr := coord.Close(); closeErr != nil {
			logger.Warn("redis close failed", zap.Error(closeErr))
		}
		return coordmem.New(), func() {}
	}
	return coord, func() {
		if err := coord.Close(); err != nil {
			logger.Warn("redis close failed", zap.Error(err))
		}
	}
}

func buildBlobStore(ctx context.Context, cfg *config.Config) (monitor.BlobStore, error) {
	switch cfg.Storage.Provider {
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init: %w", err)
		}
		return gcs.New(client, gcs.Config{Bucket: cfg.Storage.Bucket})
	default:
		return local.New(local.Config{BaseDir: cfg.Storage.BaseDir})
	}
}

func buildPublisher(ctx context.Context, cfg *config.Config, logger *zap.Logger) (monitor.Publisher, func(), error) {
	if cfg.PubSub.Provider != "gcp" {
		logger.Info("using in-memory publisher")
		return pubmem.New(), func() {}, nil
	}
	client, err := gcppubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("pubsub client init: %w", err)
	}
	return pubgcp.New(client), func() {
		if err := client.Close(); err != nil {
			logger.Warn("pubsub close failed", zap.Error(err))
		}
	}, nil
}
