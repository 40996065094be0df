package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/config"
	"github.com/stemsi/exstem-cbt/internal/database"
	"github.com/stemsi/exstem-cbt/internal/handler"
	"github.com/stemsi/exstem-cbt/internal/logger"
	"github.com/stemsi/exstem-cbt/internal/metrics"
	"github.com/stemsi/exstem-cbt/internal/middleware"
	"github.com/stemsi/exstem-cbt/internal/notifier"
	"github.com/stemsi/exstem-cbt/internal/repository"
	"github.com/stemsi/exstem-cbt/internal/repository/memory"
	"github.com/stemsi/exstem-cbt/internal/router"
	"github.com/stemsi/exstem-cbt/internal/service"
	"github.com/stemsi/exstem-cbt/internal/validator"
	"github.com/stemsi/exstem-cbt/internal/worker"
)

const poolStatsInterval = 15 * time.Second

// stores is the storage wiring chosen by STORAGE_DRIVER.
type stores struct {
	exams      service.ExamStore
	attempts   service.AttemptStore
	enrollment service.EnrollmentChecker
	notifier   service.ResultNotifier
	events     service.EventPublisher
	pool       *pgxpool.Pool
	rdb        *redis.Client
}

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("storage", cfg.StorageDriver).
		Str("log_level", cfg.LogLevel).
		Msg("Starting ExStem CBT attempt engine")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Metrics ───────────────────────────────────────────────────────
	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New(prometheus.DefaultRegisterer)
	}

	// ─── Storage ───────────────────────────────────────────────────────
	var st stores
	switch cfg.StorageDriver {
	case config.StorageDriverPostgres:
		st = connectPostgres(ctx, cfg, log)
		defer st.pool.Close()
		defer st.rdb.Close()
	case config.StorageDriverMemory:
		st = openMemory(cfg, log)
	default:
		log.Fatal().Str("driver", cfg.StorageDriver).Msg("Unknown STORAGE_DRIVER")
	}

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg.JWTSecret, cfg.JWTExpiry)
	opts := []service.AttemptServiceOption{
		service.WithMetrics(m),
		service.WithNotifyTimeout(cfg.NotifyTimeout),
	}
	if st.events != nil {
		opts = append(opts, service.WithEvents(st.events))
	}
	attemptService := service.NewAttemptService(
		st.exams,
		st.attempts,
		st.enrollment,
		st.notifier,
		service.NewSampler(nil),
		log,
		opts...,
	)

	limiter := middleware.NewRateLimiter(st.rdb, cfg.AnswerRateLimit, time.Minute, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Attempt:      handler.NewAttemptHandler(attemptService),
		AdminAttempt: handler.NewAdminAttemptHandler(attemptService),
		WS:           handler.NewWSHandler(attemptService, limiter, log, cfg.AllowedOrigins),
		Monitor:      handler.NewMonitorHandler(st.rdb, st.exams, attemptService, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	workersDone := make(chan struct{})

	if st.pool != nil {
		notificationWorker := worker.NewNotificationWorker(st.pool, st.rdb, log)
		go func() {
			defer close(workersDone)
			notificationWorker.Start(workerCtx)
		}()
		if m != nil {
			go reportPoolStats(workerCtx, st.pool, m)
		}
	} else {
		close(workersDone)
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, cfg, m, limiter)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop background workers and wait for the notification buffer to flush.
	workerCancel()
	select {
	case <-workersDone:
	case <-time.After(5 * time.Second):
		log.Warn().Msg("Workers did not stop in time")
	}

	log.Info().Msg("Shutdown complete")
}

func connectPostgres(ctx context.Context, cfg *config.Config, log zerolog.Logger) stores {
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}

	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}

	examRepo := repository.NewExamRepository(pool)
	cached := repository.NewCachedExamRepository(examRepo, rdb, cfg.ExamCacheTTL, log)

	// Load active exams into Redis BEFORE accepting traffic so the first
	// wave of StartAttempt calls does not stampede PostgreSQL.
	ids, err := examRepo.ListActiveIDs(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Listing active exams for cache prewarm failed")
	}
	for _, id := range ids {
		if err := cached.Warm(ctx, id); err != nil {
			log.Warn().Err(err).Str("exam_id", id.String()).Msg("Cache prewarm failed")
		}
	}
	log.Info().Int("exams", len(ids)).Msg("Exam cache prewarmed")

	return stores{
		exams:      cached,
		attempts:   repository.NewAttemptRepository(pool),
		enrollment: repository.NewEnrollmentRepository(pool),
		notifier:   notifier.NewQueueNotifier(rdb),
		events:     notifier.NewEventPublisher(rdb),
		pool:       pool,
		rdb:        rdb,
	}
}

func openMemory(cfg *config.Config, log zerolog.Logger) stores {
	store := memory.NewStore()
	if cfg.MemorySeedFile != "" {
		f, err := os.Open(cfg.MemorySeedFile)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open memory seed")
		}
		n, err := store.LoadSeed(f)
		f.Close()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load memory seed")
		}
		log.Info().Int("exams", n).Str("file", cfg.MemorySeedFile).Msg("Memory store seeded")
	}
	log.Warn().Msg("Using in-memory storage; attempts are lost on restart")

	return stores{
		exams:      store,
		attempts:   store,
		enrollment: store,
		notifier:   notifier.NewLogNotifier(log),
	}
}

func reportPoolStats(ctx context.Context, pool *pgxpool.Pool, m *metrics.Metrics) {
	ticker := time.NewTicker(poolStatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RecordDBPoolStats(pool.Stat())
		}
	}
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
