package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bsm/redislock"
	"github.com/shrenik7/occasion-notifier/internal/api"
	"github.com/shrenik7/occasion-notifier/internal/config"
	"github.com/shrenik7/occasion-notifier/internal/engine"
	"github.com/shrenik7/occasion-notifier/internal/jobs"
	"github.com/shrenik7/occasion-notifier/internal/store"
	"github.com/shrenik7/occasion-notifier/internal/strategy"
	ws "github.com/shrenik7/occasion-notifier/internal/websocket"
	"github.com/shrenik7/occasion-notifier/internal/worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// Initialize PostgreSQL
	pgStore, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pgStore.Close()
	logger.Info("connected to PostgreSQL")

	// Run database migrations
	if err := pgStore.RunMigrations(ctx, "migrations"); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database migrations applied")

	// Initialize Redis
	redisStore, err := store.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisStore.Close()
	logger.Info("connected to Redis")

	redisClient := redisStore.Client()
	locker := redislock.New(redisClient)

	// Strategy registry — adding a message kind happens here and only here.
	registry := strategy.NewRegistry()
	registry.Register(strategy.NewBirthday(cfg.BirthdaySendHour))
	registry.Register(strategy.NewAnniversary(cfg.AnniversarySendHour))

	// Caches
	subscriberCache := store.NewSubscriberCache(redisClient, pgStore, time.Minute, logger)
	matchCache := store.NewMatchCache(redisClient, logger)

	// Delivery machinery
	queue := engine.NewQueue(redisClient, logger)
	breaker := engine.NewCircuitBreaker(redisClient, "delivery", cfg.CircuitBreaker, logger)
	limiter := engine.NewRateLimiter(redisClient, logger)

	sender := worker.NewSender(pgStore, subscriberCache, breaker, limiter, worker.SenderConfig{
		DeliveryURL:      cfg.DeliveryURL,
		Timeout:          cfg.DeliveryTimeout,
		MaxRetries:       cfg.MaxRetries,
		TransportRetries: cfg.TransportRetries,
		BackoffBase:      cfg.RetryBackoffBase,
		BackoffMax:       cfg.RetryBackoffMax,
		RateLimitPerSec:  cfg.RateLimitPerSec,
	}, logger)

	pool := worker.NewPool(cfg.NumWorkers, sender, logger)
	dispatcher := worker.NewDispatcher(redisClient, pool, logger)

	workerCtx, stopWorkers := context.WithCancel(ctx)
	pool.Start(workerCtx)
	go dispatcher.Start(workerCtx)

	// Jobs
	precalc := jobs.NewPrecalc(pgStore, pgStore, registry, matchCache, locker, cfg.JobTimeout, logger)
	enqueue := jobs.NewEnqueue(pgStore, queue, cfg.EnqueueLookahead, locker, cfg.JobTimeout, logger)
	recovery := jobs.NewRecovery(pgStore, queue, cfg.RecoveryGrace, locker, cfg.JobTimeout, logger)
	rescheduler := jobs.NewRescheduler(pgStore, registry, logger)

	// WebSocket hub streaming job-run stats
	hub := ws.NewHub(logger)
	go hub.Run()

	scheduler := jobs.NewScheduler(cfg.JobTimeout, hub, logger)
	if err := scheduler.AddCron(cfg.DailyAnchor, precalc); err != nil {
		logger.Error("failed to schedule precalculation job", "error", err)
		os.Exit(1)
	}
	scheduler.AddInterval(cfg.EnqueueInterval, enqueue)
	scheduler.AddInterval(cfg.RecoveryInterval, recovery)
	scheduler.Start()

	// Setup router
	router := api.NewRouter(api.RouterDeps{
		Store:       pgStore,
		Cache:       subscriberCache,
		Rescheduler: rescheduler,
		Jobs:        []jobs.Job{precalc, enqueue, recovery},
		Breaker:     breaker,
		Queue:       queue,
		Hub:         hub,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	scheduler.Stop()
	stopWorkers()
	pool.Stop()

	logger.Info("server stopped")
}
