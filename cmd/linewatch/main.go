package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/liamashdown/linewatch/internal/api"
	"github.com/liamashdown/linewatch/internal/config"
	"github.com/liamashdown/linewatch/internal/dedup"
	"github.com/liamashdown/linewatch/internal/detector"
	"github.com/liamashdown/linewatch/internal/evaluator"
	"github.com/liamashdown/linewatch/internal/pipeline"
	"github.com/liamashdown/linewatch/internal/publish"
	"github.com/liamashdown/linewatch/internal/storage"
)

func main() {
	// Initialize logger
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(os.Stdout)
	log.SetLevel(logrus.InfoLevel)

	log.Info("Starting linewatch service...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}

	log.WithFields(logrus.Fields{
		"environment":       cfg.Environment,
		"lookback_mins":     cfg.WindowLookbackMins,
		"overlap_mins":      cfg.WindowOverlapMins,
		"poll_interval_sec": cfg.PollIntervalSec,
		"group_workers":     cfg.GroupWorkers,
		"redis_enabled":     cfg.RedisEnabled(),
	}).Info("Configuration loaded")

	// Initialize database
	db, err := storage.New(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	log.Info("Database connected")

	// Run auto-migration
	if err := db.AutoMigrate(); err != nil {
		log.WithError(err).Fatal("Failed to run database migrations")
	}

	log.Info("Database migrations complete")

	// Optional Redis: stream publishing and the alert dedup fast path
	var redisClient *redis.Client
	var guard evaluator.Guard
	if cfg.RedisEnabled() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			cancel()
			log.WithError(err).Fatal("Failed to connect to Redis")
		}
		cancel()

		guard = dedup.NewDeduplicator(redisClient, cfg.DedupTTLMins)
		log.Info("Redis connected")
	} else {
		log.Info("Redis disabled, relying on database unique indexes alone")
	}

	// Wire the pipeline
	publisher := createPublisher(redisClient, log)
	det := detector.New(db, cfg.GroupWorkers, log)
	eval := evaluator.New(db, guard, log)
	pipe := pipeline.New(cfg, db, det, eval, publisher, log)

	// Start API and metrics servers
	handler := api.NewHandler(cfg, db, pipe, log)
	go startAPIServer(cfg.HTTPPort, api.NewRouter(cfg, handler), log)
	go startMetricsServer(cfg.MetricsPort, log)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start detection loop
	ticker := time.NewTicker(time.Duration(cfg.PollIntervalSec) * time.Second)
	defer ticker.Stop()

	log.Info("Starting detection loop")

	// Run immediately on startup
	if _, err := pipe.Run(ctx); err != nil {
		log.WithError(err).Error("Pipeline run failed")
	}

	for {
		select {
		case <-ticker.C:
			if _, err := pipe.Run(ctx); err != nil {
				log.WithError(err).Error("Pipeline run failed")
			}
		case sig := <-sigChan:
			log.WithField("signal", sig).Info("Received shutdown signal")
			cancel()
			log.Info("Graceful shutdown complete")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, shutting down")
			return
		}
	}
}

func createPublisher(redisClient *redis.Client, log *logrus.Logger) publish.Publisher {
	if redisClient == nil {
		return publish.NewLogPublisher(log)
	}
	return publish.NewMultiPublisher(
		publish.NewLogPublisher(log),
		publish.NewStreamPublisher(redisClient),
	)
}

func startAPIServer(port int, handler http.Handler, log *logrus.Logger) {
	addr := fmt.Sprintf(":%d", port)
	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 65 * time.Second, // longer than an on-demand run
		IdleTimeout:  15 * time.Second,
	}

	log.WithField("port", port).Info("Starting API server")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Error("API server failed")
	}
}

func startMetricsServer(port int, log *logrus.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf(":%d", port)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	log.WithField("port", port).Info("Starting metrics server")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Error("Metrics server failed")
	}
}
