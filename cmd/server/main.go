package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	obmetrics "chronicle/internal/outbox/metrics"
	outboxpg "chronicle/internal/outbox/postgres"
	"chronicle/internal/outbox/worker"
	"chronicle/internal/platform/config"
	"chronicle/internal/platform/database"
	"chronicle/internal/platform/health"
	"chronicle/internal/platform/kafka/producer"
	"chronicle/internal/platform/logger"
	platformredis "chronicle/internal/platform/redis"
	"chronicle/internal/sentinel"
)

// eventPublisher is satisfied by both the Kafka producer and the noop
// producer, so the relay wiring is identical whether or not brokers are
// configured.
type eventPublisher interface {
	Produce(ctx context.Context, msg *producer.Message) error
	Healthy(ctx context.Context) bool
	Close() error
}

// main runs the outbox relay and the operational HTTP surface. The store and
// repository APIs are consumed as libraries by the services built on top.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)

	log.Info("initializing chronicle",
		"addr", cfg.Addr,
		"outbox_topic", cfg.OutboxTopic,
	)

	dbCfg := database.DefaultConfig()
	dbCfg.URL = cfg.DatabaseURL
	pool, err := database.New(dbCfg)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close() //nolint:errcheck // process is exiting

	prometheus.MustRegister(collectors.NewDBStatsCollector(pool.DB(), "chronicle"))

	var prod eventPublisher
	if cfg.KafkaBrokers != "" {
		p, err := producer.New(producer.Config{Brokers: cfg.KafkaBrokers}, log)
		if err != nil {
			log.Error("failed to create kafka producer", "error", err)
			os.Exit(1)
		}
		prod = p
	} else {
		log.Warn("kafka brokers not configured, outbox entries will be discarded")
		prod = producer.NewNoopProducer()
	}
	defer prod.Close() //nolint:errcheck // process is exiting

	outboxStore := outboxpg.New(pool.DB())
	relay := worker.New(outboxStore, prod,
		worker.WithTopic(cfg.OutboxTopic),
		worker.WithPollInterval(cfg.OutboxPollInterval),
		worker.WithBatchSize(cfg.OutboxBatchSize),
		worker.WithMetrics(obmetrics.New()),
		worker.WithLogger(log),
	)
	relay.Start()

	checks := map[string]health.Checker{
		"postgres": pool.Health,
		"kafka": func(ctx context.Context) error {
			if !prod.Healthy(ctx) {
				return fmt.Errorf("kafka brokers unreachable: %w", sentinel.ErrUnavailable)
			}
			return nil
		},
	}

	redisClient, err := platformredis.New(cfg.RedisURL)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close() //nolint:errcheck // process is exiting
		checks["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Method(http.MethodGet, "/healthz", health.NewHandler(checks))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	log.Info("starting http server", "addr", cfg.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown on SIGINT
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	log.Info("shutting down gracefully")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("http shutdown failed", "error", err)
	}
	if err := relay.Stop(ctx); err != nil {
		log.Error("outbox relay shutdown failed", "error", err)
	}

	log.Info("server stopped")
}
