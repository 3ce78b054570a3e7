package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/efreitasn/tradeledger/internal/config"
	"github.com/efreitasn/tradeledger/internal/engine"
	"github.com/efreitasn/tradeledger/internal/fallback"
	"github.com/efreitasn/tradeledger/internal/handler"
	"github.com/efreitasn/tradeledger/internal/kafka"
	"github.com/efreitasn/tradeledger/internal/logging"
	"github.com/efreitasn/tradeledger/internal/metrics"
	"github.com/efreitasn/tradeledger/internal/publisher"
	"github.com/efreitasn/tradeledger/internal/service"
	"github.com/efreitasn/tradeledger/internal/store"
)

const failureKeyPrefix = "tradeledger:failures"

func main() {
	healthcheck := flag.Bool("healthcheck", false, "Run health check against running server")
	flag.Parse()

	// Handle -healthcheck flag: HTTP GET to localhost:PORT/healthz, exit 0/1.
	if *healthcheck {
		port := os.Getenv("PORT")
		if port == "" {
			port = "8080"
		}
		resp, err := http.Get(fmt.Sprintf("http://localhost:%s/healthz", port))
		if err != nil || resp.StatusCode != http.StatusOK {
			os.Exit(1)
		}
		os.Exit(0)
	}

	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// Record store.
	var trades interface {
		service.TradeStore
		engine.ExpiryStore
	}
	if cfg.DatabaseURL != "" {
		pool, err := store.ConnectPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect trade db: %w", err)
		}
		defer pool.Close()
		pg := store.NewPostgresTradeStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate trade db: %w", err)
		}
		trades = pg
		logger.Info("using postgres trade store")
	} else {
		trades = store.NewMemoryTradeStore()
		logger.Info("using in-memory trade store")
	}

	// History mirror.
	var history service.HistoryStore
	if cfg.HistoryDatabaseURL != "" {
		db, err := store.OpenHistoryDB(cfg.HistoryDatabaseURL)
		if err != nil {
			return err
		}
		if sqlDB, err := db.DB(); err == nil {
			defer sqlDB.Close()
		}
		gh := store.NewGormHistoryStore(db)
		if err := gh.Migrate(); err != nil {
			return fmt.Errorf("migrate history db: %w", err)
		}
		history = gh
	} else {
		history = store.NewMemoryHistoryStore()
	}

	// Fallback sink.
	var recorder fallback.Recorder = fallback.NewLogRecorder(logger)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable at startup", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		recorder = fallback.Multi{recorder, fallback.NewRedisRecorder(rdb, failureKeyPrefix, cfg.RedisFailureListMax)}
	}

	tradeSvc := service.NewTradeService(trades, history, recorder, logger, m)
	sweeper := engine.NewExpirySweeper(cfg.SweepInterval, trades, logger, m)

	// Event channel, publisher and ingest consumer.
	var announcer service.Announcer
	var channel *kafka.Channel
	consumerDone := make(chan struct{})
	if cfg.KafkaEnabled() {
		if cfg.KafkaEnsureTopic {
			topics := []string{cfg.KafkaTopic}
			if cfg.KafkaEventsTopic != "" {
				topics = append(topics, cfg.KafkaEventsTopic)
			}
			if err := kafka.EnsureTopics(ctx, cfg.KafkaBrokers, cfg.KafkaPartitions, topics...); err != nil {
				logger.Warn("ensure topics", zap.Strings("topics", topics), zap.Error(err))
			}
		}

		channel = kafka.NewChannel(cfg.KafkaBrokers, logger)
		pub := publisher.New(channel, recorder, publisher.Config{
			DefaultTopic: cfg.KafkaTopic,
			MaxAttempts:  cfg.PublishMaxAttempts,
			Backoff: publisher.Backoff{
				Min:    cfg.PublishBackoffMin,
				Max:    cfg.PublishBackoffMax,
				Factor: 2,
				Jitter: 0.2,
			},
			AttemptTimeout:   cfg.PublishAttemptTimeout,
			FailureThreshold: cfg.BreakerFailureThreshold,
			Cooldown:         cfg.BreakerCooldown,
		}, logger, m)
		announcer = pub
		if cfg.KafkaEventsTopic != "" {
			tradeSvc.AnnounceTo(pub, cfg.KafkaEventsTopic)
		}

		consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID, tradeSvc, logger)
		go func() {
			defer close(consumerDone)
			if err := consumer.Run(ctx); err != nil {
				logger.Error("ingest consumer stopped", zap.Error(err))
			}
		}()
		logger.Info("kafka enabled",
			zap.Strings("brokers", cfg.KafkaBrokers),
			zap.String("topic", cfg.KafkaTopic),
			zap.String("events_topic", cfg.KafkaEventsTopic),
		)
	} else {
		close(consumerDone)
	}

	go sweeper.Start(ctx)

	router := handler.NewRouter(tradeSvc, sweeper, announcer, registry, logger)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	// Graceful shutdown: stop HTTP and consumer intake, let in-flight
	// publishes finish, then flush the writers.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	stop()
	<-consumerDone
	tradeSvc.Wait()
	if channel != nil {
		if err := channel.Close(); err != nil {
			logger.Error("close kafka writers", zap.Error(err))
		}
	}

	logger.Info("server stopped")
	return nil
}
