package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/samknelson/sirius-dispatch/internal/bootstrap"
	"github.com/samknelson/sirius-dispatch/internal/config"
	"github.com/samknelson/sirius-dispatch/internal/event"
	"github.com/samknelson/sirius-dispatch/internal/handler"
	infraredis "github.com/samknelson/sirius-dispatch/internal/infra/redis"
	"github.com/samknelson/sirius-dispatch/internal/observability"
	"github.com/samknelson/sirius-dispatch/internal/queue"
	"github.com/samknelson/sirius-dispatch/internal/service"
	"github.com/samknelson/sirius-dispatch/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// consumerPrefetch is per consumer; WORKER_CONCURRENCY consumers run in parallel.
const (
	consumerPrefetch = 1
	shutdownTimeout  = 15 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, "sirius-dispatch-worker")
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("worker stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	if cfg.EventTransport != config.EventTransportRabbitMQ {
		return errors.New("worker requires EVENT_TRANSPORT=rabbitmq")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	storage, err := bootstrap.OpenStorage(cfg, logger)
	if err != nil {
		return fmt.Errorf("storage initialization failed: %w", err)
	}
	defer storage.Close() //nolint:errcheck

	rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close() //nolint:errcheck

	metrics := observability.NewMetrics()
	bus := event.NewBus(logger.Named("bus"), metrics)

	notifier, err := bootstrap.NewNotifier(ctx, cfg, storage, rdb, logger, metrics)
	if err != nil {
		return err
	}
	bus.Subscribe("notifier", notifier.HandleStatusChanged)

	broker, err := queue.Dial(ctx, cfg.RabbitMQURL, logger.Named("rabbitmq"))
	if err != nil {
		return fmt.Errorf("rabbitmq initialization failed: %w", err)
	}
	consumer := queue.NewRabbitMQConsumer(broker, consumerPrefetch, logger.Named("consumer"))
	defer consumer.Close() //nolint:errcheck

	worker, err := service.NewEventWorker(consumer, bus.Deliver, cfg.WorkerConcurrency, logger.Named("worker"))
	if err != nil {
		return err
	}

	checks := []handler.Check{
		handler.RedisCheck(rdb),
		handler.BrokerCheck("rabbitmq", broker.Healthy),
	}
	if storage.SQL != nil {
		checks = append(checks, handler.SQLCheck(storage.SQL))
	}

	app := fiber.New(fiber.Config{
		AppName:               "sirius-dispatch-worker",
		ErrorHandler:          transport.ErrorHandler(logger),
		DisableStartupMessage: true,
	})
	handler.RegisterHealthRoutes(app, checks...)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("sirius-dispatch worker started",
			zap.Int("concurrency", cfg.WorkerConcurrency),
			zap.String("queue", queue.StatusChangedQueue),
		)
		return worker.Start(gctx)
	})

	g.Go(func() error {
		return app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			logger.Warn("http shutdown failed", zap.Error(err))
		}
		return nil
	})

	return g.Wait()
}
