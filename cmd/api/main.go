package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
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

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, "sirius-dispatch-api")
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
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

	checks := []handler.Check{handler.RedisCheck(rdb)}
	if storage.SQL != nil {
		checks = append(checks, handler.SQLCheck(storage.SQL))
	}

	var publisher event.Publisher
	switch cfg.EventTransport {
	case config.EventTransportRabbitMQ:
		broker, err := queue.Dial(ctx, cfg.RabbitMQURL, logger.Named("rabbitmq"))
		if err != nil {
			return fmt.Errorf("rabbitmq initialization failed: %w", err)
		}
		rabbitPublisher := queue.NewRabbitMQPublisher(broker)
		defer rabbitPublisher.Close() //nolint:errcheck

		publisher = rabbitPublisher
		checks = append(checks, handler.BrokerCheck("rabbitmq", broker.Healthy))
		logger.Info("status changes are published to rabbitmq", zap.String("exchange", queue.EventsExchange))

	default:
		notifier, err := bootstrap.NewNotifier(ctx, cfg, storage, rdb, logger, metrics)
		if err != nil {
			return err
		}
		bus.Subscribe("notifier", notifier.HandleStatusChanged)
		publisher = bus
	}

	statusService, err := service.NewStatusService(
		storage.Transactor,
		storage.Dispatches,
		storage.Jobs,
		storage.Events,
		publisher,
		bootstrap.TransitionPolicy(cfg),
		logger.Named("status"),
	)
	if err != nil {
		return err
	}
	statusService.SetMetrics(metrics)

	relay, err := service.NewOutboxRelay(
		storage.Events,
		publisher,
		cfg.OutboxScanEvery(),
		cfg.OutboxGrace(),
		0,
		logger.Named("outbox"),
	)
	if err != nil {
		return err
	}
	relay.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		AppName:      "sirius-dispatch",
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(recover.New())
	app.Use(observability.RequestIDMiddleware())
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, checks...)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	if err := handler.RegisterDispatchRoutes(app, statusService); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("sirius-dispatch api started",
			zap.Int("port", cfg.APIPort),
			zap.String("storage", cfg.StorageDriver),
			zap.String("eventTransport", cfg.EventTransport),
		)
		return app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	})

	g.Go(func() error {
		return relay.Start(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down api")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			logger.Warn("http shutdown failed", zap.Error(err))
		}
		if err := bus.Wait(shutdownCtx); err != nil {
			logger.Warn("in-flight event handlers did not finish", zap.Error(err))
		}
		return nil
	})

	return g.Wait()
}
