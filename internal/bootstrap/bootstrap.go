// Package bootstrap assembles the components shared by the API and worker
// processes from configuration.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/samknelson/sirius-dispatch/internal/channel"
	"github.com/samknelson/sirius-dispatch/internal/config"
	"github.com/samknelson/sirius-dispatch/internal/domain"
	"github.com/samknelson/sirius-dispatch/internal/infra/postgresql"
	"github.com/samknelson/sirius-dispatch/internal/infra/postgresql/migrations"
	infraredis "github.com/samknelson/sirius-dispatch/internal/infra/redis"
	"github.com/samknelson/sirius-dispatch/internal/observability"
	"github.com/samknelson/sirius-dispatch/internal/ratelimit"
	"github.com/samknelson/sirius-dispatch/internal/repository"
	"github.com/samknelson/sirius-dispatch/internal/repository/memory"
	"github.com/samknelson/sirius-dispatch/internal/service"
	"go.uber.org/zap"
)

// smsSenderID is shown as the sender on carriers that support it.
const smsSenderID = "Sirius"

// Storage is the repository set for the configured STORAGE_DRIVER. SQL is
// nil for the in-memory driver.
type Storage struct {
	Transactor repository.Transactor
	Dispatches repository.DispatchRepository
	Jobs       repository.JobRepository
	Contacts   repository.ContactRepository
	Comms      repository.CommRepository
	Events     repository.EventRepository
	SQL        *sql.DB
}

func (s *Storage) Close() error {
	if s == nil || s.SQL == nil {
		return nil
	}
	return s.SQL.Close()
}

// OpenStorage connects and migrates postgres, or builds an empty in-memory
// store.
func OpenStorage(cfg *config.Config, logger *zap.Logger) (*Storage, error) {
	switch cfg.StorageDriver {
	case config.StorageDriverMemory:
		logger.Warn("using in-memory storage; data is lost on restart")
		return MemoryStorage(memory.NewStore()), nil

	case config.StorageDriverPostgres:
		db, err := postgresql.NewPostgres(cfg.DatabaseDSN, postgresql.DefaultOptions())
		if err != nil {
			return nil, err
		}
		if err := migrations.Migrate(db); err != nil {
			return nil, fmt.Errorf("database migrations failed: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("postgres underlying db init failed: %w", err)
		}

		return &Storage{
			Transactor: repository.NewGormTransactor(db),
			Dispatches: repository.NewGormDispatchRepo(db),
			Jobs:       repository.NewGormJobRepo(db),
			Contacts:   repository.NewGormContactRepo(db),
			Comms:      repository.NewGormCommRepo(db),
			Events:     repository.NewGormEventRepo(db),
			SQL:        sqlDB,
		}, nil
	}

	return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
}

func MemoryStorage(store *memory.Store) *Storage {
	return &Storage{
		Transactor: store,
		Dispatches: store.Dispatches(),
		Jobs:       store.Jobs(),
		Contacts:   store.Contacts(),
		Comms:      store.Comms(),
		Events:     store.Events(),
	}
}

// NewRateLimiter returns the shared redis limiter, or Unlimited when
// RATE_LIMIT_PER_SEC is 0.
func NewRateLimiter(cfg *config.Config, rdb *redis.Client) (ratelimit.RateLimiter, error) {
	if cfg.RateLimitPerSec == 0 {
		return ratelimit.Unlimited{}, nil
	}
	return infraredis.NewRedisRateLimiter(rdb, infraredis.Limits{
		MediumPerSecond: cfg.RateLimitPerSec,
		WorkerPerWindow: cfg.WorkerMessageLimit,
		WorkerWindow:    cfg.WorkerMessageEvery(),
	})
}

// NewSenders builds one sender per medium. In-app always goes through redis
// pub/sub; SMS and email use AWS or the webhook gateway.
func NewSenders(ctx context.Context, cfg *config.Config, rdb channel.RedisPublisher) (channel.Senders, error) {
	inApp, err := channel.NewInAppSender(rdb)
	if err != nil {
		return nil, err
	}
	senders := []channel.Sender{inApp}

	for medium, provider := range map[domain.Medium]string{
		domain.MediumSMS:   cfg.SMSProvider,
		domain.MediumEmail: cfg.EmailProvider,
	} {
		if provider != config.ProviderWebhook {
			continue
		}
		s, err := channel.NewWebhookSender(medium, cfg.WebhookURL)
		if err != nil {
			return nil, err
		}
		senders = append(senders, s)
	}

	if cfg.SMSProvider == config.ProviderAWS || cfg.EmailProvider == config.ProviderAWS {
		awsCfg, err := channel.LoadAWSConfig(ctx, cfg.AWSRegion)
		if err != nil {
			return nil, err
		}
		if cfg.SMSProvider == config.ProviderAWS {
			s, err := channel.NewSNSSenderFromConfig(awsCfg, smsSenderID)
			if err != nil {
				return nil, err
			}
			senders = append(senders, s)
		}
		if cfg.EmailProvider == config.ProviderAWS {
			s, err := channel.NewSESSenderFromConfig(awsCfg, cfg.FromEmail)
			if err != nil {
				return nil, err
			}
			senders = append(senders, s)
		}
	}

	return channel.NewSenders(senders...), nil
}

// NewNotifier wires the notification handler against storage, redis and the
// configured channels.
func NewNotifier(
	ctx context.Context,
	cfg *config.Config,
	storage *Storage,
	rdb *redis.Client,
	logger *zap.Logger,
	metrics *observability.Metrics,
) (*service.Notifier, error) {
	limiter, err := NewRateLimiter(cfg, rdb)
	if err != nil {
		return nil, fmt.Errorf("rate limiter initialization failed: %w", err)
	}

	senders, err := NewSenders(ctx, cfg, rdb)
	if err != nil {
		return nil, fmt.Errorf("channel initialization failed: %w", err)
	}

	renderer, err := channel.NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("template initialization failed: %w", err)
	}

	notifier, err := service.NewNotifier(
		storage.Dispatches,
		storage.Jobs,
		storage.Contacts,
		storage.Comms,
		senders,
		renderer,
		limiter,
		NotifierConfig(cfg),
		logger.Named("notifier"),
	)
	if err != nil {
		return nil, err
	}
	notifier.SetMetrics(metrics)
	return notifier, nil
}

func NotifierConfig(cfg *config.Config) service.NotifierConfig {
	return service.NotifierConfig{
		Enabled:             cfg.NotificationsEnabled,
		RenotifyAfterRevert: cfg.RenotifyAfterRevert,
		PublicBaseURL:       cfg.PublicBaseURL,
	}
}

func TransitionPolicy(cfg *config.Config) domain.TransitionPolicy {
	return domain.TransitionPolicy{AllowRevert: cfg.AllowRevert}
}
