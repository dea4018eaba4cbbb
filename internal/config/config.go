package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"

	EventTransportInProcess = "inprocess"
	EventTransportRabbitMQ  = "rabbitmq"

	ProviderAWS     = "aws"
	ProviderWebhook = "webhook"
)

type Config struct {
	DatabaseDSN    string `env:"DATABASE_DSN"`
	RedisURL       string `env:"REDIS_URL,required=true"`
	RabbitMQURL    string `env:"RABBITMQ_URL"`
	StorageDriver  string `env:"STORAGE_DRIVER,default=postgres"`
	EventTransport string `env:"EVENT_TRANSPORT,default=inprocess"`

	AWSRegion     string `env:"AWS_REGION,default=us-east-1"`
	FromEmail     string `env:"FROM_EMAIL"`
	SMSProvider   string `env:"SMS_PROVIDER,default=aws"`
	EmailProvider string `env:"EMAIL_PROVIDER,default=aws"`
	WebhookURL    string `env:"WEBHOOK_URL"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL,default=http://localhost:8080"`

	NotificationsEnabled bool `env:"NOTIFICATIONS_ENABLED,default=true"`
	RenotifyAfterRevert  bool `env:"RENOTIFY_AFTER_REVERT,default=false"`
	AllowRevert          bool `env:"ALLOW_REVERT,default=true"`
	RateLimitPerSec      int  `env:"RATE_LIMIT_PER_SEC,default=10"`

	// WorkerMessageLimit caps messages to one worker per medium within
	// WorkerMessageWindow. 0 disables the cap.
	WorkerMessageLimit  int    `env:"WORKER_MESSAGE_LIMIT,default=6"`
	WorkerMessageWindow string `env:"WORKER_MESSAGE_WINDOW,default=1m"`

	OutboxScanInterval string `env:"OUTBOX_SCAN_INTERVAL,default=30s"`
	OutboxGracePeriod  string `env:"OUTBOX_GRACE_PERIOD,default=10s"`
	WorkerConcurrency  int    `env:"WORKER_CONCURRENCY,default=16"`

	APIPort  int    `env:"API_PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=info"`
}

// Load reads an optional .env file, then the process environment, and
// validates the result. Variables already set in the environment win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.StorageDriver = strings.ToLower(strings.TrimSpace(c.StorageDriver))
	c.EventTransport = strings.ToLower(strings.TrimSpace(c.EventTransport))
	c.SMSProvider = strings.ToLower(strings.TrimSpace(c.SMSProvider))
	c.EmailProvider = strings.ToLower(strings.TrimSpace(c.EmailProvider))
	c.PublicBaseURL = strings.TrimRight(strings.TrimSpace(c.PublicBaseURL), "/")
}

func (c *Config) Validate() error {
	var errs []error

	switch c.StorageDriver {
	case StorageDriverPostgres:
		if c.DatabaseDSN == "" {
			errs = append(errs, errors.New("DATABASE_DSN is required when STORAGE_DRIVER=postgres"))
		}
	case StorageDriverMemory:
	default:
		errs = append(errs, fmt.Errorf("invalid STORAGE_DRIVER %q", c.StorageDriver))
	}

	switch c.EventTransport {
	case EventTransportInProcess:
	case EventTransportRabbitMQ:
		if c.RabbitMQURL == "" {
			errs = append(errs, errors.New("RABBITMQ_URL is required when EVENT_TRANSPORT=rabbitmq"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid EVENT_TRANSPORT %q", c.EventTransport))
	}

	for name, provider := range map[string]string{"SMS_PROVIDER": c.SMSProvider, "EMAIL_PROVIDER": c.EmailProvider} {
		switch provider {
		case ProviderAWS:
		case ProviderWebhook:
			if c.WebhookURL == "" {
				errs = append(errs, fmt.Errorf("WEBHOOK_URL is required when %s=webhook", name))
			}
		default:
			errs = append(errs, fmt.Errorf("invalid %s %q", name, provider))
		}
	}
	if c.EmailProvider == ProviderAWS && c.FromEmail == "" {
		errs = append(errs, errors.New("FROM_EMAIL is required when EMAIL_PROVIDER=aws"))
	}

	if c.RateLimitPerSec < 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_PER_SEC must be >= 0, got %d", c.RateLimitPerSec))
	}
	if c.WorkerMessageLimit < 0 {
		errs = append(errs, fmt.Errorf("WORKER_MESSAGE_LIMIT must be >= 0, got %d", c.WorkerMessageLimit))
	}
	if _, err := parsePositiveDuration("WORKER_MESSAGE_WINDOW", c.WorkerMessageWindow); err != nil {
		errs = append(errs, err)
	}
	if c.WorkerConcurrency < 1 {
		errs = append(errs, fmt.Errorf("WORKER_CONCURRENCY must be >= 1, got %d", c.WorkerConcurrency))
	}
	if _, err := parsePositiveDuration("OUTBOX_SCAN_INTERVAL", c.OutboxScanInterval); err != nil {
		errs = append(errs, err)
	}
	if _, err := parsePositiveDuration("OUTBOX_GRACE_PERIOD", c.OutboxGracePeriod); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// OutboxScanEvery is OUTBOX_SCAN_INTERVAL as a duration. Call after Validate.
func (c *Config) OutboxScanEvery() time.Duration {
	d, _ := parsePositiveDuration("OUTBOX_SCAN_INTERVAL", c.OutboxScanInterval)
	return d
}

// OutboxGrace is OUTBOX_GRACE_PERIOD as a duration. Call after Validate.
func (c *Config) OutboxGrace() time.Duration {
	d, _ := parsePositiveDuration("OUTBOX_GRACE_PERIOD", c.OutboxGracePeriod)
	return d
}

// WorkerMessageEvery is WORKER_MESSAGE_WINDOW as a duration. Call after Validate.
func (c *Config) WorkerMessageEvery() time.Duration {
	d, _ := parsePositiveDuration("WORKER_MESSAGE_WINDOW", c.WorkerMessageWindow)
	return d
}

func parsePositiveDuration(name, value string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, value, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", name, value)
	}
	return d, nil
}
