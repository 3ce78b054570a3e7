package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds all runtime configuration for the trade ledger.
type Config struct {
	Port            int           `env:"PORT" envDefault:"8080"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	IdleTimeout     time.Duration `env:"IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// Empty URLs select the in-memory stores.
	DatabaseURL        string `env:"DATABASE_URL"`
	HistoryDatabaseURL string `env:"HISTORY_DATABASE_URL"`

	// Empty RedisAddr records failures to the log only.
	RedisAddr           string `env:"REDIS_ADDR"`
	RedisFailureListMax int64  `env:"REDIS_FAILURE_LIST_MAX" envDefault:"10000"`

	// Empty KafkaBrokers disables publishing and the ingest consumer.
	KafkaBrokers     []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic       string   `env:"KAFKA_TOPIC" envDefault:"trades"`
	KafkaEventsTopic string   `env:"KAFKA_EVENTS_TOPIC"`
	KafkaGroupID     string   `env:"KAFKA_GROUP_ID" envDefault:"trade-group"`
	KafkaPartitions  int      `env:"KAFKA_PARTITIONS" envDefault:"3"`
	KafkaEnsureTopic bool     `env:"KAFKA_ENSURE_TOPIC" envDefault:"true"`

	PublishMaxAttempts      int           `env:"PUBLISH_MAX_ATTEMPTS" envDefault:"3"`
	PublishBackoffMin       time.Duration `env:"PUBLISH_BACKOFF_MIN" envDefault:"100ms"`
	PublishBackoffMax       time.Duration `env:"PUBLISH_BACKOFF_MAX" envDefault:"2s"`
	PublishAttemptTimeout   time.Duration `env:"PUBLISH_ATTEMPT_TIMEOUT" envDefault:"5s"`
	BreakerFailureThreshold int           `env:"BREAKER_FAILURE_THRESHOLD" envDefault:"5"`
	BreakerCooldown         time.Duration `env:"BREAKER_COOLDOWN" envDefault:"30s"`

	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"24h"`
}

// KafkaEnabled reports whether an event channel is configured.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// Load reads configuration from environment variables, applies defaults,
// and validates values. It returns an error for any invalid value.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDotEnv loads variables from the given .env files (".env" when none
// is given) without overriding the environment. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT: %d, must be between 1 and 65535", c.Port)
	}
	if !isValidLogLevel(c.LogLevel) {
		return fmt.Errorf("invalid LOG_LEVEL: %q, must be one of: debug, info, warn, error", c.LogLevel)
	}

	positive := []struct {
		key string
		val time.Duration
	}{
		{"READ_TIMEOUT", c.ReadTimeout},
		{"WRITE_TIMEOUT", c.WriteTimeout},
		{"IDLE_TIMEOUT", c.IdleTimeout},
		{"SHUTDOWN_TIMEOUT", c.ShutdownTimeout},
		{"PUBLISH_BACKOFF_MIN", c.PublishBackoffMin},
		{"PUBLISH_BACKOFF_MAX", c.PublishBackoffMax},
		{"PUBLISH_ATTEMPT_TIMEOUT", c.PublishAttemptTimeout},
		{"BREAKER_COOLDOWN", c.BreakerCooldown},
		{"SWEEP_INTERVAL", c.SweepInterval},
	}
	for _, p := range positive {
		if p.val <= 0 {
			return fmt.Errorf("invalid %s: %v, must be positive", p.key, p.val)
		}
	}
	if c.PublishBackoffMin > c.PublishBackoffMax {
		return fmt.Errorf("invalid PUBLISH_BACKOFF_MIN: %v exceeds PUBLISH_BACKOFF_MAX %v", c.PublishBackoffMin, c.PublishBackoffMax)
	}
	if c.PublishMaxAttempts < 1 {
		return fmt.Errorf("invalid PUBLISH_MAX_ATTEMPTS: %d, must be >= 1", c.PublishMaxAttempts)
	}
	if c.BreakerFailureThreshold < 1 {
		return fmt.Errorf("invalid BREAKER_FAILURE_THRESHOLD: %d, must be >= 1", c.BreakerFailureThreshold)
	}
	if c.KafkaPartitions < 1 {
		return fmt.Errorf("invalid KAFKA_PARTITIONS: %d, must be >= 1", c.KafkaPartitions)
	}
	if c.RedisFailureListMax < 0 {
		return fmt.Errorf("invalid REDIS_FAILURE_LIST_MAX: %d, must be >= 0", c.RedisFailureListMax)
	}
	if c.KafkaTopic == "" {
		return errors.New("invalid KAFKA_TOPIC: must not be empty")
	}
	if c.KafkaEventsTopic != "" && c.KafkaEventsTopic == c.KafkaTopic {
		return fmt.Errorf("invalid KAFKA_EVENTS_TOPIC: %q is the ingest topic; announcing there would feed accepted trades back into the consumer", c.KafkaEventsTopic)
	}
	return nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}
