// Package config loads and validates application configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for the monitoring service.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Limiter   LimiterConfig   `mapstructure:"limiter"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	Redis     RedisConfig     `mapstructure:"redis"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	AI          AIConfig          `mapstructure:"ai"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig holds the HTTP API server settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// SchedulerConfig controls the periodic dispatch loop.
type SchedulerConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	LockTTL   time.Duration `mapstructure:"lock_ttl"`
	BatchSize int           `mapstructure:"batch_size"`
}

// WorkerConfig controls the job worker pool and its retry policy.
type WorkerConfig struct {
	Concurrency int           `mapstructure:"concurrency"`
	QueueDepth  int           `mapstructure:"queue_depth"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// LimiterConfig controls the per-origin politeness limiter.
type LimiterConfig struct {
	TTL     time.Duration `mapstructure:"ttl"`
	MaxWait time.Duration `mapstructure:"max_wait"`
}

// HTTPConfig holds plain HTTP fetcher settings.
type HTTPConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

// HeadlessConfig holds headless browser fetcher settings.
type HeadlessConfig struct {
	MaxParallel int           `mapstructure:"max_parallel"`
	NavTimeout  time.Duration `mapstructure:"nav_timeout"`
	WaitAfter   time.Duration `mapstructure:"wait_after"`
}

// StorageConfig selects and configures the raw content archive.
type StorageConfig struct {
	Provider string `mapstructure:"provider"` // gcs or local
	Bucket   string `mapstructure:"bucket"`
	BaseDir  string `mapstructure:"base_dir"`
	Prefix   string `mapstructure:"prefix"`
}

// DBConfig holds PostgreSQL pool settings.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// RedisConfig holds coordination store settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// PubSubConfig holds notification event publishing settings.
type PubSubConfig struct {
	Provider  string `mapstructure:"provider"` // gcp or memory
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// AIConfig holds extraction and diff model settings.
type AIConfig struct {
	APIKey     string        `mapstructure:"api_key"`
	Model      string        `mapstructure:"model"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

// CredentialsConfig holds the key for stored source credentials.
type CredentialsConfig struct {
	// Key is the base64-encoded 32-byte AES key. Sources without
	// stored credentials work with no key configured.
	Key string `mapstructure:"key"`
}

// LoggingConfig toggles log output style.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load reads configuration from the given file (optional) and the
// environment, applying defaults for everything unset. Environment
// variables use the REGWATCH_ prefix with underscores for nesting,
// e.g. REGWATCH_REDIS_ADDR.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("REGWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("scheduler.interval", time.Minute)
	v.SetDefault("scheduler.lock_ttl", 5*time.Minute)
	v.SetDefault("scheduler.batch_size", 100)

	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.queue_depth", 256)
	v.SetDefault("worker.max_attempts", 5)
	v.SetDefault("worker.base_delay", time.Minute)
	v.SetDefault("worker.max_delay", 16*time.Minute)

	v.SetDefault("limiter.ttl", 30*time.Second)
	v.SetDefault("limiter.max_wait", 5*time.Minute)

	v.SetDefault("http.timeout", 30*time.Second)
	v.SetDefault("http.user_agent", "regwatch/1.0")

	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout", 60*time.Second)
	v.SetDefault("headless.wait_after", 2*time.Second)

	v.SetDefault("storage.provider", "local")
	v.SetDefault("storage.base_dir", "/tmp/regwatch")
	v.SetDefault("storage.prefix", "raw")

	v.SetDefault("db.max_conns", 10)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("pubsub.provider", "memory")
	v.SetDefault("pubsub.topic", "regwatch-notifications")

	v.SetDefault("ai.model", "gpt-4o-mini")
	v.SetDefault("ai.timeout", 90*time.Second)
	v.SetDefault("ai.max_retries", 3)

	v.SetDefault("logging.development", false)
}

// Validate checks the loaded configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be positive, got %s", c.Scheduler.Interval)
	}
	if c.Scheduler.LockTTL < c.Scheduler.Interval {
		return fmt.Errorf("scheduler.lock_ttl %s must not be shorter than scheduler.interval %s",
			c.Scheduler.LockTTL, c.Scheduler.Interval)
	}
	if c.Scheduler.BatchSize <= 0 {
		return fmt.Errorf("scheduler.batch_size must be positive, got %d", c.Scheduler.BatchSize)
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be positive, got %d", c.Worker.Concurrency)
	}
	if c.Worker.MaxAttempts <= 0 {
		return fmt.Errorf("worker.max_attempts must be positive, got %d", c.Worker.MaxAttempts)
	}
	if c.Worker.BaseDelay <= 0 || c.Worker.MaxDelay < c.Worker.BaseDelay {
		return fmt.Errorf("worker backoff delays invalid: base=%s max=%s",
			c.Worker.BaseDelay, c.Worker.MaxDelay)
	}
	switch c.Storage.Provider {
	case "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket required when storage.provider is gcs")
		}
	case "local":
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir required when storage.provider is local")
		}
	default:
		return fmt.Errorf("storage.provider must be gcs or local, got %q", c.Storage.Provider)
	}
	switch c.PubSub.Provider {
	case "gcp":
		if c.PubSub.ProjectID == "" || c.PubSub.Topic == "" {
			return fmt.Errorf("pubsub.project_id and pubsub.topic required when pubsub.provider is gcp")
		}
	case "memory":
	default:
		return fmt.Errorf("pubsub.provider must be gcp or memory, got %q", c.PubSub.Provider)
	}
	return nil
}
