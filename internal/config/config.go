package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"

	"github.com/jwalitptl/clinic-sync/pkg/messaging/redis"
	"github.com/jwalitptl/clinic-sync/pkg/worker"
)

// EnvPrefix prefixes every environment override, e.g. CLINIC_DATABASE_HOST.
const EnvPrefix = "CLINIC"

type Config struct {
	Server   ServerConfig   `mapstructure:"server" envconfig:"server"`
	Database DatabaseConfig `mapstructure:"database" envconfig:"database"`
	Redis    RedisConfig    `mapstructure:"redis" envconfig:"redis"`
	Outbox   OutboxConfig   `mapstructure:"outbox" envconfig:"outbox"`
	Sync     SyncConfig     `mapstructure:"sync" envconfig:"sync"`
	Log      LogConfig      `mapstructure:"log" envconfig:"log"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port" envconfig:"port"`
	Mode              string        `mapstructure:"mode" envconfig:"mode"`
	Timeout           time.Duration `mapstructure:"timeout" envconfig:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" envconfig:"requests_per_second"`
	Burst             int           `mapstructure:"burst" envconfig:"burst"`
}

type DatabaseConfig struct {
	Host         string `mapstructure:"host" envconfig:"host"`
	Port         int    `mapstructure:"port" envconfig:"port"`
	User         string `mapstructure:"user" envconfig:"user"`
	Password     string `mapstructure:"password" envconfig:"password"`
	Name         string `mapstructure:"name" envconfig:"name"`
	SSLMode      string `mapstructure:"sslmode" envconfig:"sslmode"`
	MaxOpenConns int    `mapstructure:"max_open_conns" envconfig:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns" envconfig:"max_idle_conns"`
}

// DSN renders the lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

type RedisConfig struct {
	URL          string        `mapstructure:"url" envconfig:"url"`
	MaxRetries   int           `mapstructure:"max_retries" envconfig:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff" envconfig:"retry_backoff"`
	PoolSize     int           `mapstructure:"pool_size" envconfig:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns" envconfig:"min_idle_conns"`
}

type OutboxConfig struct {
	BatchSize     int           `mapstructure:"batch_size" envconfig:"batch_size"`
	PollInterval  time.Duration `mapstructure:"poll_interval" envconfig:"poll_interval"`
	RetryAttempts int           `mapstructure:"retry_attempts" envconfig:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay" envconfig:"retry_delay"`
	Retention     time.Duration `mapstructure:"retention" envconfig:"retention"`
}

// SyncConfig tunes the clinical state synchronization services.
type SyncConfig struct {
	DefaultTotalVisits int           `mapstructure:"default_total_visits" envconfig:"default_total_visits"`
	DedupeWindow       time.Duration `mapstructure:"dedupe_window" envconfig:"dedupe_window"`
	// Timezone interprets scheduledDate/scheduledTime of new appointments.
	Timezone string `mapstructure:"timezone" envconfig:"timezone"`
}

// Location resolves Timezone, falling back to UTC.
func (c SyncConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type LogConfig struct {
	Level   string `mapstructure:"level" envconfig:"level"`
	Console bool   `mapstructure:"console" envconfig:"console"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.timeout", 30*time.Second)
	v.SetDefault("server.requests_per_second", 50)
	v.SetDefault("server.burst", 100)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.name", "clinic")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.retry_backoff", 100*time.Millisecond)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)

	v.SetDefault("outbox.batch_size", 100)
	v.SetDefault("outbox.poll_interval", time.Second)
	v.SetDefault("outbox.retry_attempts", 3)
	v.SetDefault("outbox.retry_delay", time.Second)
	v.SetDefault("outbox.retention", 7*24*time.Hour)

	v.SetDefault("sync.default_total_visits", 1)
	v.SetDefault("sync.dedupe_window", 5*time.Second)
	v.SetDefault("sync.timezone", "UTC")

	v.SetDefault("log.level", "info")
}

// LoadConfig reads config.yaml from file, or from the standard search paths when
// file is empty, then applies CLINIC_* environment overrides. A missing config
// file is not an error; defaults apply.
func LoadConfig(file string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/app/config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if cfg.Sync.DefaultTotalVisits < 1 {
		return nil, fmt.Errorf("sync.default_total_visits must be at least 1, got %d", cfg.Sync.DefaultTotalVisits)
	}
	return &cfg, nil
}

func (c *OutboxConfig) ToWorkerConfig() worker.OutboxProcessorConfig {
	return worker.OutboxProcessorConfig{
		BatchSize:     c.BatchSize,
		PollInterval:  c.PollInterval,
		RetryAttempts: c.RetryAttempts,
		RetryDelay:    c.RetryDelay,
	}
}

func (c *RedisConfig) ToBrokerConfig() redis.Config {
	return redis.Config{
		URL:          c.URL,
		MaxRetries:   c.MaxRetries,
		RetryBackoff: c.RetryBackoff,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
	}
}
