package config

import "time"

// CheckpointBackend enumerates the supported checkpoint stores.
type CheckpointBackend string

const (
	CheckpointBackendPostgres CheckpointBackend = "postgres"
	CheckpointBackendRedis    CheckpointBackend = "redis"
	CheckpointBackendMemory   CheckpointBackend = "memory"
)

// Config represents the top-level configuration.
type Config struct {
	API        APIConfig        `yaml:"api"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Redis      RedisConfig      `yaml:"redis"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Scanner    ScannerConfig    `yaml:"scanner"`
	Recovery   RecoveryConfig   `yaml:"recovery"`
	Retry      RetryConfig      `yaml:"retry"`
	Breaker    BreakerConfig    `yaml:"breaker"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// APIConfig configures the operational HTTP surface.
type APIConfig struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
}

// PostgresConfig configures the job registry and durable checkpoint store.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig configures the optional low-latency checkpoint store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// KafkaConfig configures the resume queue.
type KafkaConfig struct {
	Brokers     []string `yaml:"brokers"`
	ResumeTopic string   `yaml:"resume_topic,omitempty"`
	ClientID    string   `yaml:"client_id,omitempty"`
}

// CheckpointConfig selects the checkpoint backend and retention.
type CheckpointConfig struct {
	Backend CheckpointBackend `yaml:"backend,omitempty"`

	// TTL is how long a saved checkpoint stays resumable.
	TTL time.Duration `yaml:"ttl,omitempty"`

	// SaveInterval is the per-item checkpoint cadence executors should use:
	// one save every N completed items.
	SaveInterval int `yaml:"save_interval,omitempty"`
}

// ScannerConfig tunes the orphan scanner.
type ScannerConfig struct {
	ScanInterval    time.Duration `yaml:"scan_interval,omitempty"`
	OrphanThreshold time.Duration `yaml:"orphan_threshold,omitempty"`
	Workers         int           `yaml:"workers,omitempty"`

	// ResubmitRatePerSecond caps how fast recovered jobs are pushed back to
	// the executor fleet. Zero (or omitted) means no rate limiting.
	ResubmitRatePerSecond float64 `yaml:"resubmit_rate_per_second,omitempty"`
}

// RecoveryConfig tunes the recovery coordinator.
type RecoveryConfig struct {
	MaxAttempts int `yaml:"max_attempts,omitempty"`
}

// RetryConfig tunes the transient-failure retry policy.
type RetryConfig struct {
	// MaxAttempts is how many times to attempt before giving up.
	MaxAttempts int `yaml:"max_attempts,omitempty"`

	// BaseDelay is the initial backoff duration (e.g., 2s).
	BaseDelay time.Duration `yaml:"base_delay,omitempty"`

	// MaxDelay is the upper bound for the backoff (e.g., 60s).
	MaxDelay time.Duration `yaml:"max_delay,omitempty"`
}

// BreakerConfig tunes the per-dependency circuit breakers.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold,omitempty"`
	Cooldown         time.Duration `yaml:"cooldown,omitempty"`
}

// TelemetryConfig configures trace and metric export.
type TelemetryConfig struct {
	ServiceName  string  `yaml:"service_name,omitempty"`
	ExporterAddr string  `yaml:"exporter_addr,omitempty"`
	SampleRate   float64 `yaml:"sample_rate,omitempty"`
}

// Normalize fills in defaults for anything the file leaves unset.
func (c *Config) Normalize() {
	if c.API.Host == "" {
		c.API.Host = "0.0.0.0"
	}
	if c.API.Port == "" {
		c.API.Port = "8080"
	}
	if c.Checkpoint.Backend == "" {
		c.Checkpoint.Backend = CheckpointBackendPostgres
	}
	if c.Checkpoint.TTL <= 0 {
		c.Checkpoint.TTL = 36 * time.Hour
	}
	if c.Checkpoint.SaveInterval <= 0 {
		c.Checkpoint.SaveInterval = 10
	}
	if c.Scanner.ScanInterval <= 0 {
		c.Scanner.ScanInterval = 2 * time.Minute
	}
	if c.Scanner.OrphanThreshold <= 0 {
		c.Scanner.OrphanThreshold = 5 * time.Minute
	}
	if c.Scanner.Workers <= 0 {
		c.Scanner.Workers = 4
	}
	if c.Recovery.MaxAttempts <= 0 {
		c.Recovery.MaxAttempts = 3
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 5
	}
	if c.Retry.BaseDelay <= 0 {
		c.Retry.BaseDelay = 2 * time.Second
	}
	if c.Retry.MaxDelay <= 0 {
		c.Retry.MaxDelay = 60 * time.Second
	}
	if c.Breaker.FailureThreshold <= 0 {
		c.Breaker.FailureThreshold = 5
	}
	if c.Breaker.Cooldown <= 0 {
		c.Breaker.Cooldown = 60 * time.Second
	}
	if c.Kafka.ResumeTopic == "" {
		c.Kafka.ResumeTopic = "pipeline.resume"
	}
	if c.Kafka.ClientID == "" {
		c.Kafka.ClientID = "clipforge-pipeline"
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "clipforge-pipeline"
	}
	if c.Telemetry.SampleRate <= 0 {
		c.Telemetry.SampleRate = 1.0
	}
}
