package config

import "time"

// EnvPrefix is the environment variable prefix for configuration overrides,
// for example FGDL_DATABASE_URL.
const EnvPrefix = "FGDL"

// Config is the root configuration for the dead-letter service.
type Config struct {
	Service    ServiceConfig    `mapstructure:"service"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Lock       LockConfig       `mapstructure:"lock"`
	Redeliver  RedeliverConfig  `mapstructure:"redeliver"`
	Forwarder  ForwarderConfig  `mapstructure:"forwarder"`
	Management ManagementConfig `mapstructure:"management"`
}

// ServiceConfig configures service identity metadata.
type ServiceConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// LoggingConfig configures structured log output.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DatabaseConfig configures the MySQL connection pool backing the
// failed-event store.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
	MigrateOnStart  bool          `mapstructure:"migrate_on_start"`
}

// LockConfig configures the Redis-backed distributed lock that keeps a single
// coordinator instance draining the table at a time.
type LockConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	URL              string        `mapstructure:"url"`
	KeyPrefix        string        `mapstructure:"key_prefix"`
	TTL              time.Duration `mapstructure:"ttl"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
}

// RedeliverConfig controls the retry coordinator policy.
type RedeliverConfig struct {
	Interval          time.Duration `mapstructure:"interval"`
	BatchSize         int           `mapstructure:"batch_size"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	AttemptTimeout    time.Duration `mapstructure:"attempt_timeout"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff"`
	RatePerSecond     float64       `mapstructure:"rate_per_second"`
	QuarantineCorrupt bool          `mapstructure:"quarantine_corrupt"`
}

// ForwarderConfig configures the HTTP handler that re-sends recovered events
// to the vehicle management service.
type ForwarderConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ManagementConfig configures the operability HTTP server.
type ManagementConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DefaultConfig returns the configuration used when neither file nor
// environment provides a value.
func DefaultConfig() Config {
	return Config{
		Service: ServiceConfig{
			Name:        "telemetry-deadletter",
			Environment: "development",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: time.Minute,
			QueryTimeout:    10 * time.Second,
		},
		Lock: LockConfig{
			Enabled:          false,
			KeyPrefix:        "deadletter:redeliver:lock",
			TTL:              30 * time.Second,
			OperationTimeout: 3 * time.Second,
		},
		Redeliver: RedeliverConfig{
			Interval:       time.Minute,
			BatchSize:      100,
			MaxAttempts:    10,
			AttemptTimeout: 30 * time.Second,
			MaxBackoff:     15 * time.Minute,
			RatePerSecond:  50,
		},
		Forwarder: ForwarderConfig{
			Timeout: 10 * time.Second,
		},
		Management: ManagementConfig{
			Enabled:      true,
			Port:         8091,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}
