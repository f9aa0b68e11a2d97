package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Loader loads and validates service configuration.
type Loader interface {
	Load() (*Config, error)
	Validate(*Config) error
}

// ViperLoader implements Loader with precedence ENV > file > defaults.
type ViperLoader struct {
	configFile string
	envPrefix  string
}

// NewViperLoader creates a loader. configFile may be empty; envPrefix is the
// prefix for environment overrides (for example "FGDL").
func NewViperLoader(configFile, envPrefix string) *ViperLoader {
	return &ViperLoader{configFile: configFile, envPrefix: envPrefix}
}

// Load reads configuration from defaults, an optional file, and environment
// variables, then validates the result.
func (l *ViperLoader) Load() (*Config, error) {
	v := viper.New()

	l.setDefaults(v, DefaultConfig())

	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", l.configFile, err)
		}
	}

	v.SetEnvPrefix(l.envPrefix)
	l.bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := l.Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate enforces invariants that cannot be expressed through defaults.
func (l *ViperLoader) Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	var problems []string

	if strings.TrimSpace(cfg.Service.Name) == "" {
		problems = append(problems, "service.name is required")
	}
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("logging.level %q is not one of debug, info, warn, error", cfg.Logging.Level))
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		problems = append(problems, fmt.Sprintf("logging.format %q is not one of json, text", cfg.Logging.Format))
	}
	if strings.TrimSpace(cfg.Database.URL) == "" {
		problems = append(problems, "database.url is required")
	}
	if cfg.Database.MaxOpenConns <= 0 {
		problems = append(problems, "database.max_open_conns must be > 0")
	}
	if cfg.Database.MaxIdleConns < 0 {
		problems = append(problems, "database.max_idle_conns must be >= 0")
	}
	if cfg.Lock.Enabled && strings.TrimSpace(cfg.Lock.URL) == "" {
		problems = append(problems, "lock.url is required when lock.enabled is true")
	}
	if cfg.Lock.Enabled && cfg.Lock.TTL <= 0 {
		problems = append(problems, "lock.ttl must be > 0")
	}
	if cfg.Redeliver.Interval <= 0 {
		problems = append(problems, "redeliver.interval must be > 0")
	}
	if cfg.Redeliver.BatchSize <= 0 {
		problems = append(problems, "redeliver.batch_size must be > 0")
	}
	if cfg.Redeliver.MaxAttempts <= 0 {
		problems = append(problems, "redeliver.max_attempts must be > 0")
	}
	if cfg.Redeliver.AttemptTimeout <= 0 {
		problems = append(problems, "redeliver.attempt_timeout must be > 0")
	}
	if cfg.Redeliver.RatePerSecond < 0 {
		problems = append(problems, "redeliver.rate_per_second must be >= 0")
	}
	if cfg.Management.Enabled && (cfg.Management.Port <= 0 || cfg.Management.Port > 65535) {
		problems = append(problems, "management.port must be between 1 and 65535")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return nil
}

func (l *ViperLoader) setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("service.name", d.Service.Name)
	v.SetDefault("service.environment", d.Service.Environment)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)

	v.SetDefault("database.url", d.Database.URL)
	v.SetDefault("database.max_open_conns", d.Database.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", d.Database.MaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", d.Database.ConnMaxLifetime)
	v.SetDefault("database.conn_max_idle_time", d.Database.ConnMaxIdleTime)
	v.SetDefault("database.query_timeout", d.Database.QueryTimeout)
	v.SetDefault("database.migrate_on_start", d.Database.MigrateOnStart)

	v.SetDefault("lock.enabled", d.Lock.Enabled)
	v.SetDefault("lock.url", d.Lock.URL)
	v.SetDefault("lock.key_prefix", d.Lock.KeyPrefix)
	v.SetDefault("lock.ttl", d.Lock.TTL)
	v.SetDefault("lock.operation_timeout", d.Lock.OperationTimeout)

	v.SetDefault("redeliver.interval", d.Redeliver.Interval)
	v.SetDefault("redeliver.batch_size", d.Redeliver.BatchSize)
	v.SetDefault("redeliver.max_attempts", d.Redeliver.MaxAttempts)
	v.SetDefault("redeliver.attempt_timeout", d.Redeliver.AttemptTimeout)
	v.SetDefault("redeliver.max_backoff", d.Redeliver.MaxBackoff)
	v.SetDefault("redeliver.rate_per_second", d.Redeliver.RatePerSecond)
	v.SetDefault("redeliver.quarantine_corrupt", d.Redeliver.QuarantineCorrupt)

	v.SetDefault("forwarder.base_url", d.Forwarder.BaseURL)
	v.SetDefault("forwarder.timeout", d.Forwarder.Timeout)

	v.SetDefault("management.enabled", d.Management.Enabled)
	v.SetDefault("management.port", d.Management.Port)
	v.SetDefault("management.read_timeout", d.Management.ReadTimeout)
	v.SetDefault("management.write_timeout", d.Management.WriteTimeout)
}

// bindEnvVars binds every nested key explicitly so ENV overrides work without
// relying on viper's automatic key inference.
func (l *ViperLoader) bindEnvVars(v *viper.Viper) {
	v.BindEnv("service.name", l.prefixedEnv("SERVICE_NAME"))
	v.BindEnv("service.environment", l.prefixedEnv("SERVICE_ENVIRONMENT"), l.prefixedEnv("ENVIRONMENT"))

	v.BindEnv("logging.level", l.prefixedEnv("LOG_LEVEL"))
	v.BindEnv("logging.format", l.prefixedEnv("LOG_FORMAT"))

	v.BindEnv("database.url", l.prefixedEnv("DATABASE_URL"))
	v.BindEnv("database.max_open_conns", l.prefixedEnv("DATABASE_MAX_OPEN_CONNS"))
	v.BindEnv("database.max_idle_conns", l.prefixedEnv("DATABASE_MAX_IDLE_CONNS"))
	v.BindEnv("database.conn_max_lifetime", l.prefixedEnv("DATABASE_CONN_MAX_LIFETIME"))
	v.BindEnv("database.conn_max_idle_time", l.prefixedEnv("DATABASE_CONN_MAX_IDLE_TIME"))
	v.BindEnv("database.query_timeout", l.prefixedEnv("DATABASE_QUERY_TIMEOUT"))
	v.BindEnv("database.migrate_on_start", l.prefixedEnv("DATABASE_MIGRATE_ON_START"))

	v.BindEnv("lock.enabled", l.prefixedEnv("LOCK_ENABLED"))
	v.BindEnv("lock.url", l.prefixedEnv("LOCK_URL"), l.prefixedEnv("REDIS_URL"))
	v.BindEnv("lock.key_prefix", l.prefixedEnv("LOCK_KEY_PREFIX"))
	v.BindEnv("lock.ttl", l.prefixedEnv("LOCK_TTL"))
	v.BindEnv("lock.operation_timeout", l.prefixedEnv("LOCK_OPERATION_TIMEOUT"))

	v.BindEnv("redeliver.interval", l.prefixedEnv("REDELIVER_INTERVAL"))
	v.BindEnv("redeliver.batch_size", l.prefixedEnv("REDELIVER_BATCH_SIZE"))
	v.BindEnv("redeliver.max_attempts", l.prefixedEnv("REDELIVER_MAX_ATTEMPTS"))
	v.BindEnv("redeliver.attempt_timeout", l.prefixedEnv("REDELIVER_ATTEMPT_TIMEOUT"))
	v.BindEnv("redeliver.max_backoff", l.prefixedEnv("REDELIVER_MAX_BACKOFF"))
	v.BindEnv("redeliver.rate_per_second", l.prefixedEnv("REDELIVER_RATE_PER_SECOND"))
	v.BindEnv("redeliver.quarantine_corrupt", l.prefixedEnv("REDELIVER_QUARANTINE_CORRUPT"))

	v.BindEnv("forwarder.base_url", l.prefixedEnv("FORWARDER_BASE_URL"))
	v.BindEnv("forwarder.timeout", l.prefixedEnv("FORWARDER_TIMEOUT"))

	v.BindEnv("management.enabled", l.prefixedEnv("MGMT_ENABLED"))
	v.BindEnv("management.port", l.prefixedEnv("MGMT_PORT"))
	v.BindEnv("management.read_timeout", l.prefixedEnv("MGMT_READ_TIMEOUT"))
	v.BindEnv("management.write_timeout", l.prefixedEnv("MGMT_WRITE_TIMEOUT"))
}

func (l *ViperLoader) prefixedEnv(name string) string {
	if l.envPrefix == "" {
		return name
	}
	return l.envPrefix + "_" + name
}
