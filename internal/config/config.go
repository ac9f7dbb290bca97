package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Adherence  AdherenceConfig  `yaml:"adherence" mapstructure:"adherence"`
	Schedules  SchedulesConfig  `yaml:"schedules" mapstructure:"schedules"`
	Import     ImportConfig     `yaml:"import" mapstructure:"import"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Temporal   TemporalConfig   `yaml:"temporal" mapstructure:"temporal"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// BatchConfig configures the episode updater.
type BatchConfig struct {
	MaxConcurrentEpisodes int     `yaml:"max_concurrent_episodes" mapstructure:"max_concurrent_episodes"`
	WritesPerSecond       float64 `yaml:"writes_per_second" mapstructure:"writes_per_second"`
	PageSize              int     `yaml:"page_size" mapstructure:"page_size"`
}

// AdherenceConfig configures daily outcome resolution.
type AdherenceConfig struct {
	PrimarySource           string `yaml:"primary_source" mapstructure:"primary_source"`
	HistoricalClosureReason string `yaml:"historical_closure_reason" mapstructure:"historical_closure_reason"`
	PurgeLagDays            int    `yaml:"purge_lag_days" mapstructure:"purge_lag_days"`
	MissedAdvancesLatest    bool   `yaml:"missed_advances_latest" mapstructure:"missed_advances_latest"`
	ClosedPrimaryNotTaken   bool   `yaml:"closed_primary_not_taken" mapstructure:"closed_primary_not_taken"`
}

// SchedulesConfig points at an optional YAML schedule fixture. When File is
// empty schedules are read from the store.
type SchedulesConfig struct {
	File string `yaml:"file" mapstructure:"file"`
}

// ImportConfig configures export fetching.
type ImportConfig struct {
	TimeoutSecs    int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RequestsPerSec float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
	FTPUser        string  `yaml:"ftp_user" mapstructure:"ftp_user"`
	FTPPassword    string  `yaml:"ftp_password" mapstructure:"ftp_password"`
	Charset        string  `yaml:"charset" mapstructure:"charset"`
	BatchSize      int     `yaml:"batch_size" mapstructure:"batch_size"`
}

// RetryConfig configures retries of transient store and transport failures.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// TemporalConfig locates the Temporal frontend for scheduled updates.
type TemporalConfig struct {
	HostPort          string `yaml:"host_port" mapstructure:"host_port"`
	Namespace         string `yaml:"namespace" mapstructure:"namespace"`
	TaskQueue         string `yaml:"task_queue" mapstructure:"task_queue"`
	WorkerConcurrency int    `yaml:"worker_concurrency" mapstructure:"worker_concurrency"`
}

// MonitoringConfig configures update run health alerts.
type MonitoringConfig struct {
	Enabled                     bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL                  string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold        float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	EpisodeFailureRateThreshold float64 `yaml:"episode_failure_rate_threshold" mapstructure:"episode_failure_rate_threshold"`
	StaleAfterHours             int     `yaml:"stale_after_hours" mapstructure:"stale_after_hours"`
	LookbackWindowHours         int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	CheckIntervalSecs           int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ADHERENCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("batch.max_concurrent_episodes", 10)
	v.SetDefault("batch.writes_per_second", 0)
	v.SetDefault("batch.page_size", 500)
	v.SetDefault("adherence.primary_source", "enikshay")
	v.SetDefault("adherence.historical_closure_reason", "historical")
	v.SetDefault("adherence.purge_lag_days", 1)
	v.SetDefault("adherence.missed_advances_latest", false)
	v.SetDefault("adherence.closed_primary_not_taken", false)
	v.SetDefault("import.timeout_secs", 60)
	v.SetDefault("import.requests_per_sec", 5)
	v.SetDefault("import.batch_size", 5000)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 200)
	v.SetDefault("retry.max_backoff_ms", 5000)
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "adherence-updates")
	v.SetDefault("temporal.worker_concurrency", 2)
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.failure_rate_threshold", 0.0)
	v.SetDefault("monitoring.episode_failure_rate_threshold", 0.05)
	v.SetDefault("monitoring.stale_after_hours", 36)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.check_interval_secs", 300)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on. Modes: "store"
// (any command touching the database), "update", "serve", "import",
// "temporal", "monitor".
func (c *Config) Validate(mode string) error {
	var errs []string

	storeChecks := func() {
		switch c.Store.Driver {
		case "postgres":
			if c.Store.DatabaseURL == "" {
				errs = append(errs, "store.database_url is required for the postgres driver")
			}
		case "sqlite":
		default:
			errs = append(errs, "store.driver must be postgres or sqlite, got "+quote(c.Store.Driver))
		}
	}
	adherenceChecks := func() {
		if strings.TrimSpace(c.Adherence.PrimarySource) == "" {
			errs = append(errs, "adherence.primary_source is required")
		}
		if c.Adherence.PurgeLagDays < 0 {
			errs = append(errs, "adherence.purge_lag_days must be >= 0")
		}
	}
	batchChecks := func() {
		if c.Batch.MaxConcurrentEpisodes < 1 || c.Batch.MaxConcurrentEpisodes > 100 {
			errs = append(errs, "batch.max_concurrent_episodes must be between 1 and 100")
		}
		if c.Batch.WritesPerSecond < 0 {
			errs = append(errs, "batch.writes_per_second must be >= 0")
		}
	}

	switch mode {
	case "store":
		storeChecks()
	case "update":
		storeChecks()
		adherenceChecks()
		batchChecks()
	case "serve":
		storeChecks()
		adherenceChecks()
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
		if c.Monitoring.Enabled && c.Monitoring.WebhookURL == "" {
			errs = append(errs, "monitoring.webhook_url is required when monitoring is enabled")
		}
	case "import":
		storeChecks()
		if c.Import.TimeoutSecs <= 0 {
			errs = append(errs, "import.timeout_secs must be > 0")
		}
	case "temporal":
		storeChecks()
		adherenceChecks()
		batchChecks()
		if c.Temporal.HostPort == "" {
			errs = append(errs, "temporal.host_port is required")
		}
	case "monitor":
		storeChecks()
		if c.Monitoring.FailureRateThreshold < 0 || c.Monitoring.FailureRateThreshold > 1 {
			errs = append(errs, "monitoring.failure_rate_threshold must be between 0 and 1")
		}
		if c.Monitoring.EpisodeFailureRateThreshold < 0 || c.Monitoring.EpisodeFailureRateThreshold > 1 {
			errs = append(errs, "monitoring.episode_failure_rate_threshold must be between 0 and 1")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func quote(s string) string {
	return `"` + s + `"`
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
