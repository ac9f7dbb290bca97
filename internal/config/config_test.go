package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, int32(10), cfg.Store.MaxConns)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 10, cfg.Batch.MaxConcurrentEpisodes)
	assert.Equal(t, 500, cfg.Batch.PageSize)
	assert.Equal(t, "enikshay", cfg.Adherence.PrimarySource)
	assert.Equal(t, "historical", cfg.Adherence.HistoricalClosureReason)
	assert.Equal(t, 1, cfg.Adherence.PurgeLagDays)
	assert.False(t, cfg.Adherence.MissedAdvancesLatest)
	assert.False(t, cfg.Adherence.ClosedPrimaryNotTaken)
	assert.Equal(t, 60, cfg.Import.TimeoutSecs)
	assert.Equal(t, 5000, cfg.Import.BatchSize)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, "adherence-updates", cfg.Temporal.TaskQueue)
	assert.Empty(t, cfg.Schedules.File)
	assert.False(t, cfg.Monitoring.Enabled)
	assert.Equal(t, 36, cfg.Monitoring.StaleAfterHours)
	assert.Equal(t, 24, cfg.Monitoring.LookbackWindowHours)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
  database_url: adherence.db
log:
  level: debug
  format: console
server:
  port: 9090
batch:
  max_concurrent_episodes: 4
adherence:
  primary_source: 99dots
  missed_advances_latest: true
  closed_primary_not_taken: true
schedules:
  file: schedules.yaml
import:
  ftp_user: partner
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "adherence.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Batch.MaxConcurrentEpisodes)
	assert.Equal(t, "99dots", cfg.Adherence.PrimarySource)
	assert.True(t, cfg.Adherence.MissedAdvancesLatest)
	assert.True(t, cfg.Adherence.ClosedPrimaryNotTaken)
	assert.Equal(t, "schedules.yaml", cfg.Schedules.File)
	assert.Equal(t, "partner", cfg.Import.FTPUser)
	// Defaults still apply for unset values
	assert.Equal(t, "historical", cfg.Adherence.HistoricalClosureReason)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("ADHERENCE_STORE_DRIVER", "postgres")
	t.Setenv("ADHERENCE_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("ADHERENCE_SERVER_PORT", "3000")
	t.Setenv("ADHERENCE_ADHERENCE_PURGE_LAG_DAYS", "0")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, 0, cfg.Adherence.PurgeLagDays)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: ["), 0o644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "loud", Format: "json"})
	assert.Error(t, err)
}

func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Batch.MaxConcurrentEpisodes = 10
	cfg.Adherence.PrimarySource = "enikshay"
	cfg.Adherence.PurgeLagDays = 1
	cfg.Server.Port = 8080
	cfg.Import.TimeoutSecs = 60
	return cfg
}

func TestValidateStore(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("store"))

	cfg.Store.Driver = "postgres"
	err := cfg.Validate("store")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")

	cfg.Store.DatabaseURL = "postgres://localhost/adherence"
	assert.NoError(t, cfg.Validate("store"))

	cfg.Store.Driver = "mysql"
	err = cfg.Validate("store")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `store.driver must be postgres or sqlite, got "mysql"`)
}

func TestValidateUpdate_Bounds(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("update"))

	cfg.Batch.MaxConcurrentEpisodes = 0
	cfg.Adherence.PurgeLagDays = -1
	cfg.Adherence.PrimarySource = " "
	err := cfg.Validate("update")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_concurrent_episodes must be between 1 and 100")
	assert.Contains(t, err.Error(), "purge_lag_days must be >= 0")
	assert.Contains(t, err.Error(), "primary_source is required")

	cfg = validDefaults()
	cfg.Batch.MaxConcurrentEpisodes = 101
	assert.Error(t, cfg.Validate("update"))

	cfg.Batch.MaxConcurrentEpisodes = 100
	cfg.Batch.WritesPerSecond = -1
	err = cfg.Validate("update")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "writes_per_second")
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateImport(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("import"))

	cfg.Import.TimeoutSecs = 0
	assert.ErrorContains(t, cfg.Validate("import"), "import.timeout_secs")
}

func TestValidateTemporal(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("temporal")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "temporal.host_port is required")

	cfg.Temporal.HostPort = "localhost:7233"
	assert.NoError(t, cfg.Validate("temporal"))
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateServe_MonitoringWebhook(t *testing.T) {
	cfg := validDefaults()
	cfg.Monitoring.Enabled = true

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring.webhook_url is required")

	cfg.Monitoring.WebhookURL = "https://hooks.example.org/adherence"
	assert.NoError(t, cfg.Validate("serve"))
}

func TestValidateMonitor_Thresholds(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("monitor"))

	cfg.Monitoring.FailureRateThreshold = 1.5
	cfg.Monitoring.EpisodeFailureRateThreshold = -0.1
	err := cfg.Validate("monitor")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failure_rate_threshold must be between 0 and 1")
	assert.Contains(t, err.Error(), "episode_failure_rate_threshold")
}
