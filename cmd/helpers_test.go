package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tbcare/adherence-cli/internal/config"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// setTestConfig installs a sqlite-backed config for the duration of a test.
func setTestConfig(t *testing.T) *config.Config {
	t.Helper()
	prev := cfg
	c := &config.Config{}
	c.Store.Driver = "sqlite"
	c.Store.DatabaseURL = filepath.Join(t.TempDir(), "adherence.db")
	c.Batch.MaxConcurrentEpisodes = 2
	c.Batch.PageSize = 10
	c.Adherence.PrimarySource = "enikshay"
	c.Adherence.HistoricalClosureReason = "historical"
	c.Adherence.PurgeLagDays = 1
	c.Import.TimeoutSecs = 5
	c.Import.BatchSize = 100
	c.Retry.MaxAttempts = 1
	c.Retry.InitialBackoffMs = 1
	cfg = c
	t.Cleanup(func() { cfg = prev })
	return c
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

const dosesCSV = `episode_id,adherence_date,adherence_value,adherence_source,modified_on,closed,adherence_closure_reason
ep-1,2016-01-12,directly_observed_dose,enikshay,2016-01-12T08:00:00Z,,
ep-1,2016-01-15,self_administered_dose,99dots,2016-01-15T09:00:00Z,,
ep-1,2016-01-15,missed_dose,enikshay,2016-01-15T08:00:00Z,,
ep-1,2016-01-22,unobserved_dose,99dots,2016-01-22T08:00:00Z,,
`
