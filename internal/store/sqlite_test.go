package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSQLite_InvalidDSN(t *testing.T) {
	_, err := NewSQLite("/nonexistent/dir/subdir/test.db")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sqlite")
}

func TestNewSQLite_WALMode(t *testing.T) {
	s, err := NewSQLite(filepath.Join(t.TempDir(), "wal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck

	var mode string
	require.NoError(t, s.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestSQLite_MigrateIdempotent(t *testing.T) {
	s, err := NewSQLite(filepath.Join(t.TempDir(), "migrate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck

	ctx := context.Background()
	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.Migrate(ctx))
}

func TestSQLite_CloseAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	ctx := context.Background()

	s1, err := NewSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s1.Migrate(ctx))
	_, err = s1.UpsertEpisodes(ctx, nil)
	require.NoError(t, err)
	_, err = s1.CreateRun(ctx, date(2016, 1, 20), false)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := NewSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { s2.Close() }) //nolint:errcheck

	runs, err := s2.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestTimeLayoutSortsLexically(t *testing.T) {
	a := formatTime(date(2016, 1, 1).Add(100_000_000))
	b := formatTime(date(2016, 1, 1).Add(120_000_000))
	assert.Less(t, a, b)
}
