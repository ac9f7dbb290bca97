package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tbcare/adherence-cli/internal/adherence"
	"github.com/tbcare/adherence-cli/internal/fetcher"
	"github.com/tbcare/adherence-cli/internal/model"
	"github.com/tbcare/adherence-cli/internal/resilience"
	"github.com/tbcare/adherence-cli/internal/schedule"
	"github.com/tbcare/adherence-cli/internal/store"
	"github.com/tbcare/adherence-cli/internal/workflow"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "adherence.db"
		}
		st, err := store.NewSQLite(dsn)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "postgres":
		st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore opens the configured store and makes sure its tables exist.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

func newAggregator() *adherence.Aggregator {
	return adherence.NewAggregator(adherence.Policy{
		PrimarySource:           cfg.Adherence.PrimarySource,
		HistoricalClosureReason: cfg.Adherence.HistoricalClosureReason,
		MissedAdvancesLatest:    cfg.Adherence.MissedAdvancesLatest,
		ClosedPrimaryNotTaken:   cfg.Adherence.ClosedPrimaryNotTaken,
	})
}

// newLookup prefers the YAML schedule fixture when one is configured.
func newLookup(g schedule.Getter) (schedule.Lookup, error) {
	if cfg.Schedules.File != "" {
		t, err := schedule.LoadFile(cfg.Schedules.File)
		if err != nil {
			return nil, err
		}
		zap.L().Debug("schedules loaded from file",
			zap.String("file", cfg.Schedules.File),
			zap.Int("count", len(t)),
		)
		return t, nil
	}
	return schedule.NewStoreLookup(g), nil
}

func retryConfig() resilience.RetryConfig {
	return resilience.FromRetryConfig(cfg.Retry.MaxAttempts, cfg.Retry.InitialBackoffMs, cfg.Retry.MaxBackoffMs)
}

func newUpdater(st store.Store, dryRun bool) (*adherence.Updater, error) {
	lookup, err := newLookup(st)
	if err != nil {
		return nil, err
	}
	return adherence.NewUpdater(st, lookup, newAggregator(), adherence.UpdaterConfig{
		MaxConcurrent:   cfg.Batch.MaxConcurrentEpisodes,
		WritesPerSecond: cfg.Batch.WritesPerSecond,
		PageSize:        cfg.Batch.PageSize,
		DryRun:          dryRun,
		Retry:           retryConfig(),
	}), nil
}

func newFetcher() *fetcher.Router {
	timeout := time.Duration(cfg.Import.TimeoutSecs) * time.Second
	return fetcher.NewRouter(fetcher.Options{
		HTTP: fetcher.HTTPOptions{
			UserAgent:      "adherence-cli/1.0",
			Timeout:        timeout,
			MaxRetries:     cfg.Retry.MaxAttempts,
			RequestsPerSec: cfg.Import.RequestsPerSec,
			Retry:          retryConfig(),
		},
		FTP: fetcher.FTPOptions{
			Timeout:  timeout,
			User:     cfg.Import.FTPUser,
			Password: cfg.Import.FTPPassword,
		},
	})
}

func temporalConfig() workflow.Config {
	return workflow.Config{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		TaskQueue: cfg.Temporal.TaskQueue,
	}
}

// resolvePurgeDate parses an explicit purge date or falls back to today
// minus the configured lag.
func resolvePurgeDate(raw string, now time.Time, lagDays int) (time.Time, error) {
	if raw == "" {
		return adherence.DefaultPurgeDate(now, lagDays), nil
	}
	d, err := model.ParseDate(raw)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "invalid purge date %q", raw)
	}
	return d, nil
}
