package adherence

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/tbcare/adherence-cli/internal/model"
	"github.com/tbcare/adherence-cli/internal/resilience"
	"github.com/tbcare/adherence-cli/internal/schedule"
	"github.com/tbcare/adherence-cli/internal/store"
)

// ErrEpisodeNotFound is returned when an episode id has no row in the store.
var ErrEpisodeNotFound = errors.New("episode not found")

// Store is the persistence capability the updater needs. store.Store
// satisfies it.
type Store interface {
	GetEpisode(ctx context.Context, id string) (*model.Episode, error)
	ListEpisodes(ctx context.Context, filter store.EpisodeFilter) ([]model.Episode, error)
	ListObservations(ctx context.Context, episodeID string) ([]model.DoseObservation, error)
	UpdateEpisodeAdherence(ctx context.Context, id string, result model.AdherenceResult) error
	CreateRun(ctx context.Context, purgeDate time.Time, dryRun bool) (*model.UpdateRun, error)
	CompleteRun(ctx context.Context, runID string, summary model.RunSummary) error
	FailRun(ctx context.Context, runID string, summary model.RunSummary, errMsg string) error
}

// UpdaterConfig tunes an Updater.
type UpdaterConfig struct {
	MaxConcurrent   int     // episodes processed at once; default 10
	WritesPerSecond float64 // episode writes per second; 0 means unlimited
	PageSize        int     // episodes listed per store query; default 500
	DryRun          bool    // compute and count, never write
	Retry           resilience.RetryConfig
}

// Outcome classifies what happened to one episode.
type Outcome string

const (
	OutcomeUpdated    Outcome = "updated"
	OutcomeUnchanged  Outcome = "unchanged"
	OutcomeNotStarted Outcome = "not_started"
)

// EpisodeUpdate is the result of refreshing one episode.
type EpisodeUpdate struct {
	EpisodeID string                `json:"episode_id"`
	Outcome   Outcome               `json:"outcome"`
	Result    model.AdherenceResult `json:"result"`
	DryRun    bool                  `json:"dry_run,omitempty"`
}

// RunOptions narrows a Run.
type RunOptions struct {
	Limit      int      // stop after this many episodes; 0 means all
	EpisodeIDs []string // only these episodes when non-empty
}

// Updater recomputes adherence for episodes and writes the fields that
// changed.
type Updater struct {
	store     Store
	schedules schedule.Lookup
	agg       *Aggregator
	cfg       UpdaterConfig
	limiter   *rate.Limiter
}

// NewUpdater creates an Updater.
func NewUpdater(st Store, schedules schedule.Lookup, agg *Aggregator, cfg UpdaterConfig) *Updater {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 10
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 500
	}
	limit := rate.Inf
	if cfg.WritesPerSecond > 0 {
		limit = rate.Limit(cfg.WritesPerSecond)
	}
	return &Updater{
		store:     st,
		schedules: schedules,
		agg:       agg,
		cfg:       cfg,
		limiter:   rate.NewLimiter(limit, 1),
	}
}

// ComputeEpisode loads an episode's observations and schedule and computes
// its adherence result without writing anything.
func (u *Updater) ComputeEpisode(ctx context.Context, ep model.Episode, purgeDate time.Time) (model.AdherenceResult, error) {
	if ep.ScheduleStart == nil {
		return model.AdherenceResult{}, nil
	}

	dpw, err := u.schedules.DosesPerWeek(ctx, ep.ScheduleID)
	if err != nil {
		return model.AdherenceResult{}, eris.Wrapf(err, "adherence: episode %s", ep.ID)
	}

	obs, err := resilience.DoVal(ctx, u.retry("list_observations"), func(ctx context.Context) ([]model.DoseObservation, error) {
		return u.store.ListObservations(ctx, ep.ID)
	})
	if err != nil {
		return model.AdherenceResult{}, eris.Wrapf(err, "adherence: load observations for %s", ep.ID)
	}

	return u.agg.Compute(Input{
		ScheduleStart: ep.ScheduleStart,
		PurgeDate:     purgeDate,
		DosesPerWeek:  dpw,
		Observations:  obs,
	})
}

// UpdateEpisode refreshes a single episode by id.
func (u *Updater) UpdateEpisode(ctx context.Context, id string, purgeDate time.Time) (*EpisodeUpdate, error) {
	ep, err := resilience.DoVal(ctx, u.retry("get_episode"), func(ctx context.Context) (*model.Episode, error) {
		return u.store.GetEpisode(ctx, id)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "adherence: get episode %s", id)
	}
	if ep == nil {
		return nil, eris.Wrapf(ErrEpisodeNotFound, "adherence: episode %s", id)
	}
	return u.apply(ctx, *ep, purgeDate)
}

// apply computes an episode and writes the result only when it differs from
// the stored one.
func (u *Updater) apply(ctx context.Context, ep model.Episode, purgeDate time.Time) (*EpisodeUpdate, error) {
	res, err := u.ComputeEpisode(ctx, ep, purgeDate)
	if err != nil {
		return nil, err
	}

	upd := &EpisodeUpdate{EpisodeID: ep.ID, Result: res, DryRun: u.cfg.DryRun}
	switch {
	case res.Empty():
		upd.Outcome = OutcomeNotStarted
		return upd, nil
	case ep.Adherence != nil && ep.Adherence.Equal(res):
		upd.Outcome = OutcomeUnchanged
		return upd, nil
	}

	upd.Outcome = OutcomeUpdated
	if u.cfg.DryRun {
		return upd, nil
	}

	if err := u.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "adherence: write limiter")
	}
	err = resilience.Do(ctx, u.retry("update_adherence"), func(ctx context.Context) error {
		return u.store.UpdateEpisodeAdherence(ctx, ep.ID, res)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "adherence: write episode %s", ep.ID)
	}
	return upd, nil
}

// Run refreshes every episode (or the ones named in opts) concurrently and
// records the pass as an UpdateRun. Per-episode failures are logged and
// counted; only store failures around the run itself and cancellation fail
// the run.
func (u *Updater) Run(ctx context.Context, purgeDate time.Time, opts RunOptions) (*model.UpdateRun, error) {
	purgeDate = model.DateOf(purgeDate)
	run, err := u.store.CreateRun(ctx, purgeDate, u.cfg.DryRun)
	if err != nil {
		return nil, eris.Wrap(err, "adherence: create run")
	}

	log := zap.L().With(zap.String("run_id", run.ID), zap.String("purge_date", purgeDate.Format(model.DateLayout)))
	log.Info("update run started",
		zap.Int("concurrency", u.cfg.MaxConcurrent),
		zap.Bool("dry_run", u.cfg.DryRun),
	)

	var processed, updated, unchanged, notStarted, failed atomic.Int64
	summary := func() model.RunSummary {
		return model.RunSummary{
			Processed:  int(processed.Load()),
			Updated:    int(updated.Load()),
			Unchanged:  int(unchanged.Load()),
			NotStarted: int(notStarted.Load()),
			Failed:     int(failed.Load()),
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.cfg.MaxConcurrent)

	handle := func(ep model.Episode) {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			upd, err := u.apply(gctx, ep, purgeDate)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				processed.Add(1)
				failed.Add(1)
				log.Error("episode update failed", zap.String("episode", ep.ID), zap.Error(err))
				return nil
			}
			processed.Add(1)
			switch upd.Outcome {
			case OutcomeUpdated:
				updated.Add(1)
				log.Debug("episode updated", zap.String("episode", ep.ID), zap.Any("properties", upd.Result.Properties()))
			case OutcomeUnchanged:
				unchanged.Add(1)
			case OutcomeNotStarted:
				notStarted.Add(1)
			}
			return nil
		})
	}

	feedErr := u.feed(gctx, opts, handle)
	waitErr := g.Wait()

	runErr := errors.Join(feedErr, waitErr)
	if runErr == nil {
		runErr = ctx.Err()
	}

	sum := summary()
	finishCtx := context.WithoutCancel(ctx)
	if runErr != nil {
		if err := u.store.FailRun(finishCtx, run.ID, sum, runErr.Error()); err != nil {
			log.Warn("failed to record run failure", zap.Error(err))
		}
		run.Status = model.RunStatusFailed
		run.Error = runErr.Error()
		run.Summary = sum
		return run, eris.Wrap(runErr, "adherence: update run")
	}

	if err := u.store.CompleteRun(finishCtx, run.ID, sum); err != nil {
		return run, eris.Wrap(err, "adherence: complete run")
	}
	now := time.Now().UTC()
	run.Status = model.RunStatusComplete
	run.Summary = sum
	run.CompletedAt = &now

	log.Info("update run complete",
		zap.Int("processed", sum.Processed),
		zap.Int("updated", sum.Updated),
		zap.Int("unchanged", sum.Unchanged),
		zap.Int("not_started", sum.NotStarted),
		zap.Int("failed", sum.Failed),
	)
	return run, nil
}

// feed hands episodes to handle, either the explicit ids or every episode
// page by page, honoring opts.Limit.
func (u *Updater) feed(ctx context.Context, opts RunOptions, handle func(model.Episode)) error {
	sent := 0
	full := func() bool { return opts.Limit > 0 && sent >= opts.Limit }

	if len(opts.EpisodeIDs) > 0 {
		for _, id := range opts.EpisodeIDs {
			if full() || ctx.Err() != nil {
				return nil
			}
			ep, err := resilience.DoVal(ctx, u.retry("get_episode"), func(ctx context.Context) (*model.Episode, error) {
				return u.store.GetEpisode(ctx, id)
			})
			if err != nil {
				return eris.Wrapf(err, "adherence: get episode %s", id)
			}
			if ep == nil {
				zap.L().Warn("episode not found, skipping", zap.String("episode", id))
				continue
			}
			handle(*ep)
			sent++
		}
		return nil
	}

	for offset := 0; ; offset += u.cfg.PageSize {
		if ctx.Err() != nil {
			return nil
		}
		page, err := resilience.DoVal(ctx, u.retry("list_episodes"), func(ctx context.Context) ([]model.Episode, error) {
			return u.store.ListEpisodes(ctx, store.EpisodeFilter{Limit: u.cfg.PageSize, Offset: offset})
		})
		if err != nil {
			return eris.Wrap(err, "adherence: list episodes")
		}
		for _, ep := range page {
			if full() {
				return nil
			}
			handle(ep)
			sent++
		}
		if len(page) < u.cfg.PageSize {
			return nil
		}
	}
}

func (u *Updater) retry(op string) resilience.RetryConfig {
	cfg := u.cfg.Retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger("updater", op)
	}
	return cfg
}
