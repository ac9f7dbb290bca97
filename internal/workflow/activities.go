package workflow

import (
	"context"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"github.com/tbcare/adherence-cli/internal/adherence"
	"github.com/tbcare/adherence-cli/internal/model"
)

const errInvalidParams = "InvalidParams"

// Runner performs one update pass. *adherence.Updater satisfies it.
type Runner interface {
	Run(ctx context.Context, purgeDate time.Time, opts adherence.RunOptions) (*model.UpdateRun, error)
}

// Activities holds the activity implementations registered on the worker.
type Activities struct {
	Runner Runner
}

// UpdateEpisodes runs the updater over the requested episodes.
func (a *Activities) UpdateEpisodes(ctx context.Context, p UpdateParams) (UpdateResult, error) {
	res := UpdateResult{PurgeDate: p.PurgeDate}
	if a == nil || a.Runner == nil {
		return res, temporal.NewNonRetryableApplicationError("workflow: activity not configured", errInvalidParams, nil)
	}

	purge, err := model.ParseDate(p.PurgeDate)
	if err != nil {
		return res, temporal.NewNonRetryableApplicationError("workflow: invalid purge_date "+p.PurgeDate, errInvalidParams, err)
	}

	info := activity.GetInfo(ctx)
	log := zap.L().With(
		zap.String("workflow_id", info.WorkflowExecution.ID),
		zap.Int32("attempt", info.Attempt),
	)
	log.Info("update activity started", zap.String("purge_date", p.PurgeDate))

	run, err := a.Runner.Run(ctx, purge, adherence.RunOptions{Limit: p.Limit, EpisodeIDs: p.EpisodeIDs})
	if run != nil {
		res.RunID = run.ID
		res.Status = run.Status
		res.Summary = run.Summary
	}
	if err != nil {
		log.Error("update activity failed", zap.String("run_id", res.RunID), zap.Error(err))
		return res, err
	}
	return res, nil
}
