package workflow

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/tbcare/adherence-cli/internal/adherence"
	"github.com/tbcare/adherence-cli/internal/model"
)

// UpdateEpisodesWorkflow resolves the purge date and runs one update pass as
// a single activity. A failed pass is retried by Temporal; each attempt is
// recorded as its own run.
func UpdateEpisodesWorkflow(ctx workflow.Context, p UpdateParams) (UpdateResult, error) {
	if p.PurgeDate == "" {
		p.PurgeDate = adherence.DefaultPurgeDate(workflow.Now(ctx), p.PurgeLagDays).Format(model.DateLayout)
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 6 * time.Hour,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        time.Minute,
			BackoffCoefficient:     2,
			MaximumAttempts:        3,
			NonRetryableErrorTypes: []string{errInvalidParams},
		},
	})

	workflow.GetLogger(ctx).Info("update episodes workflow started", "purge_date", p.PurgeDate)

	var out UpdateResult
	if err := workflow.ExecuteActivity(ctx, ActivityUpdate, p).Get(ctx, &out); err != nil {
		return UpdateResult{PurgeDate: p.PurgeDate, Status: model.RunStatusFailed}, err
	}
	return out, nil
}
