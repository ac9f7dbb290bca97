// Package workflow runs scheduled episode adherence updates on Temporal.
package workflow

import "github.com/tbcare/adherence-cli/internal/model"

const (
	WorkflowName     = "update_episodes"
	ActivityUpdate   = "update_episodes_run"
	DefaultTaskQueue = "adherence-updates"
)

// UpdateParams is the workflow input.
type UpdateParams struct {
	// PurgeDate is YYYY-MM-DD; empty means PurgeLagDays before the workflow
	// start time.
	PurgeDate    string   `json:"purge_date,omitempty"`
	PurgeLagDays int      `json:"purge_lag_days,omitempty"`
	Limit        int      `json:"limit,omitempty"`
	EpisodeIDs   []string `json:"episode_ids,omitempty"`
}

// UpdateResult is the workflow output.
type UpdateResult struct {
	RunID     string           `json:"run_id"`
	PurgeDate string           `json:"purge_date"`
	Status    model.RunStatus  `json:"status"`
	Summary   model.RunSummary `json:"summary"`
}
