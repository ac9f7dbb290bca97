package model

import "time"

// RunStatus represents the current state of an episode update run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// RunSummary holds the counters of an episode update run.
type RunSummary struct {
	Processed  int `json:"processed"`
	Updated    int `json:"updated"`
	Unchanged  int `json:"unchanged"`
	NotStarted int `json:"not_started"`
	Failed     int `json:"failed"`
}

// UpdateRun is one pass of the adherence updater over the episode registry.
type UpdateRun struct {
	ID          string     `json:"id"`
	Status      RunStatus  `json:"status"`
	PurgeDate   time.Time  `json:"purge_date"`
	DryRun      bool       `json:"dry_run"`
	Summary     RunSummary `json:"summary"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
