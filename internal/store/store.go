package store

import (
	"context"
	"time"

	"github.com/tbcare/adherence-cli/internal/model"
)

// EpisodeFilter specifies criteria for listing episodes.
type EpisodeFilter struct {
	ScheduleID  string `json:"schedule_id,omitempty"`
	StartedOnly bool   `json:"started_only,omitempty"`
	Limit       int    `json:"limit,omitempty"`
	Offset      int    `json:"offset,omitempty"`
}

// RunFilter specifies criteria for listing update runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for episodes, dose observations,
// schedules and update runs. Get methods return nil, nil when the row does
// not exist.
type Store interface {
	// Episodes
	UpsertEpisodes(ctx context.Context, episodes []model.Episode) (int64, error)
	GetEpisode(ctx context.Context, id string) (*model.Episode, error)
	ListEpisodes(ctx context.Context, filter EpisodeFilter) ([]model.Episode, error)
	UpdateEpisodeAdherence(ctx context.Context, id string, result model.AdherenceResult) error

	// Dose observations
	InsertObservations(ctx context.Context, obs []model.DoseObservation) (int64, error)
	ListObservations(ctx context.Context, episodeID string) ([]model.DoseObservation, error)

	// Schedules
	UpsertSchedules(ctx context.Context, schedules []model.Schedule) (int64, error)
	GetSchedule(ctx context.Context, id string) (*model.Schedule, error)
	ListSchedules(ctx context.Context) ([]model.Schedule, error)

	// Update runs
	CreateRun(ctx context.Context, purgeDate time.Time, dryRun bool) (*model.UpdateRun, error)
	CompleteRun(ctx context.Context, runID string, summary model.RunSummary) error
	FailRun(ctx context.Context, runID string, summary model.RunSummary, errMsg string) error
	ListRuns(ctx context.Context, filter RunFilter) ([]model.UpdateRun, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

func listLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}

// adherenceColumns holds the nullable episode adherence fields as scanned.
type adherenceColumns struct {
	cutoff    *time.Time
	expected  *int
	confirmed *int
	total     *int
	latest    *time.Time
}

func (c adherenceColumns) result() *model.AdherenceResult {
	if c.cutoff == nil {
		return nil
	}
	r := &model.AdherenceResult{CutoffDate: model.DateOf(*c.cutoff)}
	if c.expected != nil {
		r.ExpectedDosesTaken = *c.expected
	}
	if c.confirmed != nil {
		r.ConfirmedTakenCount = *c.confirmed
	}
	if c.total != nil {
		r.TotalTakenCount = *c.total
	}
	if c.latest != nil {
		r.LatestRecordedDate = model.DateOf(*c.latest)
	}
	return r
}

func dateOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return model.DateOf(*t)
}
