package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/tbcare/adherence-cli/internal/model"
	"github.com/tbcare/adherence-cli/internal/store"
)

// MetricsSnapshot holds a point-in-time view of update run health.
type MetricsSnapshot struct {
	// Update runs started within the lookback window.
	RunsTotal    int     `json:"runs_total"`
	RunsComplete int     `json:"runs_complete"`
	RunsFailed   int     `json:"runs_failed"`
	RunsRunning  int     `json:"runs_running"`
	RunFailRate  float64 `json:"run_fail_rate"`

	// Episode counters summed over finished, non dry-run runs in the window.
	EpisodesProcessed int     `json:"episodes_processed"`
	EpisodesUpdated   int     `json:"episodes_updated"`
	EpisodesFailed    int     `json:"episodes_failed"`
	EpisodeFailRate   float64 `json:"episode_fail_rate"`

	// Last successful write pass, regardless of the window.
	LastCompleteAt *time.Time `json:"last_complete_at,omitempty"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunLister is the store capability the collector needs.
type RunLister interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.UpdateRun, error)
}

// Collector gathers metrics from the update run history.
type Collector struct {
	store RunLister
	now   func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(st RunLister) *Collector {
	return &Collector{store: st, now: time.Now}
}

// historyLimit bounds how many recent runs one collection reads.
const historyLimit = 1000

// Collect gathers a snapshot of run metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.store.ListRuns(ctx, store.RunFilter{Limit: historyLimit})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	for _, r := range runs {
		if r.Status == model.RunStatusComplete && !r.DryRun && r.CompletedAt != nil {
			if snap.LastCompleteAt == nil || r.CompletedAt.After(*snap.LastCompleteAt) {
				t := *r.CompletedAt
				snap.LastCompleteAt = &t
			}
		}
		if r.StartedAt.Before(cutoff) {
			continue
		}

		snap.RunsTotal++
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
		case model.RunStatusFailed:
			snap.RunsFailed++
		case model.RunStatusRunning:
			snap.RunsRunning++
		}
		if r.Status != model.RunStatusRunning && !r.DryRun {
			snap.EpisodesProcessed += r.Summary.Processed
			snap.EpisodesUpdated += r.Summary.Updated
			snap.EpisodesFailed += r.Summary.Failed
		}
	}

	if finished := snap.RunsComplete + snap.RunsFailed; finished > 0 {
		snap.RunFailRate = float64(snap.RunsFailed) / float64(finished)
	}
	if snap.EpisodesProcessed > 0 {
		snap.EpisodeFailRate = float64(snap.EpisodesFailed) / float64(snap.EpisodesProcessed)
	}

	return snap, nil
}

// HoursSinceComplete is the age of the last successful run, or -1 when none
// has completed.
func (s *MetricsSnapshot) HoursSinceComplete() float64 {
	if s.LastCompleteAt == nil {
		return -1
	}
	return s.CollectedAt.Sub(*s.LastCompleteAt).Hours()
}
