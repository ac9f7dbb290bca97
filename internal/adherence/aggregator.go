// Package adherence computes TB treatment adherence scores for episodes from
// daily dose records and applies them as episode updates.
package adherence

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/tbcare/adherence-cli/internal/model"
	"github.com/tbcare/adherence-cli/internal/schedule"
)

// Policy configures conflict resolution between same-day records.
type Policy struct {
	// PrimarySource is the privileged source tag whose records take
	// precedence over all others.
	PrimarySource string

	// HistoricalClosureReason keeps a closed primary-source record
	// authoritative.
	HistoricalClosureReason string

	// MissedAdvancesLatest lets a day resolved to a missed dose move the
	// latest recorded date forward, not only taken days.
	MissedAdvancesLatest bool

	// ClosedPrimaryNotTaken resolves a day to not taken when it has
	// primary-source records but all of them are closed for a
	// non-historical reason, instead of falling back to other sources.
	ClosedPrimaryNotTaken bool
}

// DefaultPolicy returns the production resolution policy.
func DefaultPolicy() Policy {
	return Policy{
		PrimarySource:           "enikshay",
		HistoricalClosureReason: "historical",
	}
}

// Input is everything Compute needs for one episode.
type Input struct {
	ScheduleStart *time.Time
	PurgeDate     time.Time
	DosesPerWeek  int
	Observations  []model.DoseObservation
}

// Aggregator resolves daily outcomes and computes adherence results. It holds
// no mutable state and is safe for concurrent use.
type Aggregator struct {
	policy Policy
}

// NewAggregator creates an Aggregator with the given policy.
func NewAggregator(policy Policy) *Aggregator {
	return &Aggregator{policy: policy}
}

// Policy returns the resolution policy.
func (a *Aggregator) Policy() Policy {
	return a.policy
}

// authoritative picks the record that decides a single day. Primary-source
// records win unless closed for a non-historical reason; among candidates the
// latest recorded_at wins and ties keep the earliest record in input order.
func (a *Aggregator) authoritative(obs []model.DoseObservation) (model.DoseObservation, bool) {
	best, found, sawPrimary := -1, false, false
	for i, o := range obs {
		if o.Source == a.policy.PrimarySource {
			sawPrimary = true
		}
		if !a.isPrimary(o) {
			continue
		}
		if !found || o.RecordedAt.After(obs[best].RecordedAt) {
			best, found = i, true
		}
	}
	if !found && sawPrimary && a.policy.ClosedPrimaryNotTaken {
		return model.DoseObservation{}, false
	}
	if !found {
		for i, o := range obs {
			if !found || o.RecordedAt.After(obs[best].RecordedAt) {
				best, found = i, true
			}
		}
	}
	if !found {
		return model.DoseObservation{}, false
	}
	return obs[best], true
}

func (a *Aggregator) isPrimary(o model.DoseObservation) bool {
	if o.Source != a.policy.PrimarySource {
		return false
	}
	return !o.Closed || o.ClosureReason == a.policy.HistoricalClosureReason
}

// ResolveDailyOutcome reports whether a dose was taken on the day the given
// observations share. An empty set resolves to not taken.
func (a *Aggregator) ResolveDailyOutcome(obs []model.DoseObservation) bool {
	rec, ok := a.authoritative(obs)
	return ok && rec.Value.Taken()
}

// DosesTakenByDay resolves one outcome per distinct calendar date.
func (a *Aggregator) DosesTakenByDay(obs []model.DoseObservation) map[time.Time]bool {
	byDay := groupByDay(obs)
	out := make(map[time.Time]bool, len(byDay))
	for day, dayObs := range byDay {
		out[day] = a.ResolveDailyOutcome(dayObs)
	}
	return out
}

// Compute aggregates an episode's dose records into an AdherenceResult. A nil
// schedule start yields the empty result.
func (a *Aggregator) Compute(in Input) (model.AdherenceResult, error) {
	if in.ScheduleStart == nil {
		return model.AdherenceResult{}, nil
	}
	if in.DosesPerWeek <= 0 {
		return model.AdherenceResult{}, eris.Wrapf(schedule.ErrUnknownSchedule, "adherence: doses per week %d", in.DosesPerWeek)
	}

	start := model.DateOf(*in.ScheduleStart)
	dayBefore := start.AddDate(0, 0, -1)
	purge := model.DateOf(in.PurgeDate)

	var latest time.Time
	var taken []time.Time
	for day, dayObs := range groupByDay(in.Observations) {
		rec, ok := a.authoritative(dayObs)
		if !ok {
			continue
		}
		advances := rec.Value.Taken() || (a.policy.MissedAdvancesLatest && rec.Value == model.DoseMissed)
		if rec.Value.Taken() {
			taken = append(taken, day)
		}
		if advances && (latest.IsZero() || day.After(latest)) {
			latest = day
		}
	}
	if latest.IsZero() {
		latest = dayBefore
	}

	cutoff := latest
	if purge.Before(cutoff) {
		cutoff = purge
	}
	if cutoff.Before(dayBefore) {
		cutoff = dayBefore
	}

	confirmed := 0
	for _, day := range taken {
		if !day.After(cutoff) {
			confirmed++
		}
	}

	return model.AdherenceResult{
		CutoffDate:          cutoff,
		ExpectedDosesTaken:  expectedDoses(start, cutoff, in.DosesPerWeek),
		ConfirmedTakenCount: confirmed,
		TotalTakenCount:     len(taken),
		LatestRecordedDate:  latest,
	}, nil
}

// expectedDoses is floor(days / 7 * dosesPerWeek) in integer arithmetic.
func expectedDoses(start, cutoff time.Time, dosesPerWeek int) int {
	days := model.DaysBetween(start, cutoff)
	if days <= 0 {
		return 0
	}
	return days * dosesPerWeek / 7
}

// groupByDay buckets observations by calendar date, keeping input order
// within each day.
func groupByDay(obs []model.DoseObservation) map[time.Time][]model.DoseObservation {
	byDay := make(map[time.Time][]model.DoseObservation)
	for _, o := range obs {
		day := model.DateOf(o.Date)
		byDay[day] = append(byDay[day], o)
	}
	return byDay
}

// DefaultPurgeDate is the purge date used when a caller gives none: lagDays
// calendar days before now. A negative lag is treated as zero.
func DefaultPurgeDate(now time.Time, lagDays int) time.Time {
	if lagDays < 0 {
		lagDays = 0
	}
	return model.DateOf(now).AddDate(0, 0, -lagDays)
}
