package model

import (
	"time"
)

// Episode case property names written by the adherence updater.
const (
	PropDateCalculated     = "aggregated_score_date_calculated"
	PropExpectedDosesTaken = "expected_doses_taken"
	PropCountTaken         = "aggregated_score_count_taken"
	PropTotalDosesTaken    = "adherence_total_doses_taken"
	PropLatestDateRecorded = "adherence_latest_date_recorded"
)

// Episode is a tracked treatment course for a patient.
type Episode struct {
	ID            string           `json:"id"`
	PersonID      string           `json:"person_id,omitempty"`
	ScheduleID    string           `json:"schedule_id"`
	ScheduleStart *time.Time       `json:"schedule_start,omitempty"`
	Adherence     *AdherenceResult `json:"adherence,omitempty"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// AdherenceResult is the outcome of aggregating an episode's dose records.
// The zero value is the empty result: the schedule has not started and no
// episode field should be touched.
type AdherenceResult struct {
	CutoffDate          time.Time `json:"cutoff_date"`
	ExpectedDosesTaken  int       `json:"expected_doses_taken"`
	ConfirmedTakenCount int       `json:"confirmed_taken_count"`
	TotalTakenCount     int       `json:"total_taken_count"`
	LatestRecordedDate  time.Time `json:"latest_recorded_date"`
}

// Empty reports whether the result carries no fields.
func (r AdherenceResult) Empty() bool {
	return r.CutoffDate.IsZero()
}

// Properties returns the episode case properties to update. The empty result
// yields an empty map.
func (r AdherenceResult) Properties() map[string]any {
	if r.Empty() {
		return map[string]any{}
	}
	return map[string]any{
		PropDateCalculated:     r.CutoffDate.Format(DateLayout),
		PropExpectedDosesTaken: r.ExpectedDosesTaken,
		PropCountTaken:         r.ConfirmedTakenCount,
		PropTotalDosesTaken:    r.TotalTakenCount,
		PropLatestDateRecorded: r.LatestRecordedDate.Format(DateLayout),
	}
}

// Equal compares two results field by field on calendar dates.
func (r AdherenceResult) Equal(o AdherenceResult) bool {
	return DateOf(r.CutoffDate).Equal(DateOf(o.CutoffDate)) &&
		r.ExpectedDosesTaken == o.ExpectedDosesTaken &&
		r.ConfirmedTakenCount == o.ConfirmedTakenCount &&
		r.TotalTakenCount == o.TotalTakenCount &&
		DateOf(r.LatestRecordedDate).Equal(DateOf(o.LatestRecordedDate))
}

// Schedule maps a schedule identifier to its expected doses per week.
type Schedule struct {
	ID           string `json:"id" yaml:"id"`
	DosesPerWeek int    `json:"doses_per_week" yaml:"doses_per_week"`
}
