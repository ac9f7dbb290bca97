package model

import (
	"time"
)

// DateLayout is the calendar date format used on the wire and in storage.
const DateLayout = "2006-01-02"

// DoseValue is the recorded adherence value for a single day.
type DoseValue string

const (
	DoseDirectlyObserved DoseValue = "directly_observed_dose"
	DoseUnobserved       DoseValue = "unobserved_dose"
	DoseSelfAdministered DoseValue = "self_administered_dose"
	DoseMissed           DoseValue = "missed_dose"
	DoseUnknown          DoseValue = "unknown"
)

// DoseTakenIndicators lists every value that counts as a taken dose.
var DoseTakenIndicators = []DoseValue{
	DoseDirectlyObserved,
	DoseUnobserved,
	DoseSelfAdministered,
}

// Taken reports whether the value is one of the taken sub-indicators.
func (v DoseValue) Taken() bool {
	for _, t := range DoseTakenIndicators {
		if v == t {
			return true
		}
	}
	return false
}

// Valid reports whether v is a recognized dose value.
func (v DoseValue) Valid() bool {
	return v.Taken() || v == DoseMissed || v == DoseUnknown
}

// DoseObservation is one validated adherence record for an episode.
type DoseObservation struct {
	ID            string    `json:"id,omitempty"`
	EpisodeID     string    `json:"episode_id"`
	Date          time.Time `json:"date"`
	Value         DoseValue `json:"value"`
	Source        string    `json:"source"`
	RecordedAt    time.Time `json:"recorded_at"`
	Closed        bool      `json:"closed"`
	ClosureReason string    `json:"closure_reason,omitempty"`
}

// RawObservation is an adherence record as it arrives from an export file or
// API request, before validation.
type RawObservation struct {
	EpisodeID     string `json:"episode_id"`
	Date          string `json:"adherence_date"`
	Value         string `json:"adherence_value"`
	Source        string `json:"adherence_source"`
	RecordedAt    string `json:"modified_on"`
	Closed        string `json:"closed"`
	ClosureReason string `json:"adherence_closure_reason"`
}

// DateOf truncates t to its calendar date in UTC.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD calendar date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return DateOf(t), nil
}

// DaysBetween returns the whole number of days from a to b.
func DaysBetween(a, b time.Time) int {
	return int(DateOf(b).Sub(DateOf(a)).Hours() / 24)
}
