package adherence

import (
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/tbcare/adherence-cli/internal/model"
)

// recordedAtLayouts are tried in order when parsing a recorded_at value.
var recordedAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05",
	model.DateLayout,
}

// ParseObservation validates a raw record and converts it to a typed
// DoseObservation. row is the 1-based input position used in error reports.
func ParseObservation(row int, raw model.RawObservation) (model.DoseObservation, error) {
	var obs model.DoseObservation

	obs.EpisodeID = strings.TrimSpace(raw.EpisodeID)

	dateStr := strings.TrimSpace(raw.Date)
	date, err := model.ParseDate(dateStr)
	if err != nil {
		return obs, &MalformedObservationError{Row: row, Field: "adherence_date", Value: raw.Date, Err: err}
	}
	obs.Date = date

	value := model.DoseValue(strings.TrimSpace(raw.Value))
	if !value.Valid() {
		return obs, &MalformedObservationError{Row: row, Field: "adherence_value", Value: raw.Value}
	}
	obs.Value = value

	if s := strings.TrimSpace(raw.RecordedAt); s != "" {
		ts, err := parseRecordedAt(s)
		if err != nil {
			return obs, &MalformedObservationError{Row: row, Field: "modified_on", Value: raw.RecordedAt, Err: err}
		}
		obs.RecordedAt = ts
	}

	if s := strings.TrimSpace(raw.Closed); s != "" {
		closed, err := strconv.ParseBool(s)
		if err != nil {
			return obs, &MalformedObservationError{Row: row, Field: "closed", Value: raw.Closed, Err: err}
		}
		obs.Closed = closed
	}

	obs.Source = strings.TrimSpace(raw.Source)
	obs.ClosureReason = strings.TrimSpace(raw.ClosureReason)
	return obs, nil
}

// ParseObservations validates every raw record, failing on the first
// malformed one.
func ParseObservations(raws []model.RawObservation) ([]model.DoseObservation, error) {
	out := make([]model.DoseObservation, 0, len(raws))
	for i, raw := range raws {
		obs, err := ParseObservation(i+1, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, obs)
	}
	return out, nil
}

// SingleEpisode checks that every observation with an episode id names the
// same episode and returns that id. Blank ids are ignored.
func SingleEpisode(obs []model.DoseObservation) (string, error) {
	var id string
	for _, o := range obs {
		switch {
		case o.EpisodeID == "":
		case id == "":
			id = o.EpisodeID
		case o.EpisodeID != id:
			return "", eris.Wrapf(ErrMixedEpisodes, "adherence: %q and %q", id, o.EpisodeID)
		}
	}
	return id, nil
}

func parseRecordedAt(s string) (time.Time, error) {
	var firstErr error
	for _, layout := range recordedAtLayouts {
		ts, err := time.Parse(layout, s)
		if err == nil {
			return ts.UTC(), nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}
