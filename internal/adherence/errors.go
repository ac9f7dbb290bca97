package adherence

import (
	"errors"
	"fmt"
)

// ErrMalformedObservation matches any MalformedObservationError via errors.Is.
var ErrMalformedObservation = errors.New("malformed observation")

// ErrMixedEpisodes is returned when one computation is handed records from
// more than one episode.
var ErrMixedEpisodes = errors.New("observations span more than one episode")

// MalformedObservationError reports a raw adherence record that failed
// validation at the boundary.
type MalformedObservationError struct {
	Row   int // 1-based position in the input; 0 when unknown
	Field string
	Value string
	Err   error
}

func (e *MalformedObservationError) Error() string {
	msg := fmt.Sprintf("malformed observation: %s %q", e.Field, e.Value)
	if e.Row > 0 {
		msg = fmt.Sprintf("malformed observation (row %d): %s %q", e.Row, e.Field, e.Value)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MalformedObservationError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrMalformedObservation) match.
func (e *MalformedObservationError) Is(target error) bool {
	return target == ErrMalformedObservation
}

// IsMalformed reports whether err (or any error in its chain) is a
// MalformedObservationError.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformedObservation)
}
