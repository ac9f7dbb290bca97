// Package schedule resolves adherence schedule identifiers to their expected
// doses per week.
package schedule

import (
	"context"
	"errors"
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/tbcare/adherence-cli/internal/model"
)

// ErrUnknownSchedule is returned when a schedule id has no positive
// doses-per-week value.
var ErrUnknownSchedule = errors.New("unknown schedule")

// Lookup resolves a schedule id to doses per week.
type Lookup interface {
	DosesPerWeek(ctx context.Context, scheduleID string) (int, error)
}

// Table is a static, in-memory schedule fixture.
type Table map[string]int

// DosesPerWeek implements Lookup.
func (t Table) DosesPerWeek(_ context.Context, scheduleID string) (int, error) {
	n, ok := t[strings.TrimSpace(scheduleID)]
	if !ok || n <= 0 {
		return 0, eris.Wrapf(ErrUnknownSchedule, "schedule: %q", scheduleID)
	}
	return n, nil
}

// Schedules returns the table entries sorted by id.
func (t Table) Schedules() []model.Schedule {
	out := make([]model.Schedule, 0, len(t))
	for id, n := range t {
		out = append(out, model.Schedule{ID: id, DosesPerWeek: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type fixtureFile struct {
	Schedules []model.Schedule `yaml:"schedules"`
}

// LoadFile reads a YAML schedule fixture of the form:
//
//	schedules:
//	  - id: schedule1
//	    doses_per_week: 7
func LoadFile(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "schedule: read fixture")
	}
	return Parse(data)
}

// Parse decodes a YAML schedule fixture.
func Parse(data []byte) (Table, error) {
	var f fixtureFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "schedule: parse fixture")
	}
	t := make(Table, len(f.Schedules))
	for _, s := range f.Schedules {
		id := strings.TrimSpace(s.ID)
		if id == "" {
			return nil, eris.New("schedule: fixture entry without id")
		}
		if s.DosesPerWeek <= 0 {
			return nil, eris.Errorf("schedule: %q has non-positive doses_per_week %d", id, s.DosesPerWeek)
		}
		if _, dup := t[id]; dup {
			return nil, eris.Errorf("schedule: duplicate id %q", id)
		}
		t[id] = s.DosesPerWeek
	}
	return t, nil
}

// Getter is the store capability StoreLookup needs.
type Getter interface {
	GetSchedule(ctx context.Context, id string) (*model.Schedule, error)
}

// StoreLookup resolves schedules from the persistent store. A nil schedule
// from the getter means not found.
type StoreLookup struct {
	getter Getter
}

// NewStoreLookup creates a Lookup backed by the store.
func NewStoreLookup(g Getter) *StoreLookup {
	return &StoreLookup{getter: g}
}

// DosesPerWeek implements Lookup.
func (l *StoreLookup) DosesPerWeek(ctx context.Context, scheduleID string) (int, error) {
	s, err := l.getter.GetSchedule(ctx, strings.TrimSpace(scheduleID))
	if err != nil {
		return 0, eris.Wrapf(err, "schedule: get %q", scheduleID)
	}
	if s == nil || s.DosesPerWeek <= 0 {
		return 0, eris.Wrapf(ErrUnknownSchedule, "schedule: %q", scheduleID)
	}
	return s.DosesPerWeek, nil
}
