package adherence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tbcare/adherence-cli/internal/model"
	"github.com/tbcare/adherence-cli/internal/store"
)

// fakeStore implements Store in memory for testing.
type fakeStore struct {
	mu           sync.Mutex
	episodes     map[string]model.Episode
	observations map[string][]model.DoseObservation
	writes       map[string]model.AdherenceResult
	writeErr     map[string]error
	listErr      error
	obsHook      func(episodeID string) error
	runs         map[string]*model.UpdateRun
	listCalls    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		episodes:     make(map[string]model.Episode),
		observations: make(map[string][]model.DoseObservation),
		writes:       make(map[string]model.AdherenceResult),
		writeErr:     make(map[string]error),
		runs:         make(map[string]*model.UpdateRun),
	}
}

func (f *fakeStore) addEpisode(ep model.Episode, obs ...model.DoseObservation) {
	f.episodes[ep.ID] = ep
	f.observations[ep.ID] = obs
}

func (f *fakeStore) GetEpisode(_ context.Context, id string) (*model.Episode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ep, ok := f.episodes[id]
	if !ok {
		return nil, nil
	}
	return &ep, nil
}

func (f *fakeStore) ListEpisodes(_ context.Context, filter store.EpisodeFilter) ([]model.Episode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	ids := make([]string, 0, len(f.episodes))
	for id := range f.episodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if filter.Offset >= len(ids) {
		return nil, nil
	}
	ids = ids[filter.Offset:]
	if filter.Limit > 0 && len(ids) > filter.Limit {
		ids = ids[:filter.Limit]
	}
	out := make([]model.Episode, 0, len(ids))
	for _, id := range ids {
		out = append(out, f.episodes[id])
	}
	return out, nil
}

func (f *fakeStore) ListObservations(_ context.Context, episodeID string) ([]model.DoseObservation, error) {
	if f.obsHook != nil {
		if err := f.obsHook(episodeID); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.observations[episodeID], nil
}

func (f *fakeStore) UpdateEpisodeAdherence(_ context.Context, id string, res model.AdherenceResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.writeErr[id]; err != nil {
		return err
	}
	f.writes[id] = res
	ep := f.episodes[id]
	ep.Adherence = &res
	f.episodes[id] = ep
	return nil
}

func (f *fakeStore) CreateRun(_ context.Context, purgeDate time.Time, dryRun bool) (*model.UpdateRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run := &model.UpdateRun{ID: "run-1", Status: model.RunStatusRunning, PurgeDate: purgeDate, DryRun: dryRun}
	f.runs[run.ID] = run
	return run, nil
}

func (f *fakeStore) CompleteRun(_ context.Context, runID string, summary model.RunSummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[runID].Status = model.RunStatusComplete
	f.runs[runID].Summary = summary
	return nil
}

func (f *fakeStore) FailRun(_ context.Context, runID string, summary model.RunSummary, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[runID].Status = model.RunStatusFailed
	f.runs[runID].Summary = summary
	f.runs[runID].Error = errMsg
	return nil
}
