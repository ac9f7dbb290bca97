package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"

	"github.com/tbcare/adherence-cli/internal/adherence"
	"github.com/tbcare/adherence-cli/internal/model"
	"github.com/tbcare/adherence-cli/internal/store"
)

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	if s.opts.Store != nil {
		if err := s.opts.Store.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type computeRequest struct {
	ScheduleStart *string                `json:"schedule_start"`
	PurgeDate     string                 `json:"purge_date"`
	DosesPerWeek  int                    `json:"doses_per_week"`
	ScheduleID    string                 `json:"schedule_id"`
	Observations  []model.RawObservation `json:"observations"`
}

type computeResponse struct {
	Empty      bool                   `json:"empty"`
	Result     *model.AdherenceResult `json:"result,omitempty"`
	Properties map[string]any         `json:"properties"`
}

func newComputeResponse(res model.AdherenceResult) computeResponse {
	out := computeResponse{Empty: res.Empty(), Properties: res.Properties()}
	if !out.Empty {
		out.Result = &res
	}
	return out
}

// compute runs the aggregator on observations in the request body without
// touching the store.
func (s *server) compute(w http.ResponseWriter, r *http.Request) {
	var req computeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, eris.Wrap(errBadRequest, "invalid json: "+err.Error()))
		return
	}

	purge, err := s.purgeDate(strings.TrimSpace(req.PurgeDate))
	if err != nil {
		writeError(w, r, eris.Wrapf(errBadRequest, "purge_date must be YYYY-MM-DD, got %q", req.PurgeDate))
		return
	}

	in := adherence.Input{PurgeDate: purge, DosesPerWeek: req.DosesPerWeek}
	if req.ScheduleStart != nil && strings.TrimSpace(*req.ScheduleStart) != "" {
		start, err := model.ParseDate(strings.TrimSpace(*req.ScheduleStart))
		if err != nil {
			writeError(w, r, eris.Wrapf(errBadRequest, "schedule_start must be YYYY-MM-DD, got %q", *req.ScheduleStart))
			return
		}
		in.ScheduleStart = &start
	}

	if in.ScheduleStart != nil && in.DosesPerWeek == 0 && req.ScheduleID != "" && s.opts.Schedules != nil {
		dpw, err := s.opts.Schedules.DosesPerWeek(r.Context(), req.ScheduleID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		in.DosesPerWeek = dpw
	}

	obs, err := adherence.ParseObservations(req.Observations)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := adherence.SingleEpisode(obs); err != nil {
		writeError(w, r, eris.Wrapf(errBadRequest, "%v", err))
		return
	}
	in.Observations = obs

	res, err := s.opts.Aggregator.Compute(in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newComputeResponse(res))
}

func (s *server) getEpisode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "episodeID")
	ep, err := s.opts.Store.GetEpisode(r.Context(), id)
	if err != nil {
		writeError(w, r, eris.Wrapf(err, "get episode %s", id))
		return
	}
	if ep == nil {
		writeError(w, r, eris.Wrapf(adherence.ErrEpisodeNotFound, "episode %s", id))
		return
	}
	writeJSON(w, http.StatusOK, ep)
}

type updateRequest struct {
	PurgeDate string `json:"purge_date"`
}

// updateEpisode recomputes one stored episode and writes changed fields. The
// body is optional.
func (s *server) updateEpisode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "episodeID")

	var req updateRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, r, eris.Wrap(errBadRequest, "invalid json: "+err.Error()))
			return
		}
	}
	if q := r.URL.Query().Get("purge_date"); q != "" {
		req.PurgeDate = q
	}

	purge, err := s.purgeDate(strings.TrimSpace(req.PurgeDate))
	if err != nil {
		writeError(w, r, eris.Wrapf(errBadRequest, "purge_date must be YYYY-MM-DD, got %q", req.PurgeDate))
		return
	}

	upd, err := s.opts.Updater.UpdateEpisode(r.Context(), id, purge)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, upd)
}

func (s *server) listRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.RunFilter{Status: model.RunStatus(q.Get("status"))}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, r, eris.Wrapf(errBadRequest, "%s must be a non-negative integer", name))
			return
		}
		*dst = n
	}

	runs, err := s.opts.Store.ListRuns(r.Context(), filter)
	if err != nil {
		writeError(w, r, eris.Wrap(err, "list runs"))
		return
	}
	if runs == nil {
		runs = []model.UpdateRun{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}
