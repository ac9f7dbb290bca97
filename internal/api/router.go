// Package api exposes adherence computation and episode updates over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/tbcare/adherence-cli/internal/adherence"
	"github.com/tbcare/adherence-cli/internal/model"
	"github.com/tbcare/adherence-cli/internal/schedule"
	"github.com/tbcare/adherence-cli/internal/store"
)

// Store is the read side of the store the API serves.
type Store interface {
	GetEpisode(ctx context.Context, id string) (*model.Episode, error)
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.UpdateRun, error)
	Ping(ctx context.Context) error
}

// Updater refreshes a single episode.
type Updater interface {
	UpdateEpisode(ctx context.Context, id string, purgeDate time.Time) (*adherence.EpisodeUpdate, error)
}

// Options wires the router's dependencies.
type Options struct {
	Store        Store
	Updater      Updater
	Aggregator   *adherence.Aggregator
	Schedules    schedule.Lookup
	PurgeLagDays int
	CORSOrigins  []string
	Now          func() time.Time // defaults to time.Now
}

type server struct {
	opts Options
}

// NewRouter builds the HTTP handler.
func NewRouter(opts Options) http.Handler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Aggregator == nil {
		opts.Aggregator = adherence.NewAggregator(adherence.DefaultPolicy())
	}
	s := &server{opts: opts}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger)
	r.Use(chimw.Recoverer)

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)

	r.Route("/v1", func(v chi.Router) {
		v.Post("/adherence/compute", s.compute)
		v.Get("/runs", s.listRuns)
		v.Route("/episodes/{episodeID}", func(er chi.Router) {
			er.Get("/", s.getEpisode)
			er.Post("/adherence", s.updateEpisode)
		})
	})

	return r
}

// purgeDate parses an optional YYYY-MM-DD value, falling back to the
// configured lag behind today.
func (s *server) purgeDate(raw string) (time.Time, error) {
	if raw == "" {
		return adherence.DefaultPurgeDate(s.opts.Now(), s.opts.PurgeLagDays), nil
	}
	return model.ParseDate(raw)
}
