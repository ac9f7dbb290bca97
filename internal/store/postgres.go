package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/tbcare/adherence-cli/internal/db"
	"github.com/tbcare/adherence-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	episodeColumns = `id, person_id, schedule_id, schedule_start, aggregated_score_date_calculated,
	expected_doses_taken, aggregated_score_count_taken, adherence_total_doses_taken,
	adherence_latest_date_recorded, updated_at`

	observationColumns = `id, episode_id, adherence_date, adherence_value, adherence_source,
	modified_on, closed, adherence_closure_reason`

	runColumns = `id, status, purge_date, dry_run, processed, updated, unchanged, not_started,
	failed, error, started_at, completed_at`

	sqlGetEpisode       = `SELECT ` + episodeColumns + ` FROM episodes WHERE id = $1`
	sqlListObservations = `SELECT ` + observationColumns + ` FROM dose_observations WHERE episode_id = $1 ORDER BY adherence_date, seq`
	sqlGetSchedule      = `SELECT id, doses_per_week FROM schedules WHERE id = $1`
	sqlUpdateAdherence  = `UPDATE episodes SET aggregated_score_date_calculated = $1, expected_doses_taken = $2,
	aggregated_score_count_taken = $3, adherence_total_doses_taken = $4,
	adherence_latest_date_recorded = $5, updated_at = $6 WHERE id = $7`
)

// preparedStatements lists queries to prepare on each new connection. These
// run once per episode during an update run.
var preparedStatements = map[string]string{
	"get_episode":       sqlGetEpisode,
	"list_observations": sqlListObservations,
	"get_schedule":      sqlGetSchedule,
	"update_adherence":  sqlUpdateAdherence,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS schedules (
	id             TEXT PRIMARY KEY,
	doses_per_week INTEGER NOT NULL CHECK (doses_per_week > 0),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS episodes (
	id                               TEXT PRIMARY KEY,
	person_id                        TEXT NOT NULL DEFAULT '',
	schedule_id                      TEXT NOT NULL DEFAULT '',
	schedule_start                   DATE,
	aggregated_score_date_calculated DATE,
	expected_doses_taken             INTEGER,
	aggregated_score_count_taken     INTEGER,
	adherence_total_doses_taken      INTEGER,
	adherence_latest_date_recorded   DATE,
	updated_at                       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_episodes_schedule_id ON episodes(schedule_id);

CREATE TABLE IF NOT EXISTS dose_observations (
	id                       TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	seq                      BIGSERIAL,
	episode_id               TEXT NOT NULL,
	adherence_date           DATE NOT NULL,
	adherence_value          TEXT NOT NULL,
	adherence_source         TEXT NOT NULL DEFAULT '',
	modified_on              TIMESTAMPTZ,
	closed                   BOOLEAN NOT NULL DEFAULT false,
	adherence_closure_reason TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_dose_observations_episode ON dose_observations(episode_id, adherence_date, seq);

CREATE TABLE IF NOT EXISTS update_runs (
	id           TEXT PRIMARY KEY,
	status       TEXT NOT NULL DEFAULT 'running',
	purge_date   DATE NOT NULL,
	dry_run      BOOLEAN NOT NULL DEFAULT false,
	processed    INTEGER NOT NULL DEFAULT 0,
	updated      INTEGER NOT NULL DEFAULT 0,
	unchanged    INTEGER NOT NULL DEFAULT 0,
	not_started  INTEGER NOT NULL DEFAULT 0,
	failed       INTEGER NOT NULL DEFAULT 0,
	error        TEXT NOT NULL DEFAULT '',
	started_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_update_runs_status ON update_runs(status);
CREATE INDEX IF NOT EXISTS idx_update_runs_started_at ON update_runs(started_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Episodes ---

func (s *PostgresStore) UpsertEpisodes(ctx context.Context, episodes []model.Episode) (int64, error) {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(episodes))
	for _, ep := range episodes {
		rows = append(rows, []any{ep.ID, ep.PersonID, ep.ScheduleID, dateOrNil(ep.ScheduleStart), now})
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "episodes",
		Columns:      []string{"id", "person_id", "schedule_id", "schedule_start", "updated_at"},
		ConflictKeys: []string{"id"},
	}, rows)
	return n, eris.Wrap(err, "postgres: upsert episodes")
}

func (s *PostgresStore) GetEpisode(ctx context.Context, id string) (*model.Episode, error) {
	ep, err := scanEpisode(s.pool.QueryRow(ctx, sqlGetEpisode, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get episode %s", id)
	}
	return ep, nil
}

func (s *PostgresStore) ListEpisodes(ctx context.Context, filter EpisodeFilter) ([]model.Episode, error) {
	query := `SELECT ` + episodeColumns + ` FROM episodes WHERE true`
	args := []any{}
	argIdx := 1

	if filter.ScheduleID != "" {
		query += fmt.Sprintf(` AND schedule_id = $%d`, argIdx)
		args = append(args, filter.ScheduleID)
		argIdx++
	}
	if filter.StartedOnly {
		query += ` AND schedule_start IS NOT NULL`
	}
	query += ` ORDER BY id`

	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list episodes")
	}
	defer rows.Close()

	var episodes []model.Episode
	for rows.Next() {
		ep, err := scanEpisode(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan episode")
		}
		episodes = append(episodes, *ep)
	}
	return episodes, eris.Wrap(rows.Err(), "postgres: list episodes iterate")
}

func (s *PostgresStore) UpdateEpisodeAdherence(ctx context.Context, id string, r model.AdherenceResult) error {
	if r.Empty() {
		return nil
	}
	tag, err := s.pool.Exec(ctx, sqlUpdateAdherence,
		model.DateOf(r.CutoffDate), r.ExpectedDosesTaken, r.ConfirmedTakenCount,
		r.TotalTakenCount, model.DateOf(r.LatestRecordedDate), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update episode adherence %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("episode not found: %s", id)
	}
	return nil
}

func scanEpisode(row pgx.Row) (*model.Episode, error) {
	var ep model.Episode
	var adh adherenceColumns
	err := row.Scan(&ep.ID, &ep.PersonID, &ep.ScheduleID, &ep.ScheduleStart,
		&adh.cutoff, &adh.expected, &adh.confirmed, &adh.total, &adh.latest, &ep.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if ep.ScheduleStart != nil {
		start := model.DateOf(*ep.ScheduleStart)
		ep.ScheduleStart = &start
	}
	ep.Adherence = adh.result()
	return &ep, nil
}

// --- Dose observations ---

func (s *PostgresStore) InsertObservations(ctx context.Context, obs []model.DoseObservation) (int64, error) {
	rows := make([][]any, 0, len(obs))
	for _, o := range obs {
		id := o.ID
		if id == "" {
			id = uuid.New().String()
		}
		var modified any
		if !o.RecordedAt.IsZero() {
			modified = o.RecordedAt.UTC()
		}
		rows = append(rows, []any{
			id, o.EpisodeID, model.DateOf(o.Date), string(o.Value), o.Source,
			modified, o.Closed, o.ClosureReason,
		})
	}
	n, err := db.CopyFrom(ctx, s.pool, "dose_observations", []string{
		"id", "episode_id", "adherence_date", "adherence_value", "adherence_source",
		"modified_on", "closed", "adherence_closure_reason",
	}, rows)
	return n, eris.Wrap(err, "postgres: insert observations")
}

func (s *PostgresStore) ListObservations(ctx context.Context, episodeID string) ([]model.DoseObservation, error) {
	rows, err := s.pool.Query(ctx, sqlListObservations, episodeID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list observations %s", episodeID)
	}
	defer rows.Close()

	var out []model.DoseObservation
	for rows.Next() {
		var o model.DoseObservation
		var value string
		var modified *time.Time
		if err := rows.Scan(&o.ID, &o.EpisodeID, &o.Date, &value, &o.Source, &modified, &o.Closed, &o.ClosureReason); err != nil {
			return nil, eris.Wrap(err, "postgres: scan observation")
		}
		o.Date = model.DateOf(o.Date)
		o.Value = model.DoseValue(value)
		if modified != nil {
			o.RecordedAt = modified.UTC()
		}
		out = append(out, o)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list observations iterate")
}

// --- Schedules ---

func (s *PostgresStore) UpsertSchedules(ctx context.Context, schedules []model.Schedule) (int64, error) {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(schedules))
	for _, sc := range schedules {
		rows = append(rows, []any{sc.ID, sc.DosesPerWeek, now})
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "schedules",
		Columns:      []string{"id", "doses_per_week", "updated_at"},
		ConflictKeys: []string{"id"},
	}, rows)
	return n, eris.Wrap(err, "postgres: upsert schedules")
}

func (s *PostgresStore) GetSchedule(ctx context.Context, id string) (*model.Schedule, error) {
	var sc model.Schedule
	err := s.pool.QueryRow(ctx, sqlGetSchedule, id).Scan(&sc.ID, &sc.DosesPerWeek)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get schedule %s", id)
	}
	return &sc, nil
}

func (s *PostgresStore) ListSchedules(ctx context.Context) ([]model.Schedule, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, doses_per_week FROM schedules ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list schedules")
	}
	defer rows.Close()

	var out []model.Schedule
	for rows.Next() {
		var sc model.Schedule
		if err := rows.Scan(&sc.ID, &sc.DosesPerWeek); err != nil {
			return nil, eris.Wrap(err, "postgres: scan schedule")
		}
		out = append(out, sc)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list schedules iterate")
}

// --- Update runs ---

func (s *PostgresStore) CreateRun(ctx context.Context, purgeDate time.Time, dryRun bool) (*model.UpdateRun, error) {
	run := &model.UpdateRun{
		ID:        uuid.New().String(),
		Status:    model.RunStatusRunning,
		PurgeDate: model.DateOf(purgeDate),
		DryRun:    dryRun,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO update_runs (id, status, purge_date, dry_run, started_at) VALUES ($1, $2, $3, $4, $5)`,
		run.ID, string(run.Status), run.PurgeDate, run.DryRun, run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert update run")
	}
	return run, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, summary model.RunSummary) error {
	return s.finishRun(ctx, runID, model.RunStatusComplete, summary, "")
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, summary model.RunSummary, errMsg string) error {
	return s.finishRun(ctx, runID, model.RunStatusFailed, summary, errMsg)
}

func (s *PostgresStore) finishRun(ctx context.Context, runID string, status model.RunStatus, sum model.RunSummary, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE update_runs SET status = $1, processed = $2, updated = $3, unchanged = $4,
		 not_started = $5, failed = $6, error = $7, completed_at = $8 WHERE id = $9`,
		string(status), sum.Processed, sum.Updated, sum.Unchanged, sum.NotStarted, sum.Failed,
		errMsg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish update run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.UpdateRun, error) {
	query := `SELECT ` + runColumns + ` FROM update_runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY started_at DESC`

	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.UpdateRun
	for rows.Next() {
		var r model.UpdateRun
		var status string
		if err := rows.Scan(&r.ID, &status, &r.PurgeDate, &r.DryRun,
			&r.Summary.Processed, &r.Summary.Updated, &r.Summary.Unchanged, &r.Summary.NotStarted, &r.Summary.Failed,
			&r.Error, &r.StartedAt, &r.CompletedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		r.Status = model.RunStatus(status)
		r.PurgeDate = model.DateOf(r.PurgeDate)
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}
