package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/tbcare/adherence-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Dates are stored as
// YYYY-MM-DD text and timestamps as RFC 3339 text.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS schedules (
	id             TEXT PRIMARY KEY,
	doses_per_week INTEGER NOT NULL CHECK (doses_per_week > 0),
	updated_at     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS episodes (
	id                               TEXT PRIMARY KEY,
	person_id                        TEXT NOT NULL DEFAULT '',
	schedule_id                      TEXT NOT NULL DEFAULT '',
	schedule_start                   TEXT,
	aggregated_score_date_calculated TEXT,
	expected_doses_taken             INTEGER,
	aggregated_score_count_taken     INTEGER,
	adherence_total_doses_taken      INTEGER,
	adherence_latest_date_recorded   TEXT,
	updated_at                       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_episodes_schedule_id ON episodes(schedule_id);

CREATE TABLE IF NOT EXISTS dose_observations (
	seq                      INTEGER PRIMARY KEY AUTOINCREMENT,
	id                       TEXT NOT NULL UNIQUE,
	episode_id               TEXT NOT NULL,
	adherence_date           TEXT NOT NULL,
	adherence_value          TEXT NOT NULL,
	adherence_source         TEXT NOT NULL DEFAULT '',
	modified_on              TEXT,
	closed                   INTEGER NOT NULL DEFAULT 0,
	adherence_closure_reason TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_dose_observations_episode ON dose_observations(episode_id, adherence_date, seq);

CREATE TABLE IF NOT EXISTS update_runs (
	id           TEXT PRIMARY KEY,
	status       TEXT NOT NULL DEFAULT 'running',
	purge_date   TEXT NOT NULL,
	dry_run      INTEGER NOT NULL DEFAULT 0,
	processed    INTEGER NOT NULL DEFAULT 0,
	updated      INTEGER NOT NULL DEFAULT 0,
	unchanged    INTEGER NOT NULL DEFAULT 0,
	not_started  INTEGER NOT NULL DEFAULT 0,
	failed       INTEGER NOT NULL DEFAULT 0,
	error        TEXT NOT NULL DEFAULT '',
	started_at   TEXT NOT NULL,
	completed_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_update_runs_status ON update_runs(status);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Episodes ---

func (s *SQLiteStore) UpsertEpisodes(ctx context.Context, episodes []model.Episode) (int64, error) {
	if len(episodes) == 0 {
		return 0, nil
	}
	now := formatTime(time.Now())
	var n int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO episodes (id, person_id, schedule_id, schedule_start, updated_at) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET person_id = excluded.person_id, schedule_id = excluded.schedule_id,
			 schedule_start = excluded.schedule_start, updated_at = excluded.updated_at`)
		if err != nil {
			return err
		}
		defer stmt.Close() //nolint:errcheck

		for _, ep := range episodes {
			if _, err := stmt.ExecContext(ctx, ep.ID, ep.PersonID, ep.ScheduleID, nullDate(ep.ScheduleStart), now); err != nil {
				return eris.Wrapf(err, "episode %s", ep.ID)
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert episodes")
	}
	return n, nil
}

func (s *SQLiteStore) GetEpisode(ctx context.Context, id string) (*model.Episode, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+episodeColumns+` FROM episodes WHERE id = ?`, id)
	ep, err := scanSQLiteEpisode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get episode %s", id)
	}
	return ep, nil
}

func (s *SQLiteStore) ListEpisodes(ctx context.Context, filter EpisodeFilter) ([]model.Episode, error) {
	query := `SELECT ` + episodeColumns + ` FROM episodes WHERE 1=1`
	var args []any

	if filter.ScheduleID != "" {
		query += ` AND schedule_id = ?`
		args = append(args, filter.ScheduleID)
	}
	if filter.StartedOnly {
		query += ` AND schedule_start IS NOT NULL`
	}
	query += ` ORDER BY id LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list episodes")
	}
	defer rows.Close() //nolint:errcheck

	var episodes []model.Episode
	for rows.Next() {
		ep, err := scanSQLiteEpisode(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan episode")
		}
		episodes = append(episodes, *ep)
	}
	return episodes, eris.Wrap(rows.Err(), "sqlite: list episodes iterate")
}

func (s *SQLiteStore) UpdateEpisodeAdherence(ctx context.Context, id string, r model.AdherenceResult) error {
	if r.Empty() {
		return nil
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE episodes SET aggregated_score_date_calculated = ?, expected_doses_taken = ?,
		 aggregated_score_count_taken = ?, adherence_total_doses_taken = ?,
		 adherence_latest_date_recorded = ?, updated_at = ? WHERE id = ?`,
		formatDate(r.CutoffDate), r.ExpectedDosesTaken, r.ConfirmedTakenCount, r.TotalTakenCount,
		formatDate(r.LatestRecordedDate), formatTime(time.Now()), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update episode adherence %s", id)
	}
	return checkRowsAffected(res, "episode", id)
}

// --- Dose observations ---

func (s *SQLiteStore) InsertObservations(ctx context.Context, obs []model.DoseObservation) (int64, error) {
	if len(obs) == 0 {
		return 0, nil
	}
	var n int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO dose_observations (id, episode_id, adherence_date, adherence_value, adherence_source,
			 modified_on, closed, adherence_closure_reason) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close() //nolint:errcheck

		for _, o := range obs {
			id := o.ID
			if id == "" {
				id = uuid.New().String()
			}
			var modified sql.NullString
			if !o.RecordedAt.IsZero() {
				modified = sql.NullString{String: formatTime(o.RecordedAt), Valid: true}
			}
			if _, err := stmt.ExecContext(ctx, id, o.EpisodeID, formatDate(o.Date), string(o.Value), o.Source,
				modified, o.Closed, o.ClosureReason); err != nil {
				return eris.Wrapf(err, "observation for episode %s", o.EpisodeID)
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: insert observations")
	}
	return n, nil
}

func (s *SQLiteStore) ListObservations(ctx context.Context, episodeID string) ([]model.DoseObservation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+observationColumns+` FROM dose_observations WHERE episode_id = ? ORDER BY adherence_date, seq`,
		episodeID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list observations %s", episodeID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.DoseObservation
	for rows.Next() {
		var o model.DoseObservation
		var date, value string
		var modified sql.NullString
		if err := rows.Scan(&o.ID, &o.EpisodeID, &date, &value, &o.Source, &modified, &o.Closed, &o.ClosureReason); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan observation")
		}
		if o.Date, err = model.ParseDate(date); err != nil {
			return nil, eris.Wrapf(err, "sqlite: parse adherence_date %q", date)
		}
		if modified.Valid {
			if o.RecordedAt, err = parseTime(modified.String); err != nil {
				return nil, eris.Wrapf(err, "sqlite: parse modified_on %q", modified.String)
			}
		}
		o.Value = model.DoseValue(value)
		out = append(out, o)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list observations iterate")
}

// --- Schedules ---

func (s *SQLiteStore) UpsertSchedules(ctx context.Context, schedules []model.Schedule) (int64, error) {
	if len(schedules) == 0 {
		return 0, nil
	}
	now := formatTime(time.Now())
	var n int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, sc := range schedules {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO schedules (id, doses_per_week, updated_at) VALUES (?, ?, ?)
				 ON CONFLICT(id) DO UPDATE SET doses_per_week = excluded.doses_per_week, updated_at = excluded.updated_at`,
				sc.ID, sc.DosesPerWeek, now,
			); err != nil {
				return eris.Wrapf(err, "schedule %s", sc.ID)
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert schedules")
	}
	return n, nil
}

func (s *SQLiteStore) GetSchedule(ctx context.Context, id string) (*model.Schedule, error) {
	var sc model.Schedule
	err := s.db.QueryRowContext(ctx, `SELECT id, doses_per_week FROM schedules WHERE id = ?`, id).
		Scan(&sc.ID, &sc.DosesPerWeek)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get schedule %s", id)
	}
	return &sc, nil
}

func (s *SQLiteStore) ListSchedules(ctx context.Context) ([]model.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, doses_per_week FROM schedules ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list schedules")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Schedule
	for rows.Next() {
		var sc model.Schedule
		if err := rows.Scan(&sc.ID, &sc.DosesPerWeek); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan schedule")
		}
		out = append(out, sc)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list schedules iterate")
}

// --- Update runs ---

func (s *SQLiteStore) CreateRun(ctx context.Context, purgeDate time.Time, dryRun bool) (*model.UpdateRun, error) {
	run := &model.UpdateRun{
		ID:        uuid.New().String(),
		Status:    model.RunStatusRunning,
		PurgeDate: model.DateOf(purgeDate),
		DryRun:    dryRun,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO update_runs (id, status, purge_date, dry_run, started_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, string(run.Status), formatDate(run.PurgeDate), run.DryRun, formatTime(run.StartedAt),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert update run")
	}
	return run, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, summary model.RunSummary) error {
	return s.finishRun(ctx, runID, model.RunStatusComplete, summary, "")
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, summary model.RunSummary, errMsg string) error {
	return s.finishRun(ctx, runID, model.RunStatusFailed, summary, errMsg)
}

func (s *SQLiteStore) finishRun(ctx context.Context, runID string, status model.RunStatus, sum model.RunSummary, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE update_runs SET status = ?, processed = ?, updated = ?, unchanged = ?, not_started = ?,
		 failed = ?, error = ?, completed_at = ? WHERE id = ?`,
		string(status), sum.Processed, sum.Updated, sum.Unchanged, sum.NotStarted, sum.Failed,
		errMsg, formatTime(time.Now()), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish update run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.UpdateRun, error) {
	query := `SELECT ` + runColumns + ` FROM update_runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.UpdateRun
	for rows.Next() {
		var r model.UpdateRun
		var status, purge, started string
		var completed sql.NullString
		if err := rows.Scan(&r.ID, &status, &purge, &r.DryRun,
			&r.Summary.Processed, &r.Summary.Updated, &r.Summary.Unchanged, &r.Summary.NotStarted, &r.Summary.Failed,
			&r.Error, &started, &completed); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		r.Status = model.RunStatus(status)
		if r.PurgeDate, err = model.ParseDate(purge); err != nil {
			return nil, eris.Wrapf(err, "sqlite: parse purge_date %q", purge)
		}
		if r.StartedAt, err = parseTime(started); err != nil {
			return nil, eris.Wrapf(err, "sqlite: parse started_at %q", started)
		}
		if completed.Valid {
			ts, err := parseTime(completed.String)
			if err != nil {
				return nil, eris.Wrapf(err, "sqlite: parse completed_at %q", completed.String)
			}
			r.CompletedAt = &ts
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// helpers

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "begin tx")
	}
	if err := fn(tx); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	return eris.Wrap(tx.Commit(), "commit tx")
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteEpisode(row scannable) (*model.Episode, error) {
	var ep model.Episode
	var start, cutoff, latest sql.NullString
	var expected, confirmed, total sql.NullInt64
	var updated string

	if err := row.Scan(&ep.ID, &ep.PersonID, &ep.ScheduleID, &start,
		&cutoff, &expected, &confirmed, &total, &latest, &updated); err != nil {
		return nil, err
	}

	var adh adherenceColumns
	var err error
	if ep.ScheduleStart, err = parseNullDate(start); err != nil {
		return nil, err
	}
	if adh.cutoff, err = parseNullDate(cutoff); err != nil {
		return nil, err
	}
	if adh.latest, err = parseNullDate(latest); err != nil {
		return nil, err
	}
	adh.expected = nullInt(expected)
	adh.confirmed = nullInt(confirmed)
	adh.total = nullInt(total)
	ep.Adherence = adh.result()

	if ep.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &ep, nil
}

func formatDate(t time.Time) string {
	return t.Format(model.DateLayout)
}

// timeLayout is fixed-width so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func nullDate(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatDate(model.DateOf(*t)), Valid: true}
}

func parseNullDate(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := model.ParseDate(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullInt(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
