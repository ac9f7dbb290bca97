// Package ingest loads observation and episode exports into the store.
package ingest

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tbcare/adherence-cli/internal/adherence"
	"github.com/tbcare/adherence-cli/internal/fetcher"
	"github.com/tbcare/adherence-cli/internal/model"
)

// Format is the file format of an export.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatXLSX Format = "xlsx"
)

// Column names recognized in observation exports.
const (
	ColEpisodeID     = "episode_id"
	ColDate          = "adherence_date"
	ColValue         = "adherence_value"
	ColSource        = "adherence_source"
	ColModifiedOn    = "modified_on"
	ColClosed        = "closed"
	ColClosureReason = "adherence_closure_reason"
)

const defaultBatchSize = 5000

// Store is the persistence capability the importer needs.
type Store interface {
	InsertObservations(ctx context.Context, obs []model.DoseObservation) (int64, error)
	UpsertEpisodes(ctx context.Context, episodes []model.Episode) (int64, error)
}

// Options controls how one export is read.
type Options struct {
	Format    Format // detected from the extension when empty
	Charset   string // CSV and JSON only; UTF-8 when empty
	Delimiter rune   // CSV only
	Sheet     string // XLSX only; first sheet when empty
	SkipRows  int    // XLSX only; rows above the header
	BatchSize int    // rows per store insert; default 5000
	DryRun    bool   // validate without writing
}

// Result summarizes one import.
type Result struct {
	Source   string `json:"source"`
	Format   Format `json:"format"`
	Rows     int    `json:"rows"`
	Inserted int64  `json:"inserted"`
	DryRun   bool   `json:"dry_run,omitempty"`
}

// Importer fetches exports and writes their rows to the store.
type Importer struct {
	fetcher fetcher.Fetcher
	store   Store
}

// New creates an Importer.
func New(f fetcher.Fetcher, st Store) *Importer {
	return &Importer{fetcher: f, store: st}
}

// DetectFormat infers the export format from a source's extension.
func DetectFormat(source string) (Format, error) {
	switch fetcher.Ext(source) {
	case ".csv", ".txt", ".tsv":
		return FormatCSV, nil
	case ".json":
		return FormatJSON, nil
	case ".xlsx":
		return FormatXLSX, nil
	default:
		return "", eris.Errorf("ingest: cannot detect format of %q, pass --format", source)
	}
}

// ImportObservations reads an observation export, validates every row and
// inserts them in batches. Nothing is written when any row is malformed.
func (im *Importer) ImportObservations(ctx context.Context, source string, opts Options) (*Result, error) {
	records, format, err := im.Records(ctx, source, opts)
	if err != nil {
		return nil, err
	}

	obs, err := ParseObservationRecords(records)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: %s", source)
	}

	res := &Result{Source: source, Format: format, Rows: len(obs), DryRun: opts.DryRun}
	if opts.DryRun {
		return res, nil
	}

	n, err := insertBatches(ctx, obs, batchSize(opts), im.store.InsertObservations)
	res.Inserted = n
	if err != nil {
		return res, eris.Wrap(err, "ingest: insert observations")
	}

	zap.L().Info("observations imported",
		zap.String("source", source),
		zap.String("format", string(format)),
		zap.Int("rows", res.Rows),
		zap.Int64("inserted", n),
	)
	return res, nil
}

// ImportEpisodes reads an episode export (id, person_id, schedule_id,
// schedule_start) and upserts it.
func (im *Importer) ImportEpisodes(ctx context.Context, source string, opts Options) (*Result, error) {
	records, format, err := im.Records(ctx, source, opts)
	if err != nil {
		return nil, err
	}

	episodes, err := ParseEpisodeRecords(records, time.Now().UTC())
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: %s", source)
	}

	res := &Result{Source: source, Format: format, Rows: len(episodes), DryRun: opts.DryRun}
	if opts.DryRun {
		return res, nil
	}

	n, err := insertBatches(ctx, episodes, batchSize(opts), im.store.UpsertEpisodes)
	res.Inserted = n
	if err != nil {
		return res, eris.Wrap(err, "ingest: upsert episodes")
	}

	zap.L().Info("episodes imported",
		zap.String("source", source),
		zap.Int("rows", res.Rows),
		zap.Int64("upserted", n),
	)
	return res, nil
}

// Records fetches a source and parses it into header-mapped records. Zipped
// drops are unpacked first and the format is taken from the file inside.
func (im *Importer) Records(ctx context.Context, source string, opts Options) ([]fetcher.Record, Format, error) {
	if fetcher.Ext(source) == ".zip" {
		return im.zipRecords(ctx, source, opts)
	}

	format := opts.Format
	if format == "" {
		f, err := DetectFormat(source)
		if err != nil {
			return nil, "", err
		}
		format = f
	}

	var (
		records []fetcher.Record
		err     error
	)
	switch format {
	case FormatCSV, FormatJSON:
		records, err = im.streamRecords(ctx, source, format, opts)
	case FormatXLSX:
		records, err = im.xlsxRecords(ctx, source, opts)
	default:
		return nil, "", eris.Errorf("ingest: unsupported format %q", format)
	}
	if err != nil {
		return nil, "", eris.Wrapf(err, "ingest: read %s", source)
	}
	return records, format, nil
}

func (im *Importer) streamRecords(ctx context.Context, source string, format Format, opts Options) ([]fetcher.Record, error) {
	rc, err := im.fetcher.Download(ctx, source)
	if err != nil {
		return nil, err
	}
	defer rc.Close() //nolint:errcheck

	r, err := fetcher.DecodeCharset(rc, opts.Charset)
	if err != nil {
		return nil, err
	}

	if format == FormatJSON {
		return fetcher.ReadJSONRecords(ctx, r)
	}
	delim := opts.Delimiter
	if delim == 0 && fetcher.Ext(source) == ".tsv" {
		delim = '\t'
	}
	return fetcher.ReadCSVRecords(ctx, r, fetcher.CSVOptions{
		Delimiter:  delim,
		LazyQuotes: true,
		TrimSpace:  true,
	})
}

// xlsxRecords needs a local path, so remote workbooks are downloaded first.
func (im *Importer) xlsxRecords(ctx context.Context, source string, opts Options) ([]fetcher.Record, error) {
	path, cleanup, err := im.localCopy(ctx, source)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	return fetcher.ReadXLSXRecords(path, fetcher.XLSXOptions{
		SheetName: opts.Sheet,
		SkipRows:  opts.SkipRows,
	})
}

func (im *Importer) zipRecords(ctx context.Context, source string, opts Options) ([]fetcher.Record, Format, error) {
	archive, cleanup, err := im.localCopy(ctx, source)
	if err != nil {
		return nil, "", eris.Wrapf(err, "ingest: fetch %s", source)
	}
	defer cleanup()

	dir, err := os.MkdirTemp("", "adherence-unzip-*")
	if err != nil {
		return nil, "", eris.Wrap(err, "ingest: create temp dir")
	}
	defer os.RemoveAll(dir) //nolint:errcheck

	inner, err := fetcher.ExtractZIPSingle(archive, dir)
	if err != nil {
		return nil, "", eris.Wrapf(err, "ingest: unpack %s", source)
	}
	zap.L().Debug("ingest: unpacked archive", zap.String("source", source), zap.String("file", filepath.Base(inner)))
	return im.Records(ctx, inner, opts)
}

// localCopy returns a local path for source, downloading remote sources to a
// temp file that cleanup removes.
func (im *Importer) localCopy(ctx context.Context, source string) (string, func(), error) {
	scheme := fetcher.Scheme(source)
	if scheme == "" || scheme == "file" {
		return strings.TrimPrefix(source, "file://"), func() {}, nil
	}

	tmp, err := os.CreateTemp("", "adherence-export-*"+fetcher.Ext(source))
	if err != nil {
		return "", nil, eris.Wrap(err, "ingest: create temp file")
	}
	path := tmp.Name()
	_ = tmp.Close()
	cleanup := func() { _ = os.Remove(path) }

	if _, err := im.fetcher.DownloadToFile(ctx, source, path); err != nil {
		cleanup()
		return "", nil, err
	}
	return path, cleanup, nil
}

// RawObservation maps an export record onto the raw observation columns.
func RawObservation(rec fetcher.Record) model.RawObservation {
	return model.RawObservation{
		EpisodeID:     rec.Get(ColEpisodeID),
		Date:          rec.Get(ColDate),
		Value:         rec.Get(ColValue),
		Source:        rec.Get(ColSource),
		RecordedAt:    rec.Get(ColModifiedOn),
		Closed:        rec.Get(ColClosed),
		ClosureReason: rec.Get(ColClosureReason),
	}
}

// ParseObservationRecords validates records in order, failing on the first
// malformed one. Row numbers in errors are 1-based data rows.
func ParseObservationRecords(records []fetcher.Record) ([]model.DoseObservation, error) {
	out := make([]model.DoseObservation, 0, len(records))
	for i, rec := range records {
		raw := RawObservation(rec)
		if raw.EpisodeID == "" {
			return nil, &adherence.MalformedObservationError{Row: i + 1, Field: ColEpisodeID, Value: raw.EpisodeID}
		}
		obs, err := adherence.ParseObservation(i+1, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, obs)
	}
	return out, nil
}

// ParseEpisodeRecords converts episode export rows. id is required and
// schedule_start, when present, must be a YYYY-MM-DD date.
func ParseEpisodeRecords(records []fetcher.Record, now time.Time) ([]model.Episode, error) {
	out := make([]model.Episode, 0, len(records))
	for i, rec := range records {
		ep := model.Episode{
			ID:         rec.Get("id"),
			PersonID:   rec.Get("person_id"),
			ScheduleID: rec.Get("schedule_id"),
			UpdatedAt:  now,
		}
		if ep.ID == "" {
			ep.ID = rec.Get(ColEpisodeID)
		}
		if ep.ID == "" {
			return nil, eris.Errorf("ingest: episode row %d has no id", i+1)
		}
		if s := rec.Get("schedule_start"); s != "" {
			start, err := model.ParseDate(s)
			if err != nil {
				return nil, eris.Wrapf(err, "ingest: episode row %d schedule_start %q", i+1, s)
			}
			ep.ScheduleStart = &start
		}
		out = append(out, ep)
	}
	return out, nil
}

func batchSize(opts Options) int {
	if opts.BatchSize > 0 {
		return opts.BatchSize
	}
	return defaultBatchSize
}

func insertBatches[T any](ctx context.Context, rows []T, size int, insert func(context.Context, []T) (int64, error)) (int64, error) {
	var total int64
	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		n, err := insert(ctx, rows[start:end])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// ReadAll is a convenience for callers holding an already-open export.
func ReadAll(ctx context.Context, r io.Reader, format Format, charset string) ([]fetcher.Record, error) {
	dec, err := fetcher.DecodeCharset(r, charset)
	if err != nil {
		return nil, err
	}
	switch format {
	case FormatJSON:
		return fetcher.ReadJSONRecords(ctx, dec)
	case FormatCSV:
		return fetcher.ReadCSVRecords(ctx, dec, fetcher.CSVOptions{LazyQuotes: true, TrimSpace: true})
	default:
		return nil, eris.Errorf("ingest: unsupported stream format %q", format)
	}
}
