package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/tbcare/adherence-cli/internal/adherence"
	"github.com/tbcare/adherence-cli/internal/ingest"
	"github.com/tbcare/adherence-cli/internal/model"
	"github.com/tbcare/adherence-cli/internal/schedule"
)

// computeParams describes one offline computation.
type computeParams struct {
	Source       string
	Format       string
	Charset      string
	Start        string
	Purge        string
	DosesPerWeek int
	ScheduleID   string
	PurgeLagDays int
}

type computeOutput struct {
	Empty      bool                  `json:"empty"`
	Result     model.AdherenceResult `json:"result"`
	Properties map[string]any        `json:"properties"`
}

var computeCmd = &cobra.Command{
	Use:   "compute",
	Short: "Compute adherence for one episode from an observation export",
	Long:  "Reads dose observations from a local or remote CSV, JSON or XLSX export and prints the adherence result as JSON. Nothing is written.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		p := computeParams{PurgeLagDays: cfg.Adherence.PurgeLagDays}
		p.Source, _ = cmd.Flags().GetString("file")
		p.Format, _ = cmd.Flags().GetString("format")
		p.Charset, _ = cmd.Flags().GetString("charset")
		p.Start, _ = cmd.Flags().GetString("start")
		p.Purge, _ = cmd.Flags().GetString("purge")
		p.DosesPerWeek, _ = cmd.Flags().GetInt("doses-per-week")
		p.ScheduleID, _ = cmd.Flags().GetString("schedule")
		if p.Charset == "" {
			p.Charset = cfg.Import.Charset
		}

		var lookup schedule.Lookup
		if p.DosesPerWeek == 0 && p.ScheduleID != "" {
			if cfg.Schedules.File == "" {
				if err := cfg.Validate("store"); err != nil {
					return err
				}
				st, err := openStore(ctx)
				if err != nil {
					return err
				}
				defer st.Close() //nolint:errcheck
				lookup = schedule.NewStoreLookup(st)
			} else {
				t, err := schedule.LoadFile(cfg.Schedules.File)
				if err != nil {
					return err
				}
				lookup = t
			}
		}

		res, err := computeAdherence(ctx, ingest.New(newFetcher(), nil), newAggregator(), lookup, p, time.Now())
		if err != nil {
			return err
		}
		return writeComputeOutput(os.Stdout, res)
	},
}

// computeAdherence reads the observations behind p.Source and aggregates them.
// lookup is consulted only when no explicit doses per week is given.
func computeAdherence(ctx context.Context, im *ingest.Importer, agg *adherence.Aggregator, lookup schedule.Lookup, p computeParams, now time.Time) (model.AdherenceResult, error) {
	var start *time.Time
	if p.Start != "" {
		d, err := model.ParseDate(p.Start)
		if err != nil {
			return model.AdherenceResult{}, eris.Wrapf(err, "compute: invalid start date %q", p.Start)
		}
		start = &d
	}

	purge, err := resolvePurgeDate(p.Purge, now, p.PurgeLagDays)
	if err != nil {
		return model.AdherenceResult{}, eris.Wrap(err, "compute")
	}

	dpw := p.DosesPerWeek
	if dpw == 0 && p.ScheduleID != "" && lookup != nil {
		dpw, err = lookup.DosesPerWeek(ctx, p.ScheduleID)
		if err != nil {
			return model.AdherenceResult{}, eris.Wrap(err, "compute")
		}
	}

	records, _, err := im.Records(ctx, p.Source, ingest.Options{
		Format:  ingest.Format(p.Format),
		Charset: p.Charset,
	})
	if err != nil {
		return model.AdherenceResult{}, eris.Wrap(err, "compute: read observations")
	}
	obs, err := ingest.ParseObservationRecords(records)
	if err != nil {
		return model.AdherenceResult{}, eris.Wrapf(err, "compute: %s", p.Source)
	}
	if _, err := adherence.SingleEpisode(obs); err != nil {
		return model.AdherenceResult{}, eris.Wrapf(err, "compute: %s", p.Source)
	}

	return agg.Compute(adherence.Input{
		ScheduleStart: start,
		PurgeDate:     purge,
		DosesPerWeek:  dpw,
		Observations:  obs,
	})
}

func writeComputeOutput(w io.Writer, res model.AdherenceResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(computeOutput{
		Empty:      res.Empty(),
		Result:     res,
		Properties: res.Properties(),
	})
}

func init() {
	computeCmd.Flags().String("file", "", "observation export: path, http(s):// or ftp:// URL (required)")
	computeCmd.Flags().String("format", "", "export format: csv, json or xlsx (default from extension)")
	computeCmd.Flags().String("charset", "", "character set of a CSV or JSON export (default from config, else UTF-8)")
	computeCmd.Flags().String("start", "", "schedule start date YYYY-MM-DD; empty means not started")
	computeCmd.Flags().String("purge", "", "purge date YYYY-MM-DD (default today minus adherence.purge_lag_days)")
	computeCmd.Flags().Int("doses-per-week", 0, "expected doses per week")
	computeCmd.Flags().String("schedule", "", "schedule id to look up doses per week")
	_ = computeCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(computeCmd)
}
