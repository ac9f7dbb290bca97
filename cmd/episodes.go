package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/tbcare/adherence-cli/internal/model"
	"github.com/tbcare/adherence-cli/internal/report"
	"github.com/tbcare/adherence-cli/internal/store"
)

var episodesCmd = &cobra.Command{
	Use:   "episodes",
	Short: "Manage the episode registry",
	Long:  "Commands for registering, listing, inspecting and exporting treatment episodes.",
}

// -- episodes list --

var episodesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List episodes",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		scheduleID, _ := cmd.Flags().GetString("schedule")
		started, _ := cmd.Flags().GetBool("started")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		eps, err := st.ListEpisodes(ctx, store.EpisodeFilter{
			ScheduleID:  scheduleID,
			StartedOnly: started,
			Limit:       limit,
			Offset:      offset,
		})
		if err != nil {
			return eris.Wrap(err, "episodes list")
		}

		if len(eps) == 0 {
			fmt.Fprintln(os.Stderr, "No episodes found.")
			return nil
		}

		formatEpisodesList(os.Stdout, eps)
		return nil
	},
}

// -- episodes show --

var episodesShowCmd = &cobra.Command{
	Use:   "show <episode-id>",
	Short: "Show an episode and its stored adherence",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		ep, err := st.GetEpisode(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "episodes show")
		}
		if ep == nil {
			return eris.Errorf("episode %s not found", args[0])
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(ep)
	},
}

// -- episodes upsert --

var episodesUpsertCmd = &cobra.Command{
	Use:   "upsert <episode-id>",
	Short: "Register or change one episode",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		person, _ := cmd.Flags().GetString("person")
		scheduleID, _ := cmd.Flags().GetString("schedule")
		start, _ := cmd.Flags().GetString("start")

		ep, err := buildEpisode(args[0], person, scheduleID, start, time.Now().UTC())
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if _, err := st.UpsertEpisodes(ctx, []model.Episode{ep}); err != nil {
			return eris.Wrap(err, "episodes upsert")
		}
		fmt.Fprintf(os.Stderr, "Episode %s saved.\n", ep.ID)
		return nil
	},
}

// -- episodes export --

var episodesExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export episodes and their adherence fields to XLSX",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		path, _ := cmd.Flags().GetString("xlsx")
		scheduleID, _ := cmd.Flags().GetString("schedule")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		eps, err := allEpisodes(ctx, st, store.EpisodeFilter{ScheduleID: scheduleID}, cfg.Batch.PageSize)
		if err != nil {
			return eris.Wrap(err, "episodes export")
		}

		if path == "-" {
			return report.Write(os.Stdout, eps)
		}
		if err := report.WriteXLSX(path, eps); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Exported %d episodes to %s\n", len(eps), path)
		return nil
	},
}

type episodeLister interface {
	ListEpisodes(ctx context.Context, filter store.EpisodeFilter) ([]model.Episode, error)
}

// allEpisodes pages through the registry until a short page comes back.
func allEpisodes(ctx context.Context, st episodeLister, filter store.EpisodeFilter, pageSize int) ([]model.Episode, error) {
	if pageSize <= 0 {
		pageSize = 500
	}
	var out []model.Episode
	for offset := 0; ; offset += pageSize {
		filter.Limit = pageSize
		filter.Offset = offset
		page, err := st.ListEpisodes(ctx, filter)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < pageSize {
			return out, nil
		}
	}
}

func buildEpisode(id, person, scheduleID, start string, now time.Time) (model.Episode, error) {
	if id == "" {
		return model.Episode{}, eris.New("episode id is required")
	}
	if scheduleID == "" {
		return model.Episode{}, eris.New("--schedule is required")
	}
	ep := model.Episode{ID: id, PersonID: person, ScheduleID: scheduleID, UpdatedAt: now}
	if start != "" {
		d, err := model.ParseDate(start)
		if err != nil {
			return model.Episode{}, eris.Wrapf(err, "invalid start date %q", start)
		}
		ep.ScheduleStart = &d
	}
	return ep, nil
}

// formatEpisodesList writes a tabular list of episodes to w.
func formatEpisodesList(out io.Writer, eps []model.Episode) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSCHEDULE\tSTART\tCALCULATED\tEXPECTED\tTAKEN\tTOTAL\tLATEST")
	_, _ = fmt.Fprintln(w, "--\t--------\t-----\t----------\t--------\t-----\t-----\t------")

	for _, ep := range eps {
		start := "-"
		if ep.ScheduleStart != nil {
			start = ep.ScheduleStart.Format(model.DateLayout)
		}
		calculated, expected, taken, total, latest := "-", "-", "-", "-", "-"
		if a := ep.Adherence; a != nil && !a.Empty() {
			calculated = a.CutoffDate.Format(model.DateLayout)
			expected = fmt.Sprint(a.ExpectedDosesTaken)
			taken = fmt.Sprint(a.ConfirmedTakenCount)
			total = fmt.Sprint(a.TotalTakenCount)
			latest = a.LatestRecordedDate.Format(model.DateLayout)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			ep.ID, ep.ScheduleID, start, calculated, expected, taken, total, latest)
	}
	_ = w.Flush()
}

func init() {
	episodesListCmd.Flags().String("schedule", "", "filter by schedule id")
	episodesListCmd.Flags().Bool("started", false, "only episodes with a schedule start date")
	episodesListCmd.Flags().Int("limit", 50, "max number of episodes to display")
	episodesListCmd.Flags().Int("offset", 0, "number of episodes to skip")

	episodesUpsertCmd.Flags().String("person", "", "person id")
	episodesUpsertCmd.Flags().String("schedule", "", "schedule id (required)")
	episodesUpsertCmd.Flags().String("start", "", "schedule start date YYYY-MM-DD; empty means not started")

	episodesExportCmd.Flags().String("xlsx", "episodes.xlsx", "output path, or - for stdout")
	episodesExportCmd.Flags().String("schedule", "", "filter by schedule id")

	episodesCmd.AddCommand(episodesListCmd)
	episodesCmd.AddCommand(episodesShowCmd)
	episodesCmd.AddCommand(episodesUpsertCmd)
	episodesCmd.AddCommand(episodesExportCmd)
	rootCmd.AddCommand(episodesCmd)
}
