package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tbcare/adherence-cli/internal/adherence"
	"github.com/tbcare/adherence-cli/internal/model"
	"github.com/tbcare/adherence-cli/internal/workflow"
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Recompute adherence for episodes and write the changed ones",
	Long: "Recomputes the adherence score of every episode (or the ones named with --episode) " +
		"and writes only the episodes whose computed fields differ from the stored ones. " +
		"Each pass is recorded as an update run.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		rawPurge, _ := cmd.Flags().GetString("purge-date")
		limit, _ := cmd.Flags().GetInt("limit")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		episodeIDs, _ := cmd.Flags().GetStringSlice("episode")
		viaTemporal, _ := cmd.Flags().GetBool("via-temporal")

		purge, err := resolvePurgeDate(rawPurge, time.Now(), cfg.Adherence.PurgeLagDays)
		if err != nil {
			return err
		}

		if viaTemporal {
			if dryRun {
				return eris.New("--dry-run cannot be combined with --via-temporal")
			}
			if err := cfg.Validate("temporal"); err != nil {
				return err
			}
			tc := temporalConfig()
			c, err := workflow.Dial(ctx, tc)
			if err != nil {
				return err
			}
			defer c.Close()

			run, err := workflow.Trigger(ctx, c, tc, workflow.UpdateParams{
				PurgeDate:  purge.Format(model.DateLayout),
				Limit:      limit,
				EpisodeIDs: episodeIDs,
			})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(os.Stdout, "Started workflow %s (run %s)\n", run.GetID(), run.GetRunID())
			return nil
		}

		if err := cfg.Validate("update"); err != nil {
			return err
		}
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		up, err := newUpdater(st, dryRun)
		if err != nil {
			return err
		}

		run, err := up.Run(ctx, purge, adherence.RunOptions{Limit: limit, EpisodeIDs: episodeIDs})
		if run != nil {
			formatRunSummary(os.Stdout, run)
		}
		if err != nil {
			return eris.Wrap(err, "update")
		}

		zap.L().Info("update complete",
			zap.String("run_id", run.ID),
			zap.Int("updated", run.Summary.Updated),
			zap.Int("failed", run.Summary.Failed),
		)
		return nil
	},
}

// formatRunSummary writes the counters of one run to w.
func formatRunSummary(out io.Writer, run *model.UpdateRun) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Run:\t%s\n", run.ID)
	_, _ = fmt.Fprintf(w, "Purge date:\t%s\n", run.PurgeDate.Format(model.DateLayout))
	_, _ = fmt.Fprintf(w, "Status:\t%s\n", run.Status)
	if run.DryRun {
		_, _ = fmt.Fprintln(w, "Dry run:\tyes")
	}
	_, _ = fmt.Fprintf(w, "Processed:\t%d\n", run.Summary.Processed)
	_, _ = fmt.Fprintf(w, "  Updated:\t%d\n", run.Summary.Updated)
	_, _ = fmt.Fprintf(w, "  Unchanged:\t%d\n", run.Summary.Unchanged)
	_, _ = fmt.Fprintf(w, "  Not started:\t%d\n", run.Summary.NotStarted)
	_, _ = fmt.Fprintf(w, "  Failed:\t%d\n", run.Summary.Failed)
	if run.Error != "" {
		_, _ = fmt.Fprintf(w, "Error:\t%s\n", run.Error)
	}
	_ = w.Flush()
}

func init() {
	updateCmd.Flags().String("purge-date", "", "purge date YYYY-MM-DD (default today minus adherence.purge_lag_days)")
	updateCmd.Flags().Int("limit", 0, "stop after this many episodes (0 = all)")
	updateCmd.Flags().Bool("dry-run", false, "compute and count without writing episodes")
	updateCmd.Flags().StringSlice("episode", nil, "only update these episode ids (repeatable)")
	updateCmd.Flags().Bool("via-temporal", false, "start the update as a Temporal workflow instead of running it here")
	rootCmd.AddCommand(updateCmd)
}
