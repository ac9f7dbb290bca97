package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/tbcare/adherence-cli/internal/model"
	"github.com/tbcare/adherence-cli/internal/schedule"
)

var schedulesCmd = &cobra.Command{
	Use:   "schedules",
	Short: "Manage adherence schedules",
}

var schedulesLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load a YAML schedule fixture into the store",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		path, _ := cmd.Flags().GetString("file")
		if path == "" {
			path = cfg.Schedules.File
		}
		if path == "" {
			return eris.New("--file is required (or set schedules.file)")
		}

		t, err := schedule.LoadFile(path)
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.UpsertSchedules(ctx, t.Schedules())
		if err != nil {
			return eris.Wrap(err, "schedules load")
		}
		fmt.Fprintf(os.Stderr, "Loaded %d schedules from %s\n", n, path)
		return nil
	},
}

var schedulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List schedules in the store",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		list, err := st.ListSchedules(ctx)
		if err != nil {
			return eris.Wrap(err, "schedules list")
		}
		if len(list) == 0 {
			fmt.Fprintln(os.Stderr, "No schedules found.")
			return nil
		}
		formatSchedules(os.Stdout, list)
		return nil
	},
}

func formatSchedules(out io.Writer, list []model.Schedule) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tDOSES_PER_WEEK")
	for _, s := range list {
		_, _ = fmt.Fprintf(w, "%s\t%d\n", s.ID, s.DosesPerWeek)
	}
	_ = w.Flush()
}

func init() {
	schedulesLoadCmd.Flags().String("file", "", "YAML schedule fixture (default schedules.file)")

	schedulesCmd.AddCommand(schedulesLoadCmd)
	schedulesCmd.AddCommand(schedulesListCmd)
	rootCmd.AddCommand(schedulesCmd)
}
