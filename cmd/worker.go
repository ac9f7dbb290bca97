package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tbcare/adherence-cli/internal/workflow"
)

var workerDryRun bool

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the Temporal worker for scheduled episode updates",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("temporal"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		up, err := newUpdater(st, workerDryRun)
		if err != nil {
			return err
		}

		tc := temporalConfig()
		c, err := workflow.Dial(ctx, tc)
		if err != nil {
			return err
		}
		defer c.Close()

		w := workflow.NewWorker(c, tc, &workflow.Activities{Runner: up}, cfg.Temporal.WorkerConcurrency)

		zap.L().Info("temporal worker starting",
			zap.String("task_queue", cfg.Temporal.TaskQueue),
			zap.Bool("dry_run", workerDryRun),
		)
		interrupt := make(chan interface{})
		go func() {
			<-ctx.Done()
			close(interrupt)
		}()
		if err := w.Run(interrupt); err != nil {
			return eris.Wrap(err, "temporal worker")
		}
		return nil
	},
}

func init() {
	workerCmd.Flags().BoolVar(&workerDryRun, "dry-run", false, "compute and count without writing episodes")
	rootCmd.AddCommand(workerCmd)
}
