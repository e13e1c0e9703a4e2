package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// newSweepCmd creates and returns the sweep command.
func newSweepCmd() *cobra.Command {
	var reconcile bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Fail jobs stuck in processing",
		Long: `Fail every job that has been processing longer than pipeline.stale_threshold
and mark its document failed. With --reconcile, also enqueue a work item for
each tenant that still has pending jobs.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := GetConfig()
			if err != nil {
				return err
			}
			app, err := newApplication(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer app.Close(context.Background())

			if reconcile {
				return app.manager.Reconcile(cmd.Context())
			}
			n, err := app.manager.SweepStaleJobs(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "swept %d stale job(s)\n", n)
			return err
		},
	}
	cmd.Flags().BoolVar(&reconcile, "reconcile", false, "also poke tenants with pending jobs")
	return cmd
}

func init() { //nolint:gochecknoinits // Standard Cobra CLI pattern for command registration
	rootCmd.AddCommand(newSweepCmd())
}
