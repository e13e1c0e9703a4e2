package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"docpipeline/internal/application/worker"
	"docpipeline/internal/port/inbound"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// newProcessCmd creates and returns the process command.
func newProcessCmd() *cobra.Command {
	var (
		tenant string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Drain a tenant queue in the foreground",
		Long: `Run pending jobs of one tenant in FIFO order until the queue is empty,
another worker holds the tenant, or the limit is reached.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := GetConfig()
			if err != nil {
				return err
			}
			tenantID, err := uuid.Parse(tenant)
			if err != nil {
				return fmt.Errorf("invalid tenant id: %w", err)
			}

			app, err := newApplication(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer app.Close(context.Background())

			results, err := app.manager.DrainTenant(cmd.Context(), tenantID, limit)
			if printErr := printResults(cmd.OutOrStdout(), results); printErr != nil {
				return printErr
			}
			return err
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant id (UUID)")
	cmd.Flags().IntVar(&limit, "limit", worker.DefaultDrainLimit, "maximum number of jobs to run")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

// printResults writes one row per ProcessNext call.
func printResults(w io.Writer, results []*inbound.ProcessResult) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "OUTCOME\tJOB\tDOCUMENT\tPAGES\tCHUNKS\tERROR")
	for _, r := range results {
		jobID, docID, errCode := "-", "-", "-"
		if r.Job != nil {
			jobID = r.Job.ID().String()
			docID = r.Job.DocumentID().String()
			if code := r.Job.ErrorCode(); code != nil {
				errCode = *code
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n", r.Outcome, jobID, docID, r.PageCount, r.ChunkCount, errCode)
	}
	return tw.Flush()
}

func init() { //nolint:gochecknoinits // Standard Cobra CLI pattern for command registration
	rootCmd.AddCommand(newProcessCmd())
}
