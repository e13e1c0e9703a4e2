package cmd

import (
	"fmt"

	"docpipeline/internal/adapter/outbound/repository"
	"docpipeline/internal/application/common/slogger"

	"github.com/spf13/cobra"
)

// newMigrateCmd creates and returns the migrate command.
func newMigrateCmd() *cobra.Command {
	var printOnly bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long: `Create or update the documents, processing_jobs and document_chunks tables,
the pgvector extension, and the partial unique index that allows one
processing job per tenant. The schema is idempotent.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if printOnly {
				_, err := fmt.Fprint(cmd.OutOrStdout(), repository.Schema())
				return err
			}
			cfg, err := GetConfig()
			if err != nil {
				return err
			}
			pool, err := repository.NewDatabaseConnection(cmd.Context(), databaseConfig(cfg.Database))
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := repository.Migrate(cmd.Context(), pool); err != nil {
				return err
			}
			slogger.Info(cmd.Context(), "Database schema is up to date", slogger.Fields{
				"database": cfg.Database.Name,
			})
			return nil
		},
	}
	cmd.Flags().BoolVar(&printOnly, "print", false, "print the schema instead of applying it")
	return cmd
}

func init() { //nolint:gochecknoinits // Standard Cobra CLI pattern for command registration
	rootCmd.AddCommand(newMigrateCmd())
}
