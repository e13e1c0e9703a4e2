package cmd

import (
	"encoding/json"
	"fmt"

	"docpipeline/internal/version"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newVersionCmd() *cobra.Command {
	var (
		short  bool
		output string
	)

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show build information",
		Long: `Show the release, commit, build time, module path and Go toolchain
of this docpipeline binary. Use --output json or --output yaml for
machine-readable output in deployment checks.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runVersion(cmd, short, output)
		},
	}

	cmd.Flags().BoolVarP(&short, "short", "s", false, "Show only the version number")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format: text, json or yaml")
	return cmd
}

func runVersion(cmd *cobra.Command, short bool, output string) error {
	info := version.Get()
	w := cmd.OutOrStdout()

	switch output {
	case "text", "":
		return info.Write(w, short)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(info)
	}
	return fmt.Errorf("unknown output format %q", output)
}

func init() { //nolint:gochecknoinits // cobra command registration
	rootCmd.AddCommand(newVersionCmd())
}
