// Package cmd provides the command-line interface of the document pipeline.
package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"docpipeline/internal/application/common/logging"
	"docpipeline/internal/application/common/slogger"
	"docpipeline/internal/config"
	"docpipeline/internal/version"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. DOCPIPE_DATABASE_HOST.
const EnvPrefix = "DOCPIPE"

//nolint:gochecknoglobals // Standard Cobra CLI pattern
var (
	cfgFile string
	envFile string
	cfg     *config.Config
	cfgErr  error
)

//nolint:gochecknoglobals // Standard Cobra CLI pattern
var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "docpipeline",
		Short: "Tenant-scoped document ingestion pipeline",
		Long: `DocPipeline turns uploaded documents into page-cited, embedded chunks.

Each tenant has a FIFO queue with at most one job processing at a time.
A job downloads the file from object storage, parses it to markdown,
splits it with table awareness and stores embeddings in PostgreSQL/pgvector.
Queue chaining runs over NATS JetStream.`,
		Version:       version.Get().Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate(version.Get().String())

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./configs/config.yaml)")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	root.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().String("log-format", "", "Log format (json, text)")
	return root
}

// Execute runs the root command. It is called once by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() { //nolint:gochecknoinits // Standard Cobra CLI pattern for command registration
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	cfg, cfgErr = loadConfig(rootCmd)
	if cfgErr != nil {
		return
	}
	if err := slogger.Configure(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: "stderr",
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Error configuring logger: %v\n", err)
	}
}

// loadConfig reads the dotenv file, the config file and the environment, in
// increasing order of precedence. Flags override all of them.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}

	v := newViper()

	flags := cmd.PersistentFlags()
	for key, name := range map[string]string{"log.level": "log-level", "log.format": "log-format"} {
		if f := flags.Lookup(name); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return config.Load(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	config.SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// GetConfig returns the loaded configuration.
func GetConfig() (*config.Config, error) {
	if cfgErr != nil {
		return nil, cfgErr
	}
	if cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	return cfg, nil
}
