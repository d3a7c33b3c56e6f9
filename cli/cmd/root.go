package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/telhawk-systems/telhawk-metrics/cli/internal/client"
	"github.com/telhawk-systems/telhawk-metrics/cli/internal/config"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "thawk-metrics",
	Short: "TelHawk Metrics CLI",
	Long: `thawk-metrics is the command-line interface for TelHawk Metrics.

Send metric points in any supported format, check tenant quotas, query
stored points, seed test data and run database migrations.`,
	Version:      "0.1.0",
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.thawk/metrics.yaml)")
	rootCmd.PersistentFlags().String("profile", "", "profile to use (default: current profile)")
	rootCmd.PersistentFlags().String("output", "table", "output format: table, json, yaml")
	rootCmd.PersistentFlags().String("ingest-url", "", "ingest service URL (overrides profile)")
	rootCmd.PersistentFlags().String("api-key", "", "tenant API key (overrides profile)")
}

func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not load config: %v\n", err)
		cfg = config.Default()
	}
}

// activeProfile returns the selected profile, or an empty one when none is
// stored.
func activeProfile(cmd *cobra.Command) *config.Profile {
	name, _ := cmd.Flags().GetString("profile")
	if cfg == nil {
		return &config.Profile{}
	}
	p, err := cfg.GetProfile(name)
	if err != nil {
		return &config.Profile{}
	}
	return p
}

// endpoint resolves the ingest URL and API key: flags, then profile, then
// the built-in default URL.
func endpoint(cmd *cobra.Command) (string, string) {
	p := activeProfile(cmd)

	url, _ := cmd.Flags().GetString("ingest-url")
	if url == "" {
		url = p.IngestURL
	}
	if url == "" {
		url = config.DefaultIngestURL
	}

	key, _ := cmd.Flags().GetString("api-key")
	if key == "" {
		key = p.APIKey
	}
	return url, key
}

func newMetricsClient(cmd *cobra.Command) (*client.MetricsClient, error) {
	url, key := endpoint(cmd)
	if key == "" {
		return nil, fmt.Errorf("API key is required (use --api-key or 'thawk-metrics profile set')")
	}
	return client.NewMetricsClient(url, key), nil
}

func outputFormat(cmd *cobra.Command) string {
	format, _ := cmd.Flags().GetString("output")
	return format
}
