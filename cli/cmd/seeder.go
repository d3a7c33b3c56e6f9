package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/telhawk-systems/telhawk-metrics/cli/internal/seeder"
	"github.com/telhawk-systems/telhawk-metrics/cli/pkg/output"
)

var (
	seederCfgFile    string
	seederIngestURL  string
	seederAPIKey     string
	seederCount      int
	seederTimeSpread string
	seederBatchSize  int
	seederFormats    string
	seederTenants    string
)

var seederCmd = &cobra.Command{
	Use:   "seeder",
	Short: "Metric seeder commands",
	Long:  "Generate and send synthetic metric points for testing and development",
}

var seederRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the metric seeder",
	Long: `Generate points in every configured format and send them to the ingest API.

Configuration cascade (priority order):
  1. Command-line flags
  2. ./seeder.yaml (project directory)
  3. ~/.thawk/seeder.yaml (user directory)
  4. Built-in defaults

Examples:
  # Use project config
  thawk-metrics seeder run

  # Override specific values
  thawk-metrics seeder run --api-key tk_live_abc --count 1000 --formats statsd,otlp

  # Seed extra tenants from config
  thawk-metrics seeder run --tenant acme,globex`,
	RunE: runSeeder,
}

var seederValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate seeder configuration",
	Long:  "Check if the seeder configuration file is valid without running the seeder",
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := seeder.LoadConfig(seederCfgFile)
		if err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid:")
		fmt.Fprintf(cmd.OutOrStdout(), "  Version: %s\n", config.Version)
		fmt.Fprintf(cmd.OutOrStdout(), "  Ingest URL: %s\n", config.Defaults.IngestURL)
		fmt.Fprintf(cmd.OutOrStdout(), "  Point count: %d\n", config.Defaults.Count)
		fmt.Fprintf(cmd.OutOrStdout(), "  Time spread: %v\n", config.Defaults.TimeSpread)
		fmt.Fprintf(cmd.OutOrStdout(), "  Batch size: %d\n", config.Defaults.BatchSize)
		fmt.Fprintf(cmd.OutOrStdout(), "  Formats: %v\n", config.Defaults.Formats)

		if len(config.Tenants) > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "\nConfigured tenants:\n")
			for name, tenant := range config.Tenants {
				status := "disabled"
				if tenant.Enabled {
					status = "enabled"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "  - %s: %s\n", name, status)
			}
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(seederCmd)

	seederCmd.AddCommand(seederRunCmd)
	seederCmd.AddCommand(seederValidateCmd)

	seederCmd.PersistentFlags().StringVar(&seederCfgFile, "seeder-config", "", "seeder config file (default: ./seeder.yaml or ~/.thawk/seeder.yaml)")

	seederRunCmd.Flags().StringVar(&seederIngestURL, "url", "", "Ingest service URL")
	seederRunCmd.Flags().StringVarP(&seederAPIKey, "key", "k", "", "Tenant API key")
	seederRunCmd.Flags().IntVarP(&seederCount, "count", "c", 0, "Number of points to generate")
	seederRunCmd.Flags().StringVarP(&seederTimeSpread, "time-spread", "s", "", "Time period to spread points (e.g., 1h, 24h, 7d)")
	seederRunCmd.Flags().IntVarP(&seederBatchSize, "batch-size", "b", 0, "Number of points per batch")
	seederRunCmd.Flags().StringVar(&seederFormats, "formats", "", "Comma-separated formats")
	seederRunCmd.Flags().StringVarP(&seederTenants, "tenant", "t", "", "Comma-separated tenant names from config")
}

func runSeeder(cmd *cobra.Command, args []string) error {
	config, err := seeder.LoadConfig(seederCfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Profile fills in what the seeder config leaves empty
	url, key := endpoint(cmd)
	if config.Defaults.APIKey == "" {
		config.Defaults.APIKey = key
	}
	if cmd.Flags().Changed("ingest-url") || activeProfile(cmd).IngestURL != "" {
		config.Defaults.IngestURL = url
	}

	if cmd.Flags().Changed("url") {
		config.Defaults.IngestURL = seederIngestURL
	}
	if cmd.Flags().Changed("key") {
		config.Defaults.APIKey = seederAPIKey
	}
	if cmd.Flags().Changed("count") {
		config.Defaults.Count = seederCount
	}
	if cmd.Flags().Changed("time-spread") {
		duration, err := parseDuration(seederTimeSpread)
		if err != nil {
			return fmt.Errorf("invalid time-spread: %w", err)
		}
		config.Defaults.TimeSpread = duration
	}
	if cmd.Flags().Changed("batch-size") {
		config.Defaults.BatchSize = seederBatchSize
	}
	if cmd.Flags().Changed("formats") {
		config.Defaults.Formats = splitList(seederFormats)
	}
	if err := config.Validate(); err != nil {
		return err
	}

	summary, err := seeder.NewRunner(config).Run(cmd.Context(), splitList(seederTenants))
	if err != nil {
		return fmt.Errorf("seeder failed: %w", err)
	}
	if summary.Failed > 0 {
		output.Warn("%d of %d points failed to send", summary.Failed, summary.Sent)
	}
	return nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// parseDuration parses duration strings like "24h", "7d", "90d"
func parseDuration(s string) (time.Duration, error) {
	if strings.HasSuffix(s, "d") {
		days := strings.TrimSuffix(s, "d")
		var d int
		if _, err := fmt.Sscanf(days, "%d", &d); err != nil {
			return 0, err
		}
		return time.Duration(d) * 24 * time.Hour, nil
	}

	return time.ParseDuration(s)
}
