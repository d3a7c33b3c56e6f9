package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/telhawk-systems/telhawk-metrics/cli/internal/config"
	"github.com/telhawk-systems/telhawk-metrics/cli/pkg/output"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Profile commands",
	Long:  "Manage saved ingest endpoints and API keys in ~/.thawk/metrics.yaml",
}

var profileSetCmd = &cobra.Command{
	Use:   "set [name]",
	Short: "Create or update a profile",
	Args:  cobra.MaximumNArgs(1),
	Example: `  thawk-metrics profile set --api-key tk_live_abc
  thawk-metrics profile set staging --ingest-url https://metrics.staging:8088 --api-key tk_test_xyz`,
	RunE: func(cmd *cobra.Command, args []string) error {
		name := config.DefaultProfile
		if len(args) > 0 {
			name = args[0]
		}

		p, err := cfg.GetProfile(name)
		if err != nil {
			p = &config.Profile{IngestURL: config.DefaultIngestURL}
		}

		if cmd.Flags().Changed("ingest-url") {
			p.IngestURL, _ = cmd.Flags().GetString("ingest-url")
		}
		if cmd.Flags().Changed("api-key") {
			p.APIKey, _ = cmd.Flags().GetString("api-key")
		}
		if cmd.Flags().Changed("database-url") {
			p.DatabaseURL, _ = cmd.Flags().GetString("database-url")
		}

		if err := cfg.SaveProfile(name, p); err != nil {
			return fmt.Errorf("failed to save profile: %w", err)
		}

		output.Success("Profile '%s' saved", name)
		output.Info("Config written to %s", cfg.Path())
		return nil
	},
}

var profileListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		type row struct {
			Name      string `json:"name" yaml:"name"`
			IngestURL string `json:"ingest_url" yaml:"ingest_url"`
			Current   bool   `json:"current" yaml:"current"`
		}

		var rows []row
		for _, name := range cfg.ProfileNames() {
			rows = append(rows, row{
				Name:      name,
				IngestURL: cfg.Profiles[name].IngestURL,
				Current:   name == cfg.CurrentProfile,
			})
		}

		return output.Render(outputFormat(cmd), rows, func() {
			if len(rows) == 0 {
				output.Info("No profiles saved")
				return
			}
			table := output.NewTable([]string{"", "NAME", "INGEST URL"})
			for _, r := range rows {
				marker := ""
				if r.Current {
					marker = "*"
				}
				table.AddRow([]string{marker, r.Name, r.IngestURL})
			}
			table.Render()
		})
	},
}

var profileUseCmd = &cobra.Command{
	Use:   "use <name>",
	Short: "Switch the current profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.UseProfile(args[0]); err != nil {
			return err
		}
		output.Success("Now using profile '%s'", args[0])
		return nil
	},
}

var profileRemoveCmd = &cobra.Command{
	Use:     "remove <name>",
	Aliases: []string{"rm"},
	Short:   "Remove a profile",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.RemoveProfile(args[0]); err != nil {
			return err
		}
		output.Success("Removed profile '%s'", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(profileCmd)
	profileCmd.AddCommand(profileSetCmd)
	profileCmd.AddCommand(profileListCmd)
	profileCmd.AddCommand(profileUseCmd)
	profileCmd.AddCommand(profileRemoveCmd)

	profileSetCmd.Flags().String("database-url", "", "PostgreSQL URL used by 'migrate'")
}
