package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/telhawk-systems/telhawk-metrics/cli/pkg/output"
)

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Show quota usage for the current API key's tenant",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newMetricsClient(cmd)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		status, err := c.Quota(ctx)
		if err != nil {
			return fmt.Errorf("failed to get quota: %w", err)
		}

		return output.Render(outputFormat(cmd), status, func() {
			if status.Allowed {
				output.Success("Tenant %s may ingest", status.TenantID)
			} else {
				output.Error("Tenant %s is blocked: %s", status.TenantID, status.Reason)
			}

			table := output.NewTable([]string{"QUOTA", "USAGE", "LIMIT", "RATIO", "STATE"})
			for _, s := range status.Snapshots {
				limit := strconv.FormatInt(s.Limit, 10)
				if s.Limit < 0 {
					limit = "unlimited"
				}
				table.AddRow([]string{
					s.QuotaType,
					strconv.FormatInt(s.Usage, 10),
					limit,
					fmt.Sprintf("%.1f%%", s.Ratio*100),
					s.State,
				})
			}
			table.Render()
		})
	},
}

func init() {
	rootCmd.AddCommand(quotaCmd)
}
