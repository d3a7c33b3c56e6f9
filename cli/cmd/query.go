package cmd

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/telhawk-systems/telhawk-metrics/cli/internal/client"
	"github.com/telhawk-systems/telhawk-metrics/cli/pkg/output"
)

var queryCmd = &cobra.Command{
	Use:   "query [measurement]",
	Short: "Query stored points",
	Long:  "Read back points stored for the current API key's tenant",
	Args:  cobra.MaximumNArgs(1),
	Example: `  thawk-metrics query cpu_usage --since 1h
  thawk-metrics query --tag host=web-1 --limit 50 --output json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		since, _ := cmd.Flags().GetDuration("since")
		limit, _ := cmd.Flags().GetInt("limit")
		tags, _ := cmd.Flags().GetStringToString("tag")

		params := client.QueryParams{Tags: tags, Limit: limit}
		if len(args) > 0 {
			params.Measurement = args[0]
		}
		if since > 0 {
			now := time.Now()
			params.From = now.Add(-since).UnixMilli()
			params.To = now.UnixMilli()
		}

		c, err := newMetricsClient(cmd)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		points, err := c.Query(ctx, params)
		if err != nil {
			return fmt.Errorf("query failed: %w", err)
		}

		return output.Render(outputFormat(cmd), points, func() {
			if len(points) == 0 {
				output.Info("No points found")
				return
			}
			table := output.NewTable([]string{"TIME", "MEASUREMENT", "TAGS", "FIELDS"})
			for _, p := range points {
				table.AddRow([]string{
					time.UnixMilli(p.TimestampMillis).UTC().Format(time.RFC3339),
					p.Measurement,
					joinPairs(p.Tags),
					joinPairs(p.Fields),
				})
			}
			table.Render()
			output.Info("%d points", len(points))
		})
	},
}

// joinPairs renders a map as sorted k=v pairs.
func joinPairs[V any](m map[string]V) string {
	pairs := make([]string, 0, len(m))
	for k, v := range m {
		pairs = append(pairs, fmt.Sprintf("%s=%v", k, v))
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ",")
}

func init() {
	rootCmd.AddCommand(queryCmd)

	queryCmd.Flags().Duration("since", time.Hour, "Look back this far (0 for no time bound)")
	queryCmd.Flags().Int("limit", 100, "Maximum points to return")
	queryCmd.Flags().StringToString("tag", nil, "Tag filter (key=value, repeatable)")
}
