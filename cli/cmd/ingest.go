package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/telhawk-systems/telhawk-metrics/cli/internal/client"
	"github.com/telhawk-systems/telhawk-metrics/cli/pkg/output"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Data ingestion commands",
	Long:  "Send metric points to the TelHawk Metrics ingestion service",
}

var ingestSendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send metric points",
	Long: `Send metric points in one of the supported formats.

--line sends text entries (statsd, prometheus, datadog lines) through the
JSON ingest API. --json sends one JSON object or an array of objects.
--file posts the file contents unchanged to the raw format endpoint; use
"-" to read standard input.`,
	Example: `  thawk-metrics ingest send --format statsd --line 'api.latency:12|ms|#env:prod'
  thawk-metrics ingest send --format custom --json '{"name":"cpu","value":0.42,"tags":{"host":"web-1"}}'
  thawk-metrics ingest send --format prometheus --file metrics.prom
  curl -s localhost:9100/metrics | thawk-metrics ingest send --format prometheus --file -`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		lines, _ := cmd.Flags().GetStringArray("line")
		jsonData, _ := cmd.Flags().GetString("json")
		file, _ := cmd.Flags().GetString("file")
		source, _ := cmd.Flags().GetString("source")
		tags, _ := cmd.Flags().GetStringToString("tag")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		inputs := 0
		for _, set := range []bool{len(lines) > 0, jsonData != "", file != ""} {
			if set {
				inputs++
			}
		}
		if inputs != 1 {
			return fmt.Errorf("exactly one of --line, --json or --file is required")
		}

		c, err := newMetricsClient(cmd)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		var resp *client.IngestResponse
		if file != "" {
			payload, err := readPayload(cmd, file)
			if err != nil {
				return err
			}
			resp, err = c.IngestRaw(ctx, format, payload, source)
			if err != nil {
				return fmt.Errorf("failed to send points: %w", err)
			}
		} else {
			points, err := buildPoints(lines, jsonData)
			if err != nil {
				return err
			}
			resp, err = c.Ingest(ctx, &client.IngestRequest{
				Format: format,
				Points: points,
				Source: source,
				Tags:   tags,
			})
			if err != nil {
				return fmt.Errorf("failed to send points: %w", err)
			}
		}

		return renderIngestResponse(outputFormat(cmd), resp)
	},
}

// buildPoints converts --line values into JSON string entries, or splits
// --json into object entries.
func buildPoints(lines []string, jsonData string) ([]json.RawMessage, error) {
	if len(lines) > 0 {
		points := make([]json.RawMessage, 0, len(lines))
		for _, l := range lines {
			points = append(points, json.RawMessage(strconv.Quote(l)))
		}
		return points, nil
	}

	var single map[string]any
	if err := json.Unmarshal([]byte(jsonData), &single); err == nil {
		return []json.RawMessage{json.RawMessage(jsonData)}, nil
	}
	var many []json.RawMessage
	if err := json.Unmarshal([]byte(jsonData), &many); err != nil {
		return nil, fmt.Errorf("--json must be an object or an array of objects: %w", err)
	}
	return many, nil
}

func readPayload(cmd *cobra.Command, file string) ([]byte, error) {
	if file == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", file, err)
	}
	return data, nil
}

func renderIngestResponse(format string, resp *client.IngestResponse) error {
	return output.Render(format, resp, func() {
		switch {
		case resp.Accepted == 0 && resp.Reason != "":
			output.Error("Refused: %s", resp.Reason)
		case resp.Rejected > 0:
			output.Warn("Accepted %d, rejected %d (%s mode)", resp.Accepted, resp.Rejected, resp.Mode)
		default:
			output.Success("Accepted %d points (%s mode)", resp.Accepted, resp.Mode)
		}
		if resp.QuotaRemaining >= 0 {
			output.Info("Quota remaining: %d", resp.QuotaRemaining)
		}
	})
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.AddCommand(ingestSendCmd)

	ingestSendCmd.Flags().StringP("format", "f", "custom", "Payload format: prometheus, statsd, datadog, otlp, custom, official")
	ingestSendCmd.Flags().StringArrayP("line", "l", nil, "Text entry (repeatable)")
	ingestSendCmd.Flags().String("json", "", "JSON object or array of objects")
	ingestSendCmd.Flags().String("file", "", "File posted as a raw payload (- for stdin)")
	ingestSendCmd.Flags().String("source", "thawk-cli", "Point source")
	ingestSendCmd.Flags().StringToString("tag", nil, "Tag added to every point (key=value, repeatable)")
	ingestSendCmd.Flags().Duration("timeout", 30*time.Second, "Request timeout")
}
