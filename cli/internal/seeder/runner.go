package seeder

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/telhawk-systems/telhawk-metrics/cli/internal/client"
)

// Sender delivers one ingest request.
type Sender interface {
	Ingest(ctx context.Context, req *client.IngestRequest) (*client.IngestResponse, error)
}

// Summary totals one seeding run.
type Summary struct {
	Sent     int
	Accepted int
	Rejected int
	Failed   int
	// Refused counts batches the server turned away for quota.
	Refused int
}

func (s *Summary) add(o Summary) {
	s.Sent += o.Sent
	s.Accepted += o.Accepted
	s.Rejected += o.Rejected
	s.Failed += o.Failed
	s.Refused += o.Refused
}

// Runner handles the metric seeding execution
type Runner struct {
	Config    *Config
	Generator *Generator
	Logger    *log.Logger
	// NewSender builds the sender for an API key.
	NewSender func(apiKey string) Sender
}

// NewRunner creates a new seeder runner
func NewRunner(config *Config) *Runner {
	d := config.Defaults
	return &Runner{
		Config:    config,
		Generator: NewGenerator(time.Now().UnixNano(), d.Hosts, d.Measurements),
		Logger:    log.Default(),
		NewSender: func(apiKey string) Sender {
			return client.NewMetricsClient(d.IngestURL, apiKey)
		},
	}
}

// Run seeds the default API key, then each selected tenant. Unknown or
// disabled tenants are skipped with a warning.
func (r *Runner) Run(ctx context.Context, selectedTenants []string) (Summary, error) {
	d := r.Config.Defaults

	r.Logger.Printf("Starting metric seeder:")
	r.Logger.Printf("  Ingest URL: %s", d.IngestURL)
	r.Logger.Printf("  Point count: %d", d.Count)
	r.Logger.Printf("  Batch size: %d", d.BatchSize)
	r.Logger.Printf("  Interval: %v", d.Interval)
	r.Logger.Printf("  Time spread: %v", d.TimeSpread)
	r.Logger.Printf("  Formats: %v", d.Formats)

	var total Summary

	if d.APIKey != "" {
		s, err := r.seed(ctx, "default", d.APIKey, d.Count, d.Formats)
		total.add(s)
		if err != nil {
			return total, err
		}
	} else if len(selectedTenants) == 0 {
		return total, fmt.Errorf("API key is required (use --api-key or set defaults.api_key)")
	}

	sort.Strings(selectedTenants)
	for _, name := range selectedTenants {
		tenant, ok := r.Config.GetTenant(name)
		if !ok {
			r.Logger.Printf("Warning: Tenant %s not found in config, skipping", name)
			continue
		}
		if !tenant.Enabled {
			r.Logger.Printf("Warning: Tenant %s is disabled, skipping", name)
			continue
		}

		count := tenant.Count
		if count == 0 {
			count = d.Count
		}
		formats := tenant.Formats
		if len(formats) == 0 {
			formats = d.Formats
		}

		s, err := r.seed(ctx, name, tenant.APIKey, count, formats)
		total.add(s)
		if err != nil {
			return total, err
		}
	}

	r.Logger.Printf("Seeding complete:")
	r.Logger.Printf("  Sent: %d points", total.Sent)
	r.Logger.Printf("  Accepted: %d points", total.Accepted)
	r.Logger.Printf("  Rejected: %d points", total.Rejected)
	r.Logger.Printf("  Failed: %d points", total.Failed)
	if total.Refused > 0 {
		r.Logger.Printf("  Quota refused: %d batches", total.Refused)
	}

	return total, nil
}

// seed sends count points in batches, rotating through formats batch by
// batch. Send failures are counted and the run continues; only ctx
// cancellation stops it early.
func (r *Runner) seed(ctx context.Context, name, apiKey string, count int, formats []string) (Summary, error) {
	d := r.Config.Defaults
	sender := r.NewSender(apiKey)

	r.Logger.Printf("Seeding %s: %d points", name, count)

	progressInterval := count / 20
	if progressInterval < d.BatchSize {
		progressInterval = d.BatchSize
	}

	var (
		s        Summary
		nextMark = progressInterval
	)
	for offset, batchNum := 0, 0; offset < count; offset, batchNum = offset+d.BatchSize, batchNum+1 {
		if err := ctx.Err(); err != nil {
			return s, err
		}

		size := min(d.BatchSize, count-offset)
		format := formats[batchNum%len(formats)]

		entries, err := r.Generator.Batch(format, offset, size, count, d.TimeSpread)
		if err != nil {
			return s, fmt.Errorf("generate %s batch: %w", format, err)
		}

		s.Sent += size
		resp, err := sender.Ingest(ctx, &client.IngestRequest{
			Format: format,
			Points: entries,
			Source: "seeder",
		})
		switch {
		case err != nil:
			r.Logger.Printf("Failed to send %s batch: %v", format, err)
			s.Failed += size
		case resp.Accepted == 0 && resp.Reason != "":
			r.Logger.Printf("Batch refused: %s", resp.Reason)
			s.Refused++
			s.Rejected += size
		default:
			s.Accepted += resp.Accepted
			s.Rejected += resp.Rejected
		}

		if s.Sent >= nextMark || s.Sent >= count {
			r.Logger.Printf("Progress: %d/%d points sent (%.1f%%)", s.Sent, count, float64(s.Sent)*100.0/float64(count))
			nextMark += progressInterval
		}

		if d.Interval > 0 && offset+size < count {
			select {
			case <-ctx.Done():
				return s, ctx.Err()
			case <-time.After(d.Interval):
			}
		}
	}

	return s, nil
}
