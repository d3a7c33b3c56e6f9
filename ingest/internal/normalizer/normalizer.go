// Package normalizer converts raw telemetry payloads into canonical points.
//
// Parsers are best-effort: a line or element that cannot be parsed is
// dropped and counted, never turned into a zero-value point and never
// turned into an error. Given the same RawPoint the output is always the
// same, because "now" is taken from RawPoint.Timestamp.
package normalizer

import (
	"errors"
	"fmt"

	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/models"
)

// ErrUnsupportedFormat is returned when no parser handles a format.
var ErrUnsupportedFormat = errors.New("unsupported format")

// DefaultMeasurement names points whose payload carried no name.
const DefaultMeasurement = "unknown"

// Parser turns one format's payload into points.
type Parser interface {
	// Parse returns the parsed points and the number of dropped entries.
	// ingestedAt (epoch ms) is used for points without a timestamp.
	Parse(payload []byte, ingestedAt int64) ([]models.NormalizedPoint, int)
	Supports(format models.Format) bool
}

// Result is the outcome of normalizing one RawPoint.
type Result struct {
	Points  []models.NormalizedPoint
	Dropped int
}

// Registry holds parsers and finds the one for a format.
type Registry struct {
	items []Parser
}

// NewRegistry constructs a registry with the provided parsers.
func NewRegistry(items ...Parser) *Registry {
	return &Registry{items: items}
}

// DefaultRegistry handles every models.Format.
func DefaultRegistry() *Registry {
	statsd := StatsdParser{}
	return NewRegistry(
		ExpositionParser{},
		statsd,
		DatadogParser{Lines: statsd},
		OTLPParser{},
		JSONParser{},
	)
}

// Find returns the first parser that supports format.
func (r *Registry) Find(format models.Format) Parser {
	if r == nil {
		return nil
	}
	for _, p := range r.items {
		if p.Supports(format) {
			return p
		}
	}
	return nil
}

// Normalize parses raw and injects its tenant metadata into every point.
func (r *Registry) Normalize(raw *models.RawPoint) (Result, error) {
	p := r.Find(raw.Format)
	if p == nil {
		return Result{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, raw.Format)
	}

	points, dropped := p.Parse(raw.Payload, raw.Timestamp)
	for i := range points {
		Inject(&points[i], raw.TenantMeta)
	}
	return Result{Points: points, Dropped: dropped}, nil
}

// finalize applies the point defaults shared by every parser.
func finalize(p *models.NormalizedPoint, ingestedAt int64) {
	if p.Measurement == "" {
		p.Measurement = DefaultMeasurement
	}
	if p.Tags == nil {
		p.Tags = make(map[string]string)
	}
	if len(p.Fields) == 0 {
		p.Fields = map[string]any{"value": float64(0)}
	}
	if p.TimestampMillis == 0 {
		p.TimestampMillis = ingestedAt
	}
}
