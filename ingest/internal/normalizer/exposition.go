package normalizer

import (
	"bytes"
	"math"

	"github.com/prometheus/prometheus/model/labels"
	"github.com/prometheus/prometheus/model/textparse"

	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/models"
)

// Timestamps at or above this are already in milliseconds.
const millisThreshold = 1_000_000_000_000

// ExpositionParser parses Prometheus text exposition lines:
//
//	name{label="value",...} value [timestampSeconds]
//
// Each line is parsed on its own so one bad sample does not reject the
// rest of the payload.
type ExpositionParser struct{}

func (ExpositionParser) Supports(format models.Format) bool {
	return format == models.FormatPrometheus
}

func (ExpositionParser) Parse(payload []byte, ingestedAt int64) ([]models.NormalizedPoint, int) {
	var points []models.NormalizedPoint

	st := labels.NewSymbolTable()
	dropped := eachLine(payload, func(line []byte) bool {
		if line[0] == '#' {
			return true
		}
		p, ok := parseExpositionLine(line, st, ingestedAt)
		if ok {
			points = append(points, p)
		}
		return ok
	})
	return points, dropped
}

func parseExpositionLine(line []byte, st *labels.SymbolTable, ingestedAt int64) (models.NormalizedPoint, bool) {
	buf := make([]byte, 0, len(line)+1)
	buf = append(append(buf, line...), '\n')

	parser := textparse.NewPromParser(buf, st, false)
	var lbls labels.Labels
	for {
		entry, err := parser.Next()
		if err != nil {
			return models.NormalizedPoint{}, false
		}
		if entry != textparse.EntrySeries {
			continue
		}

		_, ts, value := parser.Series()
		if !finite(value) {
			return models.NormalizedPoint{}, false
		}
		parser.Labels(&lbls)

		tags := make(map[string]string, lbls.Len())
		lbls.Range(func(l labels.Label) {
			if l.Name != labels.MetricName {
				tags[l.Name] = l.Value
			}
		})

		p := models.NormalizedPoint{
			Measurement:     lbls.Get(labels.MetricName),
			Tags:            tags,
			Fields:          map[string]any{"value": value},
			TimestampMillis: expositionMillis(ts, ingestedAt),
		}
		finalize(&p, ingestedAt)
		return p, true
	}
}

// expositionMillis accepts both second and millisecond sample timestamps.
func expositionMillis(ts *int64, ingestedAt int64) int64 {
	if ts == nil {
		return ingestedAt
	}
	raw := *ts
	if raw >= millisThreshold || raw <= -millisThreshold {
		return raw
	}
	return raw * 1000
}

// maxLineBytes bounds one line-protocol entry. Longer lines are dropped.
const maxLineBytes = 1 << 20

// eachLine calls parse for every non-blank line of payload, trimmed, and
// returns the number of dropped lines: those parse rejected plus those
// longer than maxLineBytes.
func eachLine(payload []byte, parse func(line []byte) bool) int {
	dropped := 0
	for _, line := range bytes.Split(payload, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if len(line) > maxLineBytes {
			dropped++
			continue
		}
		if !parse(line) {
			dropped++
		}
	}
	return dropped
}

// finite rejects NaN and infinities, which the store cannot index.
func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
