package normalizer

import (
	"bytes"
	"encoding/json"
	"maps"

	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/models"
)

// Datadog tag keys copied from series attributes.
const (
	TagHost       = "host"
	TagMetricType = "metricType"
)

// DatadogParser parses the Datadog series payload
//
//	{"series":[{"metric":"m","points":[[ts,v],...],"tags":["k:v"],"host":"h","type":"gauge"}]}
//
// with ts in epoch seconds. Payloads that are not JSON are treated as
// DogStatsD lines and handed to Lines.
type DatadogParser struct {
	Lines StatsdParser
}

type ddPayload struct {
	Series []ddSeries `json:"series"`
}

type ddSeries struct {
	Metric string      `json:"metric"`
	Points [][]float64 `json:"points"`
	Tags   []string    `json:"tags"`
	Host   string      `json:"host"`
	Type   string      `json:"type"`
}

func (DatadogParser) Supports(format models.Format) bool {
	return format == models.FormatDatadog
}

func (d DatadogParser) Parse(payload []byte, ingestedAt int64) ([]models.NormalizedPoint, int) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, 0
	}
	if trimmed[0] != '{' && trimmed[0] != '[' {
		return d.Lines.Parse(trimmed, ingestedAt)
	}

	var series []ddSeries
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &series); err != nil {
			return nil, 1
		}
	} else {
		var body ddPayload
		if err := json.Unmarshal(trimmed, &body); err != nil {
			return nil, 1
		}
		series = body.Series
	}

	var (
		points  []models.NormalizedPoint
		dropped int
	)
	for _, s := range series {
		if s.Metric == "" || len(s.Points) == 0 {
			dropped++
			continue
		}
		tags := parseTagList(s.Tags)
		if s.Host != "" {
			tags[TagHost] = s.Host
		}
		if s.Type != "" {
			tags[TagMetricType] = s.Type
		}

		for _, pair := range s.Points {
			if len(pair) != 2 || !finite(pair[1]) {
				dropped++
				continue
			}
			p := models.NormalizedPoint{
				Measurement:     s.Metric,
				Tags:            maps.Clone(tags),
				Fields:          map[string]any{"value": pair[1]},
				TimestampMillis: int64(pair[0] * 1000),
			}
			finalize(&p, ingestedAt)
			points = append(points, p)
		}
	}
	return points, dropped
}
