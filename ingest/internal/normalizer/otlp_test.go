package normalizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const otlpRequest = `{
  "resourceMetrics": [{
    "resource": {"attributes": [{"key": "service.name", "value": {"stringValue": "checkout"}}]},
    "scopeMetrics": [{
      "metrics": [
        {
          "name": "http.server.requests",
          "sum": {
            "aggregationTemporality": 2,
            "isMonotonic": true,
            "dataPoints": [
              {"asInt": "7", "timeUnixNano": "1700000000000000000", "attributes": [{"key": "route", "value": {"stringValue": "/cart"}}]}
            ]
          }
        },
        {
          "name": "queue.depth",
          "gauge": {"dataPoints": [{"asDouble": 3.5, "timeUnixNano": "1700000001000000000"}]}
        },
        {
          "name": "http.server.duration",
          "histogram": {
            "aggregationTemporality": 2,
            "dataPoints": [{"count": "4", "sum": 1.2, "timeUnixNano": "1700000002000000000"}]
          }
        }
      ]
    }]
  }]
}`

func TestOTLPParser(t *testing.T) {
	points, dropped := OTLPParser{}.Parse([]byte(otlpRequest), ingestedAt)

	require.Len(t, points, 3)
	assert.Zero(t, dropped)

	byName := make(map[string]int)
	for i, p := range points {
		byName[p.Measurement] = i
		assert.Equal(t, "checkout", p.Tags["service.name"])
	}

	sum := points[byName["http.server.requests"]]
	assert.Equal(t, map[string]any{"value": float64(7)}, sum.Fields)
	assert.Equal(t, "/cart", sum.Tags["route"])
	assert.Equal(t, int64(1_700_000_000_000), sum.TimestampMillis)

	gauge := points[byName["queue.depth"]]
	assert.Equal(t, map[string]any{"value": 3.5}, gauge.Fields)

	hist := points[byName["http.server.duration"]]
	assert.Equal(t, map[string]any{"count": float64(4), "sum": 1.2}, hist.Fields)
}

func TestOTLPParser_ArrayAndGarbage(t *testing.T) {
	payload := "[" + otlpRequest + `, {"resourceMetrics": 5}]`

	points, dropped := OTLPParser{}.Parse([]byte(payload), ingestedAt)

	assert.Len(t, points, 3)
	assert.Equal(t, 1, dropped)
}
