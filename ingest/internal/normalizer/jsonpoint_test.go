package normalizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONParser(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    int
		dropped int
		check   func(t *testing.T, measurement string, tags map[string]string, fields map[string]any, ts int64)
	}{
		{
			name:    "single object with canonical keys",
			payload: `{"measurement":"temp","tags":{"room":"a"},"fields":{"celsius":21.5},"timestampMillis":1700000000123}`,
			want:    1,
			check: func(t *testing.T, m string, tags map[string]string, fields map[string]any, ts int64) {
				assert.Equal(t, "temp", m)
				assert.Equal(t, map[string]string{"room": "a"}, tags)
				assert.Equal(t, map[string]any{"celsius": 21.5}, fields)
				assert.Equal(t, int64(1700000000123), ts)
			},
		},
		{
			name:    "synonyms name and values",
			payload: `[{"name":"rps","values":{"value":10,"ok":true,"region":"eu"},"timestamp":1700000000000}]`,
			want:    1,
			check: func(t *testing.T, m string, tags map[string]string, fields map[string]any, ts int64) {
				assert.Equal(t, "rps", m)
				assert.Equal(t, map[string]any{"value": float64(10), "ok": true, "region": "eu"}, fields)
				assert.Equal(t, int64(1700000000000), ts)
			},
		},
		{
			name:    "defaults for empty object",
			payload: `{}`,
			want:    1,
			check: func(t *testing.T, m string, tags map[string]string, fields map[string]any, ts int64) {
				assert.Equal(t, DefaultMeasurement, m)
				assert.Empty(t, tags)
				assert.Equal(t, map[string]any{"value": float64(0)}, fields)
				assert.Equal(t, ingestedAt, ts)
			},
		},
		{
			name:    "value shorthand and non string tags",
			payload: `{"name":"q","value":3,"tags":{"shard":2,"primary":true,"nested":{"x":1}}}`,
			want:    1,
			check: func(t *testing.T, m string, tags map[string]string, fields map[string]any, ts int64) {
				assert.Equal(t, map[string]string{"shard": "2", "primary": "true"}, tags)
				assert.Equal(t, map[string]any{"value": float64(3)}, fields)
			},
		},
		{
			name:    "nested field values dropped",
			payload: `{"name":"n","fields":{"obj":{"a":1},"list":[1,2]}}`,
			want:    1,
			check: func(t *testing.T, m string, tags map[string]string, fields map[string]any, ts int64) {
				assert.Equal(t, map[string]any{"value": float64(0)}, fields)
			},
		},
		{
			name:    "non object elements dropped",
			payload: `[1, "two", null, {"name":"ok"}]`,
			want:    1,
			dropped: 3,
		},
		{
			name:    "invalid json",
			payload: `[{"name":`,
			dropped: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			points, dropped := JSONParser{}.Parse([]byte(tt.payload), ingestedAt)
			require.Len(t, points, tt.want)
			assert.Equal(t, tt.dropped, dropped)
			if tt.check != nil {
				p := points[0]
				tt.check(t, p.Measurement, p.Tags, p.Fields, p.TimestampMillis)
			}
		})
	}
}

func TestDatadogParser(t *testing.T) {
	payload := `{"series":[
		{"metric":"system.cpu","points":[[1700000000,0.5],[1700000010,0.7]],"tags":["env:prod","role:db"],"host":"db-1","type":"gauge"},
		{"metric":"","points":[[1700000000,1]]},
		{"metric":"bad.point","points":[[1700000000]]}
	]}`

	points, dropped := DatadogParser{}.Parse([]byte(payload), ingestedAt)

	require.Len(t, points, 2)
	assert.Equal(t, 2, dropped)
	assert.Equal(t, "system.cpu", points[0].Measurement)
	assert.Equal(t, int64(1_700_000_000_000), points[0].TimestampMillis)
	assert.Equal(t, int64(1_700_000_010_000), points[1].TimestampMillis)
	assert.Equal(t, map[string]string{"env": "prod", "role": "db", "host": "db-1", "metricType": "gauge"}, points[0].Tags)

	points[0].Tags["env"] = "changed"
	assert.Equal(t, "prod", points[1].Tags["env"], "points must not share tag maps")
}

func TestDatadogParser_DogStatsDLines(t *testing.T) {
	points, dropped := DatadogParser{}.Parse([]byte("page.views:1|c|#env:prod\n"), ingestedAt)

	require.Len(t, points, 1)
	assert.Zero(t, dropped)
	assert.Equal(t, "page.views", points[0].Measurement)
	assert.Equal(t, "prod", points[0].Tags["env"])
}
