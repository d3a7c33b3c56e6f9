package service

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/models"
)

func TestBuildPayloads(t *testing.T) {
	tests := []struct {
		name     string
		format   models.Format
		entries  []json.RawMessage
		payloads []string
		invalid  int
	}{
		{
			name:     "text lines",
			format:   models.FormatStatsd,
			entries:  lines("a:1|c", "b:2|g"),
			payloads: []string{"a:1|c\nb:2|g"},
		},
		{
			name:     "objects rejected for text",
			format:   models.FormatPrometheus,
			entries:  append(lines("a 1"), json.RawMessage(`{"x":1}`)),
			payloads: []string{"a 1"},
			invalid:  1,
		},
		{
			name:     "json array",
			format:   models.FormatOfficial,
			entries:  []json.RawMessage{json.RawMessage(`{"a":1}`), json.RawMessage(` {"b":2}`)},
			payloads: []string{`[{"a":1},{"b":2}]`},
		},
		{
			name:     "datadog mixed",
			format:   models.FormatDatadog,
			entries:  append(lines("dd:1|c"), json.RawMessage(`{"metric":"m"}`)),
			payloads: []string{"dd:1|c", `[{"metric":"m"}]`},
		},
		{
			name:    "blank and scalar entries",
			format:  models.FormatStatsd,
			entries: []json.RawMessage{json.RawMessage(`"  "`), json.RawMessage(`12`), json.RawMessage(``)},
			invalid: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, invalid := buildPayloads(tt.format, tt.entries)
			assert.Equal(t, tt.invalid, invalid)
			require.Len(t, out, len(tt.payloads))
			for i, p := range tt.payloads {
				assert.Equal(t, p, string(out[i].data))
			}
		})
	}
}

func TestSplitBody(t *testing.T) {
	entries, err := SplitBody(models.FormatStatsd, []byte("a:1|c\n\n  b:2|c  \n"))
	require.NoError(t, err)
	assert.Equal(t, lines("a:1|c", "b:2|c"), entries)

	entries, err = SplitBody(models.FormatDatadog, []byte("dd.m:1|c|#a:b"))
	require.NoError(t, err)
	assert.Equal(t, lines("dd.m:1|c|#a:b"), entries)

	entries, err = SplitBody(models.FormatCustom, []byte(`[{"a":1},{"b":2}]`))
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	entries, err = SplitBody(models.FormatOTLP, []byte(`{"resourceMetrics":[]}`))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	entries, err = SplitBody(models.FormatCustom, []byte("   "))
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = SplitBody(models.FormatCustom, []byte(`[{"a":1}`))
	assert.ErrorIs(t, err, ErrInvalidBody)
}

func TestSplitBody_ExpositionSkipsComments(t *testing.T) {
	body := "# HELP up Whether the target is up.\n# TYPE up gauge\nup 1\n  # trailing note\nrequests_total{code=\"200\"} 7\n"

	entries, err := SplitBody(models.FormatPrometheus, []byte(body))
	require.NoError(t, err)
	assert.Equal(t, lines("up 1", `requests_total{code="200"} 7`), entries)
}
