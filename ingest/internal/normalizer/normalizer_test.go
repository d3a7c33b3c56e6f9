package normalizer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/models"
)

const ingestedAt = int64(1_700_000_500_000)

func TestRegistry_FindsEveryFormat(t *testing.T) {
	r := DefaultRegistry()
	for _, f := range models.AllFormats {
		assert.NotNil(t, r.Find(f), "format %s", f)
	}
	assert.Nil(t, r.Find("graphite"))
}

func TestRegistry_UnsupportedFormat(t *testing.T) {
	_, err := DefaultRegistry().Normalize(&models.RawPoint{Format: "graphite", Payload: []byte("a.b 1 2")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))
}

func TestRegistry_NormalizeInjectsMetadata(t *testing.T) {
	raw := &models.RawPoint{
		Format:    models.FormatPrometheus,
		Timestamp: ingestedAt,
		Payload:   []byte("foo{a=\"1\",tenantId=\"evil\"} 42 1700000000\nnot a metric line at all {\n"),
		TenantMeta: &models.TenantMeta{
			TenantID: "tenant-a",
			APIKeyID: "key-1",
			Tags:     map[string]string{"a": "override", "tenantId": "spoof"},
		},
	}

	res, err := DefaultRegistry().Normalize(raw)
	require.NoError(t, err)
	require.Len(t, res.Points, 1)
	assert.Equal(t, 1, res.Dropped)

	p := res.Points[0]
	assert.Equal(t, "tenant-a", p.Tags[models.TagTenantID])
	assert.Equal(t, "key-1", p.Tags[models.TagAPIKeyID])
	assert.Equal(t, "override", p.Tags["a"])
}

func TestRegistry_NormalizeIsDeterministic(t *testing.T) {
	raw := &models.RawPoint{
		Format:    models.FormatStatsd,
		Timestamp: ingestedAt,
		Payload:   []byte("a:1|c\nb:2|g|#env:prod\nbroken\n"),
	}

	first, err := DefaultRegistry().Normalize(raw)
	require.NoError(t, err)
	second, err := DefaultRegistry().Normalize(raw)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestRegistry_EveryPointHasDefaults(t *testing.T) {
	payloads := map[models.Format]string{
		models.FormatPrometheus: "up 1\nrequests_total{code=\"200\"} 10 1700000000\n",
		models.FormatStatsd:     "hits:3|c|@0.5\nusers:alice|s\n",
		models.FormatDatadog:    `{"series":[{"metric":"cpu","points":[[1700000000,0.5]]}]}`,
		models.FormatCustom:     `[{"name":"x"},{},{"measurement":"y","values":{"v":1}}]`,
		models.FormatOfficial:   `{"measurement":"z","fields":{"value":2},"timestampMillis":1700000000123}`,
	}

	for format, payload := range payloads {
		t.Run(string(format), func(t *testing.T) {
			res, err := DefaultRegistry().Normalize(&models.RawPoint{
				Format:    format,
				Timestamp: ingestedAt,
				Payload:   []byte(payload),
			})
			require.NoError(t, err)
			require.NotEmpty(t, res.Points)
			for _, p := range res.Points {
				assert.NotEmpty(t, p.Measurement)
				assert.NotEmpty(t, p.Fields)
				assert.NotNil(t, p.Tags)
				assert.NotZero(t, p.TimestampMillis)
			}
		})
	}
}

func TestInject(t *testing.T) {
	tests := []struct {
		name string
		tags map[string]string
		meta *models.TenantMeta
		want map[string]string
	}{
		{
			name: "nil meta leaves tags alone",
			tags: map[string]string{"a": "1"},
			meta: nil,
			want: map[string]string{"a": "1"},
		},
		{
			name: "reserved keys come from meta",
			tags: map[string]string{"tenantId": "payload", "apiKeyId": "payload"},
			meta: &models.TenantMeta{TenantID: "t", APIKeyID: "k"},
			want: map[string]string{"tenantId": "t", "apiKeyId": "k"},
		},
		{
			name: "caller tags cannot overwrite reserved keys",
			tags: map[string]string{},
			meta: &models.TenantMeta{TenantID: "t", Tags: map[string]string{"tenantId": "x", "apiKeyId": "y", "env": "prod"}},
			want: map[string]string{"tenantId": "t", "env": "prod"},
		},
		{
			name: "caller tags override parsed tags",
			tags: map[string]string{"env": "dev", "host": "a"},
			meta: &models.TenantMeta{TenantID: "t", Tags: map[string]string{"env": "prod"}},
			want: map[string]string{"tenantId": "t", "env": "prod", "host": "a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := models.NormalizedPoint{Tags: tt.tags}
			Inject(&p, tt.meta)
			assert.Equal(t, tt.want, p.Tags)
		})
	}
}
