package seeder

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"go.opentelemetry.io/collector/pdata/pcommon"
	"go.opentelemetry.io/collector/pdata/pmetric"
)

var (
	environments = []string{"prod", "staging", "dev"}
	statsdTypes  = []string{"c", "g", "ms"}
	ddTypes      = []string{"gauge", "count", "rate"}
)

// Generator produces fake metric entries in every ingest format. Entries
// for line formats are JSON strings, the others are JSON objects, matching
// what the ingest API accepts in its points array.
type Generator struct {
	faker        *gofakeit.Faker
	hosts        []string
	measurements []string
	now          func() time.Time
}

// NewGenerator creates a generator with hostCount synthetic hosts. The same
// seed yields the same sequence of entries.
func NewGenerator(seed int64, hostCount int, measurements []string) *Generator {
	f := gofakeit.New(seed)
	hosts := make([]string, hostCount)
	for i := range hosts {
		hosts[i] = fmt.Sprintf("%s-%02d", hostPrefix(f.Noun()), i)
	}
	return &Generator{
		faker:        f,
		hosts:        hosts,
		measurements: measurements,
		now:          time.Now,
	}
}

// hostPrefix keeps the lower-case letters of word so the name is safe in
// statsd tags and exposition labels.
func hostPrefix(word string) string {
	prefix := strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' {
			return r
		}
		return -1
	}, strings.ToLower(word))
	if prefix == "" {
		return "host"
	}
	return prefix
}

// Timestamp spreads total points evenly over the spread ending now, with
// ±40% jitter per slot. A zero spread means real time.
func (g *Generator) Timestamp(index, total int, spread time.Duration) time.Time {
	now := g.now()
	if spread <= 0 || total <= 0 {
		return now
	}

	base := float64(spread) / float64(total)
	offset := time.Duration(float64(index)*base + (g.faker.Float64()*2.0-1.0)*base*0.4)
	if offset < 0 {
		offset = 0
	}
	if offset > spread {
		offset = spread
	}
	return now.Add(-(spread - offset))
}

// Entry generates one entry in format stamped at ts.
func (g *Generator) Entry(format string, ts time.Time) (json.RawMessage, error) {
	name := g.faker.RandomString(g.measurements)
	host := g.faker.RandomString(g.hosts)
	env := g.faker.RandomString(environments)
	value := g.faker.Float64Range(0, 1000)

	var v any
	switch format {
	case "statsd":
		v = fmt.Sprintf("%s:%.2f|%s|#host:%s,env:%s", name, value, g.faker.RandomString(statsdTypes), host, env)
	case "prometheus":
		v = fmt.Sprintf(`%s{host="%s",env="%s"} %.3f %d`, name, host, env, value, ts.UnixMilli())
	case "datadog":
		v = map[string]any{
			"series": []map[string]any{{
				"metric": name,
				"points": [][]float64{{float64(ts.Unix()), value}},
				"tags":   []string{"env:" + env},
				"host":   host,
				"type":   g.faker.RandomString(ddTypes),
			}},
		}
	case "custom":
		v = map[string]any{
			"name":      name,
			"value":     value,
			"tags":      map[string]string{"host": host, "env": env},
			"timestamp": ts.UnixMilli(),
		}
	case "official":
		v = map[string]any{
			"measurement": name,
			"fields": map[string]any{
				"value": value,
				"count": g.faker.IntRange(1, 500),
			},
			"tags":            map[string]string{"host": host, "env": env, "region": g.faker.RandomString([]string{"us-east", "us-west", "eu-central"})},
			"timestampMillis": ts.UnixMilli(),
		}
	case "otlp":
		return g.otlpEntry(name, host, env, value, ts)
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s entry: %w", format, err)
	}
	return data, nil
}

// otlpEntry builds a single-gauge ExportMetricsServiceRequest in OTLP/JSON.
func (g *Generator) otlpEntry(name, host, env string, value float64, ts time.Time) (json.RawMessage, error) {
	md := pmetric.NewMetrics()
	rm := md.ResourceMetrics().AppendEmpty()
	rm.Resource().Attributes().PutStr("host", host)
	rm.Resource().Attributes().PutStr("env", env)

	m := rm.ScopeMetrics().AppendEmpty().Metrics().AppendEmpty()
	m.SetName(name)
	dp := m.SetEmptyGauge().DataPoints().AppendEmpty()
	dp.SetDoubleValue(value)
	dp.SetTimestamp(pcommon.NewTimestampFromTime(ts))

	var marshaler pmetric.JSONMarshaler
	data, err := marshaler.MarshalMetrics(md)
	if err != nil {
		return nil, fmt.Errorf("encode otlp entry: %w", err)
	}
	return data, nil
}

// Batch generates count entries in format for the slots starting at offset.
func (g *Generator) Batch(format string, offset, count, total int, spread time.Duration) ([]json.RawMessage, error) {
	entries := make([]json.RawMessage, 0, count)
	for i := 0; i < count; i++ {
		e, err := g.Entry(format, g.Timestamp(offset+i, total, spread))
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}
