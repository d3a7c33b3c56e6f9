package normalizer

import (
	"go.opentelemetry.io/collector/pdata/pcommon"
	"go.opentelemetry.io/collector/pdata/pmetric"

	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/models"
)

// OTLPParser parses OTLP/JSON ExportMetricsServiceRequest payloads, either a
// single request object or an array of them. Resource and data point
// attributes become tags; gauge and sum points carry "value", histogram and
// summary points carry "count" and "sum".
type OTLPParser struct{}

func (OTLPParser) Supports(format models.Format) bool {
	return format == models.FormatOTLP
}

func (OTLPParser) Parse(payload []byte, ingestedAt int64) ([]models.NormalizedPoint, int) {
	docs, ok := splitJSON(payload)
	if !ok {
		return nil, 1
	}

	var (
		u       pmetric.JSONUnmarshaler
		points  []models.NormalizedPoint
		dropped int
	)
	for _, doc := range docs {
		md, err := u.UnmarshalMetrics(doc)
		if err != nil {
			dropped++
			continue
		}
		p, d := collectOTLP(md, ingestedAt)
		points = append(points, p...)
		dropped += d
	}
	return points, dropped
}

func collectOTLP(md pmetric.Metrics, ingestedAt int64) ([]models.NormalizedPoint, int) {
	var (
		points  []models.NormalizedPoint
		dropped int
	)

	rms := md.ResourceMetrics()
	for i := 0; i < rms.Len(); i++ {
		rm := rms.At(i)
		resAttrs := rm.Resource().Attributes()

		sms := rm.ScopeMetrics()
		for j := 0; j < sms.Len(); j++ {
			metrics := sms.At(j).Metrics()
			for k := 0; k < metrics.Len(); k++ {
				metric := metrics.At(k)
				emit := func(attrs pcommon.Map, ts pcommon.Timestamp, fields map[string]any) {
					p := models.NormalizedPoint{
						Measurement:     metric.Name(),
						Tags:            attributeTags(resAttrs, attrs),
						Fields:          fields,
						TimestampMillis: timestampMillis(ts),
					}
					finalize(&p, ingestedAt)
					points = append(points, p)
				}

				switch metric.Type() {
				case pmetric.MetricTypeGauge:
					dropped += numberPoints(metric.Gauge().DataPoints(), emit)
				case pmetric.MetricTypeSum:
					dropped += numberPoints(metric.Sum().DataPoints(), emit)
				case pmetric.MetricTypeHistogram:
					dps := metric.Histogram().DataPoints()
					for l := 0; l < dps.Len(); l++ {
						dp := dps.At(l)
						fields := map[string]any{"count": float64(dp.Count())}
						if dp.HasSum() {
							fields["sum"] = dp.Sum()
						}
						emit(dp.Attributes(), dp.Timestamp(), fields)
					}
				case pmetric.MetricTypeSummary:
					dps := metric.Summary().DataPoints()
					for l := 0; l < dps.Len(); l++ {
						dp := dps.At(l)
						emit(dp.Attributes(), dp.Timestamp(), map[string]any{
							"count": float64(dp.Count()),
							"sum":   dp.Sum(),
						})
					}
				default:
					dropped++
				}
			}
		}
	}
	return points, dropped
}

func numberPoints(dps pmetric.NumberDataPointSlice, emit func(pcommon.Map, pcommon.Timestamp, map[string]any)) int {
	dropped := 0
	for i := 0; i < dps.Len(); i++ {
		dp := dps.At(i)
		var v float64
		switch dp.ValueType() {
		case pmetric.NumberDataPointValueTypeInt:
			v = float64(dp.IntValue())
		case pmetric.NumberDataPointValueTypeDouble:
			v = dp.DoubleValue()
		default:
			dropped++
			continue
		}
		if !finite(v) {
			dropped++
			continue
		}
		emit(dp.Attributes(), dp.Timestamp(), map[string]any{"value": v})
	}
	return dropped
}

func attributeTags(maps ...pcommon.Map) map[string]string {
	tags := make(map[string]string)
	for _, m := range maps {
		m.Range(func(k string, v pcommon.Value) bool {
			tags[k] = v.AsString()
			return true
		})
	}
	return tags
}

func timestampMillis(ts pcommon.Timestamp) int64 {
	if ts == 0 {
		return 0
	}
	return ts.AsTime().UnixMilli()
}
