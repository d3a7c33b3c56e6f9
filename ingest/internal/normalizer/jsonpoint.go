package normalizer

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"

	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/models"
)

// JSONParser parses custom and official JSON points. A payload is one
// object or an array of objects. Recognised keys:
//
//	name | measurement          measurement
//	fields | values             field map
//	value                       shorthand for fields.value
//	tags                        string map
//	timestampMillis | timestamp | time    epoch ms
//
// Non-object array elements are dropped.
type JSONParser struct{}

func (JSONParser) Supports(format models.Format) bool {
	return format == models.FormatCustom || format == models.FormatOfficial
}

func (JSONParser) Parse(payload []byte, ingestedAt int64) ([]models.NormalizedPoint, int) {
	elems, ok := splitJSON(payload)
	if !ok {
		return nil, 1
	}

	var (
		points  []models.NormalizedPoint
		dropped int
	)
	for _, raw := range elems {
		p, ok := parseJSONPoint(raw, ingestedAt)
		if !ok {
			dropped++
			continue
		}
		points = append(points, p)
	}
	return points, dropped
}

// splitJSON returns the elements of a top-level array, or the payload
// itself when it is a single value.
func splitJSON(payload []byte) ([]json.RawMessage, bool) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, true
	}
	if trimmed[0] == '[' {
		var elems []json.RawMessage
		if err := json.Unmarshal(trimmed, &elems); err != nil {
			return nil, false
		}
		return elems, true
	}
	return []json.RawMessage{trimmed}, true
}

func parseJSONPoint(raw json.RawMessage, ingestedAt int64) (models.NormalizedPoint, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return models.NormalizedPoint{}, false
	}

	p := models.NormalizedPoint{
		Measurement: firstString(obj, "measurement", "name"),
		Tags:        make(map[string]string),
		Fields:      make(map[string]any),
	}

	if rawTags, ok := obj["tags"]; ok {
		var tags map[string]any
		if err := json.Unmarshal(rawTags, &tags); err == nil {
			for k, v := range tags {
				if s, ok := scalarString(v); ok {
					p.Tags[k] = s
				}
			}
		}
	}

	for _, key := range []string{"fields", "values"} {
		rawFields, ok := obj[key]
		if !ok {
			continue
		}
		var fields map[string]any
		if err := json.Unmarshal(rawFields, &fields); err != nil {
			continue
		}
		for k, v := range fields {
			if fv, ok := fieldValue(v); ok {
				p.Fields[k] = fv
			}
		}
		break
	}

	if rawValue, ok := obj["value"]; ok {
		var v any
		if err := json.Unmarshal(rawValue, &v); err == nil {
			if fv, ok := fieldValue(v); ok {
				p.Fields["value"] = fv
			}
		}
	}

	for _, key := range []string{"timestampMillis", "timestamp", "time"} {
		rawTS, ok := obj[key]
		if !ok {
			continue
		}
		var ts float64
		if err := json.Unmarshal(rawTS, &ts); err == nil && ts > 0 {
			p.TimestampMillis = int64(ts)
		}
		break
	}

	finalize(&p, ingestedAt)
	return p, true
}

func firstString(obj map[string]json.RawMessage, keys ...string) string {
	for _, k := range keys {
		raw, ok := obj[k]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			return s
		}
	}
	return ""
}

// fieldValue keeps numbers, strings and booleans. Nested values are dropped.
func fieldValue(v any) (any, bool) {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil, false
		}
		return t, true
	case string, bool:
		return t, true
	default:
		return nil, false
	}
}

func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}
