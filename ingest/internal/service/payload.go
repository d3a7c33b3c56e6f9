package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/models"
)

// payload is one normalizer input built from request entries.
type payload struct {
	data    []byte
	entries int
}

// buildPayloads turns request entries into normalizer payloads. Text
// formats take JSON strings and join them into lines; JSON formats take
// objects and join them into an array. Datadog accepts both kinds and may
// yield two payloads. Entries of the wrong kind are counted as invalid.
func buildPayloads(format models.Format, entries []json.RawMessage) (out []payload, invalid int) {
	var (
		lines   []string
		objects []json.RawMessage
	)
	for _, e := range entries {
		e = bytes.TrimSpace(e)
		if len(e) == 0 {
			invalid++
			continue
		}
		switch e[0] {
		case '"':
			var s string
			if err := json.Unmarshal(e, &s); err != nil || strings.TrimSpace(s) == "" {
				invalid++
				continue
			}
			lines = append(lines, s)
		case '{':
			objects = append(objects, e)
		default:
			invalid++
		}
	}

	acceptsLines := format.IsText() || format == models.FormatDatadog
	acceptsObjects := !format.IsText()

	if len(lines) > 0 {
		if acceptsLines {
			out = append(out, payload{data: []byte(strings.Join(lines, "\n")), entries: len(lines)})
		} else {
			invalid += len(lines)
		}
	}
	if len(objects) > 0 {
		if acceptsObjects {
			var buf bytes.Buffer
			buf.WriteByte('[')
			for i, o := range objects {
				if i > 0 {
					buf.WriteByte(',')
				}
				buf.Write(o)
			}
			buf.WriteByte(']')
			out = append(out, payload{data: buf.Bytes(), entries: len(objects)})
		} else {
			invalid += len(objects)
		}
	}
	return out, invalid
}

// SplitBody converts a raw request body into request entries: lines for
// text formats and non-JSON Datadog bodies, array elements or the single
// object otherwise. A Datadog {"series":[...]} body yields its series.
// Exposition comment lines carry no samples and are not entries.
func SplitBody(format models.Format, body []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if format.IsText() || (format == models.FormatDatadog && trimmed[0] != '{' && trimmed[0] != '[') {
		var entries []json.RawMessage
		for _, line := range strings.Split(string(trimmed), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || (format == models.FormatPrometheus && line[0] == '#') {
				continue
			}
			b, err := json.Marshal(line)
			if err != nil {
				return nil, err
			}
			entries = append(entries, b)
		}
		return entries, nil
	}

	if trimmed[0] == '[' {
		var entries []json.RawMessage
		if err := json.Unmarshal(trimmed, &entries); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidBody, err)
		}
		return entries, nil
	}

	if format == models.FormatDatadog {
		var body struct {
			Series []json.RawMessage `json:"series"`
		}
		if err := json.Unmarshal(trimmed, &body); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidBody, err)
		}
		return body.Series, nil
	}

	if !json.Valid(trimmed) {
		return nil, ErrInvalidBody
	}
	return []json.RawMessage{trimmed}, nil
}
