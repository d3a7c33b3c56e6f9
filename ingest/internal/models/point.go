package models

import (
	"encoding/json"
	"slices"
)

// Format identifies a telemetry wire format.
type Format string

const (
	FormatPrometheus Format = "prometheus"
	FormatStatsd     Format = "statsd"
	FormatDatadog    Format = "datadog"
	FormatOTLP       Format = "otlp"
	FormatCustom     Format = "custom"
	FormatOfficial   Format = "official"
)

// AllFormats lists every format the normalizer understands.
var AllFormats = []Format{
	FormatPrometheus,
	FormatStatsd,
	FormatDatadog,
	FormatOTLP,
	FormatCustom,
	FormatOfficial,
}

// Valid reports whether f is a known format.
func (f Format) Valid() bool {
	return slices.Contains(AllFormats, f)
}

// IsText reports whether payloads of this format are newline-delimited text.
func (f Format) IsText() bool {
	return f == FormatPrometheus || f == FormatStatsd
}

// Reserved tag keys. They always come from the authenticated request and
// can never be supplied by payloads or caller tags.
const (
	TagTenantID = "tenantId"
	TagAPIKeyID = "apiKeyId"
)

// TenantMeta is the authenticated context attached to an inbound payload.
type TenantMeta struct {
	TenantID string            `json:"tenantId"`
	APIKeyID string            `json:"apiKeyId,omitempty"`
	Tags     map[string]string `json:"tags,omitempty"`
}

// RawPoint is an inbound payload before normalization. It is also the body
// of messages on metrics.raw.
type RawPoint struct {
	Source     string      `json:"source"`
	Format     Format      `json:"format"`
	Timestamp  int64       `json:"timestamp"` // ingestion time, epoch ms
	Payload    []byte      `json:"payload"`
	TenantMeta *TenantMeta `json:"tenantMeta,omitempty"`
}

// NormalizedPoint is the canonical point written to the time-series store.
type NormalizedPoint struct {
	Measurement     string            `json:"measurement"`
	Tags            map[string]string `json:"tags"`
	Fields          map[string]any    `json:"fields"`
	TimestampMillis int64             `json:"timestampMillis"`
}

// EstimatedSize approximates the stored size of p in bytes.
func (p NormalizedPoint) EstimatedSize() int {
	b, err := json.Marshal(p)
	if err != nil {
		return 0
	}
	return len(b)
}

// BatchCompletion is published on metrics.processed after a batch is written.
type BatchCompletion struct {
	BatchID         string `json:"batchId"`
	Count           int    `json:"count"`
	Format          Format `json:"format"`
	TimestampMillis int64  `json:"timestampMillis"`
}
