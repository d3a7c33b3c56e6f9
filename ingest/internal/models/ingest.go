package models

import "encoding/json"

// IngestMode is the path a request was processed on.
type IngestMode string

const (
	ModeSync   IngestMode = "sync"
	ModeQueued IngestMode = "queued"
)

// IngestRequest is the JSON ingestion request. For text formats each entry
// of Points is a JSON string holding one line; for JSON formats each entry
// is a point object.
type IngestRequest struct {
	TenantAPIKey    string            `json:"tenantApiKey"`
	Format          Format            `json:"format"`
	Points          []json.RawMessage `json:"points"`
	ClientTimestamp *int64            `json:"clientTimestamp,omitempty"`
	Source          string            `json:"source,omitempty"`
	Tags            map[string]string `json:"tags,omitempty"`
}

// IngestResponse reports the admission outcome.
type IngestResponse struct {
	Accepted       int        `json:"accepted"`
	Rejected       int        `json:"rejected"`
	QuotaRemaining int64      `json:"quotaRemaining"`
	Mode           IngestMode `json:"mode"`
	Reason         string     `json:"reason,omitempty"`
}

// Tenant is a directory entry for an active tenant.
type Tenant struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Plan    string `json:"plan"`
	Schema  string `json:"schema"`
	Metered bool   `json:"metered"`
}

// KeyValidation is the result of resolving an API key.
type KeyValidation struct {
	Valid    bool   `json:"valid"`
	TenantID string `json:"tenantId"`
	Schema   string `json:"schema"`
	Plan     string `json:"plan"`
	APIKeyID string `json:"apiKeyId"`
	Metered  bool   `json:"metered"`
}

// QueryParams selects stored points for one tenant.
type QueryParams struct {
	TenantID    string            `json:"tenantId"`
	Measurement string            `json:"measurement,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
	From        int64             `json:"from,omitempty"` // epoch ms, inclusive
	To          int64             `json:"to,omitempty"`   // epoch ms, inclusive
	Limit       int               `json:"limit,omitempty"`
}
