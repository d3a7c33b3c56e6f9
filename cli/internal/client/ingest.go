package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// IngestRequest is the JSON body of POST /api/v1/ingest.
type IngestRequest struct {
	Format          string            `json:"format"`
	Points          []json.RawMessage `json:"points"`
	ClientTimestamp *int64            `json:"clientTimestamp,omitempty"`
	Source          string            `json:"source,omitempty"`
	Tags            map[string]string `json:"tags,omitempty"`
}

// IngestResponse reports how many points were admitted.
type IngestResponse struct {
	Accepted       int    `json:"accepted"`
	Rejected       int    `json:"rejected"`
	QuotaRemaining int64  `json:"quotaRemaining"`
	Mode           string `json:"mode"`
	Reason         string `json:"reason,omitempty"`
}

// QuotaSnapshot is one evaluated quota.
type QuotaSnapshot struct {
	QuotaType string  `json:"quotaType"`
	Usage     int64   `json:"usage"`
	Limit     int64   `json:"limit"`
	Ratio     float64 `json:"ratio"`
	State     string  `json:"state"`
}

// TenantStatus is the response of GET /api/v1/quota.
type TenantStatus struct {
	TenantID  string          `json:"tenantId"`
	Allowed   bool            `json:"allowed"`
	Reason    string          `json:"reason,omitempty"`
	Remaining int64           `json:"remaining"`
	Snapshots []QuotaSnapshot `json:"snapshots"`
}

// Point is a stored point returned by GET /api/v1/query.
type Point struct {
	Measurement     string            `json:"measurement"`
	Tags            map[string]string `json:"tags"`
	Fields          map[string]any    `json:"fields"`
	TimestampMillis int64             `json:"timestampMillis"`
}

// QueryParams selects stored points.
type QueryParams struct {
	Measurement string
	Tags        map[string]string
	From        int64
	To          int64
	Limit       int
}

type MetricsClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewMetricsClient(baseURL, apiKey string) *MetricsClient {
	return &MetricsClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Ingest sends a JSON ingestion request. A quota refusal (HTTP 429 with an
// IngestResponse body) is returned as a response, not an error.
func (c *MetricsClient) Ingest(ctx context.Context, req *IngestRequest) (*IngestResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return c.postIngest(ctx, "/api/v1/ingest", "application/json", body)
}

// IngestRaw sends a raw payload for one format, e.g. exposition text.
func (c *MetricsClient) IngestRaw(ctx context.Context, format string, payload []byte, source string) (*IngestResponse, error) {
	path := "/api/v1/ingest/" + url.PathEscape(format)
	if source != "" {
		path += "?source=" + url.QueryEscape(source)
	}
	return c.postIngest(ctx, path, "text/plain", payload)
}

func (c *MetricsClient) postIngest(ctx context.Context, path, contentType string, body []byte) (*IngestResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted:
	case resp.StatusCode == http.StatusTooManyRequests && isJSON(resp):
		// Quota refusals carry an IngestResponse; rate limits carry errors.
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		var out IngestResponse
		if err := json.Unmarshal(data, &out); err == nil && out.Reason != "" {
			return &out, nil
		}
		return nil, decodeError(resp.StatusCode, bytes.NewReader(data))
	default:
		return nil, decodeError(resp.StatusCode, resp.Body)
	}

	var out IngestResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

// Quota returns the quota status of the profile's tenant.
func (c *MetricsClient) Quota(ctx context.Context) (*TenantStatus, error) {
	var out TenantStatus
	if err := c.getJSON(ctx, "/api/v1/quota", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Query returns stored points of the profile's tenant.
func (c *MetricsClient) Query(ctx context.Context, params QueryParams) ([]Point, error) {
	q := url.Values{}
	if params.Measurement != "" {
		q.Set("measurement", params.Measurement)
	}
	if params.From > 0 {
		q.Set("from", strconv.FormatInt(params.From, 10))
	}
	if params.To > 0 {
		q.Set("to", strconv.FormatInt(params.To, 10))
	}
	if params.Limit > 0 {
		q.Set("limit", strconv.Itoa(params.Limit))
	}
	for k, v := range params.Tags {
		q.Set("tag."+k, v)
	}

	path := "/api/v1/query"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out struct {
		Points []Point `json:"points"`
	}
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Points, nil
}

func (c *MetricsClient) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp.StatusCode, resp.Body)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *MetricsClient) do(req *http.Request) (*http.Response, error) {
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("X-TelHawk-Source", "cli")
	return c.client.Do(req)
}

func isJSON(resp *http.Response) bool {
	return strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json")
}
