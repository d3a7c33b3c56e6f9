package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/models"
)

const (
	defaultQueryLimit = 1000
	maxQueryLimit     = 10000
)

// Query returns a tenant's points matching params, oldest first.
func (c *Client) Query(ctx context.Context, params models.QueryParams) ([]models.NormalizedPoint, error) {
	if params.TenantID == "" {
		return nil, fmt.Errorf("query: tenant id is required")
	}

	limit := params.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	limit = min(limit, maxQueryLimit)

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(buildQuery(params, limit)); err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.QueryTimeout)
	defer cancel()

	res, err := c.os.Search(
		c.os.Search.WithContext(ctx),
		c.os.Search.WithIndex(c.cfg.IndexPrefix+"-*"),
		c.os.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("search error: %s", res.String())
	}

	var result struct {
		Hits struct {
			Hits []struct {
				Source models.NormalizedPoint `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	points := make([]models.NormalizedPoint, 0, len(result.Hits.Hits))
	for _, hit := range result.Hits.Hits {
		points = append(points, hit.Source)
	}
	return points, nil
}

func buildQuery(params models.QueryParams, limit int) map[string]any {
	filters := []any{
		term("tags."+models.TagTenantID, params.TenantID),
	}
	if params.Measurement != "" {
		filters = append(filters, term("measurement", params.Measurement))
	}
	for k, v := range params.Tags {
		if k == models.TagTenantID {
			continue
		}
		filters = append(filters, term("tags."+k, v))
	}
	if params.From > 0 || params.To > 0 {
		r := map[string]any{}
		if params.From > 0 {
			r["gte"] = params.From
		}
		if params.To > 0 {
			r["lte"] = params.To
		}
		filters = append(filters, map[string]any{"range": map[string]any{"timestampMillis": r}})
	}

	return map[string]any{
		"size": limit,
		"sort": []any{map[string]any{"timestampMillis": "asc"}},
		"query": map[string]any{
			"bool": map[string]any{"filter": filters},
		},
	}
}

func term(field, value string) map[string]any {
	return map[string]any{"term": map[string]any{field: value}}
}
