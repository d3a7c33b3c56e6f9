// Package storage writes normalized points to OpenSearch and reads them back.
package storage

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"

	"github.com/telhawk-systems/telhawk-metrics/common/logging"
)

// Config holds OpenSearch connection, index and retry settings.
type Config struct {
	URL             string
	Username        string
	Password        string
	TLSSkipVerify   bool
	IndexPrefix     string
	ShardCount      int
	ReplicaCount    int
	RefreshInterval string

	// MaxRetries bounds internal retries of transient write failures.
	MaxRetries int
	// RetryBackoff is the linear retry step (step × attempt).
	RetryBackoff time.Duration
	// QueryTimeout bounds each Query call.
	QueryTimeout time.Duration
}

// DefaultConfig returns sensible defaults for a local cluster.
func DefaultConfig() Config {
	return Config{
		URL:             "https://localhost:9200",
		Username:        "admin",
		Password:        "admin",
		TLSSkipVerify:   true,
		IndexPrefix:     "telhawk-metrics",
		ShardCount:      1,
		ReplicaCount:    0,
		RefreshInterval: "5s",
		MaxRetries:      3,
		RetryBackoff:    time.Second,
		QueryTimeout:    10 * time.Second,
	}
}

// Client is the time-series store backed by daily OpenSearch indices.
type Client struct {
	os     *opensearch.Client
	cfg    Config
	logger *logging.Logger
}

// NewClient creates a client. It does not contact the cluster; call
// Initialize for that.
func NewClient(cfg Config, logger *logging.Logger) (*Client, error) {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.IndexPrefix == "" {
		cfg.IndexPrefix = DefaultConfig().IndexPrefix
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = DefaultConfig().QueryTimeout
	}

	osClient, err := opensearch.NewClient(opensearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: cfg.TLSSkipVerify,
			},
		},
		// Retries are driven by Write so attempts are counted in one place.
		DisableRetry: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create opensearch client: %w", err)
	}

	return &Client{
		os:     osClient,
		cfg:    cfg,
		logger: logger.With(logging.Service("storage")),
	}, nil
}

// Ping verifies the cluster answers.
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.os.Info(c.os.Info.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to connect to opensearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("opensearch returned error: %s", res.Status())
	}
	return nil
}

// Initialize verifies connectivity and installs the index template.
func (c *Client) Initialize(ctx context.Context) error {
	if err := c.Ping(ctx); err != nil {
		return err
	}
	if err := c.putIndexTemplate(ctx); err != nil {
		return fmt.Errorf("failed to create index template: %w", err)
	}
	c.logger.Info("opensearch initialized", "index_prefix", c.cfg.IndexPrefix)
	return nil
}

func (c *Client) putIndexTemplate(ctx context.Context) error {
	template := map[string]any{
		"index_patterns": []string{c.cfg.IndexPrefix + "-*"},
		"template": map[string]any{
			"settings": map[string]any{
				"number_of_shards":   c.cfg.ShardCount,
				"number_of_replicas": c.cfg.ReplicaCount,
				"refresh_interval":   c.cfg.RefreshInterval,
			},
			"mappings": pointMappings(),
		},
		"priority": 100,
	}

	body, err := json.Marshal(template)
	if err != nil {
		return err
	}

	res, err := c.os.Indices.PutIndexTemplate(
		c.cfg.IndexPrefix+"-template",
		bytes.NewReader(body),
		c.os.Indices.PutIndexTemplate.WithContext(ctx),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		b, _ := io.ReadAll(res.Body)
		return fmt.Errorf("%s - %s", res.Status(), string(b))
	}
	return nil
}

func pointMappings() map[string]any {
	return map[string]any{
		"dynamic": true,
		// A field name can carry numbers in one point and strings (statsd
		// sets) in another. Numeric fields skip values they cannot parse
		// instead of rejecting the document.
		"dynamic_templates": []any{
			map[string]any{
				"tags_as_keywords": map[string]any{
					"path_match":         "tags.*",
					"match_mapping_type": "string",
					"mapping":            map[string]any{"type": "keyword"},
				},
			},
			map[string]any{
				"string_fields_as_keywords": map[string]any{
					"path_match":         "fields.*",
					"match_mapping_type": "string",
					"mapping":            map[string]any{"type": "keyword", "ignore_above": 1024},
				},
			},
			map[string]any{
				"integer_fields_as_doubles": map[string]any{
					"path_match":         "fields.*",
					"match_mapping_type": "long",
					"mapping":            map[string]any{"type": "double", "ignore_malformed": true},
				},
			},
			map[string]any{
				"float_fields_as_doubles": map[string]any{
					"path_match":         "fields.*",
					"match_mapping_type": "double",
					"mapping":            map[string]any{"type": "double", "ignore_malformed": true},
				},
			},
		},
		"properties": map[string]any{
			"measurement":     map[string]any{"type": "keyword"},
			"timestampMillis": map[string]any{"type": "date", "format": "epoch_millis"},
			"tags":            map[string]any{"type": "object"},
			"fields":          map[string]any{"type": "object"},
		},
	}
}

// IndexName returns the daily index holding points at tsMillis.
func (c *Client) IndexName(tsMillis int64) string {
	return fmt.Sprintf("%s-%s", c.cfg.IndexPrefix, time.UnixMilli(tsMillis).UTC().Format("2006.01.02"))
}
