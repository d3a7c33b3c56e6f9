package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cespare/xxhash/v2"

	"github.com/telhawk-systems/telhawk-metrics/common/logging"
	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/metrics"
	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/models"
)

// linearBackOff waits step × attempt between retries.
type linearBackOff struct {
	step    time.Duration
	attempt int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return b.step * time.Duration(b.attempt)
}

func (b *linearBackOff) Reset() {
	b.attempt = 0
}

// Write indexes points with one bulk request, retrying transient failures
// up to MaxRetries times with linear backoff. Permanent failures return
// immediately. Documents carry deterministic ids, so a retried bulk
// overwrites what an earlier partial attempt already stored.
func (c *Client) Write(ctx context.Context, points []models.NormalizedPoint) error {
	if len(points) == 0 {
		return nil
	}

	body, err := c.bulkBody(points)
	if err != nil {
		return fmt.Errorf("encode bulk body: %w", err)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(&linearBackOff{step: c.cfg.RetryBackoff}, uint64(max(c.cfg.MaxRetries, 0))),
		ctx,
	)

	op := func() error {
		err := c.bulk(ctx, body)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		metrics.WriteErrors.WithLabelValues("transient").Inc()
		c.logger.Warn("transient write failure, retrying",
			logging.PointCount(len(points)),
			"wait", wait.String(),
			logging.Error(err))
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		if !IsTransient(err) {
			metrics.WriteErrors.WithLabelValues("permanent").Inc()
		}
		return err
	}
	return nil
}

func (c *Client) bulkBody(points []models.NormalizedPoint) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, p := range points {
		meta := map[string]any{
			"index": map[string]any{
				"_index": c.IndexName(p.TimestampMillis),
				"_id":    DocumentID(p),
			},
		}
		if err := enc.Encode(meta); err != nil {
			return nil, err
		}
		if err := enc.Encode(p); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

type bulkResponse struct {
	Errors bool                                `json:"errors"`
	Items  []map[string]bulkResponseItemResult `json:"items"`
}

type bulkResponseItemResult struct {
	Status int `json:"status"`
	Error  *struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error,omitempty"`
}

func (c *Client) bulk(ctx context.Context, body []byte) error {
	res, err := c.os.Bulk(bytes.NewReader(body), c.os.Bulk.WithContext(ctx))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return &WriteError{Reason: err.Error(), Transient: true}
	}
	defer res.Body.Close()

	if res.IsError() {
		b, _ := io.ReadAll(res.Body)
		return &WriteError{
			Status:    res.StatusCode,
			Reason:    string(b),
			Transient: transientStatus(res.StatusCode),
		}
	}

	var parsed bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return &WriteError{Status: res.StatusCode, Reason: "decode bulk response: " + err.Error(), Transient: true}
	}
	if !parsed.Errors {
		return nil
	}

	var (
		transient, permanent int
		reason               string
		rejectedTypes        = make(map[string]int)
	)
	for _, item := range parsed.Items {
		for _, result := range item {
			if result.Status < 300 {
				continue
			}
			if transientStatus(result.Status) {
				transient++
				continue
			}
			permanent++
			errType := "unknown"
			if result.Error != nil {
				errType = result.Error.Type
				if reason == "" {
					reason = result.Error.Type + ": " + result.Error.Reason
				}
			}
			rejectedTypes[errType]++
		}
	}

	if transient > 0 {
		return &WriteError{Status: res.StatusCode, Failed: transient + permanent, Reason: reason, Transient: true}
	}
	if permanent > 0 {
		// Rejected documents (mapping conflicts and the like) can never
		// succeed. The rest of the batch is stored; these points are lost.
		metrics.WriteErrors.WithLabelValues("rejected").Add(float64(permanent))
		for errType, n := range rejectedTypes {
			metrics.PointsStoreRejected.WithLabelValues(errType).Add(float64(n))
		}
		c.logger.Error("points rejected by store and discarded",
			"rejected", permanent,
			"stored", len(parsed.Items)-permanent,
			"reason", reason)
	}
	return nil
}

// DocumentID derives a stable id from measurement, tags and timestamp.
func DocumentID(p models.NormalizedPoint) string {
	keys := make([]string, 0, len(p.Tags))
	for k := range p.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	d := xxhash.New()
	_, _ = d.WriteString(p.Measurement)
	for _, k := range keys {
		_, _ = d.WriteString("\x00")
		_, _ = d.WriteString(k)
		_, _ = d.WriteString("=")
		_, _ = d.WriteString(p.Tags[k])
	}
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(strconv.FormatInt(p.TimestampMillis, 10))
	return strconv.FormatUint(d.Sum64(), 16)
}
