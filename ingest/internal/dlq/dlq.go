// Package dlq shelves bus messages whose handlers kept failing.
package dlq

import (
	"context"
	"encoding/json"
	"time"
)

// FailedMessage is a dead-lettered bus message.
type FailedMessage struct {
	Timestamp time.Time       `json:"timestamp"`
	Topic     string          `json:"topic"`
	Reason    string          `json:"reason"`
	Error     string          `json:"error"`
	Attempts  int             `json:"attempts"`
	Data      json.RawMessage `json:"data,omitempty"`
	// Raw holds payloads that are not valid JSON.
	Raw []byte `json:"raw,omitempty"`
}

// NewFailedMessage builds a dead-letter entry for data that failed on topic.
func NewFailedMessage(topic string, data []byte, err error, reason string, attempts int) FailedMessage {
	fm := FailedMessage{
		Timestamp: time.Now().UTC(),
		Topic:     topic,
		Reason:    reason,
		Attempts:  attempts,
	}
	if err != nil {
		fm.Error = err.Error()
	}
	if json.Valid(data) {
		fm.Data = json.RawMessage(data)
	} else {
		fm.Raw = data
	}
	return fm
}

// Writer stores failed messages.
type Writer interface {
	Write(ctx context.Context, msg FailedMessage) error
}

// Stats describes the dead-letter backlog.
type Stats struct {
	Enabled       bool   `json:"enabled"`
	Backend       string `json:"backend"`
	WrittenLocal  uint64 `json:"writtenLocal"`
	TotalMessages uint64 `json:"totalMessages"`
	TotalBytes    uint64 `json:"totalBytes"`
	FirstSeq      uint64 `json:"firstSeq,omitempty"`
	LastSeq       uint64 `json:"lastSeq,omitempty"`
	Error         string `json:"error,omitempty"`
}
