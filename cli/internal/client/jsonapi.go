package client

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// jsonAPIError represents a JSON:API error object.
type jsonAPIError struct {
	Status int    `json:"status"`
	Code   string `json:"code"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

type jsonAPIErrorResponse struct {
	Errors []jsonAPIError `json:"errors"`
}

// APIError is a non-2xx response from the ingest service.
type APIError struct {
	StatusCode int
	Code       string
	Detail     string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("request failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("request failed with status %d: %s: %s", e.StatusCode, e.Code, e.Detail)
}

// decodeError reads a JSON:API error document, falling back to the raw body.
func decodeError(status int, body io.Reader) error {
	data, _ := io.ReadAll(io.LimitReader(body, 64<<10))

	var resp jsonAPIErrorResponse
	if err := json.Unmarshal(data, &resp); err == nil && len(resp.Errors) > 0 {
		e := resp.Errors[0]
		return &APIError{StatusCode: status, Code: e.Code, Detail: e.Detail}
	}
	return &APIError{StatusCode: status, Detail: strings.TrimSpace(string(data))}
}
