package storage

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrTransient marks failures worth retrying: transport errors, timeouts,
// throttling and server errors.
var ErrTransient = errors.New("transient storage error")

// WriteError describes a failed bulk write.
type WriteError struct {
	Status    int
	Failed    int
	Reason    string
	Transient bool
}

func (e *WriteError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s write failure (status %d, %d failed items): %s", kind, e.Status, e.Failed, e.Reason)
}

func (e *WriteError) Unwrap() error {
	if e.Transient {
		return ErrTransient
	}
	return nil
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

func transientStatus(status int) bool {
	return status == http.StatusTooManyRequests ||
		status == http.StatusRequestTimeout ||
		status >= http.StatusInternalServerError
}
