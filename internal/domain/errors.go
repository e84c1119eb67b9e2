package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"taller/internal/models"
)

var (
	ErrEntryNotFound = errors.New("queue entry not found")
	ErrNoHandler     = errors.New("no handler registered for entity type")
	ErrUnsupportedOp = errors.New("operation not supported by handler")
	ErrOffline       = errors.New("offline")
	ErrStoreClosed   = errors.New("store is closed")
)

// RemoteError is a non-2xx answer from the remote API.
type RemoteError struct {
	Status  int
	Method  string
	URL     string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: http %d: %s", e.Method, e.URL, e.Status, e.Message)
	}
	return fmt.Sprintf("%s %s: http %d", e.Method, e.URL, e.Status)
}

// Temporary reports whether retrying the same request may succeed.
func (e *RemoteError) Temporary() bool {
	switch {
	case e.Status >= 500:
		return true
	case e.Status == http.StatusRequestTimeout, e.Status == http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as a validation/rejection failure that will not succeed on retry.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Classify maps an error returned while replaying an entry to its kind.
// Unknown errors are transient so they are retried instead of being lost.
func Classify(err error) models.ErrorKind {
	if err == nil {
		return models.ErrorKindNone
	}

	if errors.Is(err, ErrNoHandler) || errors.Is(err, ErrUnsupportedOp) {
		return models.ErrorKindConfiguration
	}

	var perm *permanentError
	if errors.As(err, &perm) {
		return models.ErrorKindPermanent
	}

	var remote *RemoteError
	if errors.As(err, &remote) {
		if remote.Temporary() {
			return models.ErrorKindTransient
		}
		return models.ErrorKindPermanent
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrOffline) {
		return models.ErrorKindTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return models.ErrorKindTransient
	}

	return models.ErrorKindTransient
}
