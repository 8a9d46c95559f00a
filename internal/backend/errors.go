package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies how a backend call failed.
type ErrorKind string

const (
	// KindTimeout: the request exceeded the client timeout.
	KindTimeout ErrorKind = "timeout"

	// KindServer: the backend answered with a non-2xx status.
	KindServer ErrorKind = "server"

	// KindNetwork: the request went out but no response came back.
	KindNetwork ErrorKind = "network"

	// KindUnexpected covers everything else.
	KindUnexpected ErrorKind = "unexpected"
)

// APIError is returned by every Client method on failure.
type APIError struct {
	Kind    ErrorKind      `json:"kind"`
	Message string         `json:"message"`
	Status  int            `json:"status,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

func (e *APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s error (status %d): %s", e.Kind, e.Status, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Cause
}

// Detail returns the backend's "detail" field when it is a string.
func (e *APIError) Detail() string {
	if e.Details == nil {
		return ""
	}
	detail, _ := e.Details["detail"].(string)
	return detail
}

func IsKind(err error, kind ErrorKind) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == kind
}

func transportError(err error) *APIError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &APIError{Kind: KindTimeout, Message: "request timed out", Cause: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &APIError{Kind: KindTimeout, Message: "request timed out", Cause: err}
	}

	if errors.Is(err, context.Canceled) {
		return &APIError{Kind: KindUnexpected, Message: "request canceled", Cause: err}
	}

	return &APIError{Kind: KindNetwork, Message: "no response from backend", Cause: err}
}

func unexpectedError(message string, err error) *APIError {
	return &APIError{Kind: KindUnexpected, Message: message, Cause: err}
}
