package client

import (
	"errors"
	"fmt"
)

var (
	ErrUnavailable        = errors.New("server unavailable")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrNotFound           = errors.New("not found")
)

// APIError is a non-success status body returned by the server.
type APIError struct {
	StatusCode  int
	Kind        string
	Description string
}

func (e *APIError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Description)
	}
	return fmt.Sprintf("server returned %d %s: %s", e.StatusCode, e.Kind, e.Description)
}

// Unwrap lets callers match the well known statuses with errors.Is.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case 401:
		return ErrUnauthorized
	case 404:
		return ErrNotFound
	case 412:
		return ErrPreconditionFailed
	}
	return nil
}
