package logic

import (
	"errors"
	"fmt"
)

var (
	ErrAuthFailure       = errors.New("signature verification failed")
	ErrKeyUnavailable    = errors.New("public key unavailable")
	ErrResolutionFailure = errors.New("actor resolution failed")
	ErrInvalidJSON       = errors.New("invalid JSON")
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrAlreadyExists     = errors.New("already exists")
)

// DeliveryError is returned when a remote inbox answers with a non-2xx status.
type DeliveryError struct {
	InboxUrl   string
	StatusCode int
	Body       string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery to %s failed with status %d: %s", e.InboxUrl, e.StatusCode, e.Body)
}

// Retryable tells whether a later attempt might succeed.
func (e *DeliveryError) Retryable() bool {
	if e.StatusCode == 408 || e.StatusCode == 429 {
		return true
	}
	return e.StatusCode >= 500
}
