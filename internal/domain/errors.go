package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	ErrResolution   = errors.New("cannot resolve content id")
	ErrDuplicate    = errors.New("article already tracked")
	ErrNotFound     = errors.New("article not found")
	ErrInvalidInput = errors.New("invalid input")
)

type ResolutionError struct {
	Input  string
	Reason string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %q: %s", e.Input, e.Reason)
}

func (e *ResolutionError) Unwrap() error { return ErrResolution }

type DuplicateError struct {
	ID int64
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("article %d already tracked", e.ID)
}

func (e *DuplicateError) Unwrap() error { return ErrDuplicate }

type NotFoundError struct {
	ID int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("article %d not found", e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// FetchError describes a failed attempt to read metrics for a content ID.
type FetchError struct {
	ContentID  int64
	Strategy   string
	StatusCode int
	Reason     string
	Err        error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch content %d", e.ContentID)
	if e.Strategy != "" {
		msg += " via " + e.Strategy
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable reports whether repeating the request may succeed. Network
// failures, timeouts, 429 and 5xx responses qualify. An aggregate error is
// retryable when any of its parts is.
func (e *FetchError) Retryable() bool {
	if e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500 {
		return true
	}
	if joined, ok := e.Err.(interface{ Unwrap() []error }); ok {
		for _, inner := range joined.Unwrap() {
			var fe *FetchError
			if errors.As(inner, &fe) && fe.Retryable() {
				return true
			}
		}
		return false
	}
	if e.StatusCode != 0 || e.Err == nil {
		return false
	}
	if errors.Is(e.Err, context.Canceled) {
		return false
	}
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr)
}
