package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFetchError_Retryable(t *testing.T) {
	tests := []struct {
		name string
		err  *FetchError
		want bool
	}{
		{"too many requests", &FetchError{StatusCode: 429}, true},
		{"server error", &FetchError{StatusCode: 503}, true},
		{"not found", &FetchError{StatusCode: 404}, false},
		{"forbidden", &FetchError{StatusCode: 403, Err: errors.New("blocked")}, false},
		{"no cause", &FetchError{Reason: "empty result"}, false},
		{"canceled", &FetchError{Err: context.Canceled}, false},
		{"deadline", &FetchError{Err: fmt.Errorf("do request: %w", context.DeadlineExceeded)}, true},
		{"network", &FetchError{Err: &net.OpError{Op: "dial", Err: errors.New("connection refused")}}, true},
		{"decode", &FetchError{Err: errors.New("invalid character")}, false},
		{
			"aggregate with retryable part",
			&FetchError{Err: errors.Join(&FetchError{StatusCode: 404}, &FetchError{StatusCode: 502})},
			true,
		},
		{
			"aggregate of permanent parts",
			&FetchError{Err: errors.Join(&FetchError{StatusCode: 404}, &FetchError{Reason: "no counters"})},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Retryable())
		})
	}
}

func TestTypedErrors_Unwrap(t *testing.T) {
	assert.ErrorIs(t, fmt.Errorf("add: %w", &DuplicateError{ID: 1}), ErrDuplicate)
	assert.ErrorIs(t, &NotFoundError{ID: 1}, ErrNotFound)
	assert.ErrorIs(t, &ResolutionError{Input: "x", Reason: "no digits"}, ErrResolution)

	var dup *DuplicateError
	assert.True(t, errors.As(fmt.Errorf("wrap: %w", &DuplicateError{ID: 42}), &dup))
	assert.Equal(t, int64(42), dup.ID)
}

func TestFetchError_Message(t *testing.T) {
	err := &FetchError{ContentID: 7, Strategy: "api-v2.10", StatusCode: 503}
	assert.Equal(t, "fetch content 7 via api-v2.10: status 503", err.Error())
}
