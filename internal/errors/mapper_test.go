package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapError_Taxonomy(t *testing.T) {
	m := NewDefaultErrorMapper()

	cases := []struct {
		name     string
		err      error
		category error
	}{
		{"not found", errors.New("resource does not exist"), ErrNotFound},
		{"rate limit", errors.New("429 too many requests"), ErrTransient},
		{"unauthorized", errors.New("401 unauthorized"), ErrTerminal},
		{"timeout", errors.New("request timeout after 10s"), ErrTransient},
		{"network", errors.New("connection refused"), ErrTransient},
		{"conflict", errors.New("row already exists"), ErrConflict},
		{"unknown", errors.New("something odd"), ErrInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, m.MapError(tc.err), tc.category)
		})
	}
}

func TestMapError_ContextErrors(t *testing.T) {
	m := NewDefaultErrorMapper()

	assert.Equal(t, context.Canceled, m.MapError(context.Canceled))
	assert.ErrorIs(t, m.MapError(context.DeadlineExceeded), ErrTransient)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(Transient("upstream 503")))
	assert.True(t, IsRetryable(fmt.Errorf("wrapped: %w", ErrConflict)))
	assert.False(t, IsRetryable(Terminal("bad request")))
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(nil))
}

func TestWrapWithCategory(t *testing.T) {
	cause := errors.New("disk full")
	err := WrapWithCategory(cause, "append message", ErrPersistence)

	assert.True(t, IsCategory(err, ErrPersistence))
	assert.Contains(t, err.Error(), "append message")
	assert.Contains(t, err.Error(), "disk full")
	assert.Nil(t, WrapWithCategory(nil, "noop", ErrPersistence))
}

func TestCategory(t *testing.T) {
	m := NewDefaultErrorMapper()

	assert.Equal(t, "ErrBudgetExceeded", m.Category(fmt.Errorf("stop: %w", ErrBudgetExceeded)))
	assert.Equal(t, "ErrReviewRejected", m.Category(fmt.Errorf("stop: %w", ErrReviewRejected)))
	assert.Equal(t, "Unknown", m.Category(errors.New("mystery")))
	assert.Equal(t, "", m.Category(nil))
}
