package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrTransport, "connection refused").
		WithCause(root).
		WithHTTPStatus(502).
		WithDetail("endpoint", "http://localhost:8765")

	if GetErrorCode(err) != ErrTransport {
		t.Fatalf("expected code %s, got %s", ErrTransport, GetErrorCode(err))
	}
	if !IsRetryable(err) {
		t.Fatalf("expected retryable")
	}
	if !errors.Is(err, root) {
		t.Fatalf("expected errors.Is unwrap to root")
	}
	if got := err.Error(); got == "" {
		t.Fatalf("expected non-empty error string")
	}
	assert.Equal(t, "http://localhost:8765", err.Details["endpoint"])
}

func TestError_WrappedLookup(t *testing.T) {
	t.Parallel()

	inner := NewError(ErrTaskNotFound, "task t-1 not found")
	wrapped := fmt.Errorf("assign: %w", inner)

	assert.True(t, IsCode(wrapped, ErrTaskNotFound))
	assert.False(t, IsCode(wrapped, ErrAgentNotFound))
	assert.False(t, IsCode(nil, ErrTaskNotFound))
	assert.Equal(t, ErrorCode(""), GetErrorCode(errors.New("plain")))
}

func TestDefaultRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code      ErrorCode
		retryable bool
	}{
		{ErrTimeout, true},
		{ErrInternalError, true},
		{ErrTransport, true},
		{ErrRateLimited, true},
		{ErrInvalidMessageFormat, false},
		{ErrUnsupportedMessageType, false},
		{ErrInvalidTaskType, false},
		{ErrCapabilityMismatch, false},
		{ErrProtocolViolation, false},
		{ErrIllegalTransition, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.retryable, DefaultRetryable(tt.code))
			assert.Equal(t, tt.retryable, NewError(tt.code, "x").Retryable)
		})
	}
}

func TestHTTPStatusFor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, http.StatusBadRequest, HTTPStatusFor(ErrInvalidMessageFormat))
	assert.Equal(t, http.StatusBadRequest, HTTPStatusFor(ErrPayloadValidationFailed))
	assert.Equal(t, http.StatusNotFound, HTTPStatusFor(ErrAgentNotFound))
	assert.Equal(t, http.StatusNotFound, HTTPStatusFor(ErrTaskNotFound))
	assert.Equal(t, http.StatusTooManyRequests, HTTPStatusFor(ErrRateLimited))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatusFor(ErrInternalError))
	assert.Equal(t, http.StatusConflict, HTTPStatusFor(ErrIllegalTransition))
	assert.Equal(t, http.StatusConflict, HTTPStatusFor(ErrProtocolViolation))
}

func TestErrorCode_IsValid(t *testing.T) {
	t.Parallel()

	assert.True(t, ErrCapabilityMismatch.IsValid())
	assert.False(t, ErrorCode("SOMETHING_ELSE").IsValid())
}

func TestTaskState(t *testing.T) {
	t.Parallel()

	assert.Len(t, AllTaskStates(), 6)
	for _, s := range AllTaskStates() {
		assert.True(t, s.IsValid())
	}
	assert.False(t, TaskState("paused").IsValid())
	assert.True(t, TaskStateCompleted.IsTerminal())
	assert.True(t, TaskStateCancelled.IsTerminal())
	assert.False(t, TaskStateInProgress.IsTerminal())
	assert.True(t, TaskStateAssigned.IsActive())
	assert.False(t, TaskStateCreated.IsActive())
}

func TestPriority(t *testing.T) {
	t.Parallel()

	assert.Equal(t, PriorityMedium, Priority("").OrDefault())
	assert.Equal(t, PriorityUrgent, PriorityUrgent.OrDefault())
	assert.False(t, Priority("critical").IsValid())
}
