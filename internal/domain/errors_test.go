package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainErrorFormat(t *testing.T) {
	err := NewDomainError("Hub.Enqueue", ErrInvalidAction, "action is required")
	want := "Hub.Enqueue: action is required: hub action: invalid input"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorFormatNoDetail(t *testing.T) {
	err := NewDomainError("Bus.Recv", ErrBusClosed, "")
	want := "Bus.Recv: broadcast bus: closed"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorUnwrap(t *testing.T) {
	err := NewDomainError("TaskStore.UpdateTaskStatus", ErrTaskNotFound, "T-9")
	assert.ErrorIs(t, err, ErrTaskNotFound)
	assert.ErrorIs(t, err, ErrNotFound)

	var de *DomainError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "TaskStore.UpdateTaskStatus", de.Op)
}

func TestWrapOp(t *testing.T) {
	assert.NoError(t, WrapOp("op", nil))

	err := WrapOp("get_context", ErrStoreUnavailable)
	assert.EqualError(t, err, "get_context: task store: unavailable")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestErrorCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"nil", nil, CodeUnknown},
		{"plain", fmt.Errorf("boom"), CodeUnknown},
		{"task not found", ErrTaskNotFound, CodeTaskNotFound},
		{"task status", NewDomainError("op", ErrInvalidTaskStatus, "blocked"), CodeTaskStatus},
		{"state", fmt.Errorf("wrap: %w", ErrInvalidState), CodeStateInvalid},
		{"satellite auth", ErrSatelliteAuth, CodeSatelliteAuth},
		{"action falls back to category", ErrInvalidAction, CodeInvalidInput},
		{"store", ErrStoreUnavailable, CodeUnavailable},
		{"bus", ErrBusClosed, CodeClosed},
		{"bare not found", ErrNotFound, CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorCodeOf(tt.err))
		})
	}
}

func TestRPCErrorFrom(t *testing.T) {
	invalid := RPCErrorFrom(NewDomainError("update_mission", ErrInvalidTaskStatus, "blocked"))
	assert.Equal(t, CodeInvalidParams, invalid.Code)
	assert.Contains(t, invalid.Message, "blocked")
	assert.Nil(t, invalid.Data)

	internal := RPCErrorFrom(WrapOp("get_context", ErrStoreUnavailable))
	assert.Equal(t, CodeInternalError, internal.Code)
	assert.Equal(t, map[string]string{"code": string(CodeUnavailable)}, internal.Data)
}
