package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKinds(t *testing.T) {
	cause := errors.New("moov atom not found")

	tests := []struct {
		name string
		err  error
		kind error
	}{
		{"open", OpenFailure("/a.mp4", cause), ErrOpenFailure},
		{"transient", DecodeTransient(cause), ErrDecodeTransient},
		{"fatal", DecodeFatal("/a.mp4", cause), ErrDecodeFatal},
		{"worker", WorkerFailure("proxy", "c1", cause), ErrWorkerFailure},
		{"encoder", EncoderFailure(cause, "Invalid argument"), ErrEncoderFailure},
		{"invariant", Invariant("duration %d", -1), ErrInvariantViolation},
		{"not found", NotFound("clip", "x"), ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, Is(tt.err, tt.kind))
			assert.False(t, IsCancelled(tt.err))
			assert.NotEmpty(t, UserMessage(tt.err))
			assert.NotEmpty(t, Detail(tt.err))
		})
	}
}

func TestCauseIsReachable(t *testing.T) {
	err := OpenFailure("/a.mp4", context.DeadlineExceeded)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "/a.mp4")
}

func TestEncoderFailureCarriesStderr(t *testing.T) {
	err := EncoderFailure(errors.New("exit status 1"), "Unknown encoder 'libx265'")
	assert.Contains(t, err.Error(), "Unknown encoder")
	assert.Equal(t, "Export failed.", UserMessage(err))
}

func TestIsCancelled(t *testing.T) {
	assert.True(t, IsCancelled(Cancelled(nil)))
	assert.True(t, IsCancelled(Cancelled(context.Canceled)))
	assert.True(t, IsCancelled(fmt.Errorf("render: %w", context.Canceled)))
	assert.False(t, IsCancelled(nil))
	assert.False(t, IsCancelled(errors.New("boom")))
}

func TestUserMessageFallback(t *testing.T) {
	assert.Equal(t, "", UserMessage(nil))
	assert.Equal(t, "Something went wrong.", UserMessage(errors.New("plain")))
	assert.Equal(t, "duration -1 is not allowed", UserMessage(Invariant("duration %d is not allowed", -1)))
}
