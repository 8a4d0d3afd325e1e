package triggercapture

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Message(t *testing.T) {
	err := bufferError("map buffer", ErrMapFailed, errors.New("buffer 2: ENOMEM"))
	assert.Equal(t, "trigger-capture: map buffer: buffer mapping failed: buffer 2: ENOMEM", err.Error())

	bare := deviceError("close", ErrAlreadyClosed, nil)
	assert.Equal(t, "trigger-capture: close: device already closed", bare.Error())
}

func TestError_Classification(t *testing.T) {
	cause := errors.New("EIO")
	tests := []struct {
		err   error
		class ErrorClass
		fatal bool
	}{
		{deviceError("open", ErrCannotOpen, cause), ClassDevice, true},
		{configError("set frame rate", ErrFrameRateRejected, cause), ClassConfig, false},
		{bufferError("queue buffer", ErrQueueFailed, cause), ClassBuffer, true},
		{triggerError("set trigger source", ErrTriggerModeDisabled, nil), ClassTrigger, true},
	}

	for _, tt := range tests {
		t.Run(tt.class.String(), func(t *testing.T) {
			wrapped := fmt.Errorf("capture: %w", tt.err)

			class, ok := ClassOf(wrapped)
			assert.True(t, ok)
			assert.Equal(t, tt.class, class)
			assert.Equal(t, tt.fatal, IsFatal(wrapped))
		})
	}
}

func TestError_MatchesKindAndCause(t *testing.T) {
	cause := errors.New("device busy")
	err := triggerError("set trigger mode", ErrTriggerControl, cause)

	assert.ErrorIs(t, err, ErrTriggerControl)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrTriggerModeDisabled)

	var e *Error
	assert.ErrorAs(t, err, &e)
	assert.Equal(t, "set trigger mode", e.Op)
}

func TestIsFatal_Unclassified(t *testing.T) {
	assert.False(t, IsFatal(nil))
	assert.True(t, IsFatal(errors.New("something else")))

	_, ok := ClassOf(errors.New("something else"))
	assert.False(t, ok)
}

func TestErrorClass_String(t *testing.T) {
	assert.Equal(t, "device", ClassDevice.String())
	assert.Equal(t, "config", ClassConfig.String())
	assert.Equal(t, "buffer", ClassBuffer.String())
	assert.Equal(t, "trigger", ClassTrigger.String())
	assert.Equal(t, "unknown", ErrorClass(42).String())
}
