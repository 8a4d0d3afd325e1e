package triggercapture

import (
	"errors"

	"github.com/e7canasta/trigger-capture/internal/control"
)

// ErrorClass groups capture failures by the component that raised them.
type ErrorClass int

const (
	// ClassDevice covers open, capability, format and stream control failures
	ClassDevice ErrorClass = iota
	// ClassConfig covers best-effort settings the device declined
	ClassConfig
	// ClassBuffer covers buffer request, mapping and queue failures
	ClassBuffer
	// ClassTrigger covers trigger control failures
	ClassTrigger
)

// String returns a human-readable name of the class
func (c ErrorClass) String() string {
	switch c {
	case ClassDevice:
		return "device"
	case ClassConfig:
		return "config"
	case ClassBuffer:
		return "buffer"
	case ClassTrigger:
		return "trigger"
	default:
		return "unknown"
	}
}

// Error kinds, matchable with errors.Is.
var (
	ErrCannotOpen         = errors.New("cannot open device")
	ErrNotAVideoDevice    = errors.New("not a video capture device")
	ErrNoStreamingSupport = errors.New("device does not support streaming i/o")
	ErrFormatRejected     = errors.New("format negotiation failed")
	ErrAlreadyClosed      = errors.New("device already closed")
	ErrDeviceIO           = errors.New("device i/o failed")

	ErrFrameRateRejected    = errors.New("frame rate rejected")
	ErrFrameRateUnavailable = errors.New("frame rate unavailable")

	ErrMappingUnsupported = errors.New("device does not support memory mapping")
	ErrRequestFailed      = errors.New("buffer request failed")
	ErrMapFailed          = errors.New("buffer mapping failed")
	ErrUnmapFailed        = errors.New("buffer unmapping failed")
	ErrQueueFailed        = errors.New("buffer queue failed")
	ErrDequeueFailed      = errors.New("buffer dequeue failed")
	ErrInvalidTransition  = errors.New("illegal buffer state transition")
	ErrStillStreaming     = errors.New("buffers are still owned by a streaming device")

	ErrTriggerControl      = errors.New("trigger control failed")
	ErrTriggerModeDisabled = control.ErrTriggerModeDisabled

	// ErrWouldBlock is the transient no-frame-yet result of a dequeue.
	ErrWouldBlock = control.ErrWouldBlock

	// ErrInvalidState is returned when a session operation is called out of order.
	ErrInvalidState = errors.New("invalid session state")
)

// Error is a classified capture failure. Kind is one of the package error
// kinds; Err is the underlying device error, if any.
type Error struct {
	Class ErrorClass
	Op    string
	Kind  error
	Err   error
}

func (e *Error) Error() string {
	msg := "trigger-capture: " + e.Op + ": " + e.Kind.Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the underlying error to errors.Is/As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Fatal reports whether the failure must end the session. Only
// configuration the device declined is survivable.
func (e *Error) Fatal() bool {
	return e.Class != ClassConfig
}

// IsFatal reports whether err must end the session. Unclassified non-nil
// errors are fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Fatal()
	}
	return true
}

// ClassOf returns the class of the first classified error in err's chain.
func ClassOf(err error) (ErrorClass, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Class, true
	}
	return 0, false
}

func deviceError(op string, kind, err error) error {
	return &Error{Class: ClassDevice, Op: op, Kind: kind, Err: err}
}

func configError(op string, kind, err error) error {
	return &Error{Class: ClassConfig, Op: op, Kind: kind, Err: err}
}

func bufferError(op string, kind, err error) error {
	return &Error{Class: ClassBuffer, Op: op, Kind: kind, Err: err}
}

func triggerError(op string, kind, err error) error {
	return &Error{Class: ClassTrigger, Op: op, Kind: kind, Err: err}
}
