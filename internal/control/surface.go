// Package control defines the capability surface a capture device exposes to
// the session: capability query, format and frame-rate negotiation, the
// memory-mapped buffer queue, stream control and the vendor trigger controls.
//
// The root package re-exports these types by alias so callers never import
// this package directly. internal/v4l2 implements the surface with ioctls;
// internal/sim implements it in memory for tests.
package control

import (
	"errors"
	"time"
)

var (
	// ErrWouldBlock is returned by DequeueBuffer when no filled buffer is
	// available on a non-blocking device. It is transient.
	ErrWouldBlock = errors.New("resource temporarily unavailable")

	// ErrNotSupported marks a request the device rejects as invalid for its
	// type (EINVAL on V4L2 capability and buffer requests).
	ErrNotSupported = errors.New("operation not supported by device")

	// ErrTriggerModeDisabled is returned when trigger source or activation is
	// changed while trigger mode is off.
	ErrTriggerModeDisabled = errors.New("trigger mode is disabled")
)

// Surface is the set of operations a capture device supports.
//
// Implementations are not safe for concurrent use; the session drives a
// surface from a single goroutine.
type Surface interface {
	QueryCapabilities() (Capabilities, error)

	GetFormat() (Format, error)
	// SetFormat requests f and returns what the device accepted.
	SetFormat(f Format) (Format, error)

	GetFrameRate() (FrameRate, error)
	// SetFrameRate requests a time-per-frame and returns what the device accepted.
	SetFrameRate(r FrameRate) (FrameRate, error)

	// RequestBuffers asks for count memory-mapped buffers and returns the
	// number granted. A count of zero releases all buffers.
	RequestBuffers(count int) (int, error)
	QueryBuffer(index int) (BufferInfo, error)
	MapBuffer(info BufferInfo) ([]byte, error)
	UnmapBuffer(mem []byte) error
	QueueBuffer(index int) error
	// DequeueBuffer returns ErrWouldBlock when nothing is ready.
	DequeueBuffer() (Dequeued, error)
	// WaitReadable suspends until a buffer can be dequeued or timeout
	// elapses. It reports whether the device became readable.
	WaitReadable(timeout time.Duration) (bool, error)

	StreamOn() error
	StreamOff() error

	SetTriggerMode(enabled bool) error
	GetTriggerSource() (TriggerSource, error)
	SetTriggerSource(src TriggerSource) error
	GetTriggerActivation() (TriggerActivation, error)
	SetTriggerActivation(act TriggerActivation) error
	FireSoftwareTrigger() error

	Close() error
}

// Opener opens a Surface for a device path.
type Opener interface {
	Open(path string) (Surface, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(path string) (Surface, error)

// Open calls f(path).
func (f OpenerFunc) Open(path string) (Surface, error) {
	return f(path)
}

// Dequeued describes a buffer returned by DequeueBuffer.
type Dequeued struct {
	Index     int
	BytesUsed int
	Sequence  uint32
	Timestamp time.Time
}

// BufferInfo is the mapping information of one device buffer.
type BufferInfo struct {
	Index  int
	Offset uint32
	Length uint32
}
