package triggercapture

import (
	"time"

	"github.com/e7canasta/trigger-capture/internal/control"
)

// Device-facing types, defined in internal/control and shared with the
// surface implementations.
type (
	Surface           = control.Surface
	Opener            = control.Opener
	OpenerFunc        = control.OpenerFunc
	Capabilities      = control.Capabilities
	Format            = control.Format
	FrameRate         = control.FrameRate
	FourCC            = control.FourCC
	TriggerSource     = control.TriggerSource
	TriggerActivation = control.TriggerActivation
)

const (
	SourceSoftware = control.SourceSoftware
	SourceLine0    = control.SourceLine0
	SourceLine1    = control.SourceLine1

	ActivationRisingEdge  = control.ActivationRisingEdge
	ActivationFallingEdge = control.ActivationFallingEdge
	ActivationAnyEdge     = control.ActivationAnyEdge
	ActivationLevelHigh   = control.ActivationLevelHigh
	ActivationLevelLow    = control.ActivationLevelLow

	PixelFormatXRGB32 = control.PixelFormatXRGB32
)

// ParseTriggerSource parses "software", "line0" or "line1".
func ParseTriggerSource(s string) (TriggerSource, error) {
	return control.ParseTriggerSource(s)
}

// ParseTriggerActivation parses "rising", "falling", "any", "high" or "low".
func ParseTriggerActivation(s string) (TriggerActivation, error) {
	return control.ParseTriggerActivation(s)
}

// NewFourCC builds a pixel format code from its spelling, e.g. "BX24".
func NewFourCC(s string) (FourCC, error) {
	return control.NewFourCC(s)
}

// Frame is one dequeued buffer handed to a FrameSink
type Frame struct {
	// Seq is the session-local sequence number, starting at 1
	Seq uint64
	// Index is the buffer index the frame lives in
	Index int
	// Timestamp is when the frame was dequeued
	Timestamp time.Time
	// Interval is the time since the previous frame (or since the loop started)
	Interval time.Duration
	// DeviceSequence and DeviceTimestamp are what the driver reported
	DeviceSequence  uint32
	DeviceTimestamp time.Time
	// Width, Height and PixelFormat describe the negotiated format
	Width       int
	Height      int
	PixelFormat FourCC
	// Data views the bytes used of the mapped buffer. It is only valid during the sink call
	// and must not be modified or retained.
	Data []byte
	// TraceID correlates the frame across sinks and events
	TraceID string
}

// SessionStats is a snapshot of session counters
type SessionStats struct {
	SessionID string
	State     State
	// Resolution is the negotiated format, e.g. "1280x720 BX24"
	Resolution string
	// FPSReported is the frame rate the device reported after negotiation
	FPSReported    float64
	BuffersGranted int

	FrameCount     uint64
	BytesDelivered uint64
	PreTriggers    uint64
	// SoftwareTriggers counts triggers fired by the frame loop
	SoftwareTriggers uint64
	DequeueRetries   uint64
	SinkErrors       uint64

	LastIntervalMS int64
	IntervalMeanMS float64
	IntervalP95MS  float64
	IntervalMaxMS  float64
}

// ReopenResult is the outcome of the post-teardown reopen verification.
type ReopenResult struct {
	Attempted bool
	Duration  time.Duration
	Err       error
}

// OK reports whether the reopen was attempted and succeeded.
func (r ReopenResult) OK() bool {
	return r.Attempted && r.Err == nil
}

// Report summarizes a finished Run.
type Report struct {
	SessionID string
	Stats     SessionStats
	Intervals IntervalSummary
	Reopen    ReopenResult
}
