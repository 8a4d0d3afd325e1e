package control

import (
	"fmt"
	"strings"
)

// TriggerSource selects what fires the camera.
type TriggerSource int

const (
	// SourceSoftware fires on FireSoftwareTrigger
	SourceSoftware TriggerSource = iota
	// SourceLine0 fires on hardware input line 0
	SourceLine0
	// SourceLine1 fires on hardware input line 1
	SourceLine1
)

// String returns the flag spelling of the source.
func (s TriggerSource) String() string {
	switch s {
	case SourceSoftware:
		return "software"
	case SourceLine0:
		return "line0"
	case SourceLine1:
		return "line1"
	default:
		return fmt.Sprintf("source(%d)", int(s))
	}
}

// Valid reports whether s is a known source.
func (s TriggerSource) Valid() bool {
	return s >= SourceSoftware && s <= SourceLine1
}

// ParseTriggerSource parses "software", "line0" or "line1".
func ParseTriggerSource(s string) (TriggerSource, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "software", "sw":
		return SourceSoftware, nil
	case "line0":
		return SourceLine0, nil
	case "line1":
		return SourceLine1, nil
	}
	return 0, fmt.Errorf("unknown trigger source %q (want software, line0 or line1)", s)
}

// TriggerActivation selects which signal condition fires the camera.
type TriggerActivation int

const (
	ActivationRisingEdge TriggerActivation = iota
	ActivationFallingEdge
	ActivationAnyEdge
	ActivationLevelHigh
	ActivationLevelLow
)

// String returns the flag spelling of the activation.
func (a TriggerActivation) String() string {
	switch a {
	case ActivationRisingEdge:
		return "rising"
	case ActivationFallingEdge:
		return "falling"
	case ActivationAnyEdge:
		return "any"
	case ActivationLevelHigh:
		return "high"
	case ActivationLevelLow:
		return "low"
	default:
		return fmt.Sprintf("activation(%d)", int(a))
	}
}

// Valid reports whether a is a known activation.
func (a TriggerActivation) Valid() bool {
	return a >= ActivationRisingEdge && a <= ActivationLevelLow
}

// ParseTriggerActivation parses "rising", "falling", "any", "high" or "low".
func ParseTriggerActivation(s string) (TriggerActivation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rising":
		return ActivationRisingEdge, nil
	case "falling":
		return ActivationFallingEdge, nil
	case "any":
		return ActivationAnyEdge, nil
	case "high":
		return ActivationLevelHigh, nil
	case "low":
		return ActivationLevelLow, nil
	}
	return 0, fmt.Errorf("unknown trigger activation %q (want rising, falling, any, high or low)", s)
}

// FourCC is a V4L2 pixel format code.
type FourCC uint32

// PixelFormatXRGB32 is 'BX24', 32-bit XRGB 8-8-8-8.
const PixelFormatXRGB32 = FourCC('B' | 'X'<<8 | '2'<<16 | '4'<<24)

// NewFourCC builds a code from its four-character spelling.
func NewFourCC(s string) (FourCC, error) {
	if len(s) != 4 {
		return 0, fmt.Errorf("fourcc %q must be exactly 4 characters", s)
	}
	return FourCC(uint32(s[0]) | uint32(s[1])<<8 | uint32(s[2])<<16 | uint32(s[3])<<24), nil
}

// String returns the four-character spelling.
func (f FourCC) String() string {
	b := []byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)}
	return string(b)
}

// Field is the V4L2 field order.
type Field uint32

const (
	// FieldAny lets the driver choose
	FieldAny Field = 0
	// FieldNone is progressive
	FieldNone Field = 1
)

// Format is the negotiated single-planar capture format.
type Format struct {
	Width        uint32
	Height       uint32
	PixelFormat  FourCC
	Field        Field
	BytesPerLine uint32
	SizeImage    uint32
}

// String formats as "WxH FOURCC".
func (f Format) String() string {
	return fmt.Sprintf("%dx%d %s", f.Width, f.Height, f.PixelFormat)
}

// FrameRate is a time-per-frame fraction in seconds, as V4L2 reports it.
// 1000/5000 is 0.2s per frame, 5 fps.
type FrameRate struct {
	Numerator   uint32
	Denominator uint32
}

// FPS returns frames per second, or 0 when the numerator is zero.
func (r FrameRate) FPS() float64 {
	if r.Numerator == 0 {
		return 0
	}
	return float64(r.Denominator) / float64(r.Numerator)
}

const (
	// CapVideoCapture is V4L2_CAP_VIDEO_CAPTURE
	CapVideoCapture uint32 = 0x00000001
	// CapStreaming is V4L2_CAP_STREAMING
	CapStreaming uint32 = 0x04000000
)

// Capabilities is the result of a capability query.
type Capabilities struct {
	Driver  string
	Card    string
	BusInfo string
	Version uint32
	// Flags holds the device capability bits.
	Flags uint32
}

// CanCapture reports video capture support.
func (c Capabilities) CanCapture() bool {
	return c.Flags&CapVideoCapture != 0
}

// CanStream reports streaming I/O support.
func (c Capabilities) CanStream() bool {
	return c.Flags&CapStreaming != 0
}
