package triggercapture

import (
	"fmt"
	"time"
)

// AutoPreTriggers fires one fewer pre-trigger than the buffers granted.
const AutoPreTriggers = -1

const maxBufferCount = 32

// Config describes one capture session.
type Config struct {
	// DevicePath is the capture node, e.g. /dev/video0 (required)
	DevicePath string
	// Trigger is the requested trigger source and activation
	Trigger TriggerConfig
	// PixelFormat is requested during format negotiation
	PixelFormat FourCC
	// FrameRate is the requested time-per-frame; the device may decline
	FrameRate FrameRate
	// BufferCount is the number of buffers requested (1-32)
	BufferCount int

	// PreTriggers is the number of software triggers fired after stream-on
	// before the first frame is consumed. AutoPreTriggers means granted-1.
	PreTriggers int
	// PreTriggerInterval is the pause after each pre-trigger
	PreTriggerInterval time.Duration
	// StreamOnSettle is the pause between stream-on and pre-triggering
	StreamOnSettle time.Duration

	// PollInterval bounds each wait for a readable device while no frame is ready
	PollInterval time.Duration
	// MaxFrames ends the frame loop after that many frames; 0 is unlimited
	MaxFrames int

	// VerifyReopen enables the reopen pass after teardown
	VerifyReopen bool
	// ReopenSettle is the pause between teardown and reopening
	ReopenSettle time.Duration
	// ReopenHold is how long the reopened device stays open
	ReopenHold time.Duration
}

// DefaultConfig returns the settings of the field-tested capture program for
// devicePath: software trigger on the rising edge, XRGB32 at 5 fps, four
// buffers with N-1 pre-triggers two seconds apart.
func DefaultConfig(devicePath string) Config {
	return Config{
		DevicePath:         devicePath,
		Trigger:            DefaultTriggerConfig(),
		PixelFormat:        PixelFormatXRGB32,
		FrameRate:          FrameRate{Numerator: 1000, Denominator: 5000},
		BufferCount:        4,
		PreTriggers:        AutoPreTriggers,
		PreTriggerInterval: 2 * time.Second,
		StreamOnSettle:     2 * time.Second,
		PollInterval:       100 * time.Millisecond,
		VerifyReopen:       true,
		ReopenSettle:       time.Second,
		ReopenHold:         time.Second,
	}
}

// Validate fails fast on settings no device could satisfy.
func (c Config) Validate() error {
	if c.DevicePath == "" {
		return fmt.Errorf("trigger-capture: device path is required")
	}
	if !c.Trigger.Source.Valid() {
		return fmt.Errorf("trigger-capture: invalid trigger source %v", c.Trigger.Source)
	}
	if !c.Trigger.Activation.Valid() {
		return fmt.Errorf("trigger-capture: invalid trigger activation %v", c.Trigger.Activation)
	}
	if c.PixelFormat == 0 {
		return fmt.Errorf("trigger-capture: pixel format is required")
	}
	if c.FrameRate.Numerator == 0 || c.FrameRate.Denominator == 0 {
		return fmt.Errorf("trigger-capture: invalid frame rate %d/%d",
			c.FrameRate.Numerator, c.FrameRate.Denominator)
	}
	if c.BufferCount < 1 || c.BufferCount > maxBufferCount {
		return fmt.Errorf("trigger-capture: invalid buffer count %d (must be 1-%d)",
			c.BufferCount, maxBufferCount)
	}
	if c.PreTriggers < AutoPreTriggers {
		return fmt.Errorf("trigger-capture: invalid pre-trigger count %d", c.PreTriggers)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("trigger-capture: poll interval must be positive")
	}
	if c.MaxFrames < 0 {
		return fmt.Errorf("trigger-capture: invalid max frames %d", c.MaxFrames)
	}
	for name, d := range map[string]time.Duration{
		"pre-trigger interval": c.PreTriggerInterval,
		"stream-on settle":     c.StreamOnSettle,
		"reopen settle":        c.ReopenSettle,
		"reopen hold":          c.ReopenHold,
	} {
		if d < 0 {
			return fmt.Errorf("trigger-capture: %s must not be negative", name)
		}
	}
	return nil
}

// PreTriggerCount resolves PreTriggers against the number of buffers the
// device granted.
func (c Config) PreTriggerCount(granted int) int {
	if c.PreTriggers != AutoPreTriggers {
		return c.PreTriggers
	}
	if granted < 1 {
		return 0
	}
	return granted - 1
}
