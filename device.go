package triggercapture

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/e7canasta/trigger-capture/internal/control"
)

// DeviceHandle is an open capture device plus what was negotiated on it.
type DeviceHandle struct {
	path    string
	surface Surface
	log     *slog.Logger

	caps   Capabilities
	format Format
	rate   FrameRate
	closed bool
}

// OpenDevice opens path through opener. Failure is a DeviceError of kind
// ErrCannotOpen.
func OpenDevice(opener Opener, path string, logger *slog.Logger) (*DeviceHandle, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s, err := opener.Open(path)
	if err != nil {
		return nil, deviceError("open", ErrCannotOpen, fmt.Errorf("cannot open '%s': %w", path, err))
	}
	logger.Debug("trigger-capture: device opened", "path", path)
	return &DeviceHandle{path: path, surface: s, log: logger}, nil
}

// QueryCapabilities verifies the device can capture video through
// streaming I/O. Both are required before any buffer or trigger operation.
func (d *DeviceHandle) QueryCapabilities() (Capabilities, error) {
	caps, err := d.surface.QueryCapabilities()
	if err != nil {
		if errors.Is(err, control.ErrNotSupported) {
			return caps, deviceError("query capabilities", ErrNotAVideoDevice,
				fmt.Errorf("%s is no V4L2 device: %w", d.path, err))
		}
		return caps, deviceError("query capabilities", ErrDeviceIO, err)
	}
	if !caps.CanCapture() {
		return caps, deviceError("query capabilities", ErrNotAVideoDevice,
			fmt.Errorf("%s is no video capture device", d.path))
	}
	if !caps.CanStream() {
		return caps, deviceError("query capabilities", ErrNoStreamingSupport,
			fmt.Errorf("%s does not support streaming i/o", d.path))
	}
	d.caps = caps
	return caps, nil
}

// NegotiateFormat keeps the current size and asks for pixfmt with any field
// order. The device may adjust the request; what it reports afterwards is
// the format.
func (d *DeviceHandle) NegotiateFormat(pixfmt FourCC) (Format, error) {
	cur, err := d.surface.GetFormat()
	if err != nil {
		return Format{}, deviceError("get format", ErrFormatRejected, err)
	}

	want := cur
	want.PixelFormat = pixfmt
	want.Field = control.FieldAny
	if _, err := d.surface.SetFormat(want); err != nil {
		return Format{}, deviceError("set format", ErrFormatRejected, err)
	}

	got, err := d.surface.GetFormat()
	if err != nil {
		return Format{}, deviceError("get format", ErrFormatRejected, err)
	}
	if got.PixelFormat != want.PixelFormat || got.Width != want.Width || got.Height != want.Height {
		d.log.Debug("trigger-capture: device adjusted format",
			"requested", want.String(),
			"negotiated", got.String(),
		)
	}
	d.format = got
	return got, nil
}

// SetFrameRate requests a time-per-frame of num/den seconds. Failure is a
// ConfigError; capture can continue at the device's rate.
func (d *DeviceHandle) SetFrameRate(r FrameRate) error {
	got, err := d.surface.SetFrameRate(r)
	if err != nil {
		return configError("set frame rate", ErrFrameRateRejected, err)
	}
	d.rate = got
	return nil
}

// GetFrameRate reads the device's current time-per-frame.
func (d *DeviceHandle) GetFrameRate() (FrameRate, error) {
	r, err := d.surface.GetFrameRate()
	if err != nil {
		return FrameRate{}, configError("get frame rate", ErrFrameRateUnavailable, err)
	}
	d.rate = r
	return r, nil
}

// Close releases the device. A second Close returns ErrAlreadyClosed.
func (d *DeviceHandle) Close() error {
	if d.closed {
		return deviceError("close", ErrAlreadyClosed, nil)
	}
	d.closed = true
	if err := d.surface.Close(); err != nil {
		return deviceError("close", ErrDeviceIO, err)
	}
	d.log.Debug("trigger-capture: device closed", "path", d.path)
	return nil
}

func (d *DeviceHandle) Path() string { return d.path }

func (d *DeviceHandle) Surface() Surface { return d.surface }

func (d *DeviceHandle) Capabilities() Capabilities { return d.caps }

func (d *DeviceHandle) Format() Format { return d.format }

func (d *DeviceHandle) FrameRate() FrameRate { return d.rate }

// Closed reports whether Close has been called.
func (d *DeviceHandle) Closed() bool { return d.closed }

// Info describes the device as "card (driver) at bus".
func (d *DeviceHandle) Info() string {
	return fmt.Sprintf("%s (%s) at %s", d.caps.Card, d.caps.Driver, d.caps.BusInfo)
}
