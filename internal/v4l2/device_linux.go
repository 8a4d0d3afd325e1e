package v4l2

import (
	"fmt"
	"os"
	"time"
	"unsafe"

	"github.com/e7canasta/trigger-capture/internal/control"
	"golang.org/x/sys/unix"
)

// Device is an open V4L2 capture node. It implements control.Surface.
type Device struct {
	path string
	fd   int
}

var _ control.Surface = (*Device)(nil)

// Open opens path read/write and non-blocking after checking it is a
// character device.
func Open(path string) (*Device, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return nil, &os.PathError{Op: "stat", Path: path, Err: err}
	}
	if st.Mode&unix.S_IFMT != unix.S_IFCHR {
		return nil, fmt.Errorf("%s is no device", path)
	}

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: path, Err: err}
	}
	return &Device{path: path, fd: fd}, nil
}

// NewOpener returns an Opener backed by Open.
func NewOpener() control.Opener {
	return control.OpenerFunc(func(path string) (control.Surface, error) {
		d, err := Open(path)
		if err != nil {
			return nil, err
		}
		return d, nil
	})
}

// Path returns the device path.
func (d *Device) Path() string { return d.path }

func (d *Device) QueryCapabilities() (control.Capabilities, error) {
	var c v4l2Capability
	if err := xioctl(d.fd, "VIDIOC_QUERYCAP", vidiocQueryCap, unsafe.Pointer(&c)); err != nil {
		return control.Capabilities{}, err
	}
	return control.Capabilities{
		Driver:  cstring(c.Driver[:]),
		Card:    cstring(c.Card[:]),
		BusInfo: cstring(c.BusInfo[:]),
		Version: c.Version,
		Flags:   c.Capabilities,
	}, nil
}

func (d *Device) getFormat() (v4l2Format, error) {
	f := v4l2Format{Type: bufTypeVideoCapture}
	err := xioctl(d.fd, "VIDIOC_G_FMT", vidiocGFmt, unsafe.Pointer(&f))
	return f, err
}

func (d *Device) GetFormat() (control.Format, error) {
	f, err := d.getFormat()
	if err != nil {
		return control.Format{}, err
	}
	return toFormat(f.pix()), nil
}

// SetFormat starts from the current format so driver-owned fields such as
// colorspace are preserved.
func (d *Device) SetFormat(want control.Format) (control.Format, error) {
	f, err := d.getFormat()
	if err != nil {
		return control.Format{}, err
	}
	pix := f.pix()
	pix.Width = want.Width
	pix.Height = want.Height
	pix.PixelFormat = uint32(want.PixelFormat)
	pix.Field = uint32(want.Field)
	if err := xioctl(d.fd, "VIDIOC_S_FMT", vidiocSFmt, unsafe.Pointer(&f)); err != nil {
		return control.Format{}, err
	}
	return toFormat(f.pix()), nil
}

func toFormat(p *v4l2PixFormat) control.Format {
	return control.Format{
		Width:        p.Width,
		Height:       p.Height,
		PixelFormat:  control.FourCC(p.PixelFormat),
		Field:        control.Field(p.Field),
		BytesPerLine: p.BytesPerLine,
		SizeImage:    p.SizeImage,
	}
}

func (d *Device) GetFrameRate() (control.FrameRate, error) {
	p := v4l2StreamParm{Type: bufTypeVideoCapture}
	if err := xioctl(d.fd, "VIDIOC_G_PARM", vidiocGParm, unsafe.Pointer(&p)); err != nil {
		return control.FrameRate{}, err
	}
	return control.FrameRate{
		Numerator:   p.Capture.TimePerFrame.Numerator,
		Denominator: p.Capture.TimePerFrame.Denominator,
	}, nil
}

func (d *Device) SetFrameRate(r control.FrameRate) (control.FrameRate, error) {
	p := v4l2StreamParm{Type: bufTypeVideoCapture}
	p.Capture.TimePerFrame = v4l2Fract{Numerator: r.Numerator, Denominator: r.Denominator}
	if err := xioctl(d.fd, "VIDIOC_S_PARM", vidiocSParm, unsafe.Pointer(&p)); err != nil {
		return control.FrameRate{}, err
	}
	return control.FrameRate{
		Numerator:   p.Capture.TimePerFrame.Numerator,
		Denominator: p.Capture.TimePerFrame.Denominator,
	}, nil
}

func (d *Device) RequestBuffers(count int) (int, error) {
	req := v4l2RequestBuffers{
		Count:  uint32(count),
		Type:   bufTypeVideoCapture,
		Memory: memoryMMAP,
	}
	if err := xioctl(d.fd, "VIDIOC_REQBUFS", vidiocReqBufs, unsafe.Pointer(&req)); err != nil {
		return 0, err
	}
	return int(req.Count), nil
}

func (d *Device) QueryBuffer(index int) (control.BufferInfo, error) {
	b := v4l2Buffer{Index: uint32(index), Type: bufTypeVideoCapture, Memory: memoryMMAP}
	if err := xioctl(d.fd, "VIDIOC_QUERYBUF", vidiocQueryBuf, unsafe.Pointer(&b)); err != nil {
		return control.BufferInfo{}, err
	}
	return control.BufferInfo{Index: index, Offset: b.offset(), Length: b.Length}, nil
}

func (d *Device) MapBuffer(info control.BufferInfo) ([]byte, error) {
	mem, err := unix.Mmap(d.fd, int64(info.Offset), int(info.Length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, &IoctlError{Op: "mmap", Errno: errnoOf(err)}
	}
	return mem, nil
}

func (d *Device) UnmapBuffer(mem []byte) error {
	if err := unix.Munmap(mem); err != nil {
		return &IoctlError{Op: "munmap", Errno: errnoOf(err)}
	}
	return nil
}

func (d *Device) QueueBuffer(index int) error {
	b := v4l2Buffer{Index: uint32(index), Type: bufTypeVideoCapture, Memory: memoryMMAP}
	return xioctl(d.fd, "VIDIOC_QBUF", vidiocQBuf, unsafe.Pointer(&b))
}

func (d *Device) DequeueBuffer() (control.Dequeued, error) {
	b := v4l2Buffer{Type: bufTypeVideoCapture, Memory: memoryMMAP}
	if err := xioctl(d.fd, "VIDIOC_DQBUF", vidiocDQBuf, unsafe.Pointer(&b)); err != nil {
		return control.Dequeued{}, err
	}
	sec, nsec := b.Timestamp.Unix()
	return control.Dequeued{
		Index:     int(b.Index),
		BytesUsed: int(b.BytesUsed),
		Sequence:  b.Sequence,
		Timestamp: time.Unix(sec, nsec),
	}, nil
}

// WaitReadable polls the descriptor for POLLIN.
func (d *Device) WaitReadable(timeout time.Duration) (bool, error) {
	fds := []unix.PollFd{{Fd: int32(d.fd), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(fds, int(timeout.Milliseconds()))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return false, &IoctlError{Op: "poll", Errno: errnoOf(err)}
		}
		if n == 0 {
			return false, nil
		}
		if fds[0].Revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
			return false, &IoctlError{Op: "poll", Errno: unix.EIO}
		}
		return fds[0].Revents&unix.POLLIN != 0, nil
	}
}

func (d *Device) StreamOn() error {
	t := int32(bufTypeVideoCapture)
	return xioctl(d.fd, "VIDIOC_STREAMON", vidiocStreamOn, unsafe.Pointer(&t))
}

func (d *Device) StreamOff() error {
	t := int32(bufTypeVideoCapture)
	return xioctl(d.fd, "VIDIOC_STREAMOFF", vidiocStreamOff, unsafe.Pointer(&t))
}

// Close releases the descriptor. A second call fails with EBADF.
func (d *Device) Close() error {
	if d.fd < 0 {
		return &IoctlError{Op: "close", Errno: unix.EBADF}
	}
	fd := d.fd
	d.fd = -1
	if err := unix.Close(fd); err != nil {
		return &IoctlError{Op: "close", Errno: errnoOf(err)}
	}
	return nil
}

func errnoOf(err error) unix.Errno {
	if errno, ok := err.(unix.Errno); ok {
		return errno
	}
	return unix.EIO
}
