package v4l2

import (
	"fmt"
	"unsafe"

	"github.com/e7canasta/trigger-capture/internal/control"
	"golang.org/x/sys/unix"
)

// ioctl request encoding, asm-generic layout.
const (
	iocNone  = 0
	iocWrite = 1
	iocRead  = 2

	iocNRShift   = 0
	iocTypeShift = 8
	iocSizeShift = 16
	iocDirShift  = 30

	iocTypeV4L2 = 'V'

	// basePrivate is BASE_VIDIOC_PRIVATE; the vendor trigger controls sit above it.
	basePrivate = 192
)

func ioc(dir, nr, size uintptr) uintptr {
	return dir<<iocDirShift | size<<iocSizeShift | iocTypeV4L2<<iocTypeShift | nr<<iocNRShift
}

func io(nr uintptr) uintptr { return ioc(iocNone, nr, 0) }

func ior(nr, size uintptr) uintptr { return ioc(iocRead, nr, size) }

func iow(nr, size uintptr) uintptr { return ioc(iocWrite, nr, size) }

func iowr(nr, size uintptr) uintptr { return ioc(iocRead|iocWrite, nr, size) }

func sizeofInt32() uintptr { return unsafe.Sizeof(int32(0)) }

func vendorIO(nr uintptr) uintptr { return io(basePrivate + nr) }

func vendorIOR(nr uintptr) uintptr { return ior(basePrivate+nr, sizeofInt32()) }

func vendorIOW(nr uintptr) uintptr { return iow(basePrivate+nr, sizeofInt32()) }

var (
	vidiocQueryCap  = ior(0, unsafe.Sizeof(v4l2Capability{}))
	vidiocGFmt      = iowr(4, unsafe.Sizeof(v4l2Format{}))
	vidiocSFmt      = iowr(5, unsafe.Sizeof(v4l2Format{}))
	vidiocReqBufs   = iowr(8, unsafe.Sizeof(v4l2RequestBuffers{}))
	vidiocQueryBuf  = iowr(9, unsafe.Sizeof(v4l2Buffer{}))
	vidiocQBuf      = iowr(15, unsafe.Sizeof(v4l2Buffer{}))
	vidiocDQBuf     = iowr(17, unsafe.Sizeof(v4l2Buffer{}))
	vidiocStreamOn  = iow(18, sizeofInt32())
	vidiocStreamOff = iow(19, sizeofInt32())
	vidiocGParm     = iowr(21, unsafe.Sizeof(v4l2StreamParm{}))
	vidiocSParm     = iowr(22, unsafe.Sizeof(v4l2StreamParm{}))

	// Allied Vision CSI-2 driver private controls.
	vidiocTriggerModeOff     = vendorIO(15)
	vidiocTriggerModeOn      = vendorIO(16)
	vidiocSTriggerActivation = vendorIOW(17)
	vidiocGTriggerActivation = vendorIOR(18)
	vidiocSTriggerSource     = vendorIOW(19)
	vidiocGTriggerSource     = vendorIOR(20)
	vidiocTriggerSoftware    = vendorIO(21)
)

// IoctlError is a failed ioctl or syscall on the device.
type IoctlError struct {
	Op    string
	Errno unix.Errno
}

func (e *IoctlError) Error() string {
	return fmt.Sprintf("%s error %d, %s", e.Op, int(e.Errno), e.Errno.Error())
}

func (e *IoctlError) Unwrap() error { return e.Errno }

// Is maps errno values onto the control surface sentinels.
func (e *IoctlError) Is(target error) bool {
	switch target {
	case control.ErrWouldBlock:
		return e.Errno == unix.EAGAIN
	case control.ErrNotSupported:
		return e.Errno == unix.EINVAL
	}
	return false
}

// xioctl issues an ioctl, retrying while interrupted by a signal.
func xioctl(fd int, op string, req uintptr, arg unsafe.Pointer) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
		switch errno {
		case 0:
			return nil
		case unix.EINTR:
			continue
		default:
			return &IoctlError{Op: op, Errno: errno}
		}
	}
}
