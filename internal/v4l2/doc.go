// Package v4l2 implements control.Surface on a Linux V4L2 capture node using
// raw ioctls, mmap and poll, including the vendor trigger controls of the
// Allied Vision CSI-2 driver.
package v4l2

import "errors"

// ErrUnsupportedPlatform is returned by the opener on non-Linux systems.
var ErrUnsupportedPlatform = errors.New("v4l2: capture devices are only supported on linux")
