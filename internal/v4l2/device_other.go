//go:build !linux

package v4l2

import "github.com/e7canasta/trigger-capture/internal/control"

// NewOpener returns an Opener that always fails with ErrUnsupportedPlatform.
func NewOpener() control.Opener {
	return control.OpenerFunc(func(path string) (control.Surface, error) {
		return nil, ErrUnsupportedPlatform
	})
}
