package v4l2

import (
	"fmt"
	"unsafe"

	"github.com/e7canasta/trigger-capture/internal/control"
)

// Driver values for the trigger source and activation controls.
const (
	vendorSourceLine0    int32 = 0
	vendorSourceLine1    int32 = 1
	vendorSourceLine2    int32 = 2
	vendorSourceLine3    int32 = 3
	vendorSourceSoftware int32 = 4

	vendorActivationRisingEdge  int32 = 0
	vendorActivationFallingEdge int32 = 1
	vendorActivationAnyEdge     int32 = 2
	vendorActivationLevelHigh   int32 = 3
	vendorActivationLevelLow    int32 = 4
)

var sourceToVendor = map[control.TriggerSource]int32{
	control.SourceSoftware: vendorSourceSoftware,
	control.SourceLine0:    vendorSourceLine0,
	control.SourceLine1:    vendorSourceLine1,
}

var activationToVendor = map[control.TriggerActivation]int32{
	control.ActivationRisingEdge:  vendorActivationRisingEdge,
	control.ActivationFallingEdge: vendorActivationFallingEdge,
	control.ActivationAnyEdge:     vendorActivationAnyEdge,
	control.ActivationLevelHigh:   vendorActivationLevelHigh,
	control.ActivationLevelLow:    vendorActivationLevelLow,
}

func (d *Device) SetTriggerMode(enabled bool) error {
	if enabled {
		return xioctl(d.fd, "VIDIOC_TRIGGER_MODE_ON", vidiocTriggerModeOn, nil)
	}
	return xioctl(d.fd, "VIDIOC_TRIGGER_MODE_OFF", vidiocTriggerModeOff, nil)
}

func (d *Device) GetTriggerSource() (control.TriggerSource, error) {
	var v int32
	if err := xioctl(d.fd, "VIDIOC_G_TRIGGER_SOURCE", vidiocGTriggerSource, unsafe.Pointer(&v)); err != nil {
		return 0, err
	}
	for src, raw := range sourceToVendor {
		if raw == v {
			return src, nil
		}
	}
	if v == vendorSourceLine2 || v == vendorSourceLine3 {
		return 0, fmt.Errorf("trigger source line%d is not supported", v)
	}
	return 0, fmt.Errorf("unknown trigger source value %d", v)
}

func (d *Device) SetTriggerSource(src control.TriggerSource) error {
	v, ok := sourceToVendor[src]
	if !ok {
		return fmt.Errorf("unknown trigger source %v", src)
	}
	return xioctl(d.fd, "VIDIOC_S_TRIGGER_SOURCE", vidiocSTriggerSource, unsafe.Pointer(&v))
}

func (d *Device) GetTriggerActivation() (control.TriggerActivation, error) {
	var v int32
	if err := xioctl(d.fd, "VIDIOC_G_TRIGGER_ACTIVATION", vidiocGTriggerActivation, unsafe.Pointer(&v)); err != nil {
		return 0, err
	}
	for act, raw := range activationToVendor {
		if raw == v {
			return act, nil
		}
	}
	return 0, fmt.Errorf("unknown trigger activation value %d", v)
}

func (d *Device) SetTriggerActivation(act control.TriggerActivation) error {
	v, ok := activationToVendor[act]
	if !ok {
		return fmt.Errorf("unknown trigger activation %v", act)
	}
	return xioctl(d.fd, "VIDIOC_S_TRIGGER_ACTIVATION", vidiocSTriggerActivation, unsafe.Pointer(&v))
}

func (d *Device) FireSoftwareTrigger() error {
	return xioctl(d.fd, "VIDIOC_TRIGGER_SOFTWARE", vidiocTriggerSoftware, nil)
}
