// Package triggercapture runs a single trigger-gated V4L2 capture session.
//
// It targets CSI-2 cameras whose driver exposes vendor trigger controls next
// to the usual memory-mapped streaming queue (Allied Vision Alvium on NVIDIA
// Jetson being the reference hardware). Frames are only produced when a
// trigger fires, either a software trigger issued by the session or a pulse
// on a hardware input line.
//
// # Quick Start
//
//	cfg := triggercapture.DefaultConfig("/dev/video0")
//	cfg.Trigger.Source = triggercapture.SourceLine0
//
//	token := triggercapture.NewCancelToken()
//	session, err := triggercapture.NewCaptureSession(cfg, v4l2.NewOpener(), sink, token)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	report, err := session.Run(context.Background())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Printf("frames=%d reopen_ok=%v", report.Stats.FrameCount, report.Reopen.OK())
//
// Call token.Cancel() from a signal handler to end the frame loop; the
// session still tears down and verifies the device can be reopened.
//
// # Lifecycle
//
//	Init --Configure--> Configured --StreamOn--> Streaming --StreamOff--> Stopped --Close--> Closed
//
// Configure negotiates in a fixed order: capabilities, frame rate (best
// effort), format, buffers (request, map, queue all), trigger (mode on,
// source, activation). Run adds the pre-trigger workaround after StreamOn
// and the frame loop before Close.
//
// # Pre-trigger Workaround
//
// The driver holds back frames until its buffer pipeline has been filled.
// After stream-on (and a settle delay) the session fires N-1 software
// triggers for N granted buffers, each followed by a pause. With a hardware
// source the Operator is asked to apply the pulses and confirm. Both the
// count and the pauses are configurable.
//
// # Buffers
//
// Buffers move FREE→QUEUED→READY→QUEUED. Frame.Data is a view into the
// mapped buffer and is only valid while the FrameSink runs; the buffer is
// requeued right after.
//
// # Errors
//
// Failures are *Error values with a class (device, config, buffer, trigger)
// and a kind matchable with errors.Is. Only config errors (a frame rate the
// device declined) are survivable. Cancellation is not an error.
package triggercapture
