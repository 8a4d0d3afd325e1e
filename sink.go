package triggercapture

// FrameSink consumes delivered frames. Frame.Data is read-only and only
// valid until Consume returns; a sink that keeps bytes must copy them.
// Errors are logged and counted by the session, they do not stop capture.
type FrameSink interface {
	Consume(f Frame) error
}

// FrameSinkFunc adapts a function to FrameSink.
type FrameSinkFunc func(f Frame) error

func (fn FrameSinkFunc) Consume(f Frame) error { return fn(f) }

// DiscardSink drops every frame.
type DiscardSink struct{}

func (DiscardSink) Consume(Frame) error { return nil }
