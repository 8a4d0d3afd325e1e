package triggercapture

import "context"

// Operator is the person (or automation) pacing a capture.
//
// AwaitCue blocks until the next software trigger should fire.
// ConfirmExternal blocks until the operator has applied the hardware
// pre-triggers for the given number of buffers. Both return ctx.Err() when
// ctx ends first, and io.EOF when the operator input is exhausted.
type Operator interface {
	AwaitCue(ctx context.Context) error
	ConfirmExternal(ctx context.Context, buffers int) error
}

// ImmediateOperator never waits: every cue and confirmation is granted at
// once. It suits unattended runs bounded by Config.MaxFrames.
type ImmediateOperator struct{}

func (ImmediateOperator) AwaitCue(ctx context.Context) error { return ctx.Err() }

func (ImmediateOperator) ConfirmExternal(ctx context.Context, buffers int) error {
	return ctx.Err()
}
