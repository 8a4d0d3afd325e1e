package triggercapture

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/e7canasta/trigger-capture/internal/sim"
	"github.com/stretchr/testify/require"
)

// fakeClock advances by step on every Now and by d on every positive Sleep.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	step   time.Duration
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{
		now:  time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		step: 200 * time.Millisecond,
	}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = c.now.Add(c.step)
	return now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// recordingSink keeps a copy of every frame.
type recordingSink struct {
	mu     sync.Mutex
	frames []Frame
	err    error
}

func (s *recordingSink) Consume(f Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f.Data = append([]byte(nil), f.Data...)
	s.frames = append(s.frames, f)
	return s.err
}

func (s *recordingSink) Frames() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Frame(nil), s.frames...)
}

// scriptOperator grants cues until limit (0 = unlimited), then reports EOF.
type scriptOperator struct {
	limit     int
	cues      int
	confirms  []int
	onConfirm func()
}

func (o *scriptOperator) AwaitCue(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if o.limit > 0 && o.cues >= o.limit {
		return io.EOF
	}
	o.cues++
	return nil
}

func (o *scriptOperator) ConfirmExternal(ctx context.Context, buffers int) error {
	o.confirms = append(o.confirms, buffers)
	if o.onConfirm != nil {
		o.onConfirm()
	}
	return ctx.Err()
}

// recordingObserver tallies lifecycle events.
type recordingObserver struct {
	NopObserver
	mu          sync.Mutex
	transitions []string
	pre, steady int
	frames      int
	retries     int
	reopens     []ReopenResult
}

func (o *recordingObserver) StateChanged(from, to State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, from.String()+"->"+to.String())
}

func (o *recordingObserver) TriggerFired(kind TriggerKind) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if kind == TriggerPre {
		o.pre++
	} else {
		o.steady++
	}
}

func (o *recordingObserver) FrameCaptured(Frame) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.frames++
}

func (o *recordingObserver) DequeueRetried() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retries++
}

func (o *recordingObserver) ReopenVerified(r ReopenResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reopens = append(o.reopens, r)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	node     *sim.Node
	session  *CaptureSession
	sink     *recordingSink
	operator *scriptOperator
	observer *recordingObserver
	clock    *fakeClock
	token    *CancelToken
}

// device returns the handle the session itself opened.
func (h *harness) device() *sim.Device { return h.node.Device(0) }

func newHarness(t *testing.T, simCfg sim.Config, mutate func(*Config)) *harness {
	t.Helper()

	cfg := DefaultConfig("/dev/video0")
	cfg.MaxFrames = 5
	if mutate != nil {
		mutate(&cfg)
	}

	h := &harness{
		node:     sim.NewNode(simCfg),
		sink:     &recordingSink{},
		operator: &scriptOperator{},
		observer: &recordingObserver{},
		clock:    newFakeClock(),
		token:    NewCancelToken(),
	}
	s, err := NewCaptureSession(cfg, h.node, h.sink, h.token,
		WithLogger(quietLogger()),
		WithClock(h.clock),
		WithOperator(h.operator),
		WithObserver(h.observer),
	)
	require.NoError(t, err)
	h.session = s
	return h
}

func countCalls(calls []string, call string) int {
	n := 0
	for _, c := range calls {
		if c == call {
			n++
		}
	}
	return n
}

func indexOfCall(calls []string, prefix string) int {
	for i, c := range calls {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			return i
		}
	}
	return -1
}
