// Package sim provides an in-memory control.Surface for tests.
//
// A Node plays the role of a device path: every Open returns a fresh Device
// sharing the node's Config. Devices enforce the same ordering rules a V4L2
// driver does (trigger mode before source/activation, no buffer release while
// streaming, one queue per buffer) and record every call so tests can assert
// on ordering. Rule breaches are returned as errors and also kept in
// Violations.
package sim

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/e7canasta/trigger-capture/internal/control"
)

var (
	ErrClosed   = errors.New("sim: device closed")
	ErrInvalid  = errors.New("sim: invalid argument")
	ErrBusy     = errors.New("sim: device busy")
	ErrRejected = errors.New("sim: request rejected")
)

// Op names a Surface operation for fault injection.
type Op string

const (
	OpOpen                 Op = "Open"
	OpQueryCapabilities    Op = "QueryCapabilities"
	OpGetFormat            Op = "GetFormat"
	OpSetFormat            Op = "SetFormat"
	OpGetFrameRate         Op = "GetFrameRate"
	OpSetFrameRate         Op = "SetFrameRate"
	OpRequestBuffers       Op = "RequestBuffers"
	OpQueryBuffer          Op = "QueryBuffer"
	OpMapBuffer            Op = "MapBuffer"
	OpUnmapBuffer          Op = "UnmapBuffer"
	OpQueueBuffer          Op = "QueueBuffer"
	OpDequeueBuffer        Op = "DequeueBuffer"
	OpWaitReadable         Op = "WaitReadable"
	OpStreamOn             Op = "StreamOn"
	OpStreamOff            Op = "StreamOff"
	OpSetTriggerMode       Op = "SetTriggerMode"
	OpGetTriggerSource     Op = "GetTriggerSource"
	OpSetTriggerSource     Op = "SetTriggerSource"
	OpGetTriggerActivation Op = "GetTriggerActivation"
	OpSetTriggerActivation Op = "SetTriggerActivation"
	OpFireSoftwareTrigger  Op = "FireSoftwareTrigger"
	OpClose                Op = "Close"
)

// Config describes the simulated hardware.
type Config struct {
	Capabilities control.Capabilities
	Format       control.Format
	FrameRate    control.FrameRate

	// MaxBuffers caps the number of buffers granted; 0 grants what is asked.
	MaxBuffers int
	// BufferSize is the length of each buffer; 0 uses Format.SizeImage.
	BufferSize int
	// BytesUsed is reported for each frame; 0 reports the full length.
	BytesUsed int

	// RejectFrameRate makes SetFrameRate fail.
	RejectFrameRate bool
	// RejectMMAP makes RequestBuffers fail with control.ErrNotSupported.
	RejectMMAP bool
	// MapFailAt is the buffer index whose mapping fails; negative disables.
	MapFailAt int
	// IgnoreTriggerMode acknowledges trigger-mode requests without applying them.
	IgnoreTriggerMode bool

	InitialSource     control.TriggerSource
	InitialActivation control.TriggerActivation
	// SourceReadBack, when set, is what the device reports after any source
	// change.
	SourceReadBack *control.TriggerSource

	// WouldBlockPerFrame is the number of ErrWouldBlock results returned
	// before each ready frame can be dequeued.
	WouldBlockPerFrame int
	// SwallowTriggers is the number of triggers after StreamOn that produce
	// no frame, the pipeline latency of the CSI-2 driver.
	SwallowTriggers int

	// Faults forces an error from every call of an operation.
	Faults map[Op]error

	// OnIdle runs from WaitReadable when nothing is ready.
	OnIdle func(d *Device)
	// OnDequeue runs after a successful dequeue.
	OnDequeue func(d *Device, index int)
}

// DefaultConfig is a small XRGB32 camera with capture and streaming support.
func DefaultConfig() Config {
	return Config{
		Capabilities: control.Capabilities{
			Driver:  "sim",
			Card:    "simulated trigger camera",
			BusInfo: "platform:sim",
			Flags:   control.CapVideoCapture | control.CapStreaming,
		},
		Format: control.Format{
			Width:        64,
			Height:       48,
			PixelFormat:  control.PixelFormatXRGB32,
			Field:        control.FieldNone,
			BytesPerLine: 64 * 4,
			SizeImage:    64 * 48 * 4,
		},
		FrameRate:         control.FrameRate{Numerator: 1, Denominator: 30},
		MapFailAt:         -1,
		InitialSource:     control.SourceLine0,
		InitialActivation: control.ActivationRisingEdge,
	}
}

// Node is a simulated device path.
type Node struct {
	mu       sync.Mutex
	cfg      Config
	openErrs map[int]error
	devices  []*Device
}

// NewNode returns a node whose devices follow cfg.
func NewNode(cfg Config) *Node {
	return &Node{cfg: cfg, openErrs: make(map[int]error)}
}

// FailOpen makes the attempt-th Open (1-based) fail with err.
func (n *Node) FailOpen(attempt int, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.openErrs[attempt] = err
}

// Open implements control.Opener.
func (n *Node) Open(path string) (control.Surface, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	attempt := len(n.devices) + 1
	if err, ok := n.openErrs[attempt]; ok {
		n.devices = append(n.devices, nil)
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := n.cfg.Faults[OpOpen]; err != nil {
		n.devices = append(n.devices, nil)
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	d := newDevice(path, n.cfg)
	n.devices = append(n.devices, d)
	return d, nil
}

// Opens returns the number of Open attempts, failed ones included.
func (n *Node) Opens() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.devices)
}

// Device returns the device of the i-th Open attempt (0-based), nil when
// that attempt failed.
func (n *Node) Device(i int) *Device {
	n.mu.Lock()
	defer n.mu.Unlock()
	if i < 0 || i >= len(n.devices) {
		return nil
	}
	return n.devices[i]
}

type buffer struct {
	mem       []byte
	mapped    bool
	queued    bool
	bytesUsed int
	sequence  uint32
	timestamp time.Time
}

// Device is one open handle on a Node.
type Device struct {
	mu sync.Mutex

	path string
	cfg  Config

	closed      bool
	format      control.Format
	rate        control.FrameRate
	buffers     []*buffer
	waiting     []int // queued, empty, in queue order
	ready       []int // filled, in completion order
	streaming   bool
	triggerMode bool
	source      control.TriggerSource
	activation  control.TriggerActivation
	swallow     int
	blockLeft   int
	sequence    uint32
	fired       int
	dropped     int
	faults      map[Op]error

	calls      []string
	violations []string
}

var _ control.Surface = (*Device)(nil)

func newDevice(path string, cfg Config) *Device {
	faults := make(map[Op]error, len(cfg.Faults))
	for op, err := range cfg.Faults {
		faults[op] = err
	}
	return &Device{
		path:       path,
		cfg:        cfg,
		format:     cfg.Format,
		rate:       cfg.FrameRate,
		source:     cfg.InitialSource,
		activation: cfg.InitialActivation,
		faults:     faults,
	}
}

// SetFault forces op to fail with err from now on; nil clears it.
func (d *Device) SetFault(op Op, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.faults, op)
		return
	}
	d.faults[op] = err
}

// enter records the call and returns the error the call must fail with, if
// any. d.mu must be held.
func (d *Device) enter(op Op, args ...any) error {
	call := string(op)
	if len(args) > 0 {
		call += fmt.Sprintf("%v", args)
	}
	d.calls = append(d.calls, call)
	if d.closed {
		return ErrClosed
	}
	if err := d.faults[op]; err != nil {
		return err
	}
	return nil
}

func (d *Device) violate(format string, args ...any) {
	d.violations = append(d.violations, fmt.Sprintf(format, args...))
}

func (d *Device) QueryCapabilities() (control.Capabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(OpQueryCapabilities); err != nil {
		return control.Capabilities{}, err
	}
	return d.cfg.Capabilities, nil
}

func (d *Device) GetFormat() (control.Format, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(OpGetFormat); err != nil {
		return control.Format{}, err
	}
	return d.format, nil
}

// SetFormat accepts the pixel format only when it matches the hardware's and
// always keeps the native size, like a fixed-mode sensor.
func (d *Device) SetFormat(f control.Format) (control.Format, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(OpSetFormat, f.PixelFormat); err != nil {
		return control.Format{}, err
	}
	if d.streaming {
		return control.Format{}, ErrBusy
	}
	next := d.cfg.Format
	if f.Field != control.FieldAny {
		next.Field = f.Field
	}
	d.format = next
	return d.format, nil
}

func (d *Device) GetFrameRate() (control.FrameRate, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(OpGetFrameRate); err != nil {
		return control.FrameRate{}, err
	}
	return d.rate, nil
}

func (d *Device) SetFrameRate(r control.FrameRate) (control.FrameRate, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(OpSetFrameRate, r.Numerator, r.Denominator); err != nil {
		return control.FrameRate{}, err
	}
	if d.cfg.RejectFrameRate || r.Numerator == 0 || r.Denominator == 0 {
		return control.FrameRate{}, ErrRejected
	}
	d.rate = r
	return d.rate, nil
}

func (d *Device) bufferSize() int {
	if d.cfg.BufferSize > 0 {
		return d.cfg.BufferSize
	}
	return int(d.cfg.Format.SizeImage)
}

func (d *Device) RequestBuffers(count int) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(OpRequestBuffers, count); err != nil {
		return 0, err
	}
	if d.cfg.RejectMMAP {
		return 0, fmt.Errorf("reqbufs: %w", control.ErrNotSupported)
	}
	if d.streaming {
		d.violate("RequestBuffers(%d) while streaming", count)
		return 0, ErrBusy
	}
	for i, b := range d.buffers {
		if b.mapped {
			d.violate("RequestBuffers(%d) with buffer %d still mapped", count, i)
			return 0, ErrBusy
		}
	}
	if count < 0 {
		return 0, ErrInvalid
	}

	granted := count
	if d.cfg.MaxBuffers > 0 && granted > d.cfg.MaxBuffers {
		granted = d.cfg.MaxBuffers
	}
	d.buffers = make([]*buffer, granted)
	for i := range d.buffers {
		d.buffers[i] = &buffer{mem: make([]byte, d.bufferSize())}
	}
	d.waiting = nil
	d.ready = nil
	return granted, nil
}

func (d *Device) buffer(index int) (*buffer, error) {
	if index < 0 || index >= len(d.buffers) {
		return nil, fmt.Errorf("buffer %d of %d: %w", index, len(d.buffers), ErrInvalid)
	}
	return d.buffers[index], nil
}

func (d *Device) QueryBuffer(index int) (control.BufferInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(OpQueryBuffer, index); err != nil {
		return control.BufferInfo{}, err
	}
	b, err := d.buffer(index)
	if err != nil {
		return control.BufferInfo{}, err
	}
	return control.BufferInfo{
		Index:  index,
		Offset: uint32(index * len(b.mem)),
		Length: uint32(len(b.mem)),
	}, nil
}

// MapBuffer hands out the device's own backing slice, so frames written by
// the simulated sensor are visible through the mapping.
func (d *Device) MapBuffer(info control.BufferInfo) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(OpMapBuffer, info.Index); err != nil {
		return nil, err
	}
	if d.cfg.MapFailAt >= 0 && info.Index == d.cfg.MapFailAt {
		return nil, fmt.Errorf("mmap buffer %d: %w", info.Index, ErrRejected)
	}
	b, err := d.buffer(info.Index)
	if err != nil {
		return nil, err
	}
	if b.mapped {
		d.violate("buffer %d mapped twice", info.Index)
		return nil, ErrBusy
	}
	b.mapped = true
	return b.mem, nil
}

func (d *Device) UnmapBuffer(mem []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.faults[OpUnmapBuffer]; err != nil {
		d.calls = append(d.calls, string(OpUnmapBuffer))
		return err
	}
	d.calls = append(d.calls, string(OpUnmapBuffer))
	for _, b := range d.buffers {
		if b.mapped && len(mem) > 0 && len(b.mem) > 0 && &b.mem[0] == &mem[0] {
			b.mapped = false
			return nil
		}
	}
	d.violate("unmap of unknown mapping")
	return ErrInvalid
}

func (d *Device) QueueBuffer(index int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(OpQueueBuffer, index); err != nil {
		return err
	}
	b, err := d.buffer(index)
	if err != nil {
		d.violate("queue of out-of-range buffer %d", index)
		return err
	}
	if b.queued {
		d.violate("buffer %d queued twice", index)
		return fmt.Errorf("buffer %d already queued: %w", index, ErrInvalid)
	}
	b.queued = true
	d.waiting = append(d.waiting, index)
	return nil
}

func (d *Device) DequeueBuffer() (control.Dequeued, error) {
	d.mu.Lock()
	if err := d.enter(OpDequeueBuffer); err != nil {
		d.mu.Unlock()
		return control.Dequeued{}, err
	}
	if !d.streaming {
		d.mu.Unlock()
		return control.Dequeued{}, fmt.Errorf("dequeue while not streaming: %w", ErrInvalid)
	}
	if len(d.ready) == 0 {
		d.mu.Unlock()
		return control.Dequeued{}, control.ErrWouldBlock
	}
	if d.blockLeft > 0 {
		d.blockLeft--
		d.mu.Unlock()
		return control.Dequeued{}, control.ErrWouldBlock
	}

	index := d.ready[0]
	d.ready = d.ready[1:]
	b := d.buffers[index]
	b.queued = false
	out := control.Dequeued{
		Index:     index,
		BytesUsed: b.bytesUsed,
		Sequence:  b.sequence,
		Timestamp: b.timestamp,
	}
	if len(d.ready) > 0 {
		d.blockLeft = d.cfg.WouldBlockPerFrame
	}
	hook := d.cfg.OnDequeue
	d.mu.Unlock()

	if hook != nil {
		hook(d, index)
	}
	return out, nil
}

// WaitReadable never sleeps for the full timeout. When nothing is ready it
// runs OnIdle, which is where tests deliver hardware triggers or cancel.
func (d *Device) WaitReadable(timeout time.Duration) (bool, error) {
	d.mu.Lock()
	if err := d.enter(OpWaitReadable); err != nil {
		d.mu.Unlock()
		return false, err
	}
	readable := len(d.ready) > 0
	idle := d.cfg.OnIdle
	d.mu.Unlock()

	if readable {
		return true, nil
	}
	if idle != nil {
		idle(d)
	} else if timeout > 0 {
		time.Sleep(min(timeout, time.Millisecond))
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.ready) > 0, nil
}

func (d *Device) StreamOn() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(OpStreamOn); err != nil {
		return err
	}
	if len(d.buffers) == 0 {
		return fmt.Errorf("stream on without buffers: %w", ErrInvalid)
	}
	d.streaming = true
	d.swallow = d.cfg.SwallowTriggers
	return nil
}

// StreamOff returns every buffer to the application, as VIDIOC_STREAMOFF does.
func (d *Device) StreamOff() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(OpStreamOff); err != nil {
		return err
	}
	d.streamOff()
	return nil
}

func (d *Device) streamOff() {
	d.streaming = false
	for _, b := range d.buffers {
		b.queued = false
	}
	d.waiting = nil
	d.ready = nil
	d.blockLeft = 0
}

func (d *Device) SetTriggerMode(enabled bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(OpSetTriggerMode, enabled); err != nil {
		return err
	}
	if !d.cfg.IgnoreTriggerMode {
		d.triggerMode = enabled
	}
	return nil
}

func (d *Device) GetTriggerSource() (control.TriggerSource, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(OpGetTriggerSource); err != nil {
		return 0, err
	}
	return d.source, nil
}

func (d *Device) SetTriggerSource(src control.TriggerSource) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(OpSetTriggerSource, src); err != nil {
		return err
	}
	if !d.triggerMode {
		d.violate("SetTriggerSource(%v) with trigger mode off", src)
		return control.ErrTriggerModeDisabled
	}
	if !src.Valid() {
		return ErrInvalid
	}
	d.source = src
	if d.cfg.SourceReadBack != nil {
		d.source = *d.cfg.SourceReadBack
	}
	return nil
}

func (d *Device) GetTriggerActivation() (control.TriggerActivation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(OpGetTriggerActivation); err != nil {
		return 0, err
	}
	return d.activation, nil
}

func (d *Device) SetTriggerActivation(act control.TriggerActivation) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(OpSetTriggerActivation, act); err != nil {
		return err
	}
	if !d.triggerMode {
		d.violate("SetTriggerActivation(%v) with trigger mode off", act)
		return control.ErrTriggerModeDisabled
	}
	if !act.Valid() {
		return ErrInvalid
	}
	d.activation = act
	return nil
}

func (d *Device) FireSoftwareTrigger() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(OpFireSoftwareTrigger); err != nil {
		return err
	}
	if !d.triggerMode || d.source != control.SourceSoftware {
		d.violate("software trigger with mode=%v source=%v", d.triggerMode, d.source)
		return ErrRejected
	}
	d.fired++
	d.capture()
	return nil
}

// PulseLine drives a hardware input line. It reports whether a frame was
// produced.
func (d *Device) PulseLine(line control.TriggerSource) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.triggerMode || d.source != line {
		return false
	}
	return d.capture()
}

// capture fills the oldest queued buffer. d.mu must be held.
func (d *Device) capture() bool {
	if !d.streaming {
		d.dropped++
		return false
	}
	if d.swallow > 0 {
		d.swallow--
		return false
	}
	if len(d.waiting) == 0 {
		d.dropped++
		return false
	}

	index := d.waiting[0]
	d.waiting = d.waiting[1:]
	b := d.buffers[index]
	d.sequence++
	for i := range b.mem {
		b.mem[i] = byte(d.sequence)
	}
	b.sequence = d.sequence
	b.timestamp = time.Now()
	b.bytesUsed = len(b.mem)
	if d.cfg.BytesUsed > 0 {
		b.bytesUsed = d.cfg.BytesUsed
	}
	if len(d.ready) == 0 {
		d.blockLeft = d.cfg.WouldBlockPerFrame
	}
	d.ready = append(d.ready, index)
	return true
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, string(OpClose))
	if d.closed {
		return ErrClosed
	}
	if err := d.faults[OpClose]; err != nil {
		return err
	}
	if d.streaming {
		d.streamOff()
	}
	d.closed = true
	return nil
}

// Calls returns the recorded call log, e.g. "SetTriggerMode[true]".
func (d *Device) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

// Violations returns driver rule breaches observed so far.
func (d *Device) Violations() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.violations...)
}

// Mapped returns the number of buffers currently mapped.
func (d *Device) Mapped() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, b := range d.buffers {
		if b.mapped {
			n++
		}
	}
	return n
}

// Queued returns the number of buffers owned by the driver.
func (d *Device) Queued() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, b := range d.buffers {
		if b.queued {
			n++
		}
	}
	return n
}

// Allocated returns the number of buffers currently allocated.
func (d *Device) Allocated() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buffers)
}

func (d *Device) Streaming() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streaming
}

func (d *Device) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *Device) TriggerMode() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.triggerMode
}

func (d *Device) Source() control.TriggerSource {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.source
}

func (d *Device) Activation() control.TriggerActivation {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.activation
}

// SoftwareTriggers returns the number of accepted software triggers.
func (d *Device) SoftwareTriggers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fired
}

// Dropped returns triggers that found no queued buffer.
func (d *Device) Dropped() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}
