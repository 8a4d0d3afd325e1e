package triggercapture

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/e7canasta/trigger-capture/internal/control"
)

// BufferState is who owns a buffer and whether it holds a frame.
type BufferState int

const (
	// BufferFree is mapped but not yet handed to the driver
	BufferFree BufferState = iota
	// BufferQueued is owned by the driver, waiting to be filled
	BufferQueued
	// BufferReady holds a dequeued frame owned by the application
	BufferReady
	// BufferUnknown is reported for an index the pool does not hold
	BufferUnknown
)

func (s BufferState) String() string {
	switch s {
	case BufferFree:
		return "free"
	case BufferQueued:
		return "queued"
	case BufferReady:
		return "ready"
	default:
		return "unknown"
	}
}

type poolBuffer struct {
	mem   []byte
	state BufferState
}

// BufferPool owns the memory-mapped frame buffers of one device.
//
// Legal transitions are FREE→QUEUED (QueueInitial), QUEUED→READY (Dequeue)
// and READY→QUEUED (Requeue). Anything else fails with ErrInvalidTransition.
type BufferPool struct {
	surface   Surface
	log       *slog.Logger
	buffers   []poolBuffer
	streaming bool
}

// NewBufferPool returns an empty pool on surface.
func NewBufferPool(surface Surface, logger *slog.Logger) *BufferPool {
	if logger == nil {
		logger = slog.Default()
	}
	return &BufferPool{surface: surface, log: logger}
}

// RequestBuffers asks the device for count buffers and sizes the pool to
// what it grants.
func (p *BufferPool) RequestBuffers(count int) error {
	if count <= 0 {
		return bufferError("request buffers", ErrRequestFailed, fmt.Errorf("invalid count %d", count))
	}
	if len(p.buffers) > 0 {
		return bufferError("request buffers", ErrRequestFailed, errors.New("pool already allocated"))
	}

	granted, err := p.surface.RequestBuffers(count)
	if err != nil {
		if errors.Is(err, control.ErrNotSupported) {
			return bufferError("request buffers", ErrMappingUnsupported, err)
		}
		return bufferError("request buffers", ErrRequestFailed, err)
	}
	if granted == 0 {
		return bufferError("request buffers", ErrMappingUnsupported, errors.New("device granted no buffers"))
	}
	if granted < count {
		p.log.Warn("trigger-capture: device granted fewer buffers than requested",
			"requested", count,
			"granted", granted,
		)
	}

	p.buffers = make([]poolBuffer, granted)
	return nil
}

// MapAll maps every granted buffer. On failure every mapping made so far is
// released before returning.
func (p *BufferPool) MapAll() error {
	for i := range p.buffers {
		info, err := p.surface.QueryBuffer(i)
		if err != nil {
			p.unmapMapped()
			return bufferError("query buffer", ErrMapFailed, fmt.Errorf("buffer %d: %w", i, err))
		}
		mem, err := p.surface.MapBuffer(info)
		if err != nil {
			p.unmapMapped()
			return bufferError("map buffer", ErrMapFailed, fmt.Errorf("buffer %d: %w", i, err))
		}
		p.buffers[i].mem = mem
	}
	p.log.Debug("trigger-capture: buffers mapped", "count", len(p.buffers))
	return nil
}

func (p *BufferPool) unmapMapped() {
	for i := range p.buffers {
		b := &p.buffers[i]
		if b.mem == nil {
			continue
		}
		if err := p.surface.UnmapBuffer(b.mem); err != nil {
			p.log.Warn("trigger-capture: unmap failed", "index", i, "error", err)
		}
		b.mem = nil
	}
}

// QueueInitial hands every buffer to the driver, in index order.
func (p *BufferPool) QueueInitial() error {
	for i := range p.buffers {
		b := &p.buffers[i]
		if b.mem == nil {
			return bufferError("queue buffer", ErrQueueFailed, fmt.Errorf("buffer %d is not mapped", i))
		}
		if b.state != BufferFree {
			return bufferError("queue buffer", ErrInvalidTransition,
				fmt.Errorf("buffer %d: %s -> %s", i, b.state, BufferQueued))
		}
		if err := p.surface.QueueBuffer(i); err != nil {
			return bufferError("queue buffer", ErrQueueFailed, fmt.Errorf("buffer %d: %w", i, err))
		}
		b.state = BufferQueued
	}
	return nil
}

// Dequeue takes the next filled buffer from the driver. It returns the bare
// ErrWouldBlock when nothing is ready yet. BytesUsed of the result is
// clamped to the buffer length; a driver reporting zero means the whole
// buffer.
func (p *BufferPool) Dequeue() (control.Dequeued, error) {
	d, err := p.surface.DequeueBuffer()
	if err != nil {
		if errors.Is(err, control.ErrWouldBlock) {
			return control.Dequeued{}, ErrWouldBlock
		}
		return control.Dequeued{}, bufferError("dequeue buffer", ErrDequeueFailed, err)
	}
	if d.Index < 0 || d.Index >= len(p.buffers) {
		return control.Dequeued{}, bufferError("dequeue buffer", ErrInvalidTransition,
			fmt.Errorf("device returned index %d outside pool of %d", d.Index, len(p.buffers)))
	}
	b := &p.buffers[d.Index]
	if b.state != BufferQueued {
		return control.Dequeued{}, bufferError("dequeue buffer", ErrInvalidTransition,
			fmt.Errorf("buffer %d: %s -> %s", d.Index, b.state, BufferReady))
	}
	b.state = BufferReady
	if d.BytesUsed <= 0 || d.BytesUsed > len(b.mem) {
		d.BytesUsed = len(b.mem)
	}
	return d, nil
}

// Requeue returns a READY buffer to the driver.
func (p *BufferPool) Requeue(index int) error {
	if index < 0 || index >= len(p.buffers) {
		return bufferError("requeue buffer", ErrInvalidTransition,
			fmt.Errorf("index %d outside pool of %d", index, len(p.buffers)))
	}
	b := &p.buffers[index]
	if b.state != BufferReady {
		return bufferError("requeue buffer", ErrInvalidTransition,
			fmt.Errorf("buffer %d: %s -> %s", index, b.state, BufferQueued))
	}
	if err := p.surface.QueueBuffer(index); err != nil {
		return bufferError("requeue buffer", ErrQueueFailed, fmt.Errorf("buffer %d: %w", index, err))
	}
	b.state = BufferQueued
	return nil
}

// Bytes returns the mapping of a READY buffer, nil otherwise.
func (p *BufferPool) Bytes(index int) []byte {
	if index < 0 || index >= len(p.buffers) || p.buffers[index].state != BufferReady {
		return nil
	}
	return p.buffers[index].mem
}

func (p *BufferPool) waitReady(timeout time.Duration) (bool, error) {
	return p.surface.WaitReadable(timeout)
}

// markStreaming records whether the driver currently owns queued buffers.
func (p *BufferPool) markStreaming(on bool) {
	p.streaming = on
}

// UnmapAndFree unmaps every buffer and releases them on the device. It
// refuses while the stream is on.
func (p *BufferPool) UnmapAndFree() error {
	if p.streaming {
		return bufferError("free buffers", ErrStillStreaming, nil)
	}
	if len(p.buffers) == 0 {
		return nil
	}

	var errs []error
	for i := range p.buffers {
		b := &p.buffers[i]
		if b.mem == nil {
			continue
		}
		if err := p.surface.UnmapBuffer(b.mem); err != nil {
			errs = append(errs, fmt.Errorf("buffer %d: %w", i, err))
		}
		b.mem = nil
	}
	p.buffers = nil

	// The release is attempted even after a failed unmap; the driver refuses
	// it while mappings remain and that refusal is reported with the rest.
	_, relErr := p.surface.RequestBuffers(0)
	if len(errs) > 0 {
		if relErr != nil {
			errs = append(errs, fmt.Errorf("release: %w", relErr))
		}
		return bufferError("unmap buffers", ErrUnmapFailed, errors.Join(errs...))
	}
	if relErr != nil {
		p.log.Warn("trigger-capture: buffer release failed", "error", relErr)
	}
	return nil
}

// Len is the number of granted buffers.
func (p *BufferPool) Len() int { return len(p.buffers) }

// State returns the state of buffer index, or BufferUnknown for an index
// outside the pool.
func (p *BufferPool) State(index int) BufferState {
	if index < 0 || index >= len(p.buffers) {
		return BufferUnknown
	}
	return p.buffers[index].state
}

// Counts tallies buffers per state.
func (p *BufferPool) Counts() map[BufferState]int {
	counts := make(map[BufferState]int, 3)
	for _, b := range p.buffers {
		counts[b.state]++
	}
	return counts
}
