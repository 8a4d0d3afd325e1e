package triggercapture

import (
	"errors"
	"testing"

	"github.com/e7canasta/trigger-capture/internal/control"
	"github.com/e7canasta/trigger-capture/internal/sim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openSim opens a fresh simulated device for component tests.
func openSim(t *testing.T, cfg sim.Config) (Surface, *sim.Device) {
	t.Helper()
	node := sim.NewNode(cfg)
	surface, err := node.Open("/dev/video0")
	require.NoError(t, err)
	return surface, node.Device(0)
}

// streamingPool returns a pool whose buffers are queued on a streaming device
// armed for software triggers.
func streamingPool(t *testing.T, cfg sim.Config, count int) (*BufferPool, *sim.Device) {
	t.Helper()
	surface, dev := openSim(t, cfg)
	pool := NewBufferPool(surface, quietLogger())
	require.NoError(t, pool.RequestBuffers(count))
	require.NoError(t, pool.MapAll())
	require.NoError(t, pool.QueueInitial())

	require.NoError(t, surface.SetTriggerMode(true))
	require.NoError(t, surface.SetTriggerSource(control.SourceSoftware))
	require.NoError(t, surface.StreamOn())
	pool.markStreaming(true)
	return pool, dev
}

func TestBufferPool_RequestBuffers(t *testing.T) {
	t.Run("invalid count", func(t *testing.T) {
		surface, _ := openSim(t, sim.DefaultConfig())
		pool := NewBufferPool(surface, quietLogger())
		for _, n := range []int{0, -1} {
			err := pool.RequestBuffers(n)
			assert.ErrorIs(t, err, ErrRequestFailed)
		}
	})

	t.Run("granted fewer", func(t *testing.T) {
		cfg := sim.DefaultConfig()
		cfg.MaxBuffers = 3
		surface, _ := openSim(t, cfg)
		pool := NewBufferPool(surface, quietLogger())
		require.NoError(t, pool.RequestBuffers(8))
		assert.Equal(t, 3, pool.Len())
	})

	t.Run("already allocated", func(t *testing.T) {
		surface, _ := openSim(t, sim.DefaultConfig())
		pool := NewBufferPool(surface, quietLogger())
		require.NoError(t, pool.RequestBuffers(2))
		assert.ErrorIs(t, pool.RequestBuffers(2), ErrRequestFailed)
	})

	t.Run("mmap not supported", func(t *testing.T) {
		cfg := sim.DefaultConfig()
		cfg.RejectMMAP = true
		surface, _ := openSim(t, cfg)
		pool := NewBufferPool(surface, quietLogger())
		err := pool.RequestBuffers(4)
		assert.ErrorIs(t, err, ErrMappingUnsupported)
		assert.Zero(t, pool.Len())
	})
}

func TestBufferPool_InitialQueueing(t *testing.T) {
	surface, dev := openSim(t, sim.DefaultConfig())
	pool := NewBufferPool(surface, quietLogger())
	require.NoError(t, pool.RequestBuffers(4))

	assert.ErrorIs(t, pool.QueueInitial(), ErrQueueFailed, "buffers must be mapped first")

	require.NoError(t, pool.MapAll())
	assert.Equal(t, map[BufferState]int{BufferFree: 4}, pool.Counts())
	assert.Equal(t, 4, dev.Mapped())

	require.NoError(t, pool.QueueInitial())
	assert.Equal(t, map[BufferState]int{BufferQueued: 4}, pool.Counts())
	assert.Equal(t, 4, dev.Queued())
	assert.ErrorIs(t, pool.QueueInitial(), ErrInvalidTransition, "queued buffers cannot be queued again")
}

func TestBufferPool_MapFailureReleasesMappings(t *testing.T) {
	for failAt := 0; failAt < 4; failAt++ {
		cfg := sim.DefaultConfig()
		cfg.MapFailAt = failAt
		surface, dev := openSim(t, cfg)
		pool := NewBufferPool(surface, quietLogger())
		require.NoError(t, pool.RequestBuffers(4))

		err := pool.MapAll()
		assert.ErrorIs(t, err, ErrMapFailed)
		assert.Zero(t, dev.Mapped(), "fail at %d", failAt)
		assert.Equal(t, failAt, countCalls(dev.Calls(), string(sim.OpUnmapBuffer)))
		assert.Empty(t, dev.Violations())
	}
}

// TestBufferPool_Transitions walks every buffer through the legal cycle
// FREE→QUEUED→READY→QUEUED and checks the illegal moves are refused.
func TestBufferPool_Transitions(t *testing.T) {
	pool, dev := streamingPool(t, sim.DefaultConfig(), 4)

	_, err := pool.Dequeue()
	assert.Equal(t, ErrWouldBlock, err, "nothing ready yet is the bare would-block error")
	_, classified := ClassOf(err)
	assert.False(t, classified)

	assert.ErrorIs(t, pool.Requeue(0), ErrInvalidTransition, "QUEUED→QUEUED")
	assert.Nil(t, pool.Bytes(0), "no access to a buffer the driver owns")

	for round := 0; round < 3; round++ {
		for i := 0; i < pool.Len(); i++ {
			require.NoError(t, dev.FireSoftwareTrigger())

			d, err := pool.Dequeue()
			require.NoError(t, err)
			assert.Equal(t, i, d.Index, "buffers complete in queue order")
			assert.Equal(t, BufferReady, pool.State(d.Index))
			require.NotNil(t, pool.Bytes(d.Index))
			assert.Equal(t, byte(d.Sequence), pool.Bytes(d.Index)[0])

			require.NoError(t, pool.Requeue(d.Index))
			assert.Equal(t, BufferQueued, pool.State(d.Index))
			assert.ErrorIs(t, pool.Requeue(d.Index), ErrInvalidTransition, "READY→QUEUED happens once")
		}
	}

	assert.ErrorIs(t, pool.Requeue(-1), ErrInvalidTransition)
	assert.ErrorIs(t, pool.Requeue(pool.Len()), ErrInvalidTransition)
	assert.Equal(t, map[BufferState]int{BufferQueued: 4}, pool.Counts())
	assert.Empty(t, dev.Violations())
}

func TestBufferPool_BytesUsedClamped(t *testing.T) {
	size := 64 * 48 * 4
	tests := []struct {
		name      string
		bytesUsed int
		want      int
	}{
		{"full buffer", 0, size},
		{"partial", 100, 100},
		{"driver overstates", size * 2, size},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := sim.DefaultConfig()
			cfg.BytesUsed = tt.bytesUsed
			pool, dev := streamingPool(t, cfg, 2)

			require.NoError(t, dev.FireSoftwareTrigger())
			d, err := pool.Dequeue()
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.BytesUsed)
		})
	}
}

func TestBufferPool_DequeueFailure(t *testing.T) {
	surface, _ := openSim(t, sim.DefaultConfig())
	pool := NewBufferPool(surface, quietLogger())
	require.NoError(t, pool.RequestBuffers(2))
	require.NoError(t, pool.MapAll())
	require.NoError(t, pool.QueueInitial())

	_, err := pool.Dequeue()
	assert.ErrorIs(t, err, ErrDequeueFailed, "dequeue on a stopped stream")
	assert.True(t, IsFatal(err))
}

type rogueSurface struct {
	control.Surface
	index int
}

func (r rogueSurface) RequestBuffers(count int) (int, error) { return count, nil }

func (r rogueSurface) DequeueBuffer() (control.Dequeued, error) {
	return control.Dequeued{Index: r.index}, nil
}

func TestBufferPool_DequeueRejectsUnknownIndex(t *testing.T) {
	pool := NewBufferPool(rogueSurface{index: 9}, quietLogger())
	require.NoError(t, pool.RequestBuffers(2))

	_, err := pool.Dequeue()
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestBufferPool_UnmapAndFree(t *testing.T) {
	t.Run("refused while streaming", func(t *testing.T) {
		pool, dev := streamingPool(t, sim.DefaultConfig(), 4)

		err := pool.UnmapAndFree()
		assert.ErrorIs(t, err, ErrStillStreaming)
		assert.Equal(t, 4, dev.Mapped())

		require.NoError(t, dev.StreamOff())
		pool.markStreaming(false)
		require.NoError(t, pool.UnmapAndFree())
		assert.Zero(t, dev.Mapped())
		assert.Zero(t, dev.Allocated())
		assert.Zero(t, pool.Len())
		assert.Empty(t, dev.Violations())
	})

	t.Run("unmap failure", func(t *testing.T) {
		surface, dev := openSim(t, sim.DefaultConfig())
		pool := NewBufferPool(surface, quietLogger())
		require.NoError(t, pool.RequestBuffers(2))
		require.NoError(t, pool.MapAll())

		dev.SetFault(sim.OpUnmapBuffer, errors.New("munmap: invalid argument"))
		err := pool.UnmapAndFree()
		assert.ErrorIs(t, err, ErrUnmapFailed)
		assert.ErrorIs(t, err, sim.ErrBusy, "release refusal is reported with the unmap failure")
		assert.NotEqual(t, -1, indexOfCall(dev.Calls(), "RequestBuffers[0]"), "release is still attempted")
		assert.Zero(t, pool.Len())
	})

	t.Run("empty pool", func(t *testing.T) {
		surface, dev := openSim(t, sim.DefaultConfig())
		pool := NewBufferPool(surface, quietLogger())
		assert.NoError(t, pool.UnmapAndFree())
		assert.Empty(t, dev.Calls())
	})
}

func TestBufferPool_StateOutOfRange(t *testing.T) {
	surface, _ := openSim(t, sim.DefaultConfig())
	pool := NewBufferPool(surface, quietLogger())
	assert.Equal(t, BufferUnknown, pool.State(0), "empty pool")

	require.NoError(t, pool.RequestBuffers(2))
	require.NoError(t, pool.MapAll())
	assert.Equal(t, BufferFree, pool.State(1))
	assert.Equal(t, BufferUnknown, pool.State(2))
	assert.Equal(t, BufferUnknown, pool.State(-1))
	assert.Equal(t, "unknown", pool.State(5).String())
}
