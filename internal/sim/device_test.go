package sim

import (
	"errors"
	"testing"

	"github.com/e7canasta/trigger-capture/internal/control"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openDevice(t *testing.T, cfg Config) *Device {
	t.Helper()
	s, err := NewNode(cfg).Open("/dev/video0")
	require.NoError(t, err)
	return s.(*Device)
}

func TestDevice_TriggerSourceRequiresTriggerMode(t *testing.T) {
	d := openDevice(t, DefaultConfig())

	err := d.SetTriggerSource(control.SourceSoftware)
	assert.ErrorIs(t, err, control.ErrTriggerModeDisabled)
	err = d.SetTriggerActivation(control.ActivationFallingEdge)
	assert.ErrorIs(t, err, control.ErrTriggerModeDisabled)
	assert.Len(t, d.Violations(), 2)

	require.NoError(t, d.SetTriggerMode(true))
	require.NoError(t, d.SetTriggerSource(control.SourceSoftware))
	require.NoError(t, d.SetTriggerActivation(control.ActivationFallingEdge))
	assert.Equal(t, control.SourceSoftware, d.Source())
	assert.Equal(t, control.ActivationFallingEdge, d.Activation())
}

func TestDevice_SoftwareTriggerFillsOldestQueuedBuffer(t *testing.T) {
	d := openDevice(t, DefaultConfig())

	n, err := d.RequestBuffers(3)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	for i := 0; i < n; i++ {
		info, err := d.QueryBuffer(i)
		require.NoError(t, err)
		_, err = d.MapBuffer(info)
		require.NoError(t, err)
		require.NoError(t, d.QueueBuffer(i))
	}
	require.NoError(t, d.SetTriggerMode(true))
	require.NoError(t, d.SetTriggerSource(control.SourceSoftware))
	require.NoError(t, d.StreamOn())

	_, err = d.DequeueBuffer()
	assert.ErrorIs(t, err, control.ErrWouldBlock)

	require.NoError(t, d.FireSoftwareTrigger())
	got, err := d.DequeueBuffer()
	require.NoError(t, err)
	assert.Equal(t, 0, got.Index)
	assert.Equal(t, uint32(1), got.Sequence)
	assert.Equal(t, 2, d.Queued())

	err = d.QueueBuffer(1)
	assert.ErrorIs(t, err, ErrInvalid, "buffer 1 is still queued")
	assert.NotEmpty(t, d.Violations())
}

func TestDevice_WouldBlockPerFrame(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WouldBlockPerFrame = 3
	d := openDevice(t, cfg)

	_, err := d.RequestBuffers(1)
	require.NoError(t, err)
	require.NoError(t, d.QueueBuffer(0))
	require.NoError(t, d.SetTriggerMode(true))
	require.NoError(t, d.SetTriggerSource(control.SourceLine0))
	require.NoError(t, d.StreamOn())
	require.True(t, d.PulseLine(control.SourceLine0))

	blocked := 0
	for {
		_, err := d.DequeueBuffer()
		if errors.Is(err, control.ErrWouldBlock) {
			blocked++
			continue
		}
		require.NoError(t, err)
		break
	}
	assert.Equal(t, 3, blocked)
}

func TestDevice_ReleaseRules(t *testing.T) {
	d := openDevice(t, DefaultConfig())

	_, err := d.RequestBuffers(2)
	require.NoError(t, err)
	info, err := d.QueryBuffer(0)
	require.NoError(t, err)
	mem, err := d.MapBuffer(info)
	require.NoError(t, err)

	_, err = d.RequestBuffers(0)
	assert.ErrorIs(t, err, ErrBusy, "mapped buffers block release")

	require.NoError(t, d.UnmapBuffer(mem))
	_, err = d.RequestBuffers(0)
	require.NoError(t, err)
	assert.Zero(t, d.Allocated())

	require.NoError(t, d.Close())
	assert.ErrorIs(t, d.Close(), ErrClosed)
}

func TestNode_FailOpen(t *testing.T) {
	n := NewNode(DefaultConfig())
	n.FailOpen(2, ErrBusy)

	_, err := n.Open("/dev/video0")
	require.NoError(t, err)
	_, err = n.Open("/dev/video0")
	assert.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, 2, n.Opens())
	assert.Nil(t, n.Device(1))
}

func TestDevice_CallsRecordArguments(t *testing.T) {
	d := openDevice(t, DefaultConfig())

	require.NoError(t, d.SetTriggerMode(true))
	_, err := d.RequestBuffers(2)
	require.NoError(t, err)
	require.NoError(t, d.StreamOff())

	assert.Equal(t, []string{"SetTriggerMode[true]", "RequestBuffers[2]", "StreamOff"}, d.Calls())
}
