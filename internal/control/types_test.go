package control

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTriggerSource(t *testing.T) {
	tests := []struct {
		in      string
		want    TriggerSource
		wantErr bool
	}{
		{"software", SourceSoftware, false},
		{"Line0", SourceLine0, false},
		{" line1 ", SourceLine1, false},
		{"line2", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTriggerSource(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.True(t, got.Valid())
		})
	}
}

func TestParseTriggerActivation_RoundTripsString(t *testing.T) {
	for a := ActivationRisingEdge; a <= ActivationLevelLow; a++ {
		got, err := ParseTriggerActivation(a.String())
		require.NoError(t, err)
		assert.Equal(t, a, got)
	}

	_, err := ParseTriggerActivation("sideways")
	assert.Error(t, err)
	assert.False(t, TriggerActivation(9).Valid())
}

func TestFourCC(t *testing.T) {
	assert.Equal(t, "BX24", PixelFormatXRGB32.String())

	f, err := NewFourCC("BX24")
	require.NoError(t, err)
	assert.Equal(t, PixelFormatXRGB32, f)

	_, err = NewFourCC("RGB")
	assert.Error(t, err)
}

func TestFrameRate_FPS(t *testing.T) {
	assert.InDelta(t, 5.0, FrameRate{Numerator: 1000, Denominator: 5000}.FPS(), 1e-9)
	assert.Zero(t, FrameRate{}.FPS())
}

func TestCapabilities(t *testing.T) {
	c := Capabilities{Flags: CapVideoCapture}
	assert.True(t, c.CanCapture())
	assert.False(t, c.CanStream())

	c.Flags |= CapStreaming
	assert.True(t, c.CanStream())
}
