package loopback

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-beagle/framebridge/internal/frame"
)

func TestOverlayProcessor(t *testing.T) {
	img := frame.NewBuffer(2, 1, frame.FormatRGBA)
	copy(img.Data, []byte{100, 100, 100, 255, 100, 100, 100, 255})
	mask := &frame.Mask{Width: 2, Height: 1, Data: []byte{255, 0}}

	p := &OverlayProcessor{Color: [3]byte{200, 0, 0}, Alpha: 0.5}
	out, err := p.Process(img, mask)
	require.NoError(t, err)

	assert.Equal(t, []byte{150, 50, 50, 255}, out.Data[0:4])
	assert.Equal(t, []byte{100, 100, 100, 255}, out.Data[4:8], "unmasked pixel untouched")
}

func TestOverlayProcessor_NoMask(t *testing.T) {
	img := frame.NewBuffer(4, 4, frame.FormatRGBA)
	out, err := NewOverlayProcessor().Process(img, nil)
	require.NoError(t, err)
	assert.Same(t, img, out)
}

func TestOverlayProcessor_Rejects(t *testing.T) {
	p := NewOverlayProcessor()

	_, err := p.Process(frame.NewBuffer(4, 4, frame.FormatRGBA), frame.NewMask(2, 2))
	assert.Error(t, err)

	_, err = p.Process(frame.NewBuffer(4, 4, frame.FormatGray), frame.NewMask(4, 4))
	assert.Error(t, err)
}

func TestOverlayClampsAlpha(t *testing.T) {
	px := []byte{10, 20, 30, 255}
	overlay(px, []byte{1}, [3]byte{90, 80, 70}, 3)
	assert.Equal(t, []byte{90, 80, 70, 255}, px)
}

func TestNewProcessor(t *testing.T) {
	p, err := NewProcessor("overlay")
	require.NoError(t, err)
	assert.IsType(t, &OverlayProcessor{}, p)

	p, err = NewProcessor("echo")
	require.NoError(t, err)
	assert.IsType(t, EchoProcessor{}, p)

	_, err = NewProcessor("inpaint")
	assert.Error(t, err)
}

func TestDebugDumper_ShouldDump(t *testing.T) {
	var none *DebugDumper
	assert.False(t, none.ShouldDump(0))
	assert.Nil(t, NewDebugDumper("", 5))

	d := NewDebugDumper(t.TempDir(), 3)
	assert.True(t, d.ShouldDump(0))
	assert.False(t, d.ShouldDump(1))
	assert.True(t, d.ShouldDump(3))

	d = NewDebugDumper(t.TempDir(), 0)
	assert.True(t, d.ShouldDump(7), "every is at least one")
}
