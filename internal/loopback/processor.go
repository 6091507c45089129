package loopback

import (
	"fmt"

	"github.com/open-beagle/framebridge/internal/frame"
)

// Processor turns one received frame and its optional mask into the frame
// sent back. mask is nil when the client sent none or its size did not
// match the image. Implementations may modify img in place.
type Processor interface {
	Process(img *frame.Buffer, mask *frame.Mask) (*frame.Buffer, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(img *frame.Buffer, mask *frame.Mask) (*frame.Buffer, error)

// Process implements Processor.
func (f ProcessorFunc) Process(img *frame.Buffer, mask *frame.Mask) (*frame.Buffer, error) {
	return f(img, mask)
}

// EchoProcessor returns the image unchanged.
type EchoProcessor struct{}

// Process implements Processor.
func (EchoProcessor) Process(img *frame.Buffer, _ *frame.Mask) (*frame.Buffer, error) {
	return img, nil
}

// OverlayProcessor tints masked pixels so the mask is visible on the
// returned frame.
type OverlayProcessor struct {
	// Color RGB 叠加颜色
	Color [3]byte
	// Alpha 叠加不透明度 0-1
	Alpha float64
}

// NewOverlayProcessor returns a red overlay at 40% opacity.
func NewOverlayProcessor() *OverlayProcessor {
	return &OverlayProcessor{Color: [3]byte{255, 0, 0}, Alpha: 0.4}
}

// Process implements Processor.
func (p *OverlayProcessor) Process(img *frame.Buffer, mask *frame.Mask) (*frame.Buffer, error) {
	if mask == nil {
		return img, nil
	}
	if img.Format != frame.FormatRGBA {
		return nil, fmt.Errorf("overlay: unsupported pixel format %s", img.Format)
	}
	if !mask.SameSize(img.Width, img.Height) {
		return nil, fmt.Errorf("overlay: mask %dx%d does not match image %dx%d",
			mask.Width, mask.Height, img.Width, img.Height)
	}
	overlay(img.Data, mask.Data, p.Color, p.Alpha)
	return img, nil
}

// overlay blends color into every RGBA pixel whose mask value is non-zero.
func overlay(rgba, mask []byte, color [3]byte, alpha float64) {
	alpha = min(max(alpha, 0), 1)
	keep := 1 - alpha
	for i, m := range mask {
		if m == 0 {
			continue
		}
		px := rgba[i*4 : i*4+3]
		for c := range px {
			px[c] = byte(float64(px[c])*keep + float64(color[c])*alpha + 0.5)
		}
	}
}

// NewProcessor returns the processor registered under name.
func NewProcessor(name string) (Processor, error) {
	switch name {
	case "", "overlay":
		return NewOverlayProcessor(), nil
	case "echo":
		return EchoProcessor{}, nil
	default:
		return nil, fmt.Errorf("unknown processor %q", name)
	}
}
