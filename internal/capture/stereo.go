package capture

import (
	"fmt"
	"strings"
	"time"

	"github.com/open-beagle/framebridge/internal/frame"
)

// Packing describes how both eyes share one single-channel buffer.
type Packing int

const (
	// PackingStacked left eye rows first, then right eye rows
	PackingStacked Packing = iota
	// PackingRowInterleaved rows alternate left, right, left, ...
	PackingRowInterleaved
)

// String returns the string representation of Packing
func (p Packing) String() string {
	switch p {
	case PackingStacked:
		return "stacked"
	case PackingRowInterleaved:
		return "row-interleaved"
	default:
		return fmt.Sprintf("packing(%d)", int(p))
	}
}

// ParsePacking 解析双目打包方式
func ParsePacking(s string) (Packing, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "stacked":
		return PackingStacked, nil
	case "row-interleaved", "interleaved":
		return PackingRowInterleaved, nil
	default:
		return PackingStacked, fmt.Errorf("invalid stereo packing %q", s)
	}
}

// StereoImage is a raw dual-eye frame as delivered by a tracking camera.
// Width and Height describe the whole packed buffer; each eye is
// Width x Height/2. Rows are stored bottom-up.
type StereoImage struct {
	Width     int
	Height    int
	Packing   Packing
	Data      []byte
	Timestamp time.Time
}

// StereoProvider is the capability exposing raw dual-eye frames.
type StereoProvider interface {
	LatestStereoImage() (*StereoImage, bool)
}

// StereoAdapter extracts one eye of a StereoProvider into canonical RGBA.
type StereoAdapter struct {
	provider StereoProvider
	eye      Eye
	limits   Limits
	arena    *frame.Arena
}

// NewStereoAdapter 创建双目源适配器
func NewStereoAdapter(provider StereoProvider, eye Eye, limits Limits) *StereoAdapter {
	return &StereoAdapter{
		provider: provider,
		eye:      eye,
		limits:   limits,
		arena:    frame.NewArena(),
	}
}

// CaptureFrame implements Source.
func (a *StereoAdapter) CaptureFrame() (*frame.Buffer, error) {
	img, ok := a.provider.LatestStereoImage()
	if !ok || img == nil {
		return nil, ErrCaptureUnavailable
	}
	if img.Height%2 != 0 {
		return nil, malformed("odd packed height %d", img.Height)
	}

	width, eyeHeight := img.Width, img.Height/2
	if err := a.limits.check(width, eyeHeight); err != nil {
		return nil, err
	}
	if len(img.Data) != width*img.Height {
		return nil, malformed("data length %d does not match %dx%d", len(img.Data), width, img.Height)
	}

	out := a.arena.Buffer("stereo", width, eyeHeight, frame.FormatRGBA)
	eye := int(a.eye)
	for y := 0; y < eyeHeight; y++ {
		// source rows are bottom-up
		r := eyeHeight - 1 - y
		var srcRow int
		switch img.Packing {
		case PackingRowInterleaved:
			srcRow = r*2 + eye
		default:
			srcRow = eye*eyeHeight + r
		}
		expandGray(out.Data[y*width*4:(y+1)*width*4], img.Data[srcRow*width:(srcRow+1)*width])
	}
	out.Timestamp = img.Timestamp
	return out, nil
}

// Release drops the scratch buffers.
func (a *StereoAdapter) Release() {
	a.arena.Release()
}

// Allocations reports how many scratch allocations the adapter has made.
func (a *StereoAdapter) Allocations() int64 {
	return a.arena.Allocations()
}

func expandGray(dst, src []byte) {
	for i, v := range src {
		j := i * 4
		dst[j] = v
		dst[j+1] = v
		dst[j+2] = v
		dst[j+3] = 0xff
	}
}
