// Package mask reconciles and merges occlusion masks before transmission.
//
// Only resolution is reconciled. Two masks rendered by cameras with
// different fields of view are resampled onto the same grid, not
// re-projected, so their contents may be misaligned.
package mask

import (
	"github.com/open-beagle/framebridge/internal/frame"
)

// Source is the secondary (geometry-rendered) mask collaborator.
type Source interface {
	// CaptureMask returns the latest mask, or false when none is available.
	CaptureMask() (*frame.Mask, bool)
}

// SourceFunc adapts a function to Source.
type SourceFunc func() (*frame.Mask, bool)

// CaptureMask implements Source.
func (f SourceFunc) CaptureMask() (*frame.Mask, bool) { return f() }

// Resample returns m at dstW x dstH using nearest-neighbour sampling on a
// normalized grid, binarized at 128. When the size already matches, an
// unmodified copy is returned.
func Resample(m *frame.Mask, dstW, dstH int) *frame.Mask {
	if m == nil || dstW <= 0 || dstH <= 0 {
		return nil
	}
	if m.SameSize(dstW, dstH) {
		return m.Clone()
	}

	out := frame.NewMask(dstW, dstH)
	if m.Width <= 0 || m.Height <= 0 || len(m.Data) < m.Width*m.Height {
		return out
	}

	for y := 0; y < dstH; y++ {
		sy := int((float64(y) + 0.5) / float64(dstH) * float64(m.Height))
		if sy >= m.Height {
			sy = m.Height - 1
		}
		srcRow := m.Data[sy*m.Width : (sy+1)*m.Width]
		dstRow := out.Data[y*dstW : (y+1)*dstW]
		for x := 0; x < dstW; x++ {
			sx := int((float64(x) + 0.5) / float64(dstW) * float64(m.Width))
			if sx >= m.Width {
				sx = m.Width - 1
			}
			if srcRow[sx] >= frame.MaskThreshold {
				dstRow[x] = frame.MaskOccluded
			}
		}
	}
	return out
}

// Composite merges the skeletal and geometry masks at width x height.
//
// Returns nil when neither mask is present, meaning the request goes out
// without a mask. A single mask is returned as a copy (resampled if needed).
// Two masks are OR-ed pixel-wise with the result normalized to 0/255.
func Composite(a, b *frame.Mask, width, height int) *frame.Mask {
	if a != nil && a.Validate() != nil {
		a = nil
	}
	if b != nil && b.Validate() != nil {
		b = nil
	}

	switch {
	case a == nil && b == nil:
		return nil
	case a == nil:
		return Resample(b, width, height)
	case b == nil:
		return Resample(a, width, height)
	}

	ra := a
	if !a.SameSize(width, height) {
		ra = Resample(a, width, height)
	}
	rb := b
	if !b.SameSize(width, height) {
		rb = Resample(b, width, height)
	}

	out := frame.NewMask(width, height)
	for i := range out.Data {
		if ra.Data[i] >= frame.MaskThreshold || rb.Data[i] >= frame.MaskThreshold {
			out.Data[i] = frame.MaskOccluded
		}
	}
	return out
}

// Normalize binarizes m in place at 128.
func Normalize(m *frame.Mask) *frame.Mask {
	if m == nil {
		return nil
	}
	for i, v := range m.Data {
		if v >= frame.MaskThreshold {
			m.Data[i] = frame.MaskOccluded
		} else {
			m.Data[i] = frame.MaskClear
		}
	}
	return m
}
