// Package capture adapts raw platform pixel sources into canonical RGBA
// frames for the bridge pipeline.
package capture

import (
	"errors"
	"fmt"
	"strings"

	"github.com/open-beagle/framebridge/internal/frame"
)

// DefaultMinDimension sources at or below this size in either axis are rejected.
const DefaultMinDimension = 16

// ErrCaptureUnavailable no source frame this tick. Every rejection returned
// by an adapter wraps it, so callers only need errors.Is.
var ErrCaptureUnavailable = errors.New("capture unavailable")

// Source produces one canonical frame per call.
//
// The returned buffer is scratch memory owned by the source and is only
// valid until the next call.
type Source interface {
	CaptureFrame() (*frame.Buffer, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func() (*frame.Buffer, error)

// CaptureFrame implements Source.
func (f SourceFunc) CaptureFrame() (*frame.Buffer, error) {
	return f()
}

// Releaser is implemented by sources holding scratch buffers.
type Releaser interface {
	Release()
}

// Limits 最小分辨率阈值
type Limits struct {
	MinWidth  int
	MinHeight int
}

// DefaultLimits returns the default minimum resolution thresholds.
func DefaultLimits() Limits {
	return Limits{MinWidth: DefaultMinDimension, MinHeight: DefaultMinDimension}
}

func (l Limits) check(width, height int) error {
	if width <= l.MinWidth || height <= l.MinHeight {
		return fmt.Errorf("%w: %dx%d is below the %dx%d minimum",
			ErrCaptureUnavailable, width, height, l.MinWidth+1, l.MinHeight+1)
	}
	return nil
}

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: malformed source frame: %s", ErrCaptureUnavailable, fmt.Sprintf(format, args...))
}

// Eye selects one half of a dual-eye source.
type Eye int

const (
	EyeLeft Eye = iota
	EyeRight
)

// String returns the string representation of Eye
func (e Eye) String() string {
	if e == EyeRight {
		return "right"
	}
	return "left"
}

// ParseEye 解析眼睛选择
func ParseEye(s string) (Eye, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "left", "l", "0":
		return EyeLeft, nil
	case "right", "r", "1":
		return EyeRight, nil
	default:
		return EyeLeft, fmt.Errorf("invalid eye %q", s)
	}
}
