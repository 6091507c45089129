package frame

import (
	"fmt"
	"time"
)

// PixelFormat 像素格式
type PixelFormat int

const (
	FormatUnknown PixelFormat = iota
	FormatGray
	FormatRGBA
)

// String returns the string representation of PixelFormat
func (f PixelFormat) String() string {
	switch f {
	case FormatGray:
		return "gray"
	case FormatRGBA:
		return "rgba"
	default:
		return "unknown"
	}
}

// Channels 返回每个像素的字节数
func (f PixelFormat) Channels() int {
	switch f {
	case FormatGray:
		return 1
	case FormatRGBA:
		return 4
	default:
		return 0
	}
}

// ParsePixelFormat 解析像素格式字符串
func ParsePixelFormat(s string) (PixelFormat, error) {
	switch s {
	case "gray", "r8", "l8":
		return FormatGray, nil
	case "rgba", "rgba32":
		return FormatRGBA, nil
	default:
		return FormatUnknown, fmt.Errorf("unsupported pixel format: %q", s)
	}
}

// Buffer is a tightly packed, row-major pixel buffer. Row 0 is the top row.
type Buffer struct {
	Width  int
	Height int
	Format PixelFormat
	Data   []byte

	// Timestamp is when the buffer was produced
	Timestamp time.Time
}

// NewBuffer allocates a zeroed buffer.
func NewBuffer(width, height int, format PixelFormat) *Buffer {
	return &Buffer{
		Width:     width,
		Height:    height,
		Format:    format,
		Data:      make([]byte, width*height*format.Channels()),
		Timestamp: time.Now(),
	}
}

// Stride 返回每行字节数
func (b *Buffer) Stride() int {
	return b.Width * b.Format.Channels()
}

// Validate checks len(Data) == Width*Height*Channels.
func (b *Buffer) Validate() error {
	if b == nil {
		return fmt.Errorf("nil pixel buffer")
	}
	if b.Width <= 0 || b.Height <= 0 {
		return fmt.Errorf("invalid dimensions %dx%d", b.Width, b.Height)
	}
	channels := b.Format.Channels()
	if channels == 0 {
		return fmt.Errorf("invalid pixel format %s", b.Format)
	}
	if want := b.Width * b.Height * channels; len(b.Data) != want {
		return fmt.Errorf("pixel data length %d does not match %dx%dx%d=%d",
			len(b.Data), b.Width, b.Height, channels, want)
	}
	return nil
}

// Clone creates a deep copy of the buffer
func (b *Buffer) Clone() *Buffer {
	data := make([]byte, len(b.Data))
	copy(data, b.Data)
	return &Buffer{
		Width:     b.Width,
		Height:    b.Height,
		Format:    b.Format,
		Data:      data,
		Timestamp: b.Timestamp,
	}
}

// Mask 遮挡掩码，单通道，0 为背景，255 为遮挡
type Mask struct {
	Width  int
	Height int
	Data   []byte
}

// Mask values
const (
	MaskClear    byte = 0
	MaskOccluded byte = 255

	// MaskThreshold 二值化阈值
	MaskThreshold byte = 128
)

// NewMask allocates an all-background mask.
func NewMask(width, height int) *Mask {
	return &Mask{
		Width:  width,
		Height: height,
		Data:   make([]byte, width*height),
	}
}

// Validate checks len(Data) == Width*Height.
func (m *Mask) Validate() error {
	if m == nil {
		return fmt.Errorf("nil mask")
	}
	if m.Width <= 0 || m.Height <= 0 {
		return fmt.Errorf("invalid mask dimensions %dx%d", m.Width, m.Height)
	}
	if len(m.Data) != m.Width*m.Height {
		return fmt.Errorf("mask data length %d does not match %dx%d", len(m.Data), m.Width, m.Height)
	}
	return nil
}

// SameSize reports whether the mask matches the given dimensions.
func (m *Mask) SameSize(width, height int) bool {
	return m.Width == width && m.Height == height
}

// Clear resets every pixel to background.
func (m *Mask) Clear() {
	clear(m.Data)
}

// Clone creates a deep copy of the mask
func (m *Mask) Clone() *Mask {
	data := make([]byte, len(m.Data))
	copy(data, m.Data)
	return &Mask{Width: m.Width, Height: m.Height, Data: data}
}

// Coverage returns the number of occluded pixels (value >= MaskThreshold).
func (m *Mask) Coverage() int {
	n := 0
	for _, v := range m.Data {
		if v >= MaskThreshold {
			n++
		}
	}
	return n
}
