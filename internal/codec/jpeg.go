package codec

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"

	"github.com/open-beagle/framebridge/internal/frame"
)

const (
	// MinQuality / MaxQuality JPEG 质量范围
	MinQuality = 1
	MaxQuality = 100

	// DefaultQuality 默认 JPEG 质量
	DefaultQuality = 75

	// MinDecodedSize 解码后图像的最小边长
	MinDecodedSize = 2
)

var (
	// ErrEmptyEncode is returned when the encoder produced no bytes.
	ErrEmptyEncode = errors.New("codec: encoder produced empty output")

	// ErrImageTooSmall is returned when a decoded image is below 2x2.
	ErrImageTooSmall = errors.New("codec: decoded image too small")
)

// Encoder compresses a canonical pixel buffer.
type Encoder interface {
	Encode(buf *frame.Buffer) ([]byte, error)
}

// Decoder decompresses a byte stream into a canonical pixel buffer.
type Decoder interface {
	Decode(data []byte) (*frame.Buffer, error)
}

// JPEG 实现有损 JPEG 编解码
type JPEG struct {
	Quality int
}

// NewJPEG 创建 JPEG 编解码器，质量被限制在 1-100
func NewJPEG(quality int) *JPEG {
	return &JPEG{Quality: ClampQuality(quality)}
}

// ClampQuality clamps q to [MinQuality, MaxQuality].
func ClampQuality(q int) int {
	if q < MinQuality {
		return MinQuality
	}
	if q > MaxQuality {
		return MaxQuality
	}
	return q
}

// Encode compresses buf. Alpha is discarded.
func (c *JPEG) Encode(buf *frame.Buffer) ([]byte, error) {
	if err := buf.Validate(); err != nil {
		return nil, fmt.Errorf("codec: invalid input: %w", err)
	}

	img, err := ToImage(buf)
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	out.Grow(len(buf.Data) / 8)
	if err := jpeg.Encode(&out, img, &jpeg.Options{Quality: ClampQuality(c.Quality)}); err != nil {
		return nil, fmt.Errorf("codec: jpeg encode: %w", err)
	}
	if out.Len() == 0 {
		return nil, ErrEmptyEncode
	}
	return out.Bytes(), nil
}

// Decode parses an arbitrary byte stream into an RGBA buffer.
func (c *JPEG) Decode(data []byte) (*frame.Buffer, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("codec: empty payload")
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("codec: decode: %w", err)
	}

	return FromImage(img)
}

// ToImage wraps buf as an image.Image without copying.
func ToImage(buf *frame.Buffer) (image.Image, error) {
	rect := image.Rect(0, 0, buf.Width, buf.Height)
	switch buf.Format {
	case frame.FormatGray:
		return &image.Gray{Pix: buf.Data, Stride: buf.Stride(), Rect: rect}, nil
	case frame.FormatRGBA:
		return &image.RGBA{Pix: buf.Data, Stride: buf.Stride(), Rect: rect}, nil
	default:
		return nil, fmt.Errorf("codec: unsupported pixel format %s", buf.Format)
	}
}

// FromImage converts any decoded image into a canonical RGBA buffer.
func FromImage(img image.Image) (*frame.Buffer, error) {
	bounds := img.Bounds()
	if bounds.Dx() < MinDecodedSize || bounds.Dy() < MinDecodedSize {
		return nil, fmt.Errorf("%w: %dx%d", ErrImageTooSmall, bounds.Dx(), bounds.Dy())
	}

	out := frame.NewBuffer(bounds.Dx(), bounds.Dy(), frame.FormatRGBA)
	dst := &image.RGBA{Pix: out.Data, Stride: out.Stride(), Rect: image.Rect(0, 0, out.Width, out.Height)}
	draw.Draw(dst, dst.Rect, img, bounds.Min, draw.Src)
	return out, nil
}

// MaskImage wraps a mask as a grayscale image.
func MaskImage(m *frame.Mask) *image.Gray {
	return &image.Gray{Pix: m.Data, Stride: m.Width, Rect: image.Rect(0, 0, m.Width, m.Height)}
}
