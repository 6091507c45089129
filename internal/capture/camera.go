package capture

import (
	"fmt"
	"strings"
	"time"

	"github.com/open-beagle/framebridge/internal/frame"
)

// CameraFormat 平台相机像素格式
type CameraFormat int

const (
	CameraRGBA CameraFormat = iota
	CameraBGRA
	CameraRGB24
	CameraGray
)

// BytesPerPixel returns the packed pixel size.
func (f CameraFormat) BytesPerPixel() int {
	switch f {
	case CameraRGBA, CameraBGRA:
		return 4
	case CameraRGB24:
		return 3
	case CameraGray:
		return 1
	default:
		return 0
	}
}

// String returns the string representation of CameraFormat
func (f CameraFormat) String() string {
	switch f {
	case CameraRGBA:
		return "rgba"
	case CameraBGRA:
		return "bgra"
	case CameraRGB24:
		return "rgb24"
	case CameraGray:
		return "gray"
	default:
		return fmt.Sprintf("camera-format(%d)", int(f))
	}
}

// ParseCameraFormat 解析相机像素格式
func ParseCameraFormat(s string) (CameraFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "rgba":
		return CameraRGBA, nil
	case "bgra":
		return CameraBGRA, nil
	case "rgb", "rgb24":
		return CameraRGB24, nil
	case "gray", "grey", "l8":
		return CameraGray, nil
	default:
		return CameraRGBA, fmt.Errorf("invalid camera format %q", s)
	}
}

// CameraImage is a platform camera frame.
type CameraImage struct {
	Width  int
	Height int
	// Stride is the row pitch in bytes; 0 means tightly packed.
	Stride int
	Format CameraFormat
	// BottomUp is set when row 0 is the bottom row.
	BottomUp  bool
	Data      []byte
	Timestamp time.Time
}

// CameraProvider is the capability exposing platform camera frames.
type CameraProvider interface {
	LatestCameraImage() (*CameraImage, bool)
}

// CameraAdapter normalizes a CameraProvider into canonical RGBA.
type CameraAdapter struct {
	provider CameraProvider
	limits   Limits
	arena    *frame.Arena
}

// NewCameraAdapter 创建相机源适配器
func NewCameraAdapter(provider CameraProvider, limits Limits) *CameraAdapter {
	return &CameraAdapter{
		provider: provider,
		limits:   limits,
		arena:    frame.NewArena(),
	}
}

// CaptureFrame implements Source.
func (a *CameraAdapter) CaptureFrame() (*frame.Buffer, error) {
	img, ok := a.provider.LatestCameraImage()
	if !ok || img == nil {
		return nil, ErrCaptureUnavailable
	}
	if err := a.limits.check(img.Width, img.Height); err != nil {
		return nil, err
	}

	bpp := img.Format.BytesPerPixel()
	if bpp == 0 {
		return nil, malformed("unsupported format %s", img.Format)
	}
	rowBytes := img.Width * bpp
	stride := img.Stride
	if stride == 0 {
		stride = rowBytes
	}
	if stride < rowBytes {
		return nil, malformed("stride %d shorter than row of %d bytes", stride, rowBytes)
	}
	if need := stride*(img.Height-1) + rowBytes; len(img.Data) < need {
		return nil, malformed("data length %d shorter than %d", len(img.Data), need)
	}

	out := a.arena.Buffer("camera", img.Width, img.Height, frame.FormatRGBA)
	for y := 0; y < img.Height; y++ {
		srcRow := y
		if img.BottomUp {
			srcRow = img.Height - 1 - y
		}
		src := img.Data[srcRow*stride : srcRow*stride+rowBytes]
		dst := out.Data[y*img.Width*4 : (y+1)*img.Width*4]
		convertRow(dst, src, img.Format)
	}
	out.Timestamp = img.Timestamp
	return out, nil
}

// Release drops the scratch buffers.
func (a *CameraAdapter) Release() {
	a.arena.Release()
}

func convertRow(dst, src []byte, format CameraFormat) {
	switch format {
	case CameraRGBA:
		copy(dst, src)
	case CameraBGRA:
		for i := 0; i+3 < len(src); i += 4 {
			dst[i] = src[i+2]
			dst[i+1] = src[i+1]
			dst[i+2] = src[i]
			dst[i+3] = src[i+3]
		}
	case CameraRGB24:
		for i, j := 0, 0; i+2 < len(src); i, j = i+3, j+4 {
			dst[j] = src[i]
			dst[j+1] = src[i+1]
			dst[j+2] = src[i+2]
			dst[j+3] = 0xff
		}
	case CameraGray:
		expandGray(dst, src)
	}
}
