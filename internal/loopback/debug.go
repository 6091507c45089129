package loopback

import (
	"fmt"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"

	"github.com/open-beagle/framebridge/internal/codec"
	"github.com/open-beagle/framebridge/internal/frame"
)

// DebugDumper writes every Nth frame of a connection to disk as
//
//	{index}_orig.jpg         received image
//	{index}_mask.png         received mask, binarized
//	{index}_mask_overlay.jpg mask tinted over the received image
//	{index}_out.jpg          processed image
type DebugDumper struct {
	Dir   string
	Every int
}

// NewDebugDumper returns nil when dir is empty.
func NewDebugDumper(dir string, every int) *DebugDumper {
	if dir == "" {
		return nil
	}
	return &DebugDumper{Dir: dir, Every: max(1, every)}
}

// ShouldDump reports whether frame index is sampled.
func (d *DebugDumper) ShouldDump(index int) bool {
	return d != nil && index%d.Every == 0
}

// Dump writes the debug files for one frame. orig must not alias out.
func (d *DebugDumper) Dump(prefix string, index int, orig *frame.Buffer, mask *frame.Mask, out *frame.Buffer) error {
	if err := os.MkdirAll(d.Dir, 0755); err != nil {
		return fmt.Errorf("create debug dir: %w", err)
	}
	stem := filepath.Join(d.Dir, fmt.Sprintf("%s%06d", prefix, index))

	if err := writeJPEG(stem+"_orig.jpg", orig); err != nil {
		return err
	}
	if out != nil {
		if err := writeJPEG(stem+"_out.jpg", out); err != nil {
			return err
		}
	}
	if mask == nil {
		return nil
	}

	bin := mask.Clone()
	for i, v := range bin.Data {
		if v > 0 {
			bin.Data[i] = frame.MaskOccluded
		}
	}
	if err := writePNG(stem+"_mask.png", bin); err != nil {
		return err
	}

	tinted := orig.Clone()
	p := NewOverlayProcessor()
	overlay(tinted.Data, bin.Data, p.Color, p.Alpha)
	return writeJPEG(stem+"_mask_overlay.jpg", tinted)
}

func writeJPEG(path string, buf *frame.Buffer) error {
	img, err := codec.ToImage(buf)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: 90}); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}

func writePNG(path string, m *frame.Mask) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, codec.MaskImage(m)); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}
