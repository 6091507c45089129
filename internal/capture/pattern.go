package capture

import (
	"sync"
	"time"
)

// PatternProvider generates a moving test pattern. It serves both dual-eye
// and camera frames so a stream can run without capture hardware.
type PatternProvider struct {
	mu      sync.Mutex
	width   int
	height  int
	packing Packing
	seq     int
	now     func() time.Time

	stereo *StereoImage
	camera *CameraImage
}

// NewPatternProvider creates a pattern of width x height per eye.
func NewPatternProvider(width, height int, packing Packing) *PatternProvider {
	return &PatternProvider{
		width:   width,
		height:  height,
		packing: packing,
		now:     time.Now,
	}
}

// value of the pattern at (x, y) of one eye, y measured from the top
func (p *PatternProvider) value(x, y, eye int) byte {
	// bright box sweeping horizontally
	bx := (p.seq * 4) % max(1, p.width)
	if x >= bx && x < bx+p.width/8 && y >= p.height/3 && y < p.height/3+p.height/8 {
		return 0xff
	}
	return byte((x + y + eye*32) & 0x7f)
}

// LatestStereoImage implements StereoProvider.
func (p *PatternProvider) LatestStereoImage() (*StereoImage, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.width <= 0 || p.height <= 0 {
		return nil, false
	}
	p.seq++

	w, h := p.width, p.height
	if p.stereo == nil {
		p.stereo = &StereoImage{Width: w, Height: h * 2, Packing: p.packing, Data: make([]byte, w*h*2)}
	}
	for eye := 0; eye < 2; eye++ {
		for r := 0; r < h; r++ {
			row := r + eye*h
			if p.packing == PackingRowInterleaved {
				row = r*2 + eye
			}
			dst := p.stereo.Data[row*w : (row+1)*w]
			for x := range dst {
				// stored bottom-up
				dst[x] = p.value(x, h-1-r, eye)
			}
		}
	}
	p.stereo.Timestamp = p.now()
	return p.stereo, true
}

// LatestCameraImage implements CameraProvider.
func (p *PatternProvider) LatestCameraImage() (*CameraImage, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.width <= 0 || p.height <= 0 {
		return nil, false
	}
	p.seq++

	w, h := p.width, p.height
	if p.camera == nil {
		p.camera = &CameraImage{Width: w, Height: h, Format: CameraRGBA, Data: make([]byte, w*h*4)}
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := p.value(x, y, 0)
			i := (y*w + x) * 4
			p.camera.Data[i] = v
			p.camera.Data[i+1] = byte(x * 255 / max(1, w-1))
			p.camera.Data[i+2] = byte(y * 255 / max(1, h-1))
			p.camera.Data[i+3] = 0xff
		}
	}
	p.camera.Timestamp = p.now()
	return p.camera, true
}
