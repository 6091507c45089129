package skeleton

import (
	"math"

	"github.com/open-beagle/framebridge/internal/frame"
)

const (
	// MinDepth 最小有效深度，|z| 小于此值的点被丢弃
	MinDepth = 1e-3

	// MaxSegmentSteps caps the number of circles stamped along one segment.
	MaxSegmentSteps = 256

	// LandmarkScale enlarges palm and elbow circles.
	LandmarkScale = 2

	// DefaultRadius 默认笔画半径（像素）
	DefaultRadius = 6
)

// ProjectorConfig 投影器配置
type ProjectorConfig struct {
	CameraID       int
	Radius         int
	FlipHorizontal bool
}

// ProjectionStats counts what the last Project call did.
type ProjectionStats struct {
	Hands           int
	PointsStamped   int
	SegmentsDrawn   int
	PointsSkipped   int
	SegmentsSkipped int
}

// Projector rasterizes a skeleton frame into an occlusion mask aligned with
// one camera view.
type Projector struct {
	config  ProjectorConfig
	tracker Tracker
	stats   ProjectionStats
}

// NewProjector 创建骨骼掩码投影器
func NewProjector(tracker Tracker, config ProjectorConfig) *Projector {
	if config.Radius < 1 {
		config.Radius = 1
	}
	return &Projector{config: config, tracker: tracker}
}

// Stats returns counters for the most recent Project call.
func (p *Projector) Stats() ProjectionStats {
	return p.stats
}

// Project clears mask and stamps every projectable primitive of f into it.
// It returns true when at least one element was written. A nil frame or a
// frame without hands yields an all-zero mask and false.
func (p *Projector) Project(f *Frame, mask *frame.Mask) bool {
	p.stats = ProjectionStats{}
	if mask == nil {
		return false
	}
	mask.Clear()
	if f == nil || len(f.Hands) == 0 || p.tracker == nil {
		return false
	}

	r := p.config.Radius
	wrote := false
	p.stats.Hands = len(f.Hands)

	for i := range f.Hands {
		hand := &f.Hands[i]

		wrote = p.stampPoint(mask, hand.Palm, r*LandmarkScale) || wrote
		wrote = p.stampPoint(mask, hand.Wrist, r) || wrote

		if hand.Arm != nil {
			wrote = p.stampSegment(mask, hand.Arm.Elbow, hand.Arm.Wrist, r) || wrote
			wrote = p.stampPoint(mask, hand.Arm.Elbow, r*LandmarkScale) || wrote
		}

		for fi := range hand.Fingers {
			for _, bone := range hand.Fingers[fi].Bones {
				wrote = p.stampSegment(mask, bone.Prev, bone.Next, r) || wrote
			}
		}
	}

	return wrote
}

// ProjectPoint maps a 3D point to mask pixel coordinates (top-left origin).
func (p *Projector) ProjectPoint(pt Vec3, width, height int) (PixelCoord, bool) {
	if !(pt.Z > 0) || math.Abs(pt.Z) < MinDepth {
		return PixelCoord{}, false
	}

	ray := Vec3{X: pt.X / pt.Z, Y: pt.Y / pt.Z, Z: 1}
	px, ok := p.tracker.ProjectToPixel(p.config.CameraID, ray)
	if !ok || !px.IsFinite() {
		return PixelCoord{}, false
	}
	if px.X < 0 || px.Y < 0 || px.X >= float64(width) || px.Y >= float64(height) {
		return PixelCoord{}, false
	}

	if p.config.FlipHorizontal {
		px.X = float64(width-1) - px.X
	}
	px.Y = float64(height-1) - px.Y
	return px, true
}

func (p *Projector) stampPoint(mask *frame.Mask, pt Vec3, radius int) bool {
	px, ok := p.ProjectPoint(pt, mask.Width, mask.Height)
	if !ok {
		p.stats.PointsSkipped++
		return false
	}
	stampCircle(mask, px.X, px.Y, radius)
	p.stats.PointsStamped++
	return true
}

func (p *Projector) stampSegment(mask *frame.Mask, a, b Vec3, radius int) bool {
	pa, okA := p.ProjectPoint(a, mask.Width, mask.Height)
	pb, okB := p.ProjectPoint(b, mask.Width, mask.Height)
	if !okA || !okB {
		p.stats.SegmentsSkipped++
		return false
	}

	dx := pb.X - pa.X
	dy := pb.Y - pa.Y
	dist := math.Hypot(dx, dy)
	if dist < 1 {
		stampCircle(mask, pa.X, pa.Y, radius)
		p.stats.SegmentsDrawn++
		return true
	}

	step := math.Max(1, float64(radius)/2)
	steps := int(math.Ceil(dist / step))
	if steps > MaxSegmentSteps {
		steps = MaxSegmentSteps
	}
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		stampCircle(mask, pa.X+dx*t, pa.Y+dy*t, radius)
	}
	p.stats.SegmentsDrawn++
	return true
}

// stampCircle fills a disc of the given radius centred at (cx, cy), clipped
// to the mask bounds.
func stampCircle(mask *frame.Mask, cx, cy float64, radius int) {
	x0 := int(math.Round(cx))
	y0 := int(math.Round(cy))
	r2 := radius * radius

	for dy := -radius; dy <= radius; dy++ {
		y := y0 + dy
		if y < 0 || y >= mask.Height {
			continue
		}
		row := mask.Data[y*mask.Width : (y+1)*mask.Width]
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy > r2 {
				continue
			}
			x := x0 + dx
			if x < 0 || x >= mask.Width {
				continue
			}
			row[x] = frame.MaskOccluded
		}
	}
}
