package skeleton

import "math"

// Vec3 is a point in the tracking device's local coordinate space.
// Z is the depth along the camera's optical axis.
type Vec3 struct {
	X float64 `cbor:"x" json:"x"`
	Y float64 `cbor:"y" json:"y"`
	Z float64 `cbor:"z" json:"z"`
}

// PixelCoord 像素坐标
type PixelCoord struct {
	X float64
	Y float64
}

// IsFinite reports whether both components are finite numbers.
func (p PixelCoord) IsFinite() bool {
	return !math.IsNaN(p.X) && !math.IsInf(p.X, 0) && !math.IsNaN(p.Y) && !math.IsInf(p.Y, 0)
}

// Bone is one finger segment given by its two joint endpoints.
type Bone struct {
	Prev Vec3 `cbor:"prev" json:"prev"`
	Next Vec3 `cbor:"next" json:"next"`
}

// BonesPerFinger metacarpal, proximal, intermediate, distal
const BonesPerFinger = 4

// FingersPerHand 每只手的手指数
const FingersPerHand = 5

// Finger 手指骨骼链
type Finger struct {
	Bones [BonesPerFinger]Bone `cbor:"bones" json:"bones"`
}

// Arm is the forearm segment.
type Arm struct {
	Elbow Vec3 `cbor:"elbow" json:"elbow"`
	Wrist Vec3 `cbor:"wrist" json:"wrist"`
}

// Hand is one tracked hand.
type Hand struct {
	ID      int                    `cbor:"id" json:"id"`
	IsLeft  bool                   `cbor:"left" json:"left"`
	Palm    Vec3                   `cbor:"palm" json:"palm"`
	Wrist   Vec3                   `cbor:"wrist" json:"wrist"`
	Arm     *Arm                   `cbor:"arm,omitempty" json:"arm,omitempty"`
	Fingers [FingersPerHand]Finger `cbor:"fingers" json:"fingers"`
}

// Frame is a snapshot of every tracked hand for one tracking tick.
// It is read-only once handed to the projector.
type Frame struct {
	ID        int64  `cbor:"id" json:"id"`
	Timestamp int64  `cbor:"ts" json:"timestamp"`
	Hands     []Hand `cbor:"hands" json:"hands"`
}

// Tracker is the tracking collaborator.
type Tracker interface {
	// CurrentSkeletonFrame returns the latest frame, or false when tracking
	// data is unavailable.
	CurrentSkeletonFrame() (*Frame, bool)

	// ProjectToPixel maps a normalized rectilinear ray (x/z, y/z, 1) to a
	// pixel of the given camera. It returns false when the ray cannot be
	// mapped.
	ProjectToPixel(cameraID int, ray Vec3) (PixelCoord, bool)
}
