package skeleton

import (
	"math"
	"sync"
	"time"
)

// SyntheticTracker animates one or two hands sweeping in front of the
// cameras. It stands in for a tracking device during local runs and is the
// generator behind `framebridge skeleton synth`.
type SyntheticTracker struct {
	*CameraRig

	mu     sync.Mutex
	hands  int
	period time.Duration
	start  time.Time
	now    func() time.Time
	seq    int64
}

// NewSyntheticTracker creates a tracker producing the given number of hands.
func NewSyntheticTracker(rig *CameraRig, hands int, period time.Duration) *SyntheticTracker {
	if rig == nil {
		rig = NewCameraRig()
	}
	if period <= 0 {
		period = 4 * time.Second
	}
	return &SyntheticTracker{
		CameraRig: rig,
		hands:     hands,
		period:    period,
		start:     time.Now(),
		now:       time.Now,
	}
}

// CurrentSkeletonFrame implements Tracker.
func (t *SyntheticTracker) CurrentSkeletonFrame() (*Frame, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.hands <= 0 {
		return nil, false
	}
	now := t.now()
	t.seq++
	return t.frameAt(t.seq, now.Sub(t.start), now), true
}

// FrameAt returns the pose at elapsed time into the animation without
// touching the tracker's own sequence. It returns nil when the tracker has
// no hands.
func (t *SyntheticTracker) FrameAt(id int64, elapsed time.Duration, at time.Time) *Frame {
	if t.hands <= 0 {
		return nil
	}
	return t.frameAt(id, elapsed, at)
}

func (t *SyntheticTracker) frameAt(id int64, elapsed time.Duration, at time.Time) *Frame {
	phase := float64(elapsed%t.period) / float64(t.period) * 2 * math.Pi

	f := &Frame{ID: id, Timestamp: at.UnixNano()}
	for i := 0; i < t.hands; i++ {
		side := -1.0
		if i%2 == 1 {
			side = 1.0
		}
		palm := Vec3{
			X: side*0.08 + 0.05*math.Sin(phase),
			Y: -0.03 + 0.03*math.Cos(phase),
			Z: 0.35,
		}
		f.Hands = append(f.Hands, BuildHand(i, side < 0, palm))
	}
	return f
}

// BuildHand lays out an open hand around palm (metres, device space).
func BuildHand(id int, left bool, palm Vec3) Hand {
	side := 1.0
	if left {
		side = -1.0
	}

	wrist := Vec3{X: palm.X, Y: palm.Y - 0.06, Z: palm.Z + 0.01}
	h := Hand{
		ID:     id,
		IsLeft: left,
		Palm:   palm,
		Wrist:  wrist,
		Arm: &Arm{
			Elbow: Vec3{X: wrist.X + side*0.05, Y: wrist.Y - 0.22, Z: wrist.Z + 0.08},
			Wrist: wrist,
		},
	}

	// bone lengths per finger, thumb first
	lengths := [FingersPerHand][BonesPerFinger]float64{
		{0.000, 0.035, 0.030, 0.022},
		{0.065, 0.040, 0.025, 0.018},
		{0.063, 0.045, 0.028, 0.019},
		{0.058, 0.042, 0.026, 0.018},
		{0.053, 0.033, 0.019, 0.016},
	}

	for fi := 0; fi < FingersPerHand; fi++ {
		spread := (float64(fi) - 2) * 0.018 * side
		base := Vec3{X: wrist.X + spread*0.5, Y: wrist.Y, Z: wrist.Z}
		dir := Vec3{X: spread, Y: 1, Z: -0.1}
		if fi == 0 {
			dir = Vec3{X: -side * 0.8, Y: 0.6, Z: -0.1}
		}
		n := math.Sqrt(dir.X*dir.X + dir.Y*dir.Y + dir.Z*dir.Z)
		dir = Vec3{X: dir.X / n, Y: dir.Y / n, Z: dir.Z / n}

		cur := base
		for b := 0; b < BonesPerFinger; b++ {
			l := lengths[fi][b]
			next := Vec3{X: cur.X + dir.X*l, Y: cur.Y + dir.Y*l, Z: cur.Z + dir.Z*l}
			h.Fingers[fi].Bones[b] = Bone{Prev: cur, Next: next}
			cur = next
		}
	}
	return h
}
