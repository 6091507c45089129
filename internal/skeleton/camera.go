package skeleton

import (
	"fmt"
	"sync"
)

// PinholeCamera is an undistorted rectilinear ray-to-pixel mapping.
// Pixel coordinates have their origin at the bottom-left corner, matching
// the device convention the projector flips from.
type PinholeCamera struct {
	FX float64 `yaml:"fx" json:"fx"`
	FY float64 `yaml:"fy" json:"fy"`
	CX float64 `yaml:"cx" json:"cx"`
	CY float64 `yaml:"cy" json:"cy"`
}

// NewPinholeCamera builds a camera for an image of width x height with the
// given horizontal field of view expressed as the focal length in pixels.
func NewPinholeCamera(width, height int, focal float64) PinholeCamera {
	return PinholeCamera{
		FX: focal,
		FY: focal,
		CX: float64(width) / 2,
		CY: float64(height) / 2,
	}
}

// Map implements the ray-to-pixel function.
func (c PinholeCamera) Map(ray Vec3) (PixelCoord, bool) {
	if c.FX == 0 || c.FY == 0 {
		return PixelCoord{}, false
	}
	return PixelCoord{X: c.CX + ray.X*c.FX, Y: c.CY + ray.Y*c.FY}, true
}

// CameraRig holds the ray-to-pixel mapping of each camera id.
type CameraRig struct {
	mu      sync.RWMutex
	cameras map[int]PinholeCamera
}

// NewCameraRig 创建相机组
func NewCameraRig() *CameraRig {
	return &CameraRig{cameras: make(map[int]PinholeCamera)}
}

// Set registers the mapping for a camera id.
func (r *CameraRig) Set(cameraID int, cam PinholeCamera) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cameras[cameraID] = cam
}

// Get returns the mapping for a camera id.
func (r *CameraRig) Get(cameraID int) (PinholeCamera, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cam, ok := r.cameras[cameraID]
	if !ok {
		return PinholeCamera{}, fmt.Errorf("unknown camera id %d", cameraID)
	}
	return cam, nil
}

// ProjectToPixel maps a ray through the camera registered under cameraID.
func (r *CameraRig) ProjectToPixel(cameraID int, ray Vec3) (PixelCoord, bool) {
	cam, err := r.Get(cameraID)
	if err != nil {
		return PixelCoord{}, false
	}
	return cam.Map(ray)
}
