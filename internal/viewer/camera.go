package viewer

import (
	gomath "math"

	"github.com/Faultbox/geoterrain/pkg/math"
)

// Up is the world up direction. Terrain heights grow toward -Z.
var Up = math.V3(0, 0, -1)

// OrbitCamera orbits around a center point.
type OrbitCamera struct {
	Center math.Vec3

	// Spherical coordinates
	Distance float64
	Pitch    float64 // Elevation above the ground plane (radians)
	Yaw      float64 // Rotation around the up axis (radians)

	// Constraints
	MinDistance float64
	MaxDistance float64
	MinPitch    float64
	MaxPitch    float64

	// Sensitivity
	DragSensitivity float64
	ZoomSensitivity float64

	// Projection
	FovY   float64
	Aspect float64
	Near   float64
	Far    float64
}

// NewOrbitCamera creates a new orbit camera with default settings.
func NewOrbitCamera() *OrbitCamera {
	return &OrbitCamera{
		Distance:        200,
		Pitch:           0.6,
		MinDistance:     1,
		MaxDistance:     1e6,
		MinPitch:        0.05,
		MaxPitch:        1.5,
		DragSensitivity: 0.005,
		ZoomSensitivity: 0.1,
		FovY:            gomath.Pi / 4,
		Aspect:          16.0 / 9.0,
		Near:            0.1,
		Far:             1e5,
	}
}

// Position returns the camera position in world space.
func (c *OrbitCamera) Position() math.Vec3 {
	cp, sp := gomath.Cos(c.Pitch), gomath.Sin(c.Pitch)
	offset := math.V3(cp*gomath.Sin(c.Yaw), cp*gomath.Cos(c.Yaw), 0).Add(Up.Scale(sp))
	return c.Center.Add(offset.Scale(c.Distance))
}

// ViewMatrix returns the view matrix for this camera.
func (c *OrbitCamera) ViewMatrix() math.Mat4 {
	return math.LookAt(c.Position(), c.Center, Up)
}

// ProjectionMatrix returns the perspective projection.
func (c *OrbitCamera) ProjectionMatrix() math.Mat4 {
	return math.Perspective(c.FovY, c.Aspect, c.Near, c.Far)
}

// ViewProjection returns projection * view.
func (c *OrbitCamera) ViewProjection() math.Mat4 {
	return c.ProjectionMatrix().Mul(c.ViewMatrix())
}

// SetAspect updates the aspect ratio from a surface size.
func (c *OrbitCamera) SetAspect(width, height int) {
	if width > 0 && height > 0 {
		c.Aspect = float64(width) / float64(height)
	}
}

// HandleDrag updates rotation based on mouse drag delta.
func (c *OrbitCamera) HandleDrag(deltaX, deltaY float64) {
	c.Yaw -= deltaX * c.DragSensitivity
	c.Pitch = clamp(c.Pitch+deltaY*c.DragSensitivity, c.MinPitch, c.MaxPitch)
}

// HandleZoom updates distance based on scroll wheel delta.
func (c *OrbitCamera) HandleZoom(delta float64) {
	c.Distance = clamp(c.Distance-delta*c.Distance*c.ZoomSensitivity, c.MinDistance, c.MaxDistance)
}

// FitToBounds adjusts the camera to view the given box.
func (c *OrbitCamera) FitToBounds(min, max math.Vec3) {
	c.Center = min.Add(max).Scale(0.5)

	size := gomath.Max(max.X-min.X, max.Y-min.Y)
	c.Distance = clamp(size*1.2, c.MinDistance, c.MaxDistance)
	c.Far = gomath.Max(c.Far, c.Distance*10)
	c.Pitch = 0.6
	c.Yaw = 0
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
