// Package viewer holds a terrain scene and the optional behaviours a
// front end can switch on: resize handling, matrix caching and redraw
// tracking. It does not draw anything itself.
package viewer

import (
	"sync"

	"go.uber.org/zap"

	"github.com/Faultbox/geoterrain/internal/config"
	"github.com/Faultbox/geoterrain/internal/geo"
	"github.com/Faultbox/geoterrain/internal/logger"
	"github.com/Faultbox/geoterrain/internal/scene"
	"github.com/Faultbox/geoterrain/internal/terrain"
	"github.com/Faultbox/geoterrain/pkg/math"
)

// Config selects the viewer's capabilities. Nil capabilities are disabled.
type Config struct {
	Width  int
	Height int

	Resizable     Resizable
	Optimizable   Optimizable
	DirtyTracking DirtyTracking

	// Converter is used for geo lookups; nil means geo.DefaultConverter.
	Converter geo.UTMConverter
}

// ConfigFrom builds a Config with the default capability implementations
// enabled according to cfg.
func ConfigFrom(cfg config.ViewerConfig) Config {
	c := Config{
		Width:     cfg.Width,
		Height:    cfg.Height,
		Resizable: &Surface{},
	}
	if cfg.Optimize {
		c.Optimizable = &StaticMatrices{}
	}
	if cfg.DirtyTracking {
		c.DirtyTracking = &DirtyFlag{}
	}
	return c
}

// Capabilities reports which capabilities a viewer was built with.
type Capabilities struct {
	Resizable     Resizable
	Optimizable   Optimizable
	DirtyTracking DirtyTracking
}

// Viewer owns a scene with one model frame that holds the current terrain.
type Viewer struct {
	mu sync.RWMutex

	root    *scene.Object
	model   *scene.Object
	terrain *terrain.Terrain
	camera  *OrbitCamera

	width, height int
	caps          Capabilities
	conv          geo.UTMConverter
}

// New creates an empty viewer.
func New(cfg Config) *Viewer {
	root := scene.NewObject("scene")
	model := scene.NewObject("model")
	root.Add(model)

	v := &Viewer{
		root:   root,
		model:  model,
		camera: NewOrbitCamera(),
		caps: Capabilities{
			Resizable:     cfg.Resizable,
			Optimizable:   cfg.Optimizable,
			DirtyTracking: cfg.DirtyTracking,
		},
		conv: cfg.Converter,
	}
	if cfg.Width > 0 && cfg.Height > 0 {
		v.Resize(cfg.Width, cfg.Height)
	}
	return v
}

// Capabilities returns the enabled capabilities.
func (v *Viewer) Capabilities() Capabilities {
	return v.caps
}

// Root returns the scene root.
func (v *Viewer) Root() *scene.Object { return v.root }

// Camera returns the viewer camera.
func (v *Viewer) Camera() *OrbitCamera {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.camera
}

// Terrain returns the current terrain object, or nil.
func (v *Viewer) Terrain() *scene.Object {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.terrain == nil {
		return nil
	}
	return v.terrain.Object
}

// ModelFrame returns the group the terrain hangs under.
func (v *Viewer) ModelFrame() *scene.Object { return v.model }

// CurrentTerrain returns the full terrain, or nil.
func (v *Viewer) CurrentTerrain() *terrain.Terrain {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.terrain
}

// SetTerrain replaces the displayed terrain. The model frame is moved so
// the terrain's geo origin sits at the world origin, and the camera is
// fitted to it. A nil terrain clears the scene.
func (v *Viewer) SetTerrain(t *terrain.Terrain) {
	v.mu.Lock()
	if v.terrain != nil {
		v.model.Remove(v.terrain.Object)
	}
	v.terrain = t
	v.model.Position = math.Vec3{}
	if t != nil {
		v.model.Add(t.Object)
		v.model.Position = t.Object.Position.Scale(-1)
		lo, hi := t.Mesh.Bounds()
		v.camera.FitToBounds(lo, hi)
		logger.Debug("viewer terrain set",
			zap.String("name", t.Object.Name),
			zap.Int("triangles", t.Mesh.TriangleCount()))
	}
	v.mu.Unlock()

	if v.caps.Optimizable != nil {
		v.caps.Optimizable.Optimize(v.root)
	}
	v.markDirty()
}

// Resize updates the surface size and camera aspect.
func (v *Viewer) Resize(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	v.mu.Lock()
	v.width, v.height = width, height
	v.camera.SetAspect(width, height)
	v.mu.Unlock()

	if v.caps.Resizable != nil {
		v.caps.Resizable.Resize(width, height)
	}
	v.markDirty()
}

// Size returns the current surface size.
func (v *Viewer) Size() (width, height int) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.width, v.height
}

// Frame calls render when the scene needs drawing and reports whether it
// did. Without dirty tracking every frame is drawn.
func (v *Viewer) Frame(render func(root *scene.Object, cam *OrbitCamera)) bool {
	d := v.caps.DirtyTracking
	if d != nil && !d.Dirty() {
		return false
	}
	v.mu.RLock()
	render(v.root, v.camera)
	v.mu.RUnlock()
	if d != nil {
		d.ClearDirty()
	}
	return true
}

// Invalidate requests a redraw, for example after moving the camera.
func (v *Viewer) Invalidate() { v.markDirty() }

func (v *Viewer) markDirty() {
	if v.caps.DirtyTracking != nil {
		v.caps.DirtyTracking.MarkDirty()
	}
}

// GeoCoords looks up a point given in the model frame.
func (v *Viewer) GeoCoords(local math.Vec3) (*geo.Coords, error) {
	return geo.GetGeoCoordsHelper(local, v, v.conv)
}

// Pick casts a ray through a surface pixel and returns the terrain hit in
// the model frame.
func (v *Viewer) Pick(screenX, screenY float64) (math.Vec3, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.terrain == nil || v.width <= 0 || v.height <= 0 {
		return math.Vec3{}, false
	}

	var invVP math.Mat4
	if !v.camera.ViewProjection().InverseInto(&invVP) {
		return math.Vec3{}, false
	}
	ray := ScreenToRay(screenX, screenY, float64(v.width), float64(v.height), invVP)

	var toLocal math.Mat4
	if !v.worldMatrix(v.terrain.Object).InverseInto(&toLocal) {
		return math.Vec3{}, false
	}
	hit, ok := IntersectTerrain(ray.Transform(toLocal), v.terrain, 0.5)
	if !ok {
		return math.Vec3{}, false
	}
	var scratch math.Mat4
	return scene.TransformPoint(hit, v.terrain.Object, v.model, &scratch), true
}

// PickGeo combines Pick and GeoCoords.
func (v *Viewer) PickGeo(screenX, screenY float64) (*geo.Coords, error) {
	p, ok := v.Pick(screenX, screenY)
	if !ok {
		return nil, nil
	}
	return v.GeoCoords(p)
}

func (v *Viewer) worldMatrix(obj *scene.Object) math.Mat4 {
	if sm, ok := v.caps.Optimizable.(*StaticMatrices); ok {
		return sm.WorldMatrix(obj)
	}
	return obj.WorldMatrix()
}
