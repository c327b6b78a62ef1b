package viewer

import (
	"sync"
	"sync/atomic"

	"github.com/Faultbox/geoterrain/internal/scene"
	"github.com/Faultbox/geoterrain/pkg/math"
)

// Resizable is notified when the viewer's drawing surface changes size.
type Resizable interface {
	Resize(width, height int)
}

// Optimizable prepares a scene for repeated rendering once it stops
// changing structurally.
type Optimizable interface {
	Optimize(root *scene.Object)
}

// DirtyTracking records whether the scene needs to be drawn again.
type DirtyTracking interface {
	MarkDirty()
	Dirty() bool
	ClearDirty()
}

// Surface is the default Resizable: it remembers the last size.
type Surface struct {
	mu            sync.Mutex
	width, height int
}

// Resize implements Resizable.
func (s *Surface) Resize(width, height int) {
	s.mu.Lock()
	s.width, s.height = width, height
	s.mu.Unlock()
}

// Size returns the last size passed to Resize.
func (s *Surface) Size() (width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, s.height
}

// StaticMatrices is the default Optimizable. It caches every object's
// world matrix so lookups skip walking the parent chain.
type StaticMatrices struct {
	mu       sync.RWMutex
	matrices map[*scene.Object]math.Mat4
}

// Optimize implements Optimizable.
func (s *StaticMatrices) Optimize(root *scene.Object) {
	m := make(map[*scene.Object]math.Mat4)
	root.Traverse(func(o *scene.Object) {
		m[o] = o.WorldMatrix()
	})
	s.mu.Lock()
	s.matrices = m
	s.mu.Unlock()
}

// WorldMatrix returns the cached world matrix of obj, computing it on a
// cache miss.
func (s *StaticMatrices) WorldMatrix(obj *scene.Object) math.Mat4 {
	s.mu.RLock()
	m, ok := s.matrices[obj]
	s.mu.RUnlock()
	if ok {
		return m
	}
	return obj.WorldMatrix()
}

// DirtyFlag is the default DirtyTracking. It starts dirty.
type DirtyFlag struct {
	clean atomic.Bool
}

// MarkDirty implements DirtyTracking.
func (d *DirtyFlag) MarkDirty() { d.clean.Store(false) }

// Dirty implements DirtyTracking.
func (d *DirtyFlag) Dirty() bool { return !d.clean.Load() }

// ClearDirty implements DirtyTracking.
func (d *DirtyFlag) ClearDirty() { d.clean.Store(true) }
