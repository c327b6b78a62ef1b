package viewer

import (
	"errors"
	"sync"
)

// ErrNoResizeObserver is returned when a container has no size source.
var ErrNoResizeObserver = errors.New("viewer: container requires a ResizeObserver")

// ResizeObserver reports surface size changes. Observe starts delivering
// sizes to fn and returns a function that stops delivery.
type ResizeObserver interface {
	Observe(fn func(width, height int)) (stop func())
}

// Container keeps a viewer sized to its host surface.
type Container struct {
	viewer *Viewer
	once   sync.Once
	stop   func()
}

// NewContainer binds v to obs.
func NewContainer(v *Viewer, obs ResizeObserver) (*Container, error) {
	if obs == nil {
		return nil, ErrNoResizeObserver
	}
	c := &Container{viewer: v}
	c.stop = obs.Observe(v.Resize)
	return c, nil
}

// Viewer returns the bound viewer.
func (c *Container) Viewer() *Viewer { return c.viewer }

// Close stops observing size changes. It is safe to call more than once.
func (c *Container) Close() {
	c.once.Do(func() {
		if c.stop != nil {
			c.stop()
		}
	})
}

// SizeFeed is a ResizeObserver driven by explicit Push calls, for hosts
// that poll their window size.
type SizeFeed struct {
	mu        sync.Mutex
	observers map[int]func(width, height int)
	next      int
}

// Observe implements ResizeObserver.
func (f *SizeFeed) Observe(fn func(width, height int)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.observers == nil {
		f.observers = make(map[int]func(width, height int))
	}
	id := f.next
	f.next++
	f.observers[id] = fn
	return func() {
		f.mu.Lock()
		delete(f.observers, id)
		f.mu.Unlock()
	}
}

// Push delivers a size to every observer.
func (f *SizeFeed) Push(width, height int) {
	f.mu.Lock()
	fns := make([]func(int, int), 0, len(f.observers))
	for _, fn := range f.observers {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(width, height)
	}
}
