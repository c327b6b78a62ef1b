// Package scene provides a renderer-agnostic scene graph: objects with a
// local transform, parent/child links, geometry, material, and metadata.
package scene

import (
	"image"

	"github.com/Faultbox/geoterrain/pkg/math"
)

// Geometry is anything with a local-space bounding box.
type Geometry interface {
	Bounds() (min, max math.Vec3)
}

// Material describes how an object's surface is shaded.
type Material struct {
	Color   [4]float32
	Texture *image.RGBA

	// UVTransform maps model-space XY to texture UV when Texture is set.
	UVTransform math.Mat3
}

// NewMaterial returns an untextured white material.
func NewMaterial() *Material {
	return &Material{
		Color:       [4]float32{1, 1, 1, 1},
		UVTransform: math.Identity3(),
	}
}

// Object is a node in the scene graph.
type Object struct {
	Name string

	Position math.Vec3
	Rotation math.Vec3 // Euler XYZ, radians
	Scale    math.Vec3

	Geometry Geometry
	Material *Material

	// Metadata carries arbitrary attached data, e.g. geo references.
	Metadata map[string]any

	parent   *Object
	children []*Object
}

// NewObject creates an object with unit scale and no parent.
func NewObject(name string) *Object {
	return &Object{
		Name:     name,
		Scale:    math.V3(1, 1, 1),
		Metadata: make(map[string]any),
	}
}

// Parent returns the object's parent, or nil for a root.
func (o *Object) Parent() *Object {
	return o.parent
}

// Children returns the object's direct children.
func (o *Object) Children() []*Object {
	return o.children
}

// Add attaches child to o, detaching it from any previous parent.
func (o *Object) Add(child *Object) {
	if child == nil || child == o {
		return
	}
	if child.parent != nil {
		child.parent.Remove(child)
	}
	child.parent = o
	o.children = append(o.children, child)
}

// Remove detaches child from o and reports whether it was attached.
func (o *Object) Remove(child *Object) bool {
	for i, c := range o.children {
		if c == child {
			o.children = append(o.children[:i], o.children[i+1:]...)
			child.parent = nil
			return true
		}
	}
	return false
}

// SetMetadata stores a metadata value under key.
func (o *Object) SetMetadata(key string, value any) {
	if o.Metadata == nil {
		o.Metadata = make(map[string]any)
	}
	o.Metadata[key] = value
}

// MetadataValue returns the metadata stored under key.
func (o *Object) MetadataValue(key string) (any, bool) {
	v, ok := o.Metadata[key]
	return v, ok
}

// LocalMatrix returns the object's transform relative to its parent.
func (o *Object) LocalMatrix() math.Mat4 {
	return math.Compose(o.Position, o.Rotation, o.Scale)
}

// WorldMatrix returns the object's transform relative to the scene root.
func (o *Object) WorldMatrix() math.Mat4 {
	m := o.LocalMatrix()
	for p := o.parent; p != nil; p = p.parent {
		m = p.LocalMatrix().Mul(m)
	}
	return m
}

// Traverse calls fn for o and every descendant, depth first.
func (o *Object) Traverse(fn func(*Object)) {
	fn(o)
	for _, c := range o.children {
		c.Traverse(fn)
	}
}

// TransformPoint maps p from the local frame of from into the local frame
// of to. A nil object stands for world space. scratch receives the inverse
// of to's world matrix; pass nil to have one allocated.
func TransformPoint(p math.Vec3, from, to *Object, scratch *math.Mat4) math.Vec3 {
	if from != nil {
		p = from.WorldMatrix().TransformPoint(p)
	}
	if to == nil {
		return p
	}
	if scratch == nil {
		scratch = new(math.Mat4)
	}
	if !to.WorldMatrix().InverseInto(scratch) {
		*scratch = math.Identity()
	}
	return scratch.TransformPoint(p)
}
