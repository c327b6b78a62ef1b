// Package terrain builds renderer-agnostic terrain meshes from elevation
// rasters and ties them to their geographic reference.
package terrain

import "github.com/Faultbox/geoterrain/pkg/math"

// Vertex represents a terrain mesh vertex with all attributes.
type Vertex struct {
	Position [3]float32
	Normal   [3]float32
	TexCoord [2]float32
}

// Mesh holds the terrain grid mesh. Up is -Z: a vertex at height h sits at
// z = -h.
type Mesh struct {
	Vertices []Vertex
	Indices  []uint32
	Extent   Bounds

	Columns int // Sampled vertices per row
	Rows    int // Sampled vertices per column
}

// Bounds holds the axis-aligned bounding box of the terrain.
type Bounds struct {
	Min [3]float32
	Max [3]float32
}

// Bounds implements scene.Geometry.
func (m *Mesh) Bounds() (min, max math.Vec3) {
	b := m.Extent
	return math.V3(float64(b.Min[0]), float64(b.Min[1]), float64(b.Min[2])),
		math.V3(float64(b.Max[0]), float64(b.Max[1]), float64(b.Max[2]))
}

// TriangleCount returns the number of triangles in the mesh.
func (m *Mesh) TriangleCount() int {
	return len(m.Indices) / 3
}
