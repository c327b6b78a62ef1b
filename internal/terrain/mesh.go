package terrain

import gomath "math"

// DefaultMaxSamplesPerDimension caps mesh vertices per axis.
const DefaultMaxSamplesPerDimension = 512

// BuildMesh creates a grid mesh from s. The grid is centred on the origin
// with one unit per pixel: column c sits at x = c - (w-1)/2 and row r at
// y = r - (h-1)/2. At most maxSamples vertices are taken per axis; the
// last row and column are always included.
func BuildMesh(s *Sampler, maxSamples int) *Mesh {
	if maxSamples < 2 {
		maxSamples = DefaultMaxSamplesPerDimension
	}

	cols := sampleIndices(s.Width, maxSamples)
	rows := sampleIndices(s.Height, maxSamples)

	halfW := float64(s.Width-1) / 2
	halfH := float64(s.Height-1) / 2
	spanW := float64(max(s.Width-1, 1))
	spanH := float64(max(s.Height-1, 1))

	bounds := Bounds{
		Min: [3]float32{1e30, 1e30, 1e30},
		Max: [3]float32{-1e30, -1e30, -1e30},
	}

	vertices := make([]Vertex, 0, len(cols)*len(rows))
	for _, r := range rows {
		for _, c := range cols {
			pos := [3]float32{
				float32(float64(c) - halfW),
				float32(float64(r) - halfH),
				float32(-s.At(c, r)),
			}
			updateBounds(&bounds, pos)
			vertices = append(vertices, Vertex{
				Position: pos,
				TexCoord: [2]float32{float32(float64(c) / spanW), float32(float64(r) / spanH)},
			})
		}
	}

	// Two triangles per grid cell, wound so face normals point up (-Z)
	nc := len(cols)
	indices := make([]uint32, 0, (len(cols)-1)*(len(rows)-1)*6)
	for r := 0; r+1 < len(rows); r++ {
		for c := 0; c+1 < nc; c++ {
			a := uint32(r*nc + c)
			b := a + 1
			d := a + uint32(nc)
			e := d + 1
			indices = append(indices,
				a, d, b,
				b, d, e,
			)
		}
	}

	SmoothNormals(vertices, indices)

	return &Mesh{
		Vertices: vertices,
		Indices:  indices,
		Extent:   bounds,
		Columns:  len(cols),
		Rows:     len(rows),
	}
}

// sampleIndices returns the pixel indices sampled along an axis of n pixels:
// every stride-th index with stride = ceil((n-1)/(max-1)), plus n-1.
func sampleIndices(n, maxSamples int) []int {
	if n <= 1 {
		return []int{0}
	}
	stride := 1
	if n > maxSamples {
		stride = (n - 1 + maxSamples - 2) / (maxSamples - 1)
	}
	out := make([]int, 0, (n-1)/stride+2)
	for i := 0; i < n; i += stride {
		out = append(out, i)
	}
	if out[len(out)-1] != n-1 {
		out = append(out, n-1)
	}
	return out
}

// SmoothNormals sets each vertex normal to the area-weighted average of the
// faces that share it. Vertices touching no face point straight up.
func SmoothNormals(vertices []Vertex, indices []uint32) {
	sums := make([][3]float32, len(vertices))
	for i := 0; i+2 < len(indices); i += 3 {
		ia, ib, ic := indices[i], indices[i+1], indices[i+2]
		pa, pb, pc := vertices[ia].Position, vertices[ib].Position, vertices[ic].Position

		edge1 := [3]float32{pb[0] - pa[0], pb[1] - pa[1], pb[2] - pa[2]}
		edge2 := [3]float32{pc[0] - pa[0], pc[1] - pa[1], pc[2] - pa[2]}
		n := cross(edge1, edge2)

		for _, idx := range [3]uint32{ia, ib, ic} {
			sums[idx][0] += n[0]
			sums[idx][1] += n[1]
			sums[idx][2] += n[2]
		}
	}

	for i := range vertices {
		vertices[i].Normal = normalize(sums[i])
	}
}

// Helper functions

func updateBounds(b *Bounds, p [3]float32) {
	for i := 0; i < 3; i++ {
		if p[i] < b.Min[i] {
			b.Min[i] = p[i]
		}
		if p[i] > b.Max[i] {
			b.Max[i] = p[i]
		}
	}
}

func cross(a, b [3]float32) [3]float32 {
	return [3]float32{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func normalize(v [3]float32) [3]float32 {
	l := float32(gomath.Sqrt(float64(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])))
	if l < 1e-6 {
		return [3]float32{0, 0, -1}
	}
	return [3]float32{v[0] / l, v[1] / l, v[2] / l}
}
