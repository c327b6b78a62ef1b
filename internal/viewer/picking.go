package viewer

import (
	gomath "math"

	"github.com/Faultbox/geoterrain/internal/terrain"
	"github.com/Faultbox/geoterrain/pkg/math"
)

// Ray represents a ray in 3D space with origin and direction.
type Ray struct {
	Origin    math.Vec3
	Direction math.Vec3 // Normalized direction
}

// At returns the point at distance t along the ray.
func (r Ray) At(t float64) math.Vec3 {
	return r.Origin.Add(r.Direction.Scale(t))
}

// Transform maps the ray through m. The direction is re-normalized.
func (r Ray) Transform(m math.Mat4) Ray {
	return Ray{
		Origin:    m.TransformPoint(r.Origin),
		Direction: m.TransformDirection(r.Direction).Normalize(),
	}
}

// AABB represents an axis-aligned bounding box.
type AABB struct {
	Min math.Vec3
	Max math.Vec3
}

// ScreenToRay converts screen coordinates to a world-space ray.
// screenX, screenY are pixel coordinates, viewportW/H are viewport dimensions.
// invViewProj is the inverse of the view-projection matrix.
func ScreenToRay(screenX, screenY, viewportW, viewportH float64, invViewProj math.Mat4) Ray {
	// Normalized device coords (-1 to 1), Y flipped
	ndcX := 2*screenX/viewportW - 1
	ndcY := 1 - 2*screenY/viewportH

	near := unproject(invViewProj, math.Vec4{ndcX, ndcY, -1, 1})
	far := unproject(invViewProj, math.Vec4{ndcX, ndcY, 1, 1})

	return Ray{Origin: near, Direction: far.Sub(near).Normalize()}
}

func unproject(inv math.Mat4, v math.Vec4) math.Vec3 {
	p := inv.MulVec4(v)
	if p[3] != 0 {
		return math.V3(p[0]/p[3], p[1]/p[3], p[2]/p[3])
	}
	return math.V3(p[0], p[1], p[2])
}

// IntersectAABB tests ray intersection with an axis-aligned bounding box.
// It returns the entry and exit distances; tmin is negative when the ray
// starts inside the box.
func (r Ray) IntersectAABB(box AABB) (tmin, tmax float64, hit bool) {
	tmin, tmax = gomath.Inf(-1), gomath.Inf(1)

	o := [3]float64{r.Origin.X, r.Origin.Y, r.Origin.Z}
	d := [3]float64{r.Direction.X, r.Direction.Y, r.Direction.Z}
	lo := [3]float64{box.Min.X, box.Min.Y, box.Min.Z}
	hi := [3]float64{box.Max.X, box.Max.Y, box.Max.Z}

	for i := 0; i < 3; i++ {
		if d[i] == 0 {
			if o[i] < lo[i] || o[i] > hi[i] {
				return 0, 0, false
			}
			continue
		}
		t1 := (lo[i] - o[i]) / d[i]
		t2 := (hi[i] - o[i]) / d[i]
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		tmin = gomath.Max(tmin, t1)
		tmax = gomath.Min(tmax, t2)
	}

	if tmax < tmin || tmax < 0 {
		return 0, 0, false
	}
	return tmin, tmax, true
}

// IntersectTerrain marches a ray given in the terrain's local frame across
// the heightfield and returns the first surface hit in that frame.
func IntersectTerrain(r Ray, t *terrain.Terrain, step float64) (math.Vec3, bool) {
	if step <= 0 {
		step = 0.5
	}
	lo, hi := t.Mesh.Bounds()
	// Pad vertically so flat terrain still gives the march room to step
	lo.Z--
	hi.Z++
	tmin, tmax, ok := r.IntersectAABB(AABB{Min: lo, Max: hi})
	if !ok {
		return math.Vec3{}, false
	}
	tmin = gomath.Max(tmin, 0)

	// Signed distance along up: negative while the ray is above ground
	above := func(s float64) float64 {
		p := r.At(s)
		return p.Z + t.HeightAt(p.X, p.Y)
	}

	prev := tmin
	if above(prev) >= 0 {
		return r.At(prev), true
	}
	for s := tmin + step; ; s += step {
		if s > tmax {
			s = tmax
		}
		if above(s) >= 0 {
			// Refine between the last point above ground and this one
			a, b := prev, s
			for i := 0; i < 32; i++ {
				mid := (a + b) / 2
				if above(mid) >= 0 {
					b = mid
				} else {
					a = mid
				}
			}
			return r.At(b), true
		}
		if s >= tmax {
			return math.Vec3{}, false
		}
		prev = s
	}
}
