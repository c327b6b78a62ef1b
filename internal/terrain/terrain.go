package terrain

import (
	"errors"
	"fmt"

	"github.com/Faultbox/geoterrain/internal/geo"
	"github.com/Faultbox/geoterrain/internal/scene"
	"github.com/Faultbox/geoterrain/pkg/geotiff"
	"github.com/Faultbox/geoterrain/pkg/math"
)

// ErrNoElevation is returned for rasters without a band to read heights from.
var ErrNoElevation = errors.New("raster has no elevation band")

// Options controls how a DEM becomes a terrain.
type Options struct {
	ZScale                 float64
	ZOffset                float64
	MaxSamplesPerDimension int
}

// DefaultOptions returns identity height scaling and the default grid cap.
func DefaultOptions() Options {
	return Options{
		ZScale:                 1,
		MaxSamplesPerDimension: DefaultMaxSamplesPerDimension,
	}
}

// Terrain is a built DEM: the scene object plus what it was made from.
type Terrain struct {
	Object    *scene.Object
	Mesh      *Mesh
	Sampler   *Sampler
	Reference *geo.Reference
}

// Build turns a decoded DEM into a terrain object. The object carries the
// mesh, a plain material, and the raster's geo.Reference in its metadata,
// and is positioned at the raster tiepoint when one exists.
func Build(img *geotiff.Image, opts Options) (*Terrain, error) {
	sampler := NewSampler(img, 0)
	if sampler == nil {
		return nil, ErrNoElevation
	}
	sampler.Scale = opts.ZScale
	sampler.Offset = opts.ZOffset

	ref, err := geo.NewReference(img.Width, img.Height, img.Geo)
	if err != nil {
		return nil, fmt.Errorf("building geo reference: %w", err)
	}

	mesh := BuildMesh(sampler, opts.MaxSamplesPerDimension)

	obj := scene.NewObject("terrain")
	obj.Geometry = mesh
	obj.Material = scene.NewMaterial()
	if tie := img.Geo.Tiepoint; len(tie) >= 6 {
		obj.Position = math.V3(tie[3], tie[4], tie[5])
	}
	geo.Attach(obj, ref)

	return &Terrain{
		Object:    obj,
		Mesh:      mesh,
		Sampler:   sampler,
		Reference: ref,
	}, nil
}

// HeightAt returns the interpolated height under a point in the terrain's
// local frame.
func (t *Terrain) HeightAt(localX, localY float64) float64 {
	px := localX + float64(t.Sampler.Width-1)/2
	py := localY + float64(t.Sampler.Height-1)/2
	return t.Sampler.Interpolated(px, py)
}

// Contains reports whether a local point lies over the raster.
func (t *Terrain) Contains(localX, localY float64) bool {
	halfW := float64(t.Sampler.Width-1) / 2
	halfH := float64(t.Sampler.Height-1) / 2
	return localX >= -halfW && localX <= halfW && localY >= -halfH && localY <= halfH
}
