package geo

import (
	"github.com/Faultbox/geoterrain/internal/scene"
	"github.com/Faultbox/geoterrain/pkg/math"
)

// Coords is a geographic position in WGS-84 degrees with elevation in
// terrain units.
type Coords struct {
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Elevation float64 `json:"elevation"`
}

// ViewerContext is what GetGeoCoordsHelper needs from a viewer.
type ViewerContext interface {
	// Terrain returns the current terrain object, or nil.
	Terrain() *scene.Object
	// ModelFrame returns the object whose local frame helper inputs are in.
	// A nil frame means world space.
	ModelFrame() *scene.Object
}

// GetGeoCoords converts a world-space point on or above obj into geographic
// coordinates. It returns nil, nil when neither obj nor its parent carries a
// Reference. scratch receives the inverse world matrix of obj and may be nil.
func GetGeoCoords(world math.Vec3, obj *scene.Object, conv UTMConverter, scratch *math.Mat4) (*Coords, error) {
	if obj == nil {
		return nil, nil
	}
	ref := ReferenceOf(obj)
	if ref == nil {
		return nil, nil
	}
	if conv == nil {
		conv = DefaultConverter
	}

	local := scene.TransformPoint(world, nil, obj, scratch)
	px := local.X + float64(ref.Width)/2
	py := local.Y + float64(ref.Height)/2
	easting, northing := ref.PixelToUTM(px, py)

	lat, lon, err := conv.ToLatLon(easting, northing, ref.Zone)
	if err != nil {
		return nil, err
	}
	return &Coords{Lat: lat, Lon: lon, Elevation: -local.Z}, nil
}

// GetGeoCoordsHelper looks up a point given in the viewer's model frame
// against the viewer's current terrain. It returns nil, nil when the viewer
// has no terrain.
func GetGeoCoordsHelper(local math.Vec3, ctx ViewerContext, conv UTMConverter) (*Coords, error) {
	terrain := ctx.Terrain()
	if terrain == nil {
		return nil, nil
	}
	var scratch math.Mat4
	world := scene.TransformPoint(local, ctx.ModelFrame(), nil, &scratch)
	return GetGeoCoords(world, terrain, conv, &scratch)
}
