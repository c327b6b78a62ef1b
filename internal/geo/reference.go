package geo

import (
	"errors"
	"fmt"

	"github.com/Faultbox/geoterrain/internal/scene"
	"github.com/Faultbox/geoterrain/pkg/geotiff"
)

// MetadataKey is the scene metadata key a Reference is stored under.
const MetadataKey = "geoReference"

// ErrNoGeoTransform is returned for rasters without pixel scale/tiepoint or
// a model transformation.
var ErrNoGeoTransform = errors.New("raster has no geo transform")

// Reference ties a terrain object to the raster it was built from.
type Reference struct {
	Width  int
	Height int

	// PixelToGPS maps raster pixel (x, y) to UTM easting/northing through
	// AffineTransform.
	PixelToGPS [6]float64

	Zone Zone
}

// NewReference builds a Reference for a width x height raster. With
// ModelPixelScale S and ModelTiepoint (I, J, K, X, Y, Z) the transform is
// [X - I*Sx, Sx, 0, Y + J*Sy, 0, -Sy]; a ModelTransformation tag is used
// when no tiepoint is present.
func NewReference(width, height int, info geotiff.GeoInfo) (*Reference, error) {
	zone, err := ParseZone(info.Citation())
	if err != nil {
		return nil, err
	}

	ref := &Reference{Width: width, Height: height, Zone: zone}
	switch {
	case len(info.PixelScale) >= 2 && len(info.Tiepoint) >= 6:
		sx, sy := info.PixelScale[0], info.PixelScale[1]
		tie := info.Tiepoint
		ref.PixelToGPS = [6]float64{tie[3] - tie[0]*sx, sx, 0, tie[4] + tie[1]*sy, 0, -sy}
	case len(info.Transformation) >= 16:
		m := info.Transformation
		ref.PixelToGPS = [6]float64{m[3], m[0], m[1], m[7], m[4], m[5]}
	default:
		return nil, ErrNoGeoTransform
	}
	return ref, nil
}

// PixelToUTM maps a raster pixel to UTM easting/northing.
func (r *Reference) PixelToUTM(px, py float64) (easting, northing float64) {
	return AffineTransform(px, py, r.PixelToGPS, false)
}

// UTMToPixel maps UTM easting/northing back to raster pixel coordinates.
func (r *Reference) UTMToPixel(easting, northing float64) (px, py float64, err error) {
	inv, ok := InvertAffine(r.PixelToGPS)
	if !ok {
		return 0, 0, fmt.Errorf("%w: degenerate pixel transform", ErrNoGeoTransform)
	}
	px, py = AffineTransform(easting, northing, inv, false)
	return px, py, nil
}

// Attach stores ref in obj's metadata.
func Attach(obj *scene.Object, ref *Reference) {
	obj.SetMetadata(MetadataKey, ref)
}

// ReferenceOf returns the Reference attached to obj or, failing that, to
// its immediate parent. Further ancestors are not searched.
func ReferenceOf(obj *scene.Object) *Reference {
	for _, o := range []*scene.Object{obj, obj.Parent()} {
		if o == nil {
			continue
		}
		if v, ok := o.MetadataValue(MetadataKey); ok {
			if ref, ok := v.(*Reference); ok && ref != nil {
				return ref
			}
		}
	}
	return nil
}
