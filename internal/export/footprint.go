package export

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/Faultbox/geoterrain/internal/geo"
	"github.com/Faultbox/geoterrain/internal/terrain"
)

// Footprint returns the raster outline as a WGS-84 polygon feature. The
// ring runs counter-clockwise through the four pixel-edge corners.
func Footprint(ref *geo.Reference, conv geo.UTMConverter) (*geojson.Feature, error) {
	if ref == nil {
		return nil, fmt.Errorf("footprint: %w", geo.ErrNoGeoTransform)
	}
	if conv == nil {
		conv = geo.DefaultConverter
	}

	w, h := float64(ref.Width), float64(ref.Height)
	corners := [][2]float64{{0, 0}, {0, h}, {w, h}, {w, 0}}

	ring := make(orb.Ring, 0, len(corners)+1)
	for _, c := range corners {
		p, err := lonLat(ref, conv, c[0], c[1])
		if err != nil {
			return nil, err
		}
		ring = append(ring, p)
	}
	ring = append(ring, ring[0])

	poly := orb.Polygon{ring}
	f := geojson.NewFeature(poly)
	f.BBox = geojson.NewBBox(poly.Bound())
	f.Properties["utmZone"] = ref.Zone.String()
	f.Properties["width"] = ref.Width
	f.Properties["height"] = ref.Height

	center, err := lonLat(ref, conv, w/2, h/2)
	if err != nil {
		return nil, err
	}
	f.Properties["center"] = []float64{center.Lon(), center.Lat()}
	return f, nil
}

func lonLat(ref *geo.Reference, conv geo.UTMConverter, px, py float64) (orb.Point, error) {
	e, n := ref.PixelToUTM(px, py)
	lat, lon, err := conv.ToLatLon(e, n, ref.Zone)
	if err != nil {
		return orb.Point{}, err
	}
	return orb.Point{lon, lat}, nil
}

// TerrainFootprint is Footprint plus the terrain's height range.
func TerrainFootprint(t *terrain.Terrain, conv geo.UTMConverter) (*geojson.Feature, error) {
	f, err := Footprint(t.Reference, conv)
	if err != nil {
		return nil, err
	}
	lo, hi := t.Sampler.Range()
	f.Properties["minElevation"] = lo
	f.Properties["maxElevation"] = hi
	f.Properties["name"] = t.Object.Name
	return f, nil
}

// WriteGeoJSON writes features as one FeatureCollection.
func WriteGeoJSON(w io.Writer, features ...*geojson.Feature) error {
	fc := geojson.NewFeatureCollection()
	for _, f := range features {
		fc.Append(f)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(fc); err != nil {
		return fmt.Errorf("encoding geojson: %w", err)
	}
	return nil
}
