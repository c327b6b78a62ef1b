package geo

import (
	"fmt"

	"github.com/im7mortal/UTM"
)

// UTMConverter converts UTM easting/northing in a zone to WGS-84 degrees.
type UTMConverter interface {
	ToLatLon(easting, northing float64, zone Zone) (lat, lon float64, err error)
}

// WGS84 converts with github.com/im7mortal/UTM.
type WGS84 struct{}

// ToLatLon implements UTMConverter.
func (WGS84) ToLatLon(easting, northing float64, zone Zone) (float64, float64, error) {
	lat, lon, err := UTM.ToLatLon(easting, northing, zone.Number, "", zone.Northern())
	if err != nil {
		return 0, 0, fmt.Errorf("converting UTM %s (%.3f, %.3f): %w", zone, easting, northing, err)
	}
	return lat, lon, nil
}

// DefaultConverter is used when callers pass a nil converter.
var DefaultConverter UTMConverter = WGS84{}
