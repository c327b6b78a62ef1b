package geo

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrNoZone is returned when a raster's citation names no UTM zone.
var ErrNoZone = errors.New("no UTM zone in GeoTIFF citation")

// Zone identifies a UTM zone, e.g. 11N.
type Zone struct {
	Number int
	Letter string
}

var zonePattern = regexp.MustCompile(`(?i)UTM\s+zone\s+(\d{1,2})\s*([A-Z])`)

// ParseZone extracts the UTM zone from a citation such as
// "WGS 84 / UTM zone 11N".
func ParseZone(citation string) (Zone, error) {
	m := zonePattern.FindStringSubmatch(citation)
	if m == nil {
		return Zone{}, fmt.Errorf("%w: %q", ErrNoZone, citation)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 || n > 60 {
		return Zone{}, fmt.Errorf("%w: zone number %q out of range", ErrNoZone, m[1])
	}
	return Zone{Number: n, Letter: strings.ToUpper(m[2])}, nil
}

// Northern reports whether the zone lies in the northern hemisphere. The
// letters N and S are read as hemispheres, as GeoTIFF citations write them;
// any other letter is a latitude band.
func (z Zone) Northern() bool {
	switch z.Letter {
	case "N":
		return true
	case "S":
		return false
	}
	return z.Letter >= "N"
}

func (z Zone) String() string {
	return strconv.Itoa(z.Number) + z.Letter
}
