package geotiff

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// GeoKey is one entry of the GeoKeyDirectory. Exactly one of the value
// fields is populated, depending on where the key stores its value.
type GeoKey struct {
	ID      uint16
	Short   []uint16
	Doubles []float64
	ASCII   string
}

// GeoInfo holds the geo-referencing tags of an image.
type GeoInfo struct {
	PixelScale     []float64 // ModelPixelScale (ScaleX, ScaleY, ScaleZ)
	Tiepoint       []float64 // ModelTiepoint (I, J, K, X, Y, Z)
	Transformation []float64 // ModelTransformation, 16 values row-major
	Keys           map[uint16]GeoKey
}

// HasGeoReference reports whether a pixel-to-model mapping is present.
func (g GeoInfo) HasGeoReference() bool {
	return (len(g.PixelScale) >= 2 && len(g.Tiepoint) >= 6) || len(g.Transformation) == 16
}

// Citation returns the GTCitation geo key, falling back to PCSCitation.
func (g GeoInfo) Citation() string {
	if k, ok := g.Keys[GeoKey_GTCitation]; ok && k.ASCII != "" {
		return k.ASCII
	}
	if k, ok := g.Keys[GeoKey_PCSCitation]; ok {
		return k.ASCII
	}
	return ""
}

// Short returns the first short value of a geo key.
func (g GeoInfo) Short(id uint16) (uint16, bool) {
	k, ok := g.Keys[id]
	if !ok || len(k.Short) == 0 {
		return 0, false
	}
	return k.Short[0], true
}

func (d *decoder) geoInfo() (GeoInfo, error) {
	info := GeoInfo{
		PixelScale:     d.floats(TagType_ModelPixelScaleTag),
		Tiepoint:       d.floats(TagType_ModelTiepointTag),
		Transformation: d.floats(TagType_ModelTransformationTag),
		Keys:           make(map[uint16]GeoKey),
	}

	dir := d.uints(TagType_GeoKeyDirectoryTag)
	if len(dir) == 0 {
		return info, nil
	}
	if len(dir) < 4 {
		return info, fmt.Errorf("%w: GeoKeyDirectory header", ErrTruncated)
	}

	asciiParams := d.ascii(TagType_GeoAsciiParamsTag)
	doubleParams := d.floats(TagType_GeoDoubleParamsTag)

	n := int(dir[3])
	if len(dir) < 4+4*n {
		return info, fmt.Errorf("%w: GeoKeyDirectory with %d keys", ErrTruncated, n)
	}
	for i := 0; i < n; i++ {
		e := dir[4+4*i : 8+4*i]
		key := GeoKey{ID: uint16(e[0])}
		location, count, value := e[1], int(e[2]), int(e[3])

		switch location {
		case 0:
			key.Short = []uint16{uint16(value)}
		case TagType_GeoKeyDirectoryTag:
			if value+count > len(dir) {
				return info, fmt.Errorf("%w: geo key %d shorts", ErrTruncated, key.ID)
			}
			for _, v := range dir[value : value+count] {
				key.Short = append(key.Short, uint16(v))
			}
		case TagType_GeoAsciiParamsTag:
			if value+count > len(asciiParams) {
				return info, fmt.Errorf("%w: geo key %d ascii", ErrTruncated, key.ID)
			}
			key.ASCII = textOf(strings.TrimRight(asciiParams[value:value+count], "|\x00"))
		case TagType_GeoDoubleParamsTag:
			if value+count > len(doubleParams) {
				return info, fmt.Errorf("%w: geo key %d doubles", ErrTruncated, key.ID)
			}
			key.Doubles = doubleParams[value : value+count]
		default:
			continue
		}
		info.Keys[key.ID] = key
	}
	return info, nil
}

// textOf returns s as UTF-8. TIFF ASCII is nominally 7-bit, but writers put
// Latin-1 into citations, so invalid UTF-8 is decoded as ISO 8859-1.
func textOf(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	out, err := charmap.ISO8859_1.NewDecoder().String(s)
	if err != nil {
		return s
	}
	return out
}
