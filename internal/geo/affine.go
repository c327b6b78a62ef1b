// Package geo maps terrain-local points to geographic coordinates using the
// affine pixel-to-UTM transform carried by GeoTIFF rasters.
package geo

import gomath "math"

// AffineTransform applies the 2D affine c to (a, b):
//
//	x = c[0] + c[1]*a + c[2]*b
//	y = c[3] + c[4]*a + c[5]*b
//
// With truncate set, both results are truncated toward zero.
func AffineTransform(a, b float64, c [6]float64, truncate bool) (x, y float64) {
	x = c[0] + c[1]*a + c[2]*b
	y = c[3] + c[4]*a + c[5]*b
	if truncate {
		x = gomath.Trunc(x)
		y = gomath.Trunc(y)
	}
	return x, y
}

// InvertAffine returns the transform mapping (x, y) back to (a, b), or false
// when c is degenerate.
func InvertAffine(c [6]float64) ([6]float64, bool) {
	det := c[1]*c[5] - c[2]*c[4]
	if det == 0 {
		return [6]float64{}, false
	}
	ia := c[5] / det
	ib := -c[2] / det
	ic := -c[4] / det
	id := c[1] / det
	return [6]float64{
		-(ia*c[0] + ib*c[3]), ia, ib,
		-(ic*c[0] + id*c[3]), ic, id,
	}, true
}
