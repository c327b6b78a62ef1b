package terrain

import (
	gomath "math"

	"github.com/Faultbox/geoterrain/pkg/geotiff"
)

// Sampler reads normalized, scaled values from one raster band:
//
//	value = Scale*(raw/MaxValue) + Offset
//
// NoData samples read as raw 0.
type Sampler struct {
	Data   []float32
	Width  int
	Height int

	Scale    float64
	Offset   float64
	MaxValue float64
	NoData   *float64
}

// NewSampler returns a sampler over band of img with Scale 1, Offset 0 and
// MaxValue 1. It returns nil if the band does not exist.
func NewSampler(img *geotiff.Image, band int) *Sampler {
	data := img.Band(band)
	if data == nil {
		return nil
	}
	return &Sampler{
		Data:     data,
		Width:    img.Width,
		Height:   img.Height,
		Scale:    1,
		Offset:   0,
		MaxValue: 1,
		NoData:   img.NoData,
	}
}

// Raw returns the stored sample at (x, y), clamped to the raster edges.
func (s *Sampler) Raw(x, y int) float64 {
	x = clampi(x, 0, s.Width-1)
	y = clampi(y, 0, s.Height-1)
	v := float64(s.Data[y*s.Width+x])
	if s.NoData != nil && v == *s.NoData {
		return 0
	}
	if gomath.IsNaN(v) {
		return 0
	}
	return v
}

// At returns the scaled value at pixel (x, y).
func (s *Sampler) At(x, y int) float64 {
	maxValue := s.MaxValue
	if maxValue == 0 {
		maxValue = 1
	}
	return s.Scale*(s.Raw(x, y)/maxValue) + s.Offset
}

// Interpolated returns the bilinearly interpolated value at fractional
// pixel coordinates, clamped to the raster.
func (s *Sampler) Interpolated(x, y float64) float64 {
	if s.Width == 1 && s.Height == 1 {
		return s.At(0, 0)
	}

	x = clampf(x, 0, float64(s.Width-1))
	y = clampf(y, 0, float64(s.Height-1))

	x0, y0 := int(x), int(y)
	x1, y1 := min(x0+1, s.Width-1), min(y0+1, s.Height-1)
	fx, fy := x-float64(x0), y-float64(y0)

	top := s.At(x0, y0)*(1-fx) + s.At(x1, y0)*fx
	bottom := s.At(x0, y1)*(1-fx) + s.At(x1, y1)*fx
	return top*(1-fy) + bottom*fy
}

// Range returns the smallest and largest scaled values.
func (s *Sampler) Range() (lo, hi float64) {
	lo, hi = gomath.Inf(1), gomath.Inf(-1)
	for y := 0; y < s.Height; y++ {
		for x := 0; x < s.Width; x++ {
			v := s.At(x, y)
			lo = gomath.Min(lo, v)
			hi = gomath.Max(hi, v)
		}
	}
	return lo, hi
}

func clampi(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampf(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
