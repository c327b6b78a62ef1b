// Package texture turns orthophoto rasters into RGBA textures stamped onto
// terrain meshes.
package texture

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	gomath "math"

	"go.uber.org/zap"
	"golang.org/x/image/draw"

	"github.com/Faultbox/geoterrain/internal/logger"
	"github.com/Faultbox/geoterrain/internal/scene"
	"github.com/Faultbox/geoterrain/pkg/geotiff"
	"github.com/Faultbox/geoterrain/pkg/math"
)

// DefaultMaxTextureSize is the largest texture edge, in pixels.
const DefaultMaxTextureSize = 4096

// ErrEmptyRaster is returned for rasters without bands or pixels.
var ErrEmptyRaster = errors.New("orthophoto raster is empty")

// Options controls texture building.
type Options struct {
	MaxTextureSize int

	// Resampler scales oversized rasters down. Nil means Catmull-Rom.
	Resampler draw.Interpolator
}

// Texture is a packed orthophoto and the transform that stamps it onto a
// terrain's model XY plane.
type Texture struct {
	Image       *image.RGBA
	UVTransform math.Mat3

	SourceWidth  int
	SourceHeight int
}

// Resampler returns the interpolator for a config name. Unknown names fall
// back to bilinear.
func Resampler(name string) draw.Interpolator {
	switch name {
	case "", "catmullrom":
		return draw.CatmullRom
	case "nearest":
		return draw.NearestNeighbor
	default:
		return draw.BiLinear
	}
}

// Build packs img into an RGBA texture no larger than opts.MaxTextureSize on
// either edge. demWidth and demHeight size the stamping transform so the
// texture covers the terrain built from that DEM.
func Build(img *geotiff.Image, demWidth, demHeight int, opts Options) (*Texture, error) {
	rgba, err := FromRaster(img)
	if err != nil {
		return nil, err
	}
	return &Texture{
		Image:        Downsample(rgba, opts),
		UVTransform:  StampTransform(demWidth, demHeight),
		SourceWidth:  img.Width,
		SourceHeight: img.Height,
	}, nil
}

// BuildImage is Build for orthophotos decoded by the image package, such as
// PNG or JPEG files without geo tags.
func BuildImage(img image.Image, demWidth, demHeight int, opts Options) *Texture {
	b := img.Bounds()
	return &Texture{
		Image:        Downsample(FromImage(img), opts),
		UVTransform:  StampTransform(demWidth, demHeight),
		SourceWidth:  b.Dx(),
		SourceHeight: b.Dy(),
	}
}

// FromRaster packs the first four bands of img into RGBA. A missing green
// or blue band repeats red and a missing alpha band is opaque. Integer
// samples are normalized by the type's maximum value; float samples are
// taken as 0..1.
func FromRaster(img *geotiff.Image) (*image.RGBA, error) {
	if len(img.Bands) == 0 || img.Width <= 0 || img.Height <= 0 {
		return nil, ErrEmptyRaster
	}
	for i, b := range img.Bands {
		if len(b) < img.Width*img.Height {
			return nil, fmt.Errorf("%w: band %d has %d samples", ErrEmptyRaster, i, len(b))
		}
	}

	r := img.Band(0)
	g, b, a := img.Band(1), img.Band(2), img.Band(3)
	if g == nil {
		g = r
	}
	if b == nil {
		b = r
	}

	scale := 1.0
	if m := img.MaxSampleValue(); m > 0 {
		scale = 255 / m
	}

	out := image.NewRGBA(image.Rect(0, 0, img.Width, img.Height))
	for i := 0; i < img.Width*img.Height; i++ {
		p := out.Pix[i*4 : i*4+4]
		p[0] = toByte(r[i], scale)
		p[1] = toByte(g[i], scale)
		p[2] = toByte(b[i], scale)
		p[3] = 255
		if a != nil {
			p[3] = toByte(a[i], scale)
		}
	}
	return out, nil
}

func toByte(v float32, scale float64) uint8 {
	f := float64(v) * scale
	if f <= 0 || gomath.IsNaN(f) {
		return 0
	}
	if f >= 255 {
		return 255
	}
	return uint8(f + 0.5)
}

// FromImage converts any image.Image to *image.RGBA anchored at the origin.
func FromImage(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba
	}

	bounds := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r16, g16, b16, a16 := img.At(x, y).RGBA()
			rgba.SetRGBA(x-bounds.Min.X, y-bounds.Min.Y, color.RGBA{
				R: uint8(r16 >> 8), G: uint8(g16 >> 8), B: uint8(b16 >> 8), A: uint8(a16 >> 8),
			})
		}
	}

	return rgba
}

// ScaledSize returns the size a w x h raster is reduced to so neither edge
// exceeds maxSize. Both edges use the same factor and are floored.
func ScaledSize(w, h, maxSize int) (int, int) {
	if maxSize <= 0 {
		maxSize = DefaultMaxTextureSize
	}
	if w <= maxSize && h <= maxSize {
		return w, h
	}
	s := float64(maxSize) / float64(max(w, h))
	if w >= h {
		return maxSize, max(int(gomath.Floor(float64(h)*s)), 1)
	}
	return max(int(gomath.Floor(float64(w)*s)), 1), maxSize
}

// Downsample returns src unchanged if it fits opts.MaxTextureSize, and a
// resampled copy otherwise.
func Downsample(src *image.RGBA, opts Options) *image.RGBA {
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	nw, nh := ScaledSize(w, h, opts.MaxTextureSize)
	if nw == w && nh == h {
		return src
	}

	logger.Warn("orthophoto exceeds max texture size, downsampling",
		zap.Int("width", w),
		zap.Int("height", h),
		zap.Int("newWidth", nw),
		zap.Int("newHeight", nh))

	interp := opts.Resampler
	if interp == nil {
		interp = draw.CatmullRom
	}
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	interp.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

// StampTransform returns the model-to-UV transform for a w x h terrain: the
// inverse of the matrix that scales the unit UV square, centred on the
// origin, up to w x h.
func StampTransform(w, h int) math.Mat3 {
	model := math.Scale2D(float64(w), float64(h)).Mul(math.Translate2D(-0.5, -0.5))
	return model.Inverse()
}

// Apply sets tex as the material's texture.
func Apply(mat *scene.Material, tex *Texture) {
	mat.Texture = tex.Image
	mat.UVTransform = tex.UVTransform
}
