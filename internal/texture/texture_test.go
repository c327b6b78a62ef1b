package texture

import (
	"errors"
	"image"
	"image/color"
	gomath "math"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/image/draw"

	"github.com/Faultbox/geoterrain/internal/logger"
	"github.com/Faultbox/geoterrain/internal/scene"
	"github.com/Faultbox/geoterrain/pkg/geotiff"
	"github.com/Faultbox/geoterrain/pkg/math"
)

func raster(w, h, bands, bps int, fill func(b, i int) float32) *geotiff.Image {
	img := &geotiff.Image{Width: w, Height: h, BitsPerSample: bps, SampleFormat: geotiff.SampleFormatUint}
	for b := 0; b < bands; b++ {
		band := make([]float32, w*h)
		for i := range band {
			band[i] = fill(b, i)
		}
		img.Bands = append(img.Bands, band)
	}
	return img
}

func TestFromRasterBandDefaults(t *testing.T) {
	tests := []struct {
		name  string
		bands int
		want  color.RGBA
	}{
		{"gray", 1, color.RGBA{10, 10, 10, 255}},
		{"two bands", 2, color.RGBA{10, 20, 10, 255}},
		{"rgb", 3, color.RGBA{10, 20, 30, 255}},
		{"rgba", 4, color.RGBA{10, 20, 30, 40}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := raster(2, 2, tt.bands, 8, func(b, i int) float32 { return float32(10 * (b + 1)) })
			rgba, err := FromRaster(img)
			if err != nil {
				t.Fatalf("FromRaster failed: %v", err)
			}
			if got := rgba.RGBAAt(1, 1); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestFromRaster16Bit(t *testing.T) {
	img := raster(1, 1, 3, 16, func(b, i int) float32 { return []float32{65535, 0, 32768}[b] })
	rgba, err := FromRaster(img)
	if err != nil {
		t.Fatalf("FromRaster failed: %v", err)
	}
	got := rgba.RGBAAt(0, 0)
	if got.R != 255 || got.G != 0 || got.B != 128 {
		t.Errorf("unexpected normalized pixel %v", got)
	}
}

func TestFromRasterEmpty(t *testing.T) {
	if _, err := FromRaster(&geotiff.Image{Width: 2, Height: 2}); !errors.Is(err, ErrEmptyRaster) {
		t.Errorf("expected ErrEmptyRaster, got %v", err)
	}
	short := &geotiff.Image{Width: 2, Height: 2, Bands: [][]float32{{1}}}
	if _, err := FromRaster(short); !errors.Is(err, ErrEmptyRaster) {
		t.Errorf("expected ErrEmptyRaster for short band, got %v", err)
	}
}

func TestScaledSize(t *testing.T) {
	tests := []struct {
		w, h, max    int
		wantW, wantH int
	}{
		{5000, 1000, 4096, 4096, 819},
		{1000, 5000, 4096, 819, 4096},
		{4096, 4096, 4096, 4096, 4096},
		{100, 50, 0, 100, 50},
		{10000, 1, 100, 100, 1},
	}
	for _, tt := range tests {
		w, h := ScaledSize(tt.w, tt.h, tt.max)
		if w != tt.wantW || h != tt.wantH {
			t.Errorf("ScaledSize(%d, %d, %d) = %dx%d, want %dx%d", tt.w, tt.h, tt.max, w, h, tt.wantW, tt.wantH)
		}
	}
}

func TestDownsampleWarns(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	logger.SetLogger(zap.New(core))
	defer logger.SetLogger(nil)

	src := image.NewRGBA(image.Rect(0, 0, 50, 10))
	for i := range src.Pix {
		src.Pix[i] = 200
	}

	dst := Downsample(src, Options{MaxTextureSize: 40})
	if dst.Bounds().Dx() != 40 || dst.Bounds().Dy() != 8 {
		t.Fatalf("expected 40x8, got %v", dst.Bounds())
	}
	// Uniform input stays uniform under resampling
	if got := dst.RGBAAt(20, 4); got != (color.RGBA{200, 200, 200, 200}) {
		t.Errorf("unexpected resampled pixel %v", got)
	}
	if logs.Len() != 1 {
		t.Errorf("expected one warning, got %d", logs.Len())
	}

	// Fitting images are returned as-is without a warning
	if same := Downsample(dst, Options{MaxTextureSize: 40, Resampler: draw.BiLinear}); same != dst {
		t.Error("expected fitting image to be returned unchanged")
	}
	if logs.Len() != 1 {
		t.Errorf("unexpected extra warning, got %d", logs.Len())
	}
}

func TestStampTransform(t *testing.T) {
	m := StampTransform(200, 100)
	tests := []struct {
		in, want math.Vec2
	}{
		{math.Vec2{X: -100, Y: -50}, math.Vec2{X: 0, Y: 0}},
		{math.Vec2{X: 100, Y: 50}, math.Vec2{X: 1, Y: 1}},
		{math.Vec2{X: 0, Y: 0}, math.Vec2{X: 0.5, Y: 0.5}},
		{math.Vec2{X: 50, Y: -25}, math.Vec2{X: 0.75, Y: 0.25}},
	}
	for _, tt := range tests {
		got := m.TransformPoint(tt.in)
		if gomath.Abs(got.X-tt.want.X) > 1e-12 || gomath.Abs(got.Y-tt.want.Y) > 1e-12 {
			t.Errorf("StampTransform(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestBuildAndApply(t *testing.T) {
	img := raster(60, 30, 3, 8, func(b, i int) float32 { return 100 })
	tex, err := Build(img, 6, 3, Options{MaxTextureSize: 30})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if tex.Image.Bounds().Dx() != 30 || tex.Image.Bounds().Dy() != 15 {
		t.Errorf("expected 30x15 texture, got %v", tex.Image.Bounds())
	}
	if tex.SourceWidth != 60 || tex.SourceHeight != 30 {
		t.Errorf("unexpected source size %dx%d", tex.SourceWidth, tex.SourceHeight)
	}
	if tex.UVTransform != StampTransform(6, 3) {
		t.Error("stamp transform should be sized by the DEM")
	}

	mat := scene.NewMaterial()
	Apply(mat, tex)
	if mat.Texture != tex.Image || mat.UVTransform != tex.UVTransform {
		t.Error("Apply did not set the material texture")
	}
}

func TestFromImage(t *testing.T) {
	src := image.NewNRGBA(image.Rect(5, 5, 7, 6))
	src.Set(6, 5, color.NRGBA{255, 0, 0, 255})

	rgba := FromImage(src)
	if rgba.Bounds() != image.Rect(0, 0, 2, 1) {
		t.Fatalf("expected origin-anchored bounds, got %v", rgba.Bounds())
	}
	if got := rgba.RGBAAt(1, 0); got != (color.RGBA{255, 0, 0, 255}) {
		t.Errorf("unexpected pixel %v", got)
	}

	already := image.NewRGBA(image.Rect(0, 0, 1, 1))
	if FromImage(already) != already {
		t.Error("expected RGBA input to be returned as-is")
	}
}

func TestBuildImage(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 8, 4))
	tex := BuildImage(src, 8, 4, Options{MaxTextureSize: 4})
	if tex.Image.Bounds().Dx() != 4 || tex.Image.Bounds().Dy() != 2 {
		t.Errorf("expected 4x2 texture, got %v", tex.Image.Bounds())
	}
	if tex.SourceWidth != 8 || tex.SourceHeight != 4 {
		t.Errorf("unexpected source size %dx%d", tex.SourceWidth, tex.SourceHeight)
	}
	if got := tex.Image.RGBAAt(0, 0); got.A != 255 {
		t.Errorf("expected opaque pixel, got %v", got)
	}
}
