package geo

import (
	"errors"
	gomath "math"
	"testing"

	"github.com/Faultbox/geoterrain/internal/scene"
	"github.com/Faultbox/geoterrain/pkg/geotiff"
	"github.com/Faultbox/geoterrain/pkg/math"
)

// passthrough returns (northing, easting) as (lat, lon) so tests can check
// the UTM values that reach the converter.
type passthrough struct{ zone Zone }

func (p *passthrough) ToLatLon(easting, northing float64, zone Zone) (float64, float64, error) {
	p.zone = zone
	return northing, easting, nil
}

func approx(a, b float64) bool {
	return gomath.Abs(a-b) < 1e-9
}

func TestAffineTransform(t *testing.T) {
	c := [6]float64{100, 2, 0.5, 200, -0.25, -3}

	x, y := AffineTransform(4, 8, c, false)
	if !approx(x, 100+8+4) || !approx(y, 200-1-24) {
		t.Errorf("unexpected result (%v, %v)", x, y)
	}

	// Linearity in a: f(a1+a2, b) = f(a1, b) + f(a2, b) - (c0, c3)
	x1, y1 := AffineTransform(1.5, 3, c, false)
	x2, y2 := AffineTransform(2.25, 3, c, false)
	xs, ys := AffineTransform(3.75, 3, c, false)
	if !approx(xs, x1+x2-c[0]) || !approx(ys, y1+y2-c[3]) {
		t.Errorf("not linear: (%v, %v) vs (%v, %v)", xs, ys, x1+x2-c[0], y1+y2-c[3])
	}
}

func TestAffineTransformTruncate(t *testing.T) {
	c := [6]float64{0, 1, 0, 0, 0, 1}
	tests := []struct {
		a, b   float64
		wx, wy float64
	}{
		{1.7, 2.2, 1, 2},
		{-1.7, -2.9, -1, -2},
		{0.999, -0.999, 0, 0},
	}
	for _, tt := range tests {
		x, y := AffineTransform(tt.a, tt.b, c, true)
		if x != tt.wx || y != tt.wy {
			t.Errorf("truncate(%v, %v): expected (%v, %v), got (%v, %v)", tt.a, tt.b, tt.wx, tt.wy, x, y)
		}
	}
}

func TestInvertAffine(t *testing.T) {
	c := [6]float64{500000, 30, 0, 4100000, 0, -30}
	inv, ok := InvertAffine(c)
	if !ok {
		t.Fatal("expected invertible transform")
	}
	e, n := AffineTransform(12, 7, c, false)
	px, py := AffineTransform(e, n, inv, false)
	if !approx(px, 12) || !approx(py, 7) {
		t.Errorf("round trip: got (%v, %v)", px, py)
	}

	if _, ok := InvertAffine([6]float64{1, 0, 0, 2, 0, 0}); ok {
		t.Error("expected degenerate transform to fail")
	}
}

func TestParseZone(t *testing.T) {
	tests := []struct {
		citation string
		want     Zone
		northern bool
	}{
		{"WGS 84 / UTM zone 11N", Zone{11, "N"}, true},
		{"NAD83 / UTM zone 10n|", Zone{10, "N"}, true},
		{"WGS 84 / UTM zone 33S", Zone{33, "S"}, false},
		{"UTM Zone 32 U", Zone{32, "U"}, true},
		{"utm zone 19K", Zone{19, "K"}, false},
	}
	for _, tt := range tests {
		got, err := ParseZone(tt.citation)
		if err != nil {
			t.Errorf("ParseZone(%q) failed: %v", tt.citation, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseZone(%q) = %+v, want %+v", tt.citation, got, tt.want)
		}
		if got.Northern() != tt.northern {
			t.Errorf("%v: expected northern=%v", got, tt.northern)
		}
	}

	for _, bad := range []string{"", "WGS 84", "UTM zone 61N", "UTM zone N"} {
		if _, err := ParseZone(bad); !errors.Is(err, ErrNoZone) {
			t.Errorf("ParseZone(%q): expected ErrNoZone, got %v", bad, err)
		}
	}
}

func testInfo() geotiff.GeoInfo {
	return geotiff.GeoInfo{
		PixelScale: []float64{1, 1, 0},
		Tiepoint:   []float64{0, 0, 0, 100, 200, 0},
		Keys: map[uint16]geotiff.GeoKey{
			geotiff.GeoKey_GTCitation: {ID: geotiff.GeoKey_GTCitation, ASCII: "WGS 84 / UTM zone 11N"},
		},
	}
}

func TestNewReference(t *testing.T) {
	ref, err := NewReference(4, 2, testInfo())
	if err != nil {
		t.Fatalf("NewReference failed: %v", err)
	}
	want := [6]float64{100, 1, 0, 200, 0, -1}
	if ref.PixelToGPS != want {
		t.Errorf("expected PixelToGPS %v, got %v", want, ref.PixelToGPS)
	}
	if ref.Zone != (Zone{11, "N"}) {
		t.Errorf("unexpected zone %+v", ref.Zone)
	}

	e, n := ref.PixelToUTM(3, 1)
	px, py, err := ref.UTMToPixel(e, n)
	if err != nil || !approx(px, 3) || !approx(py, 1) {
		t.Errorf("UTMToPixel round trip: (%v, %v, %v)", px, py, err)
	}
}

func TestNewReferenceTransformation(t *testing.T) {
	info := testInfo()
	info.PixelScale, info.Tiepoint = nil, nil
	info.Transformation = []float64{
		2, 0, 0, 1000,
		0, -2, 0, 5000,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
	ref, err := NewReference(10, 10, info)
	if err != nil {
		t.Fatalf("NewReference failed: %v", err)
	}
	want := [6]float64{1000, 2, 0, 5000, 0, -2}
	if ref.PixelToGPS != want {
		t.Errorf("expected %v, got %v", want, ref.PixelToGPS)
	}
}

func TestNewReferenceErrors(t *testing.T) {
	noZone := testInfo()
	delete(noZone.Keys, geotiff.GeoKey_GTCitation)
	if _, err := NewReference(4, 2, noZone); !errors.Is(err, ErrNoZone) {
		t.Errorf("expected ErrNoZone, got %v", err)
	}

	noTransform := testInfo()
	noTransform.Tiepoint = nil
	if _, err := NewReference(4, 2, noTransform); !errors.Is(err, ErrNoGeoTransform) {
		t.Errorf("expected ErrNoGeoTransform, got %v", err)
	}
}

func newTerrain(t *testing.T) (*scene.Object, *Reference) {
	t.Helper()
	ref, err := NewReference(4, 2, testInfo())
	if err != nil {
		t.Fatalf("NewReference failed: %v", err)
	}
	obj := scene.NewObject("terrain")
	obj.Position = math.V3(100, 200, 0)
	Attach(obj, ref)
	return obj, ref
}

func TestGetGeoCoords(t *testing.T) {
	obj, _ := newTerrain(t)
	conv := &passthrough{}

	// local (0.5, -0.5, -7) -> pixel (2.5, 0.5) -> UTM (102.5, 199.5)
	world := math.V3(100.5, 199.5, -7)
	var scratch math.Mat4
	c, err := GetGeoCoords(world, obj, conv, &scratch)
	if err != nil {
		t.Fatalf("GetGeoCoords failed: %v", err)
	}
	if c == nil {
		t.Fatal("expected coords")
	}
	if !approx(c.Lon, 102.5) || !approx(c.Lat, 199.5) {
		t.Errorf("unexpected UTM (%v, %v)", c.Lon, c.Lat)
	}
	if !approx(c.Elevation, 7) {
		t.Errorf("expected elevation 7, got %v", c.Elevation)
	}
	if conv.zone != (Zone{11, "N"}) {
		t.Errorf("converter got zone %+v", conv.zone)
	}
}

func TestGetGeoCoordsElevationZero(t *testing.T) {
	obj, _ := newTerrain(t)
	c, err := GetGeoCoords(obj.Position, obj, &passthrough{}, nil)
	if err != nil || c == nil {
		t.Fatalf("GetGeoCoords failed: %v", err)
	}
	if c.Elevation != 0 {
		t.Errorf("expected elevation 0, got %v", c.Elevation)
	}
	// Object origin is the raster centre
	if !approx(c.Lon, 102) || !approx(c.Lat, 199) {
		t.Errorf("unexpected UTM (%v, %v)", c.Lon, c.Lat)
	}
}

func TestGetGeoCoordsParentSearch(t *testing.T) {
	grand := scene.NewObject("grand")
	parent := scene.NewObject("parent")
	child := scene.NewObject("child")
	grand.Add(parent)
	parent.Add(child)

	ref, _ := NewReference(4, 2, testInfo())

	// No metadata anywhere
	if c, err := GetGeoCoords(math.Vec3{}, child, &passthrough{}, nil); c != nil || err != nil {
		t.Errorf("expected nil, nil without metadata, got %v, %v", c, err)
	}

	// Grandparent is not searched
	Attach(grand, ref)
	if c, _ := GetGeoCoords(math.Vec3{}, child, &passthrough{}, nil); c != nil {
		t.Error("grandparent metadata should not be found")
	}

	// Parent is
	Attach(parent, ref)
	if c, _ := GetGeoCoords(math.Vec3{}, child, &passthrough{}, nil); c == nil {
		t.Error("parent metadata should be found")
	}

	if c, err := GetGeoCoords(math.Vec3{}, nil, nil, nil); c != nil || err != nil {
		t.Error("nil object should yield nil, nil")
	}
}

type stubViewer struct {
	terrain, frame *scene.Object
}

func (v stubViewer) Terrain() *scene.Object    { return v.terrain }
func (v stubViewer) ModelFrame() *scene.Object { return v.frame }

func TestGetGeoCoordsHelper(t *testing.T) {
	obj, _ := newTerrain(t)
	frame := scene.NewObject("model")
	frame.Position = math.V3(100, 200, 0)

	c, err := GetGeoCoordsHelper(math.V3(0.5, -0.5, -3), stubViewer{obj, frame}, &passthrough{})
	if err != nil || c == nil {
		t.Fatalf("helper failed: %v", err)
	}
	if !approx(c.Lon, 102.5) || !approx(c.Elevation, 3) {
		t.Errorf("unexpected coords %+v", c)
	}

	if c, err := GetGeoCoordsHelper(math.Vec3{}, stubViewer{}, &passthrough{}); c != nil || err != nil {
		t.Errorf("expected nil without terrain, got %v, %v", c, err)
	}
}

func TestWGS84(t *testing.T) {
	lat, lon, err := WGS84{}.ToLatLon(500000, 4100000, Zone{11, "N"})
	if err != nil {
		t.Fatalf("ToLatLon failed: %v", err)
	}
	if gomath.Abs(lon-(-117)) > 1e-6 {
		t.Errorf("expected central meridian -117, got %v", lon)
	}
	if lat < 37 || lat > 37.1 {
		t.Errorf("expected latitude near 37.04, got %v", lat)
	}

	lat, lon, err = WGS84{}.ToLatLon(500000, 9000000, Zone{33, "S"})
	if err != nil {
		t.Fatalf("ToLatLon failed: %v", err)
	}
	if lat >= 0 || gomath.Abs(lon-15) > 1e-6 {
		t.Errorf("expected southern hemisphere on meridian 15, got (%v, %v)", lat, lon)
	}
}

func TestGetGeoCoordsOutOfRangeUTM(t *testing.T) {
	// Tiepoint easting 100 is outside the UTM easting range
	obj := scene.NewObject("terrain")
	Attach(obj, &Reference{Width: 2, Height: 2, PixelToGPS: [6]float64{100, 1, 0, 200, 0, -1}, Zone: Zone{11, "N"}})

	c, err := GetGeoCoords(math.Vec3{}, obj, nil, nil)
	if err == nil || c != nil {
		t.Errorf("expected an error and no coords, got %+v, %v", c, err)
	}
}
