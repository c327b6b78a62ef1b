package loader

import (
	"context"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/Faultbox/geoterrain/internal/geo"
	"github.com/Faultbox/geoterrain/internal/terrain"
	"github.com/Faultbox/geoterrain/pkg/geotiff"
)

func demImage(w, h int) *geotiff.Image {
	band := make([]float32, w*h)
	for i := range band {
		band[i] = float32(i)
	}
	return &geotiff.Image{
		Width:  w,
		Height: h,
		Bands:  [][]float32{band},
		Geo: geotiff.GeoInfo{
			PixelScale: []float64{1, 1, 0},
			Tiepoint:   []float64{0, 0, 0, 500000, 4100000, 0},
			Keys: map[uint16]geotiff.GeoKey{
				geotiff.GeoKey_GTCitation: {ID: geotiff.GeoKey_GTCitation, ASCII: "WGS 84 / UTM zone 11N"},
			},
		},
	}
}

func orthoImage(w, h int) *geotiff.Image {
	img := &geotiff.Image{Width: w, Height: h, BitsPerSample: 8, SampleFormat: geotiff.SampleFormatUint}
	for b := 0; b < 3; b++ {
		band := make([]float32, w*h)
		for i := range band {
			band[i] = float32(50 * (b + 1))
		}
		img.Bands = append(img.Bands, band)
	}
	return img
}

// writeFixtures writes dem.tif and ortho/ortho.tif into a temp dir.
func writeFixtures(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := geotiff.EncodeFile(filepath.Join(dir, "dem.tif"), demImage(4, 3), nil); err != nil {
		t.Fatalf("writing DEM: %v", err)
	}
	opts := &geotiff.EncodeOptions{Compression: geotiff.CompressionDeflate}
	if err := geotiff.EncodeFile(filepath.Join(dir, "ortho", "ortho.tif"), orthoImage(8, 6), opts); err != nil {
		t.Fatalf("writing orthophoto: %v", err)
	}
	return dir
}

// recorder collects manager events.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) listen(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) kinds(kind EventKind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func TestLoadFile(t *testing.T) {
	dir := writeFixtures(t)
	ld := New(nil, nil)
	rec := &recorder{}
	ld.Manager.Subscribe(rec.listen)

	opts := DefaultOptions()
	opts.OrthophotoPath = "ortho/ortho.tif"
	res, err := ld.LoadTerrain(context.Background(), filepath.Join(dir, "dem.tif"), opts)
	if err != nil {
		t.Fatalf("LoadTerrain failed: %v", err)
	}

	obj := res.Object
	if obj.Name != "dem.tif" {
		t.Errorf("expected object name dem.tif, got %q", obj.Name)
	}
	if obj.Position.X != 500000 || obj.Position.Y != 4100000 {
		t.Errorf("expected terrain at tiepoint, got %v", obj.Position)
	}
	if _, ok := obj.Geometry.(*terrain.Mesh); !ok {
		t.Errorf("expected terrain mesh geometry, got %T", obj.Geometry)
	}
	ref := geo.ReferenceOf(obj)
	if ref == nil || ref.Width != 4 || ref.Height != 3 {
		t.Fatalf("unexpected geo reference %+v", ref)
	}

	if res.Texture == nil || obj.Material.Texture != res.Texture.Image {
		t.Fatal("expected textured material")
	}
	if got := obj.Material.Texture.RGBAAt(0, 0); got.R != 50 || got.G != 100 || got.B != 150 || got.A != 255 {
		t.Errorf("unexpected texel %v", got)
	}

	starts := rec.kinds(EventItemStart)
	ends := rec.kinds(EventProgress)
	if len(starts) != 2 || len(ends) != 2 {
		t.Fatalf("expected 2 starts and 2 ends, got %d and %d", len(starts), len(ends))
	}
	if starts[1].URL != filepath.Join(dir, "ortho", "ortho.tif") {
		t.Errorf("orthophoto not resolved relative to DEM: %s", starts[1].URL)
	}
	if len(rec.kinds(EventLoad)) != 2 {
		t.Errorf("expected a load event after each sequential fetch, got %d", len(rec.kinds(EventLoad)))
	}
}

func TestLoadOrthophotoFailure(t *testing.T) {
	dir := writeFixtures(t)
	dem := filepath.Join(dir, "dem.tif")

	ld := New(nil, nil)
	rec := &recorder{}
	ld.Manager.Subscribe(rec.listen)

	opts := DefaultOptions()
	opts.OrthophotoPath = "missing.tif"
	if _, err := ld.Load(context.Background(), dem, opts); err == nil {
		t.Fatal("expected missing orthophoto to fail the load")
	}
	// The failed fetch still ends
	if len(rec.kinds(EventError)) != 1 || len(rec.kinds(EventProgress)) != 2 {
		t.Errorf("expected 1 error and 2 ends, got %d and %d", len(rec.kinds(EventError)), len(rec.kinds(EventProgress)))
	}
	if loaded, total := ld.Manager.Progress(); loaded != total {
		t.Errorf("manager left items open: %d/%d", loaded, total)
	}

	opts.OrthophotoOptional = true
	obj, err := ld.Load(context.Background(), dem, opts)
	if err != nil {
		t.Fatalf("optional orthophoto should not fail the load: %v", err)
	}
	if obj.Material.Texture != nil {
		t.Error("expected untextured terrain")
	}
}

func TestLoadDEMErrors(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.tif")
	if err := os.WriteFile(bad, []byte("not a tiff"), 0644); err != nil {
		t.Fatal(err)
	}

	ld := New(nil, nil)
	if _, err := ld.Load(context.Background(), bad, Options{}); !errors.Is(err, geotiff.ErrInvalidHeader) {
		t.Errorf("expected ErrInvalidHeader, got %v", err)
	}

	noZone := demImage(2, 2)
	noZone.Geo.Keys = nil
	path := filepath.Join(dir, "nozone.tif")
	if err := geotiff.EncodeFile(path, noZone, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := ld.Load(context.Background(), path, Options{}); !errors.Is(err, geo.ErrNoZone) {
		t.Errorf("expected ErrNoZone, got %v", err)
	}

	if _, err := ld.Load(context.Background(), "ftp://example.com/dem.tif", Options{}); !errors.Is(err, ErrUnsupportedScheme) {
		t.Errorf("expected ErrUnsupportedScheme, got %v", err)
	}
}

func TestLoadCancelled(t *testing.T) {
	dir := writeFixtures(t)
	ld := New(nil, nil)
	rec := &recorder{}
	ld.Manager.Subscribe(rec.listen)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := ld.Load(ctx, filepath.Join(dir, "dem.tif"), DefaultOptions()); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if len(rec.kinds(EventItemStart)) != 0 {
		t.Error("cancelled load should not start fetching")
	}
}

func TestLoadHTTP(t *testing.T) {
	dir := writeFixtures(t)
	mux := http.NewServeMux()
	mux.Handle("/data/", http.StripPrefix("/data/", http.FileServer(http.Dir(dir))))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ld := New(nil, NewFetcher(0))
	rec := &recorder{}
	ld.Manager.Subscribe(rec.listen)

	opts := DefaultOptions()
	opts.OrthophotoPath = "ortho/ortho.tif"
	opts.MaxTextureSize = 4

	obj, err := ld.Load(context.Background(), srv.URL+"/data/dem.tif", opts)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if b := obj.Material.Texture.Bounds(); b.Dx() != 4 || b.Dy() != 3 {
		t.Errorf("expected downsampled 4x3 texture, got %v", b)
	}
	starts := rec.kinds(EventItemStart)
	if len(starts) != 2 || starts[1].URL != srv.URL+"/data/ortho/ortho.tif" {
		t.Errorf("unexpected fetches %+v", starts)
	}

	if _, err := ld.Load(context.Background(), srv.URL+"/data/missing.tif", opts); err == nil {
		t.Error("expected 404 to fail the load")
	}
}

func TestLoadPNGOrthophoto(t *testing.T) {
	dir := writeFixtures(t)
	f, err := os.Create(filepath.Join(dir, "ortho.png"))
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, image.NewRGBA(image.Rect(0, 0, 3, 2))); err != nil {
		t.Fatal(err)
	}
	f.Close()

	opts := DefaultOptions()
	opts.OrthophotoPath = "ortho.png"
	res, err := New(nil, nil).LoadTerrain(context.Background(), filepath.Join(dir, "dem.tif"), opts)
	if err != nil {
		t.Fatalf("LoadTerrain failed: %v", err)
	}
	if res.Texture == nil || res.Texture.SourceWidth != 3 {
		t.Errorf("unexpected texture %+v", res.Texture)
	}
}

func TestLoadAsync(t *testing.T) {
	dir := writeFixtures(t)
	ld := New(nil, nil)

	res := <-ld.LoadAsync(context.Background(), filepath.Join(dir, "dem.tif"), DefaultOptions())
	if res.Err != nil || res.Object == nil {
		t.Fatalf("unexpected async result %+v", res)
	}

	res = <-ld.LoadAsync(context.Background(), filepath.Join(dir, "nope.tif"), DefaultOptions())
	if res.Err == nil || res.Object != nil {
		t.Errorf("expected async error, got %+v", res)
	}
}

func TestResolveRelative(t *testing.T) {
	tests := []struct {
		base, ref, want string
	}{
		{"/data/dem.tif", "ortho.tif", "/data/ortho.tif"},
		{"/data/dem.tif", "/abs/ortho.tif", "/abs/ortho.tif"},
		{"dem.tif", "ortho.tif", "ortho.tif"},
		{"http://host/a/b/dem.tif", "ortho.tif", "http://host/a/b/ortho.tif"},
		{"http://host/a/b/dem.tif", "../o.tif", "http://host/a/o.tif"},
		{"/data/dem.tif", "https://cdn/o.tif", "https://cdn/o.tif"},
	}
	for _, tt := range tests {
		if got := resolveRelative(tt.base, tt.ref); got != filepath.FromSlash(tt.want) && got != tt.want {
			t.Errorf("resolveRelative(%q, %q) = %q, want %q", tt.base, tt.ref, got, tt.want)
		}
	}
}

func TestManagerURLModifier(t *testing.T) {
	m := NewManager()
	if m.ResolveURL("a.tif") != "a.tif" {
		t.Error("expected identity without modifier")
	}
	m.SetURLModifier(func(u string) string { return "/mirror/" + u })
	if got := m.ResolveURL("a.tif"); got != "/mirror/a.tif" {
		t.Errorf("unexpected resolved URL %q", got)
	}

	rec := &recorder{}
	unsubscribe := m.Subscribe(rec.listen)
	m.ItemStart("x")
	m.ItemStart("y")
	if !m.Loading() {
		t.Error("expected manager to be loading")
	}
	m.ItemEnd("x")
	m.ItemEnd("y")
	if len(rec.kinds(EventStart)) != 1 || len(rec.kinds(EventLoad)) != 1 {
		t.Errorf("expected one start and one load, got %d and %d", len(rec.kinds(EventStart)), len(rec.kinds(EventLoad)))
	}

	unsubscribe()
	m.ItemStart("z")
	if len(rec.kinds(EventItemStart)) != 2 {
		t.Error("unsubscribed listener still receives events")
	}
}
