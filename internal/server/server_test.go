package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/paulmach/orb/geojson"

	"github.com/Faultbox/geoterrain/internal/config"
	"github.com/Faultbox/geoterrain/internal/geo"
	"github.com/Faultbox/geoterrain/internal/loader"
	"github.com/Faultbox/geoterrain/internal/progress"
	"github.com/Faultbox/geoterrain/pkg/geotiff"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type passthrough struct{}

func (passthrough) ToLatLon(easting, northing float64, zone geo.Zone) (float64, float64, error) {
	return northing, easting, nil
}

func writeDEM(t *testing.T) string {
	t.Helper()
	band := make([]float32, 4*3)
	for i := range band {
		band[i] = float32(i)
	}
	img := &geotiff.Image{
		Width:  4,
		Height: 3,
		Bands:  [][]float32{band},
		Geo: geotiff.GeoInfo{
			PixelScale: []float64{1, 1, 0},
			Tiepoint:   []float64{0, 0, 0, 500000, 4100000, 0},
			Keys: map[uint16]geotiff.GeoKey{
				geotiff.GeoKey_GTCitation: {ID: geotiff.GeoKey_GTCitation, ASCII: "WGS 84 / UTM zone 11N"},
			},
		},
	}
	path := filepath.Join(t.TempDir(), "dem.tif")
	if err := geotiff.EncodeFile(path, img, nil); err != nil {
		t.Fatalf("writing DEM: %v", err)
	}
	return path
}

func newServer() *Server {
	cfg := config.Default()
	return New(Options{
		Server:    cfg.Server,
		Loader:    loader.DefaultOptions(),
		Converter: passthrough{},
	})
}

func do(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// startAndWait posts a load and blocks until its task finishes.
func startAndWait(t *testing.T, s *Server, req LoadRequest) *Task {
	t.Helper()
	rec := do(t, s.Handler(), http.MethodPost, "/terrains", req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body)
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	task, ok := s.Tasks().Get(resp.ID)
	if !ok {
		t.Fatalf("task %s not registered", resp.ID)
	}
	select {
	case <-task.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for the load")
	}
	return task
}

func TestStartLoadValidation(t *testing.T) {
	s := newServer()
	rec := do(t, s.Handler(), http.MethodPost, "/terrains", map[string]string{"orthophoto": "x.png"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without dem, got %d", rec.Code)
	}
}

func TestLoadAndQuery(t *testing.T) {
	s := newServer()
	task := startAndWait(t, s, LoadRequest{DEM: writeDEM(t)})
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/terrains/"+task.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", rec.Code)
	}
	var info TaskInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatal(err)
	}
	if info.Status != TaskStatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", info.Status, info.Error)
	}
	if info.Terrain == nil || info.Terrain.Width != 4 || info.Terrain.UTMZone != "11N" {
		t.Errorf("unexpected terrain info %+v", info.Terrain)
	}
	if info.Progress.Phase != progress.PhaseDone {
		t.Errorf("expected phase done, got %s", info.Progress.Phase)
	}

	// Model frame point at the tiepoint is the terrain center: pixel (2, 1.5)
	rec = do(t, h, http.MethodGet, "/terrains/"+task.ID+"/geocoords?x=500000&y=4100000&z=-5", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("geocoords: expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var coords geo.Coords
	if err := json.Unmarshal(rec.Body.Bytes(), &coords); err != nil {
		t.Fatal(err)
	}
	if coords.Lon != 500002 || coords.Lat != 4099998.5 || coords.Elevation != 5 {
		t.Errorf("unexpected coords %+v", coords)
	}

	rec = do(t, h, http.MethodGet, "/terrains/"+task.ID+"/geocoords?x=abc&y=1", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a bad x, got %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/terrains/"+task.ID+"/footprint", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("footprint: expected 200, got %d", rec.Code)
	}
	f, err := geojson.UnmarshalFeature(rec.Body.Bytes())
	if err != nil {
		t.Fatalf("parsing footprint: %v", err)
	}
	if f.Geometry.GeoJSONType() != "Polygon" {
		t.Errorf("expected a polygon, got %s", f.Geometry.GeoJSONType())
	}

	rec = do(t, h, http.MethodGet, "/terrains/"+task.ID+"/glb", nil)
	if rec.Code != http.StatusOK || !bytes.HasPrefix(rec.Body.Bytes(), []byte("glTF")) {
		t.Errorf("glb: expected a GLB body, got %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/terrains", nil)
	var list []TaskInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil || len(list) != 1 {
		t.Errorf("expected one listed task, got %d (%v)", len(list), err)
	}
}

func TestFailedLoad(t *testing.T) {
	s := newServer()
	task := startAndWait(t, s, LoadRequest{DEM: filepath.Join(t.TempDir(), "missing.tif")})

	if task.Status() != TaskStatusFailed {
		t.Fatalf("expected failed, got %s", task.Status())
	}
	info := task.Info()
	if info.Error == "" || info.Progress.Phase != progress.PhaseFailed {
		t.Errorf("expected error details, got %+v", info)
	}

	rec := do(t, s.Handler(), http.MethodGet, "/terrains/"+task.ID+"/geocoords?x=0&y=0", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 for an unloaded terrain, got %d", rec.Code)
	}
}

func TestUnknownTask(t *testing.T) {
	s := newServer()
	for _, target := range []string{"/terrains/nope", "/terrains/nope/footprint", "/terrains/nope/geocoords?x=1&y=1"} {
		if rec := do(t, s.Handler(), http.MethodGet, target, nil); rec.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", target, rec.Code)
		}
	}
	if rec := do(t, s.Handler(), http.MethodDelete, "/terrains/nope", nil); rec.Code != http.StatusNotFound {
		t.Errorf("delete: expected 404, got %d", rec.Code)
	}
}

func TestRemoveAndSweep(t *testing.T) {
	s := newServer()
	dem := writeDEM(t)

	a := startAndWait(t, s, LoadRequest{DEM: dem})
	if rec := do(t, s.Handler(), http.MethodDelete, "/terrains/"+a.ID, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if _, ok := s.Tasks().Get(a.ID); ok {
		t.Error("expected the task to be gone")
	}

	startAndWait(t, s, LoadRequest{DEM: dem})
	if n := s.Tasks().Sweep(time.Now()); n != 0 {
		t.Errorf("expected nothing expired yet, got %d", n)
	}
	if n := s.Tasks().Sweep(time.Now().Add(24 * time.Hour)); n != 1 {
		t.Errorf("expected one expired task, got %d", n)
	}
}

func TestRequestOptions(t *testing.T) {
	defaults := loader.DefaultOptions()
	defaults.ZOffset = 12
	tm := NewTaskManager(1, 0, defaults, nil, nil)

	scale := 3.0
	opts := tm.options(LoadRequest{DEM: "a.tif", Orthophoto: "b.png", ZScale: &scale, MaxSamples: 64})
	if opts.ZScale != 3 || opts.ZOffset != 12 || opts.MaxSamplesPerDimension != 64 || opts.OrthophotoPath != "b.png" {
		t.Errorf("unexpected options %+v", opts)
	}

	opts = tm.options(LoadRequest{DEM: "a.tif"})
	if opts.ZScale != 1 || opts.ZOffset != 12 || opts.MaxSamplesPerDimension != defaults.MaxSamplesPerDimension {
		t.Errorf("expected defaults, got %+v", opts)
	}

	// An explicit zero offset overrides the configured one
	var req LoadRequest
	if err := json.Unmarshal([]byte(`{"dem":"a.tif","zOffset":0}`), &req); err != nil {
		t.Fatal(err)
	}
	if opts = tm.options(req); opts.ZOffset != 0 {
		t.Errorf("expected zOffset 0, got %v", opts.ZOffset)
	}
}

func TestProgressSocket(t *testing.T) {
	s := newServer()
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	task := s.Tasks().Start(LoadRequest{DEM: writeDEM(t)})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/terrains/" + task.ID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))

	var last progress.State
	for {
		var st progress.State
		if err := conn.ReadJSON(&st); err != nil {
			t.Fatalf("reading progress: %v", err)
		}
		last = st
		if st.IsComplete {
			break
		}
	}
	if last.Phase != progress.PhaseDone {
		t.Errorf("expected final phase done, got %s (%s)", last.Phase, last.ErrorMsg)
	}

	// The server closes normally after the final state
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("expected a normal close, got %v", err)
	}
}
