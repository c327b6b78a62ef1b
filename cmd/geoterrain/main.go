// geoterrain is a CLI for inspecting, querying and exporting geo-referenced
// GeoTIFF terrains.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/Faultbox/geoterrain/internal/config"
	"github.com/Faultbox/geoterrain/internal/export"
	"github.com/Faultbox/geoterrain/internal/geo"
	"github.com/Faultbox/geoterrain/internal/loader"
	"github.com/Faultbox/geoterrain/internal/logger"
	"github.com/Faultbox/geoterrain/internal/progress"
	"github.com/Faultbox/geoterrain/internal/scene"
	"github.com/Faultbox/geoterrain/internal/server"
	"github.com/Faultbox/geoterrain/internal/viewer"
	"github.com/Faultbox/geoterrain/pkg/geotiff"
	"github.com/Faultbox/geoterrain/pkg/math"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "info":
		cmdInfo(args)
	case "lookup":
		cmdLookup(args)
	case "export":
		cmdExport(args)
	case "batch":
		cmdBatch(args)
	case "serve":
		cmdServe(args)
	case "config":
		cmdConfig(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`geoterrain - GeoTIFF terrain utility

Usage:
  geoterrain <command> [options]

Commands:
  info <dem.tif>                       Show raster and geo reference details
  lookup <dem.tif> <px> <py>           Geographic coordinates of a raster pixel
  export <dem.tif> <output>            Export terrain as GLB or GeoJSON footprint
  batch <outdir> <dem.tif>...          Export several terrains concurrently
  serve                                Run the HTTP API
  config [-o file]                     Write the effective config as YAML

Common options:
  -config <file>    Config file (default ./geoterrain.yaml)
  -debug            Debug logging
  -z-scale, -z-offset, -max-samples, -format, -addr

Examples:
  geoterrain info dem.tif
  geoterrain lookup dem.tif 120 45
  geoterrain export -ortho ortho.tif dem.tif out/site.glb
  geoterrain batch -format geojson out tiles/*.tif
  geoterrain serve -addr :8080`)
}

// setup parses args, loads config and initializes logging.
func setup(fs *flag.FlagSet, args []string) *config.Config {
	flags := config.BindFlags(fs)
	fs.Parse(args)

	cfg, err := config.Load(flags)
	if err != nil {
		fatalf("Config error: %v", err)
	}

	if err := logger.InitWithOptions(logger.Options{
		Level:   cfg.Logging.Level,
		JSON:    cfg.Logging.JSON,
		Console: true,
		File:    logFile(cfg.Logging.LogFile),
	}); err != nil {
		fatalf("Logger error: %v", err)
	}
	logger.Sugar.Debugf("Config: %+v", cfg)
	return cfg
}

func logFile(path string) logger.FileConfig {
	if path == "" {
		return logger.FileConfig{}
	}
	return logger.DefaultFileConfig(path)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func loaderOptions(cfg *config.Config) loader.Options {
	return loader.Options{
		ZScale:                 cfg.Loader.ZScale,
		ZOffset:                cfg.Loader.ZOffset,
		MaxSamplesPerDimension: cfg.Loader.MaxSamples,
		OrthophotoOptional:     cfg.Loader.OrthophotoOptional,
		MaxTextureSize:         cfg.Loader.MaxTextureSize,
	}
}

func newLoader(cfg *config.Config) *loader.Loader {
	return loader.New(nil, loader.NewFetcher(cfg.Loader.HTTPTimeout))
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func cmdInfo(args []string) {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	setup(fs, args)
	defer logger.Sync()

	if fs.NArg() < 1 {
		fatalf("Usage: geoterrain info <dem.tif>")
	}
	path := fs.Arg(0)

	img, err := geotiff.ParseFile(path)
	if err != nil {
		fatalf("Error: %v", err)
	}

	fmt.Printf("File:       %s\n", path)
	fmt.Printf("Size:       %d x %d\n", img.Width, img.Height)
	fmt.Printf("Bands:      %d (%d-bit, format %d)\n", len(img.Bands), img.BitsPerSample, img.SampleFormat)
	if img.NoData != nil {
		fmt.Printf("NoData:     %g\n", *img.NoData)
	}
	fmt.Printf("Citation:   %s\n", img.Geo.Citation())

	ref, err := geo.NewReference(img.Width, img.Height, img.Geo)
	if err != nil {
		fmt.Printf("Geo:        %v\n", err)
		return
	}
	fmt.Printf("UTM zone:   %s\n", ref.Zone)
	fmt.Printf("PixelToGPS: %v\n", ref.PixelToGPS)

	if f, err := export.Footprint(ref, geo.DefaultConverter); err == nil {
		fmt.Println("Bounds (lon/lat):")
		b := f.BBox.Bound()
		fmt.Printf("  min %.6f, %.6f\n", b.Min.Lon(), b.Min.Lat())
		fmt.Printf("  max %.6f, %.6f\n", b.Max.Lon(), b.Max.Lat())
	} else {
		fmt.Printf("Bounds:     %v\n", err)
	}
}

func cmdLookup(args []string) {
	fs := flag.NewFlagSet("lookup", flag.ExitOnError)
	cfg := setup(fs, args)
	defer logger.Sync()

	if fs.NArg() < 3 {
		fatalf("Usage: geoterrain lookup <dem.tif> <px> <py>")
	}
	px, errX := strconv.ParseFloat(fs.Arg(1), 64)
	py, errY := strconv.ParseFloat(fs.Arg(2), 64)
	if errX != nil || errY != nil {
		fatalf("Error: pixel coordinates must be numbers")
	}

	ctx, cancel := signalContext()
	defer cancel()

	res, err := newLoader(cfg).LoadTerrain(ctx, fs.Arg(0), loaderOptions(cfg))
	if err != nil {
		fatalf("Error: %v", err)
	}

	v := viewer.New(viewer.ConfigFrom(cfg.Viewer))
	v.SetTerrain(res.Terrain)

	// Pixel to the terrain's local frame, then into the model frame
	ref := res.Terrain.Reference
	lx := px - float64(ref.Width)/2
	ly := py - float64(ref.Height)/2
	local := math.V3(lx, ly, -res.Terrain.HeightAt(lx, ly))
	var scratch math.Mat4
	p := scene.TransformPoint(local, res.Terrain.Object, v.ModelFrame(), &scratch)

	coords, err := v.GeoCoords(p)
	if err != nil {
		fatalf("Error: %v", err)
	}
	if coords == nil {
		fatalf("Error: terrain has no geo reference")
	}
	fmt.Printf("Latitude:  %.8f\n", coords.Lat)
	fmt.Printf("Longitude: %.8f\n", coords.Lon)
	fmt.Printf("Elevation: %.3f\n", coords.Elevation)
}

func cmdExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	ortho := fs.String("ortho", "", "Orthophoto path, relative to the DEM")
	noTexture := fs.Bool("no-texture", false, "Do not embed the orthophoto")
	cfg := setup(fs, args)
	defer logger.Sync()

	if fs.NArg() < 2 {
		fatalf("Usage: geoterrain export [-ortho file] <dem.tif> <output>")
	}

	ctx, cancel := signalContext()
	defer cancel()

	opts := loaderOptions(cfg)
	opts.OrthophotoPath = *ortho

	l := newLoader(cfg)
	tracker := progress.NewTracker()
	defer tracker.Attach(l.Manager)()
	tracker.Observe(func(s progress.State) {
		logger.Debug("progress", zap.String("status", s.StatusMsg), zap.Float64("progress", s.Progress))
	})

	res, err := l.LoadTerrain(ctx, fs.Arg(0), opts)
	tracker.Finish(err)
	if err != nil {
		fatalf("Error: %v", err)
	}

	out := fs.Arg(1)
	err = export.Save(out, res.Terrain, export.Options{
		Format:       formatFor(cfg.Export.Format, out),
		EmbedTexture: cfg.Export.EmbedTexture && !*noTexture,
	})
	if err != nil {
		fatalf("Error: %v", err)
	}
	fmt.Printf("Exported %s\n", out)
}

// formatFor prefers an explicit output extension over the configured format.
func formatFor(configured, out string) string {
	switch strings.ToLower(filepath.Ext(out)) {
	case ".geojson", ".json":
		return export.FormatGeoJSON
	case ".glb":
		return export.FormatGLB
	}
	return configured
}

func cmdBatch(args []string) {
	fs := flag.NewFlagSet("batch", flag.ExitOnError)
	workers := fs.Int("workers", 0, "Concurrent exports (0 = config)")
	cfg := setup(fs, args)
	defer logger.Sync()

	if fs.NArg() < 2 {
		fatalf("Usage: geoterrain batch [-workers n] <outdir> <dem.tif>...")
	}
	outDir := fs.Arg(0)
	format := cfg.Export.Format

	var jobs []export.Job
	for _, in := range fs.Args()[1:] {
		base := strings.TrimSuffix(filepath.Base(in), filepath.Ext(in))
		jobs = append(jobs, export.Job{
			Input:  in,
			Output: filepath.Join(outDir, base+export.Ext(format)),
			Load:   loaderOptions(cfg),
		})
	}

	n := *workers
	if n <= 0 {
		n = cfg.Export.Workers
	}

	ctx, cancel := signalContext()
	defer cancel()

	err := export.Batch(ctx, newLoader(cfg), jobs, n, export.Options{
		Format:       format,
		EmbedTexture: cfg.Export.EmbedTexture,
	})
	if err != nil {
		logger.Error("batch failed", zap.Error(err))
		os.Exit(1)
	}
	fmt.Printf("Exported %d terrains to %s\n", len(jobs), outDir)
}

func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	cfg := setup(fs, args)
	defer logger.Sync()

	ctx, cancel := signalContext()
	defer cancel()

	s := server.New(server.Options{
		Server:  cfg.Server,
		Loader:  loaderOptions(cfg),
		Fetcher: loader.NewFetcher(cfg.Loader.HTTPTimeout),
	})
	if err := s.Run(ctx); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
}

func cmdConfig(args []string) {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	out := fs.String("o", "", "Output path (default: user config dir)")
	cfg := setup(fs, args)
	defer logger.Sync()

	var err error
	if *out == "" {
		*out = filepath.Join(config.ConfigDir(), "config.yaml")
		err = cfg.Save()
	} else {
		err = cfg.SaveTo(*out)
	}
	if err != nil {
		fatalf("Error: %v", err)
	}
	fmt.Printf("Wrote %s\n", *out)
}
