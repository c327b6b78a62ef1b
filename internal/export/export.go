package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Faultbox/geoterrain/internal/geo"
	"github.com/Faultbox/geoterrain/internal/loader"
	"github.com/Faultbox/geoterrain/internal/logger"
	"github.com/Faultbox/geoterrain/internal/terrain"
)

// Output formats.
const (
	FormatGLB     = "glb"
	FormatGeoJSON = "geojson"
)

// Options controls Save and Batch.
type Options struct {
	Format       string
	EmbedTexture bool
	Converter    geo.UTMConverter
}

// Ext returns the file extension for format.
func Ext(format string) string {
	if format == FormatGeoJSON {
		return ".geojson"
	}
	return ".glb"
}

// Save writes t to path in opts.Format.
func Save(path string, t *terrain.Terrain, opts Options) error {
	switch strings.ToLower(opts.Format) {
	case "", FormatGLB:
		return SaveGLB(path, t, GLBOptions{EmbedTexture: opts.EmbedTexture})
	case FormatGeoJSON:
		f, err := TerrainFootprint(t, opts.Converter)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}
		out, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
		if err := WriteGeoJSON(out, f); err != nil {
			out.Close()
			return err
		}
		return out.Close()
	default:
		return fmt.Errorf("unknown export format %q", opts.Format)
	}
}

// Job is one DEM to load and export.
type Job struct {
	Input  string
	Output string
	Load   loader.Options
}

// Batch loads and exports jobs with at most workers running at once. The
// first failure cancels the remaining jobs and is returned.
func Batch(ctx context.Context, l *loader.Loader, jobs []Job, workers int, opts Options) error {
	if workers <= 0 {
		workers = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, job := range jobs {
		g.Go(func() error {
			res, err := l.LoadTerrain(ctx, job.Input, job.Load)
			if err != nil {
				return fmt.Errorf("%s: %w", job.Input, err)
			}
			if err := Save(job.Output, res.Terrain, opts); err != nil {
				return fmt.Errorf("%s: %w", job.Input, err)
			}
			logger.Debug("batch job done", zap.String("input", job.Input), zap.String("output", job.Output))
			return nil
		})
	}
	return g.Wait()
}
