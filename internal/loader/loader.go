// Package loader fetches GeoTIFF DEMs and orthophotos and assembles them
// into textured terrain objects, reporting each fetch to a Manager.
package loader

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg" // orthophoto decoders
	_ "image/png"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "golang.org/x/image/bmp"

	"github.com/Faultbox/geoterrain/internal/logger"
	"github.com/Faultbox/geoterrain/internal/scene"
	"github.com/Faultbox/geoterrain/internal/terrain"
	"github.com/Faultbox/geoterrain/internal/texture"
	"github.com/Faultbox/geoterrain/pkg/geotiff"
)

// Options controls a single load. Zero ZScale means 1 and zero sizes mean
// the package defaults.
type Options struct {
	ZScale                 float64
	ZOffset                float64
	MaxSamplesPerDimension int

	// OrthophotoPath is resolved relative to the DEM's directory.
	OrthophotoPath string
	// OrthophotoOptional keeps the untextured terrain when the orthophoto
	// cannot be loaded instead of failing the load.
	OrthophotoOptional bool

	MaxTextureSize int
	Resampler      string
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		ZScale:                 1,
		MaxSamplesPerDimension: terrain.DefaultMaxSamplesPerDimension,
		MaxTextureSize:         texture.DefaultMaxTextureSize,
	}
}

func (o Options) normalized() Options {
	if o.ZScale == 0 {
		o.ZScale = 1
	}
	if o.MaxSamplesPerDimension <= 0 {
		o.MaxSamplesPerDimension = terrain.DefaultMaxSamplesPerDimension
	}
	if o.MaxTextureSize <= 0 {
		o.MaxTextureSize = texture.DefaultMaxTextureSize
	}
	return o
}

// Result is the outcome of a load.
type Result struct {
	Object  *scene.Object
	Terrain *terrain.Terrain
	Texture *texture.Texture // nil without an orthophoto
	Err     error
}

// Loader loads terrains. A Loader holds no per-load state and may be used
// concurrently; every call fetches afresh.
type Loader struct {
	Manager *Manager
	Fetcher Fetcher
}

// New creates a loader. Nil arguments get a fresh Manager and a
// DefaultFetcher without timeout.
func New(manager *Manager, fetcher Fetcher) *Loader {
	if manager == nil {
		manager = NewManager()
	}
	if fetcher == nil {
		fetcher = NewFetcher(0)
	}
	return &Loader{Manager: manager, Fetcher: fetcher}
}

// Load fetches the DEM at location, builds its terrain and, when
// opts.OrthophotoPath is set, textures it.
func (l *Loader) Load(ctx context.Context, location string, opts Options) (*scene.Object, error) {
	res, err := l.LoadTerrain(ctx, location, opts)
	if err != nil {
		return nil, err
	}
	return res.Object, nil
}

// LoadAsync runs Load in a goroutine and delivers exactly one Result on the
// returned channel, which is then closed.
func (l *Loader) LoadAsync(ctx context.Context, location string, opts Options) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		defer close(ch)
		res, err := l.LoadTerrain(ctx, location, opts)
		if err != nil {
			ch <- Result{Err: err}
			return
		}
		ch <- *res
	}()
	return ch
}

// LoadTerrain is Load returning the terrain and texture alongside the
// object.
func (l *Loader) LoadTerrain(ctx context.Context, location string, opts Options) (*Result, error) {
	opts = opts.normalized()
	start := time.Now()
	logger.Info("loading terrain", zap.String("dem", location), zap.String("orthophoto", opts.OrthophotoPath))

	data, err := l.fetch(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("fetching DEM %s: %w", location, err)
	}
	dem, err := geotiff.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("decoding DEM %s: %w", location, err)
	}

	ter, err := terrain.Build(dem, terrain.Options{
		ZScale:                 opts.ZScale,
		ZOffset:                opts.ZOffset,
		MaxSamplesPerDimension: opts.MaxSamplesPerDimension,
	})
	if err != nil {
		return nil, fmt.Errorf("building terrain from %s: %w", location, err)
	}
	ter.Object.Name = path.Base(strings.ReplaceAll(location, "\\", "/"))

	res := &Result{Object: ter.Object, Terrain: ter}

	if opts.OrthophotoPath != "" {
		orthoURL := resolveRelative(location, opts.OrthophotoPath)
		tex, err := l.loadOrthophoto(ctx, orthoURL, dem.Width, dem.Height, opts)
		switch {
		case err == nil:
			texture.Apply(ter.Object.Material, tex)
			res.Texture = tex
		case opts.OrthophotoOptional && ctx.Err() == nil:
			logger.Warn("orthophoto unavailable, continuing without texture",
				zap.String("orthophoto", orthoURL), zap.Error(err))
		default:
			return nil, err
		}
	}

	logger.Info("terrain loaded",
		zap.String("dem", location),
		zap.Int("width", dem.Width),
		zap.Int("height", dem.Height),
		zap.Int("vertices", len(ter.Mesh.Vertices)),
		zap.Bool("textured", res.Texture != nil),
		zap.Duration("elapsed", time.Since(start)))

	return res, nil
}

func (l *Loader) loadOrthophoto(ctx context.Context, location string, demW, demH int, opts Options) (*texture.Texture, error) {
	data, err := l.fetch(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("fetching orthophoto %s: %w", location, err)
	}

	texOpts := texture.Options{
		MaxTextureSize: opts.MaxTextureSize,
		Resampler:      texture.Resampler(opts.Resampler),
	}

	if isTIFF(data) {
		img, err := geotiff.Parse(data)
		if err != nil {
			return nil, fmt.Errorf("decoding orthophoto %s: %w", location, err)
		}
		tex, err := texture.Build(img, demW, demH, texOpts)
		if err != nil {
			return nil, fmt.Errorf("building orthophoto texture %s: %w", location, err)
		}
		return tex, nil
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding orthophoto %s: %w", location, err)
	}
	logger.Debug("decoded orthophoto", zap.String("format", format), zap.String("url", location))
	return texture.BuildImage(img, demW, demH, texOpts), nil
}

// fetch brackets a single Fetcher call with ItemStart/ItemEnd. ItemEnd
// fires whether or not the fetch succeeds.
func (l *Loader) fetch(ctx context.Context, location string) (data []byte, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	location = l.Manager.ResolveURL(location)
	l.Manager.ItemStart(location)
	defer l.Manager.ItemEnd(location)

	logger.Debug("fetch start", zap.String("url", location))
	data, err = l.Fetcher.Fetch(ctx, location)
	if err != nil {
		l.Manager.ItemError(location, err)
		return nil, err
	}
	logger.Debug("fetch done", zap.String("url", location), zap.Int("bytes", len(data)))
	return data, nil
}

func isTIFF(data []byte) bool {
	return len(data) >= 4 && (string(data[:4]) == "II*\x00" || string(data[:4]) == "MM\x00*")
}
