package config

import "flag"

// Flags holds command-line overrides bound to a FlagSet. Only flags that
// were explicitly set on the command line override the config.
type Flags struct {
	fs *flag.FlagSet

	Config     *string
	Debug      *bool
	ZScale     *float64
	ZOffset    *float64
	MaxSamples *int
	Addr       *string
	Format     *string
}

// BindFlags registers the shared geoterrain flags on fs.
func BindFlags(fs *flag.FlagSet) *Flags {
	return &Flags{
		fs:         fs,
		Config:     fs.String("config", "", "Path to config file"),
		Debug:      fs.Bool("debug", false, "Enable debug logging"),
		ZScale:     fs.Float64("z-scale", 0, "Elevation scale factor"),
		ZOffset:    fs.Float64("z-offset", 0, "Elevation offset"),
		MaxSamples: fs.Int("max-samples", 0, "Maximum mesh vertices per axis"),
		Addr:       fs.String("addr", "", "HTTP listen address"),
		Format:     fs.String("format", "", "Export format (glb, geojson)"),
	}
}

// ConfigPath returns the explicit config path if provided via -config.
func (f *Flags) ConfigPath() string {
	if f == nil {
		return ""
	}
	return *f.Config
}

// applyFlags applies CLI flag overrides to the config.
func (f *Flags) applyFlags(cfg *Config) {
	if f == nil {
		return
	}
	f.fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "debug":
			if *f.Debug {
				cfg.Logging.Level = "debug"
			}
		case "z-scale":
			cfg.Loader.ZScale = *f.ZScale
		case "z-offset":
			cfg.Loader.ZOffset = *f.ZOffset
		case "max-samples":
			cfg.Loader.MaxSamples = *f.MaxSamples
		case "addr":
			cfg.Server.Addr = *f.Addr
		case "format":
			cfg.Export.Format = *f.Format
		}
	})
}
