// Package config handles geoterrain configuration loading and management.
package config

import "time"

// Config holds all geoterrain settings.
type Config struct {
	Loader  LoaderConfig  `yaml:"loader"`
	Viewer  ViewerConfig  `yaml:"viewer"`
	Server  ServerConfig  `yaml:"server"`
	Export  ExportConfig  `yaml:"export"`
	Logging LoggingConfig `yaml:"logging"`
}

// LoaderConfig holds terrain loading defaults.
type LoaderConfig struct {
	ZScale             float64       `yaml:"z_scale"`
	ZOffset            float64       `yaml:"z_offset"`
	MaxSamples         int           `yaml:"max_samples"`      // Vertices per mesh axis
	MaxTextureSize     int           `yaml:"max_texture_size"` // Orthophoto edge limit in pixels
	OrthophotoOptional bool          `yaml:"orthophoto_optional"`
	HTTPTimeout        time.Duration `yaml:"http_timeout"`
}

// ViewerConfig holds viewer capability settings.
type ViewerConfig struct {
	Width         int  `yaml:"width"`
	Height        int  `yaml:"height"`
	Optimize      bool `yaml:"optimize"`
	DirtyTracking bool `yaml:"dirty_tracking"`
}

// ServerConfig holds HTTP mode settings.
type ServerConfig struct {
	Addr     string        `yaml:"addr"`
	MaxLoads int           `yaml:"max_loads"` // Concurrent terrain loads
	TaskTTL  time.Duration `yaml:"task_ttl"`
}

// ExportConfig holds export settings.
type ExportConfig struct {
	Format       string `yaml:"format"` // glb or geojson
	EmbedTexture bool   `yaml:"embed_texture"`
	Workers      int    `yaml:"workers"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
	JSON    bool   `yaml:"json"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Loader: LoaderConfig{
			ZScale:         1,
			ZOffset:        0,
			MaxSamples:     512,
			MaxTextureSize: 4096,
			HTTPTimeout:    30 * time.Second,
		},
		Viewer: ViewerConfig{
			Width:         1280,
			Height:        720,
			Optimize:      true,
			DirtyTracking: true,
		},
		Server: ServerConfig{
			Addr:     "127.0.0.1:8080",
			MaxLoads: 4,
			TaskTTL:  30 * time.Minute,
		},
		Export: ExportConfig{
			Format:       "glb",
			EmbedTexture: true,
			Workers:      4,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
