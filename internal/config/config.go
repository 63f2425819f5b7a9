// Package config loads lipfilter settings from defaults, an optional YAML
// file and LIPFILTER_* environment variables, in that order of precedence.
package config

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/dudu/lipfilter/internal/compositor"
)

// EnvPrefix prefixes every environment override, e.g. LIPFILTER_CAMERA_DEVICE
const EnvPrefix = "LIPFILTER"

// FileName is the config file looked up when none is given
const FileName = "lipfilter.yaml"

// Render backends
const (
	BackendVector = "gg"
	BackendOpenCV = "opencv"
)

// Config is the full application configuration
type Config struct {
	Camera   CameraConfig   `mapstructure:"camera"`
	Detector DetectorConfig `mapstructure:"detector"`
	Render   RenderConfig   `mapstructure:"render"`
	Style    StyleConfig    `mapstructure:"style"`
	Server   ServerConfig   `mapstructure:"server"`
	Capture  CaptureConfig  `mapstructure:"capture"`
	Log      LogConfig      `mapstructure:"log"`
}

// CameraConfig selects and sizes the webcam
type CameraConfig struct {
	Device int  `mapstructure:"device"`
	Width  int  `mapstructure:"width"`
	Height int  `mapstructure:"height"`
	FPS    int  `mapstructure:"fps"`
	Mirror bool `mapstructure:"mirror"`
}

// DetectorConfig holds landmark model settings
type DetectorConfig struct {
	FaceModel     string        `mapstructure:"face_model"`
	MeshModel     string        `mapstructure:"mesh_model"`
	Library       string        `mapstructure:"library"`
	Provider      string        `mapstructure:"provider"`
	DetectionSize int           `mapstructure:"detection_size"`
	MinConfidence float64       `mapstructure:"min_confidence"`
	NMSThreshold  float64       `mapstructure:"nms_threshold"`
	MinInterval   time.Duration `mapstructure:"min_interval"`
}

// RenderConfig holds render target and overlay settings
type RenderConfig struct {
	Backend               string  `mapstructure:"backend"`
	Width                 int     `mapstructure:"width"`
	Height                int     `mapstructure:"height"`
	FPS                   int     `mapstructure:"fps"`
	Tension               float64 `mapstructure:"tension"`
	StrokeWidth           float64 `mapstructure:"stroke_width"`
	HighlightCount        int     `mapstructure:"highlight_count"`
	HighlightMinThickness float64 `mapstructure:"highlight_min_thickness"`
	GlossOpacity          float64 `mapstructure:"gloss_opacity"`
	Seed                  uint64  `mapstructure:"seed"`
}

// StyleConfig is the startup look
type StyleConfig struct {
	// Color is a swatch name, "none" or a #RRGGBB hex value
	Color       string  `mapstructure:"color"`
	Opacity     float64 `mapstructure:"opacity"`
	Brightness  float64 `mapstructure:"brightness"`
	PaletteFile string  `mapstructure:"palette_file"`
}

// ServerConfig configures the HTTP control API
type ServerConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	Addr         string  `mapstructure:"addr"`
	CaptureRate  float64 `mapstructure:"capture_rate"`
	CaptureBurst int     `mapstructure:"capture_burst"`
	PreviewFPS   int     `mapstructure:"preview_fps"`
}

// CaptureConfig controls saved snapshots
type CaptureConfig struct {
	Dir     string `mapstructure:"dir"`
	Format  string `mapstructure:"format"`
	Quality int    `mapstructure:"quality"`
}

// LogConfig selects the logger flavour
type LogConfig struct {
	Development bool `mapstructure:"development"`
}

// New returns a viper instance with defaults and environment binding
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load reads path, or the first lipfilter.yaml found in the working
// directory or ~/.lipfilter when path is empty, into v and decodes it.
// A missing default file is not an error.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(strings.TrimSuffix(FileName, filepath.Ext(FileName)))
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".lipfilter"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, errors.Wrapf(err, "failed to read config %s", path)
		}
	}
	return Decode(v)
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(path string) (*Config, error) {
	return Load(New(), path)
}

// Decode unmarshals the current state of v
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	return &cfg, nil
}

// Watch calls fn with the re-decoded configuration each time the config
// file changes. Decode failures are passed to onErr.
func Watch(v *viper.Viper, fn func(*Config), onErr func(error)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := Decode(v)
		if err != nil {
			if onErr != nil {
				onErr(err)
			}
			return
		}
		fn(cfg)
	})
	v.WatchConfig()
}

// Validate returns every problem found, or nil
func (c *Config) Validate() []string {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Camera.Device < 0 {
		add("camera.device must not be negative")
	}
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		add("camera size must be positive, got %dx%d", c.Camera.Width, c.Camera.Height)
	}
	if c.Camera.FPS <= 0 {
		add("camera.fps must be positive")
	}

	if c.Detector.MinConfidence < 0 || c.Detector.MinConfidence > 1 {
		add("detector.min_confidence must be within [0,1], got %g", c.Detector.MinConfidence)
	}
	if c.Detector.DetectionSize <= 0 || c.Detector.DetectionSize%32 != 0 {
		add("detector.detection_size must be a positive multiple of 32, got %d", c.Detector.DetectionSize)
	}
	if c.Detector.MinInterval < 0 {
		add("detector.min_interval must not be negative")
	}

	switch c.Render.Backend {
	case BackendVector, BackendOpenCV:
	default:
		add("render.backend must be %q or %q, got %q", BackendVector, BackendOpenCV, c.Render.Backend)
	}
	if c.Render.Width <= 0 || c.Render.Height <= 0 {
		add("render size must be positive, got %dx%d", c.Render.Width, c.Render.Height)
	}
	if c.Render.FPS <= 0 {
		add("render.fps must be positive")
	}
	if c.Render.HighlightCount < 0 {
		add("render.highlight_count must not be negative")
	}

	if _, err := c.Style.Resolve(compositor.DefaultPalette); err != nil && c.Style.PaletteFile == "" {
		add("style.color: %v", err)
	}
	if c.Style.Opacity < 0 || c.Style.Opacity > 1 {
		add("style.opacity must be within [0,1], got %g", c.Style.Opacity)
	}
	if c.Style.Brightness < 0 || c.Style.Brightness > 1 {
		add("style.brightness must be within [0,1], got %g", c.Style.Brightness)
	}

	if c.Server.Enabled && c.Server.Addr == "" {
		add("server.addr is required when the server is enabled")
	}
	if c.Server.CaptureRate <= 0 {
		add("server.capture_rate must be positive")
	}

	switch strings.ToLower(c.Capture.Format) {
	case "png", "jpeg", "jpg":
	default:
		add("capture.format must be png or jpeg, got %q", c.Capture.Format)
	}
	return problems
}

// Palette returns the configured palette, or the built-in one
func (s StyleConfig) Palette() (compositor.Palette, error) {
	if s.PaletteFile == "" {
		return compositor.DefaultPalette, nil
	}
	f, err := os.Open(s.PaletteFile)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open palette")
	}
	defer f.Close()
	return compositor.LoadPalette(f)
}

// Resolve turns the configured color name into a style using palette
// for swatch lookups
func (s StyleConfig) Resolve(palette compositor.Palette) (compositor.Style, error) {
	style := compositor.DefaultStyle()
	style.FillOpacity = s.Opacity
	style.Brightness = s.Brightness

	c, err := ResolveColor(palette, s.Color)
	if err != nil {
		return compositor.Style{}, err
	}
	style.Color = c
	return style.Normalize(), nil
}

// ResolveColor accepts a swatch name or slug, "none" or a hex color
func ResolveColor(palette compositor.Palette, name string) (color.NRGBA, error) {
	if sw, ok := palette.Find(name); ok {
		return sw.Color(), nil
	}
	c, err := compositor.ParseHex(name)
	if err != nil {
		return compositor.NoEffect, errors.Newf("unknown color %q", name)
	}
	return c, nil
}

// CompositorConfig returns the overlay settings
func (r RenderConfig) CompositorConfig() compositor.Config {
	cfg := compositor.DefaultConfig()
	if r.Tension > 0 {
		cfg.Tension = r.Tension
	}
	if r.StrokeWidth > 0 {
		cfg.StrokeWidth = r.StrokeWidth
	}
	cfg.HighlightCount = r.HighlightCount
	if r.HighlightMinThickness > 0 {
		cfg.HighlightMinThickness = r.HighlightMinThickness
	}
	cfg.GlossOpacity = r.GlossOpacity
	return cfg
}

// Interval is the render period
func (r RenderConfig) Interval() time.Duration {
	if r.FPS <= 0 {
		return time.Second / 30
	}
	return time.Second / time.Duration(r.FPS)
}
