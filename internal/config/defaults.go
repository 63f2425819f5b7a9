package config

import (
	"github.com/spf13/viper"

	"github.com/dudu/lipfilter/internal/compositor"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Camera defaults
	v.SetDefault("camera.device", 0)
	v.SetDefault("camera.width", 1280)
	v.SetDefault("camera.height", 720)
	v.SetDefault("camera.fps", 30)
	v.SetDefault("camera.mirror", true) // preview behaves like a looking glass

	// Detector defaults
	v.SetDefault("detector.face_model", "models/det_10g.onnx")
	v.SetDefault("detector.mesh_model", "models/face_mesh_192.onnx")
	v.SetDefault("detector.library", "")
	v.SetDefault("detector.provider", "cpu")
	v.SetDefault("detector.detection_size", 640)
	v.SetDefault("detector.min_confidence", 0.5)
	v.SetDefault("detector.nms_threshold", 0.4)
	v.SetDefault("detector.min_interval", "33ms") // ~30 detections per second

	// Render defaults
	v.SetDefault("render.backend", BackendVector)
	v.SetDefault("render.width", 600)
	v.SetDefault("render.height", 600)
	v.SetDefault("render.fps", 30)
	def := compositor.DefaultConfig()
	v.SetDefault("render.tension", def.Tension)
	v.SetDefault("render.stroke_width", def.StrokeWidth)
	v.SetDefault("render.highlight_count", def.HighlightCount)
	v.SetDefault("render.highlight_min_thickness", def.HighlightMinThickness)
	v.SetDefault("render.gloss_opacity", def.GlossOpacity)
	v.SetDefault("render.seed", 0) // 0 seeds from the clock

	// Style defaults
	v.SetDefault("style.color", compositor.DefaultPalette[0].Name)
	v.SetDefault("style.opacity", compositor.DefaultFillOpacity)
	v.SetDefault("style.brightness", compositor.DefaultBrightness)
	v.SetDefault("style.palette_file", "")

	// Server defaults
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.addr", "127.0.0.1:8765")
	v.SetDefault("server.capture_rate", 2.0) // captures per second
	v.SetDefault("server.capture_burst", 4)
	v.SetDefault("server.preview_fps", 15)

	// Capture defaults
	v.SetDefault("capture.dir", ".")
	v.SetDefault("capture.format", "png")
	v.SetDefault("capture.quality", 92)

	v.SetDefault("log.development", false)
}
