package server

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/zonecam/zonecam/pkg/gen"
	"github.com/zonecam/zonecam/server/detector"
)

type Config struct {
	DataRoot    string          `json:"dataRoot"`    // Directory holding the config DB, zone files, and stats files
	DetectorURL string          `json:"detectorUrl"` // Base URL of the object detection service
	Detection   DetectionConfig `json:"detection"`
	Stream      StreamConfig    `json:"stream"`
}

type DetectionConfig struct {
	MinConfidence float32 `json:"minConfidence"` // Reject detections below this confidence. 0 means the default.
}

// StreamConfig holds the server-wide stream defaults. A camera record can
// override width, height and fps individually.
type StreamConfig struct {
	Width            int `json:"width"`            // Output frame width
	Height           int `json:"height"`           // Output frame height
	FPS              int `json:"fps"`              // Output frame rate
	JpegQuality      int `json:"jpegQuality"`      // JPEG quality of published frames (1..100)
	ReconnectSeconds int `json:"reconnectSeconds"` // Wait this long after a stream failure before dialing again
}

// LoadConfig reads a JSON config file and fills in defaults for anything the
// file leaves out. An empty filename yields a config of pure defaults.
func LoadConfig(filename string) (*Config, error) {
	cfg := &Config{}
	if filename != "" {
		cfgB, err := os.ReadFile(filename)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(cfgB, cfg); err != nil {
			return nil, fmt.Errorf("Error parsing config file %v: %w", filename, err)
		}
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DataRoot == "" {
		c.DataRoot = "."
	}
	if c.DetectorURL == "" {
		c.DetectorURL = "http://127.0.0.1:8090"
	}
	if c.Detection.MinConfidence == 0 {
		c.Detection.MinConfidence = detector.DefaultMinConfidence
	}
	if c.Stream.Width == 0 {
		c.Stream.Width = 1280
	}
	if c.Stream.Height == 0 {
		c.Stream.Height = 720
	}
	if c.Stream.FPS == 0 {
		c.Stream.FPS = 10
	}
	if c.Stream.JpegQuality == 0 {
		c.Stream.JpegQuality = 85
	}
	c.Stream.JpegQuality = gen.Clamp(c.Stream.JpegQuality, 1, 100)
	if c.Stream.ReconnectSeconds == 0 {
		c.Stream.ReconnectSeconds = 5
	}
}
