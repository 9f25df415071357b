package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	SourceStream = "stream"
	SourceDevice = "device"

	DisplayWindow = "window"
	DisplayHTTP   = "http"
	DisplayBoth   = "both"
)

type Config struct {
	// Frame source
	Source               string
	StreamURL            string
	DeviceIndex          int
	DeviceProbeLimit     int
	StreamChunkSize      int
	StreamConnectTimeout time.Duration
	StreamReadTimeout    time.Duration
	BufferCeiling        int
	ReconnectBackoff     time.Duration

	// Detector
	ModelPath           string
	ModelConfigPath     string
	LabelsPath          string
	InferenceWidth      int
	InferenceHeight     int
	ConfidenceThreshold float64
	OverlapThreshold    float64
	ProcessingInterval  time.Duration
	FrameSkip           int // Co którą klatkę przepuszczać przez detektor (1=każdą)
	DetectorSlow        time.Duration

	// Presentation
	Display       string
	WindowTitle   string
	TargetFPS     int
	StatusOverlay bool
	JPEGQuality   int

	// HTTP server
	Port     int
	Password string

	// Logging
	LogDirectory string
	LogLevel     string

	// Snapshots
	SnapshotsEnabled      bool
	ImageDirectory        string
	DBPath                string
	SnapshotBufferLimit   int
	SnapshotFlushInterval time.Duration
	SnapshotMinGap        time.Duration
}

// Load reads the configuration from the environment. A .env file in the
// working directory is loaded first if present; real environment variables win.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Source:               strings.ToLower(getEnv("SOURCE", SourceStream)),
		StreamURL:            getEnv("STREAM_URL", "http://192.168.1.19/stream"),
		DeviceIndex:          getEnvAsInt("DEVICE_INDEX", 0),
		DeviceProbeLimit:     getEnvAsInt("DEVICE_PROBE_LIMIT", 2),
		StreamChunkSize:      getEnvAsInt("STREAM_CHUNK_SIZE", 1024),
		StreamConnectTimeout: getEnvAsMillis("STREAM_CONNECT_TIMEOUT_MS", 5000),
		StreamReadTimeout:    getEnvAsMillis("STREAM_READ_TIMEOUT_MS", 5000),
		BufferCeiling:        getEnvAsInt("BUFFER_CEILING", 4<<20),
		ReconnectBackoff:     getEnvAsMillis("RECONNECT_BACKOFF_MS", 500),

		ModelPath:           getEnv("MODEL_PATH", filepath.Join(".", "models", "frozen_inference_graph.pb")),
		ModelConfigPath:     getEnv("MODEL_CONFIG_PATH", filepath.Join(".", "models", "ssd_mobilenet_v1_coco_2017_11_17.pbtxt")),
		LabelsPath:          getEnv("LABELS_PATH", ""),
		InferenceWidth:      getEnvAsInt("INFERENCE_WIDTH", 320),
		InferenceHeight:     getEnvAsInt("INFERENCE_HEIGHT", 320),
		ConfidenceThreshold: getEnvAsFloat("CONFIDENCE_THRESHOLD", 0.5),
		OverlapThreshold:    getEnvAsFloat("OVERLAP_THRESHOLD", 0.45),
		ProcessingInterval:  getEnvAsMillis("PROCESSING_INTERVAL_MS", 80),
		FrameSkip:           getEnvAsInt("FRAME_SKIP", 2),
		DetectorSlow:        getEnvAsMillis("DETECTOR_SLOW_MS", 1000),

		Display:       strings.ToLower(getEnv("DISPLAY_MODE", DisplayHTTP)),
		WindowTitle:   getEnv("WINDOW_TITLE", "Detection"),
		TargetFPS:     getEnvAsInt("TARGET_FPS", 60),
		StatusOverlay: getEnvAsBool("STATUS_OVERLAY", true),
		JPEGQuality:   getEnvAsInt("JPEG_QUALITY", 80),

		Port:     getEnvAsInt("PORT", 8080),
		Password: getEnv("PASSWORD", "changeme"),

		LogDirectory: getEnv("LOG_DIR", filepath.Join(".", "logs")),
		LogLevel:     strings.ToLower(getEnv("LOG_LEVEL", "info")),

		SnapshotsEnabled:      getEnvAsBool("SNAPSHOTS_ENABLED", false),
		ImageDirectory:        getEnv("IMAGE_DIR", filepath.Join(".", "images")),
		DBPath:                getEnv("DB_PATH", filepath.Join(".", "data", "snapshots.db")),
		SnapshotBufferLimit:   getEnvAsInt("SNAPSHOT_BUFFER_LIMIT", 10),
		SnapshotFlushInterval: time.Duration(getEnvAsInt("SNAPSHOT_FLUSH_INTERVAL_S", 30)) * time.Second,
		SnapshotMinGap:        getEnvAsMillis("SNAPSHOT_MIN_GAP_MS", 2000),
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Source {
	case SourceStream:
		if c.StreamURL == "" {
			return fmt.Errorf("STREAM_URL is required for source %q", c.Source)
		}
	case SourceDevice:
		if c.DeviceIndex < 0 {
			return fmt.Errorf("DEVICE_INDEX must be >= 0, got %d", c.DeviceIndex)
		}
		if c.DeviceProbeLimit < 1 {
			return fmt.Errorf("DEVICE_PROBE_LIMIT must be >= 1, got %d", c.DeviceProbeLimit)
		}
	default:
		return fmt.Errorf("unknown SOURCE %q", c.Source)
	}

	switch c.Display {
	case DisplayWindow, DisplayHTTP, DisplayBoth:
	default:
		return fmt.Errorf("unknown DISPLAY_MODE %q", c.Display)
	}

	if c.FrameSkip < 1 {
		return fmt.Errorf("FRAME_SKIP must be >= 1, got %d", c.FrameSkip)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("CONFIDENCE_THRESHOLD must be within [0,1], got %v", c.ConfidenceThreshold)
	}
	if c.OverlapThreshold < 0 || c.OverlapThreshold > 1 {
		return fmt.Errorf("OVERLAP_THRESHOLD must be within [0,1], got %v", c.OverlapThreshold)
	}
	if c.InferenceWidth < 0 || c.InferenceHeight < 0 {
		return fmt.Errorf("inference size must not be negative, got %dx%d", c.InferenceWidth, c.InferenceHeight)
	}
	if c.ProcessingInterval <= 0 {
		return fmt.Errorf("PROCESSING_INTERVAL_MS must be positive")
	}
	if c.ReconnectBackoff <= 0 {
		return fmt.Errorf("RECONNECT_BACKOFF_MS must be positive")
	}
	if c.BufferCeiling <= 0 || c.StreamChunkSize <= 0 {
		return fmt.Errorf("BUFFER_CEILING and STREAM_CHUNK_SIZE must be positive")
	}
	if c.TargetFPS <= 0 {
		return fmt.Errorf("TARGET_FPS must be positive, got %d", c.TargetFPS)
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("JPEG_QUALITY must be within [1,100], got %d", c.JPEGQuality)
	}
	return nil
}

// UsesWindow reports whether a local window sink is requested.
func (c *Config) UsesWindow() bool {
	return c.Display == DisplayWindow || c.Display == DisplayBoth
}

// UsesHTTP reports whether the HTTP sinks are requested.
func (c *Config) UsesHTTP() bool {
	return c.Display == DisplayHTTP || c.Display == DisplayBoth
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsMillis(key string, defaultValue int) time.Duration {
	return time.Duration(getEnvAsInt(key, defaultValue)) * time.Millisecond
}
