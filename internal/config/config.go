package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the prefix of every environment override, e.g. EMOJIFACES_IMAGE_MAX_HEIGHT
const EnvPrefix = "EMOJIFACES"

// Config holds the application configuration
type Config struct {
	Image    ImageConfig    `json:"image" envconfig:"IMAGE"`
	Catalog  CatalogConfig  `json:"catalog" envconfig:"CATALOG"`
	Detector DetectorConfig `json:"detector" envconfig:"DETECTOR"`
	Output   OutputConfig   `json:"output" envconfig:"OUTPUT"`
	Server   ServerConfig   `json:"server" envconfig:"SERVER"`
}

// ImageConfig holds configuration for input decoding and previews
type ImageConfig struct {
	MaxHeight    int `json:"max_height" envconfig:"MAX_HEIGHT"`
	PreviewWidth int `json:"preview_width" envconfig:"PREVIEW_WIDTH"`
}

// CatalogConfig holds the emoji sources loaded at startup
type CatalogConfig struct {
	Sources         []string `json:"sources" envconfig:"SOURCES"`
	DefaultCategory string   `json:"default_category" envconfig:"DEFAULT_CATEGORY"`
}

// DetectorBackends are the accepted detector.backend values. "ollama" and
// "llamacpp" select the vision backend with that client.
var DetectorBackends = []string{"pigo", "rekognition", "inference", "vision", "ollama", "llamacpp"}

// DetectorConfig selects and configures the face detector backend
type DetectorConfig struct {
	Backend     string            `json:"backend" envconfig:"BACKEND"`
	Pigo        PigoConfig        `json:"pigo" envconfig:"PIGO"`
	Rekognition RekognitionConfig `json:"rekognition" envconfig:"REKOGNITION"`
	Inference   InferenceConfig   `json:"inference" envconfig:"INFERENCE"`
	Vision      VisionConfig      `json:"vision" envconfig:"VISION"`
}

// PigoConfig holds settings for the local cascade detector
type PigoConfig struct {
	CascadeFile  string  `json:"cascade_file" envconfig:"CASCADE_FILE"`
	MinSize      int     `json:"min_size" envconfig:"MIN_SIZE"`
	MaxSize      int     `json:"max_size" envconfig:"MAX_SIZE"`
	ShiftFactor  float64 `json:"shift_factor" envconfig:"SHIFT_FACTOR"`
	ScaleFactor  float64 `json:"scale_factor" envconfig:"SCALE_FACTOR"`
	IoUThreshold float64 `json:"iou_threshold" envconfig:"IOU_THRESHOLD"`
	MinQuality   float64 `json:"min_quality" envconfig:"MIN_QUALITY"`
}

// RekognitionConfig holds settings for the AWS Rekognition detector
type RekognitionConfig struct {
	Region        string  `json:"region" envconfig:"REGION"`
	MinConfidence float64 `json:"min_confidence" envconfig:"MIN_CONFIDENCE"`
}

// InferenceConfig holds settings for an external detection service
type InferenceConfig struct {
	URL           string        `json:"url" envconfig:"URL"`
	Timeout       time.Duration `json:"timeout" envconfig:"TIMEOUT"`
	MinConfidence float64       `json:"min_confidence" envconfig:"MIN_CONFIDENCE"`
}

// VisionConfig holds settings for vision-model face location
type VisionConfig struct {
	Backend       string  `json:"backend" envconfig:"BACKEND"`
	URL           string  `json:"url" envconfig:"URL"`
	Model         string  `json:"model" envconfig:"MODEL"`
	SendFormat    string  `json:"send_format" envconfig:"SEND_FORMAT"`
	SendSize      int     `json:"send_size" envconfig:"SEND_SIZE"`
	SendQuality   int     `json:"send_quality" envconfig:"SEND_QUALITY"`
	MinConfidence float64 `json:"min_confidence" envconfig:"MIN_CONFIDENCE"`
}

// OutputConfig holds configuration for output generation
type OutputConfig struct {
	DefaultFormat string `json:"default_format" envconfig:"DEFAULT_FORMAT"`
	Quality       int    `json:"quality" envconfig:"QUALITY"`
	Lossless      bool   `json:"lossless" envconfig:"LOSSLESS"`
	OutputDir     string `json:"output_dir" envconfig:"DIR"`
	Prefix        string `json:"prefix" envconfig:"PREFIX"`
	Suffix        string `json:"suffix" envconfig:"SUFFIX"`
}

// ServerConfig holds configuration for the HTTP API. UploadRateLimit counts
// uploads per client and minute; 0 disables the limit.
type ServerConfig struct {
	Port            int           `json:"port" envconfig:"PORT"`
	Environment     string        `json:"environment" envconfig:"ENV"`
	SessionTTL      time.Duration `json:"session_ttl" envconfig:"SESSION_TTL"`
	MaxSessions     int           `json:"max_sessions" envconfig:"MAX_SESSIONS"`
	MaxUploadSize   int           `json:"max_upload_size" envconfig:"MAX_UPLOAD_SIZE"`
	UploadRateLimit int           `json:"upload_rate_limit" envconfig:"UPLOAD_RATE_LIMIT"`
}

// IsDevelopment reports whether the server runs in development mode
func (c ServerConfig) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction reports whether the server runs in production mode
func (c ServerConfig) IsProduction() bool {
	return c.Environment == "production"
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Image: ImageConfig{
			MaxHeight:    800,
			PreviewWidth: 450,
		},
		Catalog: CatalogConfig{
			Sources: []string{"./emojis"},
		},
		Detector: DetectorConfig{
			Backend: "pigo",
			Pigo: PigoConfig{
				CascadeFile:  "./cascade/facefinder",
				MinSize:      20,
				MaxSize:      1000,
				ShiftFactor:  0.1,
				ScaleFactor:  1.1,
				IoUThreshold: 0.2,
				MinQuality:   5.0,
			},
			Rekognition: RekognitionConfig{
				Region:        "us-east-1",
				MinConfidence: 90,
			},
			Inference: InferenceConfig{
				URL:     "http://localhost:8000/detect",
				Timeout: 60 * time.Second,
			},
			Vision: VisionConfig{
				Backend:     "ollama",
				URL:         "http://localhost:11434",
				Model:       "openbmb/minicpm-v4.5",
				SendFormat:  "jpg",
				SendSize:    1536,
				SendQuality: 85,
			},
		},
		Output: OutputConfig{
			DefaultFormat: "png",
			Quality:       92,
			Lossless:      false,
			OutputDir:     "./output",
			Prefix:        "",
			Suffix:        "_emojis",
		},
		Server: ServerConfig{
			Port:            3000,
			Environment:     "development",
			SessionTTL:      30 * time.Minute,
			MaxSessions:     256,
			MaxUploadSize:   20 * 1024 * 1024,
			UploadRateLimit: 30,
		},
	}
}

// Load builds the configuration from defaults, an optional JSON file and
// EMOJIFACES_* environment variables, in that order of precedence.
func Load(filename string) (*Config, error) {
	cfg := Default()
	if filename != "" {
		fileCfg, err := LoadFromFile(filename)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a JSON file. Missing keys keep their
// default values.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// ApplyEnv overrides fields from EMOJIFACES_* environment variables
func (c *Config) ApplyEnv() error {
	if err := envconfig.Process(EnvPrefix, c); err != nil {
		return fmt.Errorf("load env config: %w", err)
	}
	return nil
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Image.MaxHeight < 0 {
		return fmt.Errorf("image.max_height must not be negative")
	}

	if c.Image.PreviewWidth < 1 {
		return fmt.Errorf("image.preview_width must be positive")
	}

	if !slices.Contains(DetectorBackends, c.Detector.Backend) {
		return fmt.Errorf("detector.backend must be one of %s", strings.Join(DetectorBackends, ", "))
	}

	if c.Detector.Pigo.ScaleFactor < 1.05 {
		return fmt.Errorf("detector.pigo.scale_factor must be at least 1.05")
	}

	if c.Detector.Pigo.MinSize < 1 || c.Detector.Pigo.MaxSize < c.Detector.Pigo.MinSize {
		return fmt.Errorf("detector.pigo.min_size must be positive and not above max_size")
	}

	if c.Detector.Rekognition.MinConfidence < 0 || c.Detector.Rekognition.MinConfidence > 100 {
		return fmt.Errorf("detector.rekognition.min_confidence must be between 0 and 100")
	}

	switch c.Detector.Vision.Backend {
	case "ollama", "llamacpp":
	default:
		return fmt.Errorf("detector.vision.backend must be ollama or llamacpp")
	}

	switch strings.ToLower(c.Output.DefaultFormat) {
	case "png", "jpg", "jpeg", "webp":
	default:
		return fmt.Errorf("output.default_format must be png, jpg or webp")
	}

	if c.Output.Quality < 1 || c.Output.Quality > 100 {
		return fmt.Errorf("output.quality must be between 1 and 100")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	if c.Server.MaxUploadSize < 1 {
		return fmt.Errorf("server.max_upload_size must be positive")
	}

	if c.Server.UploadRateLimit < 0 {
		return fmt.Errorf("server.upload_rate_limit must not be negative")
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "emoji-faces", "config.json")
}
