package config

import (
	"fmt"
	"math"
	"os"
	"runtime"
	"sync"

	"github.com/pelletier/go-toml/v2"
)

const (
	LayoutNHWC = "nhwc"
	LayoutNCHW = "nchw"
)

type Config struct {
	Token     string  `toml:"token" mapstructure:"token"`
	Host      string  `toml:"host" mapstructure:"host"`
	Port      string  `toml:"port" mapstructure:"port"`
	Threshold float32 `toml:"threshold" mapstructure:"threshold"`
	Libonnx   string  `toml:"libonnx" mapstructure:"libonnx"`

	ImageSize  int    `toml:"image_size" mapstructure:"image_size"`
	Layout     string `toml:"layout" mapstructure:"layout"`
	InputName  string `toml:"input_name" mapstructure:"input_name"`
	OutputName string `toml:"output_name" mapstructure:"output_name"`
	PoolSize   int    `toml:"pool_size" mapstructure:"pool_size"`

	ModelDir       string `toml:"model_dir" mapstructure:"model_dir"`
	ModelFileName  string `toml:"model_file_name" mapstructure:"model_file_name"`
	LabelsFileName string `toml:"labels_file_name" mapstructure:"labels_file_name"`

	MaxUploadMB  int64    `toml:"max_upload_mb" mapstructure:"max_upload_mb"`
	MaxPixels    int64    `toml:"max_pixels" mapstructure:"max_pixels"`
	AllowOrigins []string `toml:"allow_origins" mapstructure:"allow_origins"`

	LogLevel  string `toml:"log_level" mapstructure:"log_level"`
	LogFormat string `toml:"log_format" mapstructure:"log_format"`
}

var (
	cfg      = Default()
	loadOnce sync.Once
)

// Default returns the built-in configuration. The threshold and image size
// belong to the shipped model and must be changed together with it.
func Default() Config {
	return Config{
		Token:          "",
		Host:           "0.0.0.0",
		Port:           "8000",
		Threshold:      0.6,
		ImageSize:      224,
		Layout:         LayoutNHWC,
		PoolSize:       min(runtime.NumCPU(), 4),
		ModelDir:       "model",
		ModelFileName:  "model.onnx",
		LabelsFileName: "labels.txt",
		MaxUploadMB:    10,
		MaxPixels:      50_000_000,
		AllowOrigins:   []string{"*"},
		LogLevel:       "info",
		LogFormat:      "text",
	}
}

// Path is the config file read by C.
func Path() string {
	if p := os.Getenv("SIGNTAGGER_CONFIG"); p != "" {
		return p
	}
	return "config.toml"
}

func C() Config {
	loadOnce.Do(func() {
		c, err := Load(Path())
		if err != nil {
			panic(err)
		}
		cfg = c
	})
	return cfg
}

// Load reads path on top of Default. A missing file is not an error.
func Load(path string) (Config, error) {
	c := Default()
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return c, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return c, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return c, nil
}

func (c Config) Validate() error {
	if math.IsNaN(float64(c.Threshold)) || c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("threshold must be within [0,1], got %v", c.Threshold)
	}
	if c.ImageSize < 1 {
		return fmt.Errorf("image_size must be positive, got %d", c.ImageSize)
	}
	switch c.Layout {
	case LayoutNHWC, LayoutNCHW:
	default:
		return fmt.Errorf("unknown layout %q", c.Layout)
	}
	if c.PoolSize < 0 {
		return fmt.Errorf("pool_size must not be negative, got %d", c.PoolSize)
	}
	if c.MaxUploadMB < 1 {
		return fmt.Errorf("max_upload_mb must be positive, got %d", c.MaxUploadMB)
	}
	if c.MaxPixels < 1 {
		return fmt.Errorf("max_pixels must be positive, got %d", c.MaxPixels)
	}
	return nil
}

func (c Config) Addr() string {
	return c.Host + ":" + c.Port
}
