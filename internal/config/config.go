package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
)

// ServerConfig defines HTTP server configurations
type ServerConfig struct {
	Port          int           `koanf:"port"`
	MaxUploadSize int64         `koanf:"maxuploadsize"` // in MB
	ReadTimeout   time.Duration `koanf:"readtimeout"`
	WriteTimeout  time.Duration `koanf:"writetimeout"`
	Debug         bool          `koanf:"debug"`
	CORSOrigin    string        `koanf:"corsorigin"`
}

// ModelConfig locates the weights artifacts and picks the execution device
type ModelConfig struct {
	Dir            string `koanf:"dir"`
	CropIdentifier string `koanf:"cropidentifier"`
	DiseasePattern string `koanf:"diseasepattern"` // fmt pattern, %s is the crop name
	Device         string `koanf:"device"`
	SharedLibrary  string `koanf:"sharedlibrary"`
	IntraOpThreads int    `koanf:"intraopthreads"`
}

// PipelineConfig tunes request evaluation
type PipelineConfig struct {
	BatchConcurrency int `koanf:"batchconcurrency"`
}

// AppConfig defines
type AppConfig struct {
	Server   ServerConfig   `koanf:"server"`
	Model    ModelConfig    `koanf:"model"`
	Pipeline PipelineConfig `koanf:"pipeline"`
}

const envPrefix = "CFG_"

func defaults() map[string]any {
	return map[string]any{
		"server.port":               8080,
		"server.maxuploadsize":      32,
		"server.readtimeout":        30 * time.Second,
		"server.writetimeout":       60 * time.Second,
		"server.debug":              false,
		"server.corsorigin":         "*",
		"model.dir":                 "models",
		"model.cropidentifier":      "mobilevit_crop_identifier_epoch10.onnx",
		"model.diseasepattern":      "mobilevit_%s_epoch10.onnx",
		"model.device":              "auto",
		"model.sharedlibrary":       "",
		"model.intraopthreads":      0,
		"pipeline.batchconcurrency": 1,
	}
}

// Load layers built-in defaults, the YAML file at filePath (skipped when
// empty) and CFG_ environment variables, in that order.
func Load(filePath string) (*AppConfig, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, err
	}

	if filePath != "" {
		if err := k.Load(file.Provider(filePath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading %s: %w", filePath, err)
		}
	}

	if err := k.Load(env.ProviderWithValue(envPrefix, ".", func(s string, v string) (string, any) {
		key := strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "_", ".")
		return key, v
	}), nil); err != nil {
		return nil, err
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ValidateConfig rejects values the service cannot start with
func ValidateConfig(cfg *AppConfig) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", cfg.Server.Port)
	}
	if cfg.Server.MaxUploadSize <= 0 {
		return fmt.Errorf("server.maxuploadsize must be positive, got %d", cfg.Server.MaxUploadSize)
	}
	switch cfg.Model.Device {
	case "auto", "cuda", "cpu":
	default:
		return fmt.Errorf("model.device must be one of auto, cuda, cpu, got %q", cfg.Model.Device)
	}
	if !strings.Contains(cfg.Model.DiseasePattern, "%s") {
		return fmt.Errorf("model.diseasepattern %q has no %%s placeholder", cfg.Model.DiseasePattern)
	}
	if cfg.Pipeline.BatchConcurrency <= 0 {
		return fmt.Errorf("pipeline.batchconcurrency must be positive, got %d", cfg.Pipeline.BatchConcurrency)
	}
	return nil
}

// ParseConfigFlag allows clients to specify the relative path to the file from
// which the configuration will be loaded.
func ParseConfigFlag() string {
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	configPath := fs.String("file", "", "configuration file")
	_ = fs.Parse(os.Args[1:])

	return *configPath
}
