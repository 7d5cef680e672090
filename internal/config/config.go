package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"zplmerge/internal/labelary"
	"zplmerge/internal/pack"
	"zplmerge/internal/run"
)

const (
	defaultPort              = 8080
	defaultDataDir           = "data"
	defaultLogLevel          = "info"
	defaultMaxConcurrentRuns = 1
	defaultMaxUploadBytes    = 16 << 20
)

// LabelaryConfig tunes calls to the remote renderer.
type LabelaryConfig struct {
	BaseURL       string        `yaml:"base_url" validate:"required,url"`
	Timeout       time.Duration `yaml:"timeout" validate:"gt=0"`
	MaxRetries    int           `yaml:"max_retries" validate:"gte=1,lte=20"`
	RatePerSecond float64       `yaml:"rate_per_second" validate:"gte=0"`
	Throttle      string        `yaml:"throttle" validate:"oneof=fixed token_bucket"`
	MaxBackoff    time.Duration `yaml:"max_backoff" validate:"gt=0"`
}

// BatchingConfig selects how blocks are grouped into renderer calls.
type BatchingConfig struct {
	Strategy     run.Strategy `yaml:"strategy" validate:"oneof=packed adaptive"`
	ItemCap      int          `yaml:"item_cap" validate:"gte=1"`
	InitialChunk int          `yaml:"initial_chunk" validate:"gte=1"`
}

// Config describes runtime configuration for the service and the CLI.
type Config struct {
	Port              int            `yaml:"port" validate:"gt=0,lte=65535"`
	DataDir           string         `yaml:"data_dir" validate:"required"`
	LogLevel          string         `yaml:"log_level" validate:"oneof=debug info warn error"`
	MaxConcurrentRuns int            `yaml:"max_concurrent_runs"`
	MaxUploadBytes    int64          `yaml:"max_upload_bytes" validate:"gt=0"`
	Page              labelary.Page  `yaml:"page"`
	Labelary          LabelaryConfig `yaml:"labelary"`
	Batching          BatchingConfig `yaml:"batching"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Default returns the stock settings: 4x6 in labels at
// 203 dpi, 50 labels per call, 2 calls per second, 5 attempts.
func Default() Config {
	return Config{
		Port:              defaultPort,
		DataDir:           defaultDataDir,
		LogLevel:          defaultLogLevel,
		MaxConcurrentRuns: defaultMaxConcurrentRuns,
		MaxUploadBytes:    defaultMaxUploadBytes,
		Page:              labelary.Page{WidthIn: 4, HeightIn: 6, DPI: 203},
		Labelary: LabelaryConfig{
			BaseURL:       labelary.DefaultBaseURL,
			Timeout:       labelary.DefaultTimeout,
			MaxRetries:    labelary.DefaultMaxRetries,
			RatePerSecond: labelary.DefaultRate,
			Throttle:      labelary.ThrottleFixed,
			MaxBackoff:    labelary.DefaultMaxBackoff,
		},
		Batching: BatchingConfig{
			Strategy:     run.StrategyPacked,
			ItemCap:      pack.DefaultItemCap,
			InitialChunk: run.DefaultInitialChunk,
		},
	}
}

// Load reads YAML config from the provided path. If the file does not exist
// or is empty, defaults are returned with no error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, errors.New("empty config path")
	}
	fileData, err := os.ReadFile(path) //nolint:gosec // config path is controlled by deployment
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if len(fileData) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(fileData, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	normalize(&cfg)
	// values < 1 would leave no run slot at all
	if cfg.MaxConcurrentRuns < 1 {
		return cfg, fmt.Errorf("invalid max_concurrent_runs: %d (must be >= 1)", cfg.MaxConcurrentRuns)
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks ranges and enumerations of an assembled config.
func Validate(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func normalize(cfg *Config) {
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	cfg.Labelary.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Labelary.BaseURL), "/")
	cfg.Labelary.Throttle = strings.ToLower(strings.TrimSpace(cfg.Labelary.Throttle))
	if cfg.Labelary.Throttle == "" {
		cfg.Labelary.Throttle = labelary.ThrottleFixed
	}
	cfg.Batching.Strategy = run.Strategy(strings.ToLower(strings.TrimSpace(string(cfg.Batching.Strategy))))
	if cfg.Batching.Strategy == "" {
		cfg.Batching.Strategy = run.StrategyPacked
	}
}
