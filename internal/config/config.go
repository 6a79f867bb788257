package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Rasterizer backends.
const (
	BackendFitz   = "fitz"
	BackendPDFium = "pdfium"
)

// PDF staging modes.
const (
	StagingMemory = "memory"
	StagingDisk   = "disk"
)

// Config is the full service configuration loaded from YAML.
type Config struct {
	Server struct {
		Host    string `yaml:"host"`
		Port    string `yaml:"port"`
		Prefork bool   `yaml:"prefork"`
	} `yaml:"server"`

	Limits struct {
		MaxBodyBytes int `yaml:"max_body_bytes"`
	} `yaml:"limits"`

	Logger struct {
		File       string `yaml:"file"`
		Level      string `yaml:"level"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"logger"`

	Cache struct {
		PNGCacheEnabled bool          `yaml:"png_cache_enabled"`
		PNGCacheTTL     time.Duration `yaml:"png_cache_ttl"`
		RedisHost       string        `yaml:"redis_host"`
		PNGCacheDB      int           `yaml:"redis_png_db"`
		RateLimitDB     int           `yaml:"redis_rate_db"`
	} `yaml:"cache"`

	RateLimiter struct {
		UserLimit int           `yaml:"user_limit"`
		Interval  time.Duration `yaml:"interval"`
	} `yaml:"rate_limiter"`

	PDF struct {
		Backend       string        `yaml:"backend"`
		Staging       string        `yaml:"staging"`
		PDFiumWorkers int           `yaml:"pdfium_workers"`
		PDFiumTimeout time.Duration `yaml:"pdfium_timeout"`
	} `yaml:"pdf"`

	OutputDir string `yaml:"output_dir"`

	Static struct {
		Dir       string `yaml:"dir"`
		IndexFile string `yaml:"index_file"`
		EditFile  string `yaml:"edit_file"`
	} `yaml:"static"`

	CORS struct {
		AllowOrigins []string `yaml:"allow_origins"`
	} `yaml:"cors"`
}

// Default returns a configuration that runs the service without a config file.
func Default() Config {
	var cfg Config
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = ":8000"
	cfg.Limits.MaxBodyBytes = 64 << 20
	cfg.Logger.Level = "info"
	cfg.Logger.MaxSizeMB = 10
	cfg.Logger.MaxBackups = 3
	cfg.Logger.MaxAgeDays = 7
	cfg.Cache.PNGCacheTTL = 10 * time.Minute
	cfg.Cache.PNGCacheDB = 1
	cfg.RateLimiter.Interval = time.Minute
	cfg.PDF.Backend = BackendFitz
	cfg.PDF.Staging = StagingMemory
	cfg.PDF.PDFiumWorkers = 2
	cfg.PDF.PDFiumTimeout = 30 * time.Second
	cfg.OutputDir = "output"
	cfg.Static.Dir = "web/static"
	cfg.Static.IndexFile = "web/index.html"
	cfg.Static.EditFile = "web/edit.html"
	return cfg
}

// Load reads the file named by CONFIG_PATH (default config.yaml).
func Load() Config {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	return LoadFrom(path)
}

// LoadFrom reads path on top of Default, applies environment overrides and
// validates the result. A missing file yields the defaults; any invalid value
// panics since the service cannot start with it.
func LoadFrom(path string) Config {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		panic(fmt.Sprintf("config: read %s: %v", path, err))
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			panic(fmt.Sprintf("config: parse %s: %v", path, err))
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		panic("config: " + err.Error())
	}
	return cfg
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if !strings.HasPrefix(v, ":") {
			v = ":" + v
		}
		cfg.Server.Port = v
	}
	if v := os.Getenv("OUTPUT_DIR"); v != "" {
		cfg.OutputDir = v
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		cfg.Cache.RedisHost = v
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Limits.MaxBodyBytes <= 0 {
		return errors.New("limits.max_body_bytes must be positive")
	}
	if c.OutputDir == "" {
		return errors.New("output_dir is empty")
	}
	switch c.PDF.Backend {
	case BackendFitz, BackendPDFium:
	default:
		return fmt.Errorf("pdf.backend %q is not one of %q, %q", c.PDF.Backend, BackendFitz, BackendPDFium)
	}
	switch c.PDF.Staging {
	case StagingMemory, StagingDisk:
	default:
		return fmt.Errorf("pdf.staging %q is not one of %q, %q", c.PDF.Staging, StagingMemory, StagingDisk)
	}
	if c.PDF.Backend == BackendPDFium {
		if c.PDF.PDFiumWorkers <= 0 {
			return errors.New("pdf.pdfium_workers must be positive")
		}
		if c.PDF.PDFiumTimeout <= 0 {
			return errors.New("pdf.pdfium_timeout must be positive")
		}
	}
	if c.RateLimiter.UserLimit < 0 {
		return errors.New("rate_limiter.user_limit must not be negative")
	}
	if c.RateLimiter.UserLimit > 0 && c.RateLimiter.Interval <= 0 {
		return errors.New("rate_limiter.interval must be positive when user_limit is set")
	}
	if c.Cache.PNGCacheEnabled && c.Cache.RedisHost == "" {
		return errors.New("cache.redis_host is required when png_cache_enabled is set")
	}
	return nil
}

// OpenCORS reports whether every origin is allowed.
func (c Config) OpenCORS() bool {
	if len(c.CORS.AllowOrigins) == 0 {
		return true
	}
	for _, o := range c.CORS.AllowOrigins {
		if o == "*" {
			return true
		}
	}
	return false
}
