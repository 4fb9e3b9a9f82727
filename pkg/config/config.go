package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/dotsetgreg/chatstore/pkg/director"
)

type Config struct {
	Storage    StorageConfig    `json:"storage"`
	Background BackgroundConfig `json:"background"`
	Log        LogConfig        `json:"log"`
	Telemetry  TelemetryConfig  `json:"telemetry"`
	mu         sync.RWMutex
}

type StorageConfig struct {
	Path string `json:"path" env:"CHATSTORE_STORAGE_PATH"`
	// RefreshCron reloads the caches on this schedule when set.
	RefreshCron string `json:"refresh_cron" env:"CHATSTORE_STORAGE_REFRESH_CRON"`
}

type BackgroundConfig struct {
	Workers          int `json:"workers" env:"CHATSTORE_BACKGROUND_WORKERS"`
	QueueSize        int `json:"queue_size" env:"CHATSTORE_BACKGROUND_QUEUE_SIZE"`
	EnqueueTimeoutMS int `json:"enqueue_timeout_ms" env:"CHATSTORE_BACKGROUND_ENQUEUE_TIMEOUT_MS"`
	JobTimeoutMS     int `json:"job_timeout_ms" env:"CHATSTORE_BACKGROUND_JOB_TIMEOUT_MS"`
}

type LogConfig struct {
	Level string `json:"level" env:"CHATSTORE_LOG_LEVEL"`
}

type TelemetryConfig struct {
	// OTLPEndpoint is an OTLP/HTTP collector address. Tracing is off when empty.
	OTLPEndpoint string `json:"otlp_endpoint" env:"CHATSTORE_TELEMETRY_OTLP_ENDPOINT"`
	ServiceName  string `json:"service_name" env:"CHATSTORE_TELEMETRY_SERVICE_NAME"`
}

func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Path:        "~/.chatstore/chatstore.db",
			RefreshCron: "",
		},
		Background: BackgroundConfig{
			Workers:          2,
			QueueSize:        256,
			EnqueueTimeoutMS: 100,
			JobTimeoutMS:     30000,
		},
		Log: LogConfig{
			Level: "info",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "chatstore",
		},
	}
}

// LoadConfig reads path over the defaults, then applies CHATSTORE_*
// environment variables. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}
	if c.Background.Workers < 0 || c.Background.QueueSize < 0 {
		return fmt.Errorf("background workers and queue_size must not be negative")
	}
	return nil
}

func (c *Config) DatabasePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Storage.Path)
}

// DirectorOptions converts the background section. Zero values fall back to
// the director defaults.
func (c *Config) DirectorOptions() director.Options {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return director.Options{
		Workers:        c.Background.Workers,
		QueueSize:      c.Background.QueueSize,
		EnqueueTimeout: time.Duration(c.Background.EnqueueTimeoutMS) * time.Millisecond,
		JobTimeout:     time.Duration(c.Background.JobTimeoutMS) * time.Millisecond,
	}
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
