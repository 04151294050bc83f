package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds the environment driven configuration for the service.
type Config struct {
	ServiceName     string        `env:"SERVICE_NAME" envDefault:"contentstate"`
	Environment     string        `env:"ENVIRONMENT" envDefault:"development"`
	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat       string        `env:"LOG_FORMAT" envDefault:"console"`
	StorageDriver   string        `env:"STORAGE_DRIVER" envDefault:"memory"`
	StorageDSN      string        `env:"STORAGE_DSN"`
	StorageMigrate  bool          `env:"STORAGE_MIGRATE" envDefault:"true"`
	TracingStdout   bool          `env:"TRACING_STDOUT" envDefault:"false"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Load parses environment variables into Config.
//
// Priority: environment variables, then values from .env files loaded by
// LoadEnvFiles, then struct tag defaults. STORAGE_DRIVER=none runs the
// service without persistence.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}
	cfg.StorageDriver = strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	if cfg.StorageDriver == "none" {
		cfg.StorageDriver = ""
	}
	switch cfg.LogFormat {
	case "console", "json":
	default:
		return nil, fmt.Errorf("LOG_FORMAT must be console or json, got %q", cfg.LogFormat)
	}
	if cfg.ShutdownTimeout <= 0 {
		return nil, fmt.Errorf("SHUTDOWN_TIMEOUT must be positive")
	}
	return cfg, nil
}

// LoadEnvFiles overlays .env files found in the working directory or its parent.
// Existing process variables are not overridden.
func LoadEnvFiles(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env", "../.env"}
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v\n", path, err)
		}
	}
}
