package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v9"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Generator GeneratorConfig
	Reconcile ReconcileConfig
	Auth      AuthConfig
	Logging   LoggingConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	Port int    `env:"SERVER_PORT" envDefault:"8080"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Driver string `env:"DB_DRIVER" envDefault:"sqlite3"`
	DSN    string `env:"DB_DSN" envDefault:"data/route-manager.db"`
}

// GeneratorConfig controls where and how configuration files are written.
type GeneratorConfig struct {
	InstallRoot  string `env:"INSTALL_ROOT" envDefault:"."`
	DynamicDir   string `env:"DYNAMIC_DIR"` // Defaults to <install root>/docker/traefik/dynamic
	CertResolver string `env:"CERT_RESOLVER" envDefault:"letsencrypt"`
	NginxDir     string `env:"NGINX_DIR"` // Empty disables nginx output
	NginxCertDir string `env:"NGINX_CERT_DIR" envDefault:"/etc/letsencrypt/live"`
}

// ReconcileConfig holds regeneration behavior configuration.
type ReconcileConfig struct {
	Timeout       time.Duration `env:"GENERATION_TIMEOUT" envDefault:"30s"`
	Interval      time.Duration `env:"RECONCILE_INTERVAL" envDefault:"1m"` // 0 disables periodic retries
	WatchDrift    bool          `env:"WATCH_DRIFT" envDefault:"true"`
	DriftDebounce time.Duration `env:"DRIFT_DEBOUNCE" envDefault:"2s"`
}

// AuthConfig holds API authentication configuration.
type AuthConfig struct {
	BootstrapAPIKey string `env:"BOOTSTRAP_API_KEY"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `env:"LOG_LEVEL" envDefault:"info"`
	Format     string `env:"LOG_FORMAT" envDefault:"console"`
	File       string `env:"LOG_FILE"`
	MaxSizeMB  int    `env:"LOG_MAX_SIZE_MB" envDefault:"50"`
	MaxBackups int    `env:"LOG_MAX_BACKUPS" envDefault:"3"`
	MaxAgeDays int    `env:"LOG_MAX_AGE_DAYS" envDefault:"28"`
	Compress   bool   `env:"LOG_COMPRESS" envDefault:"false"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(&cfg.Server); err != nil {
		return nil, fmt.Errorf("parsing server config: %w", err)
	}
	if err := env.Parse(&cfg.Database); err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	if err := env.Parse(&cfg.Generator); err != nil {
		return nil, fmt.Errorf("parsing generator config: %w", err)
	}
	if err := env.Parse(&cfg.Reconcile); err != nil {
		return nil, fmt.Errorf("parsing reconcile config: %w", err)
	}
	if err := env.Parse(&cfg.Auth); err != nil {
		return nil, fmt.Errorf("parsing auth config: %w", err)
	}
	if err := env.Parse(&cfg.Logging); err != nil {
		return nil, fmt.Errorf("parsing logging config: %w", err)
	}

	return cfg, nil
}

// Addr returns the server address in host:port format.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// OutputDir returns the Traefik dynamic-configuration directory.
func (c *GeneratorConfig) OutputDir() string {
	if c.DynamicDir != "" {
		return c.DynamicDir
	}
	return filepath.Join(c.InstallRoot, "docker", "traefik", "dynamic")
}

// NginxEnabled reports whether nginx virtual hosts are generated.
func (c *GeneratorConfig) NginxEnabled() bool {
	return c.NginxDir != ""
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	switch c.Database.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("DB_DRIVER must be sqlite3 or postgres, got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("DB_DSN is required")
	}

	if c.Generator.OutputDir() == "" {
		return fmt.Errorf("DYNAMIC_DIR or INSTALL_ROOT is required")
	}
	if strings.TrimSpace(c.Generator.CertResolver) == "" {
		return fmt.Errorf("CERT_RESOLVER must not be empty")
	}
	if c.Generator.NginxEnabled() && filepath.Clean(c.Generator.NginxDir) == filepath.Clean(c.Generator.OutputDir()) {
		return fmt.Errorf("NGINX_DIR must differ from the dynamic directory")
	}

	if c.Reconcile.Timeout <= 0 {
		return fmt.Errorf("GENERATION_TIMEOUT must be positive")
	}
	if c.Reconcile.Interval < 0 {
		return fmt.Errorf("RECONCILE_INTERVAL must not be negative")
	}
	if c.Reconcile.WatchDrift && c.Reconcile.DriftDebounce <= 0 {
		return fmt.Errorf("DRIFT_DEBOUNCE must be positive when WATCH_DRIFT is enabled")
	}

	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be console or json, got %q", c.Logging.Format)
	}

	return nil
}
