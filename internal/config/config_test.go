package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, "data/route-manager.db", cfg.Database.DSN)
	assert.Equal(t, filepath.Join(".", "docker", "traefik", "dynamic"), cfg.Generator.OutputDir())
	assert.Equal(t, "letsencrypt", cfg.Generator.CertResolver)
	assert.False(t, cfg.Generator.NginxEnabled())
	assert.Equal(t, 30*time.Second, cfg.Reconcile.Timeout)
	assert.Equal(t, time.Minute, cfg.Reconcile.Interval)
	assert.True(t, cfg.Reconcile.WatchDrift)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 50, cfg.Logging.MaxSizeMB)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("DB_DSN", "postgres://localhost/routes")
	t.Setenv("INSTALL_ROOT", "/srv/app")
	t.Setenv("NGINX_DIR", "/etc/nginx/sites-enabled")
	t.Setenv("GENERATION_TIMEOUT", "5s")
	t.Setenv("RECONCILE_INTERVAL", "0")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("BOOTSTRAP_API_KEY", "secret")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "/srv/app/docker/traefik/dynamic", cfg.Generator.OutputDir())
	assert.True(t, cfg.Generator.NginxEnabled())
	assert.Equal(t, 5*time.Second, cfg.Reconcile.Timeout)
	assert.Zero(t, cfg.Reconcile.Interval)
	assert.Equal(t, "secret", cfg.Auth.BootstrapAPIKey)
}

func TestLoad_DynamicDirOverride(t *testing.T) {
	t.Setenv("DYNAMIC_DIR", "/tmp/dynamic")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/dynamic", cfg.Generator.OutputDir())
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("GENERATION_TIMEOUT", "soon")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "SERVER_PORT"},
		{"bad driver", func(c *Config) { c.Database.Driver = "mysql" }, "DB_DRIVER"},
		{"empty dsn", func(c *Config) { c.Database.DSN = "" }, "DB_DSN"},
		{"empty resolver", func(c *Config) { c.Generator.CertResolver = " " }, "CERT_RESOLVER"},
		{"nginx collides", func(c *Config) {
			c.Generator.DynamicDir = "/out"
			c.Generator.NginxDir = "/out/"
		}, "NGINX_DIR"},
		{"zero timeout", func(c *Config) { c.Reconcile.Timeout = 0 }, "GENERATION_TIMEOUT"},
		{"negative interval", func(c *Config) { c.Reconcile.Interval = -time.Second }, "RECONCILE_INTERVAL"},
		{"zero drift debounce", func(c *Config) { c.Reconcile.DriftDebounce = 0 }, "DRIFT_DEBOUNCE"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "LOG_FORMAT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tt.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
