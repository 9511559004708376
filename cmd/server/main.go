package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bcnelson/traefik-route-manager/internal/config"
	"github.com/bcnelson/traefik-route-manager/internal/logging"
	"github.com/bcnelson/traefik-route-manager/internal/nginx"
	"github.com/bcnelson/traefik-route-manager/internal/publisher"
	"github.com/bcnelson/traefik-route-manager/internal/service"
	"github.com/bcnelson/traefik-route-manager/internal/storage/sql"
	"github.com/bcnelson/traefik-route-manager/internal/traefik"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "route-manager",
		Short: "Traefik Route Manager",
		Long: `Traefik Route Manager stores domains, proxy rules, redirects and upstreams
in a database and publishes them as Traefik dynamic configuration files.`,
		SilenceUsage: true,
	}

	serve := newServeCmd()
	root.RunE = serve.RunE
	root.AddCommand(serve, newGenerateCmd(), newPreviewCmd())
	return root
}

// app holds the components shared by every command.
type app struct {
	cfg        *config.Config
	store      *sql.Store
	reconciler *service.Reconciler
}

// setup loads configuration, configures logging, opens the database and
// wires the reconciler. The caller must call close.
func setup() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := logging.Setup(cfg); err != nil {
		return nil, fmt.Errorf("setting up logging: %w", err)
	}

	if err := ensureDataDir(cfg.Database); err != nil {
		logging.Close()
		return nil, err
	}
	store, err := sql.New(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		logging.Close()
		return nil, fmt.Errorf("initializing storage: %w", err)
	}

	reconciler := service.NewReconciler(
		store,
		traefik.New(cfg.Generator.CertResolver),
		publisher.New(cfg.Generator.OutputDir()),
		service.Options{
			Timeout:  cfg.Reconcile.Timeout,
			Debounce: cfg.Reconcile.DriftDebounce,
		},
	)
	if cfg.Generator.NginxEnabled() {
		reconciler.WithNginx(nginx.New(cfg.Generator.NginxCertDir), publisher.New(cfg.Generator.NginxDir))
	}

	return &app{cfg: cfg, store: store, reconciler: reconciler}, nil
}

// ensureDataDir creates the directory holding a file-backed SQLite database.
func ensureDataDir(db config.DatabaseConfig) error {
	if db.Driver != "sqlite3" || db.DSN == ":memory:" || strings.HasPrefix(db.DSN, "file:") {
		return nil
	}
	path, _, _ := strings.Cut(db.DSN, "?")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	return nil
}

func (a *app) close() {
	a.store.Close()
	logging.Close()
}
