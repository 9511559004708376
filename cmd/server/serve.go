package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/bcnelson/traefik-route-manager/internal/api"
	"github.com/bcnelson/traefik-route-manager/internal/watcher"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the admin API and keep the generated configuration in sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Publish whatever the database holds before accepting changes.
	if report, err := a.reconciler.Regenerate(ctx); err != nil {
		log.Warn().Err(err).Msg("Initial regeneration failed, will retry")
	} else {
		log.Info().Str("generation_id", report.Generation.ID).Msg("Initial regeneration complete")
	}

	var wg sync.WaitGroup
	if a.cfg.Reconcile.Interval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.reconciler.Run(ctx, a.cfg.Reconcile.Interval)
		}()
	}
	if a.cfg.Reconcile.WatchDrift {
		w := watcher.New(a.cfg.Generator.OutputDir(), a.reconciler)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Run(ctx); err != nil {
				log.Error().Err(err).Msg("Drift watcher stopped")
			}
		}()
	}

	bootstrapKey := a.cfg.Auth.BootstrapAPIKey
	if bootstrapKey == "" {
		log.Warn().Msg("No bootstrap API key configured; create keys through an existing key only")
	}

	server := &http.Server{
		Addr:         a.cfg.Server.Addr(),
		Handler:      api.NewRouter(a.store, a.reconciler, bootstrapKey),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: a.cfg.Reconcile.Timeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", a.cfg.Server.Addr()).
			Str("output_dir", a.cfg.Generator.OutputDir()).
			Msg("Starting Traefik Route Manager")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	cancel()
	wg.Wait()

	if serveErr != nil {
		return fmt.Errorf("server failed: %w", serveErr)
	}
	log.Info().Msg("Server stopped")
	return nil
}
