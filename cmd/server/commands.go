package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiranshivaraju/pmengine/internal/store"
	"github.com/kiranshivaraju/pmengine/pkg/models"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	var seedDemo bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
	}
	cmd.Flags().BoolVar(&seedDemo, "seed-demo", false, "Load a demo fleet when DATABASE_URL is memory://")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return withApp(appOptions{seedDemo: seedDemo, withBackend: true}, serve)(cmd, args)
	}
	return cmd
}

func serve(cmd *cobra.Command, a *app) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := fmt.Sprintf(":%d", a.cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      a.router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout(a.cfg.AI.InferenceTimeout, a.cfg.AI.MaxRetries),
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr, "env", a.cfg.Server.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("waiting for background scans")
	a.runner.Wait()

	slog.Info("server stopped gracefully")
	return nil
}

// writeTimeout leaves room for a decision request that exhausts its backend
// retries.
func writeTimeout(inference time.Duration, retries int) time.Duration {
	return 30*time.Second + inference*time.Duration(retries+1)
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logCloser, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			defer logCloser.Close()

			if cfg.Database.InMemory() {
				return errors.New("migrate requires a postgres DATABASE_URL")
			}
			if err := store.RunMigrations(cfg.Database.URL); err != nil {
				return fmt.Errorf("run migrations: %w", err)
			}
			slog.Info("database migrations applied")
			return nil
		},
	}
}

func newScanCmd() *cobra.Command {
	var seedDemo bool
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one maintenance scan over machines due for PM",
	}
	cmd.Flags().BoolVar(&seedDemo, "seed-demo", false, "Load a demo fleet when DATABASE_URL is memory://")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return withApp(appOptions{seedDemo: seedDemo, withBackend: true}, runScan)(cmd, args)
	}
	return cmd
}

func runScan(cmd *cobra.Command, a *app) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	run, err := a.runner.Run(ctx, "cli")
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(run); err != nil {
		return fmt.Errorf("write scan result: %w", err)
	}

	if run.Status == models.ScanStatusFailed {
		return fmt.Errorf("scan %s failed: %d errors", run.ID, len(run.Errors))
	}
	return nil
}

func newCreateKeyCmd() *cobra.Command {
	var (
		name   string
		scopes []string
	)
	cmd := &cobra.Command{
		Use:   "create-key",
		Short: "Create an API key and print it once",
	}
	cmd.Flags().StringVar(&name, "name", "", "Human-readable key name (required)")
	cmd.Flags().StringSliceVar(&scopes, "scopes", []string{models.ScopeRead}, "Comma-separated scopes: read, write, admin")
	cmd.MarkFlagRequired("name")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return withApp(appOptions{}, func(cmd *cobra.Command, a *app) error {
			raw, key, err := a.keys.Create(cmd.Context(), name, scopes)
			if err != nil {
				return fmt.Errorf("create key: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(),
				"id:     %s\nname:   %s\nscopes: %v\nkey:    %s\n\nStore this key now. It cannot be shown again.\n",
				key.ID, key.Name, key.Scopes, raw)
			return err
		})(cmd, args)
	}
	return cmd
}
