package main

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentworkforce/nexusvault/internal/catalog"
	"github.com/agentworkforce/nexusvault/internal/httpapi"
)

func serveCmd(a *app) *cobra.Command {
	var addr, dsn string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the vault REST API",
		Long:  "Open the storage backend, watch the data directory for external edits and serve the REST API and change feed until interrupted.",
		Example: "  nexusvault serve\n" +
			"  nexusvault serve --addr :8000 --dsn memory://",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			if dsn != "" {
				a.cfg.Storage.DSN = dsn
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides config)")
	cmd.Flags().StringVar(&dsn, "dsn", "", "Storage DSN: file://<dir>, memory:// or postgres://... (overrides config)")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	logger := a.log.Logger
	backend, err := catalog.BuildBackendFromDSN(a.cfg.Storage.DSN)
	if err != nil {
		return err
	}
	store, err := catalog.OpenStore(ctx, catalog.StoreOptions{Backend: backend, Logger: &logger})
	if err != nil {
		if closer, ok := backend.(interface{ Close() error }); ok {
			_ = closer.Close()
		}
		return err
	}
	defer store.Close()

	if fileBackend, ok := backend.(*catalog.JSONFileBackend); ok && a.cfg.Storage.Watch {
		watcher, err := catalog.NewWatcher(store, fileBackend, logger)
		if err != nil {
			return err
		}
		go func() {
			if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("watcher stopped")
			}
		}()
		defer func() {
			cancel()
			<-watcher.Done()
		}()
	}

	server := &http.Server{
		Addr: a.cfg.Server.Addr,
		Handler: httpapi.NewServerWithConfig(store, httpapi.ServerConfig{
			MaxBodyBytes: a.cfg.Server.MaxBodyBytes,
			CORSOrigin:   a.cfg.Server.CORSOrigin,
			AuthToken:    a.cfg.Server.AuthToken,
			Logger:       &logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Str("dsn", redactDSN(a.cfg.Storage.DSN)).Msg("nexusvault listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	logger.Info().Msg("shutting down")
	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	return server.Shutdown(shutdownCtx)
}

func redactDSN(dsn string) string {
	parsed, err := url.Parse(dsn)
	if err != nil || parsed.User == nil {
		return dsn
	}
	return parsed.Redacted()
}
