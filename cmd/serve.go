package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"

	"drainvoice/internal/handlers"
	"drainvoice/internal/jobs/background"
	"drainvoice/internal/logger"
	"drainvoice/internal/middleware"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the background sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func serve(parent context.Context) error {
	log := logger.WithComponent("server")

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	unwatchSchema := a.watchSchema(ctx, a.schemaReady)
	defer unwatchSchema()

	var backup background.Backupper
	if a.backup != nil {
		backup = a.backup
	}
	if a.engine != nil {
		unwatch := a.engine.Watch(ctx, a.tracker)
		defer unwatch()
	}

	scheduler, err := background.NewJobScheduler(a.manager, a.tracker, backup, background.Options{
		SyncInterval:   cfg.Sync.Interval,
		BackupInterval: cfg.Backup.Interval,
	})
	if err != nil {
		return fmt.Errorf("failed to create job scheduler: %w", err)
	}
	scheduler.Start()
	defer func() {
		if err := scheduler.Stop(); err != nil {
			log.Warn().Err(err).Msg("Failed to stop job scheduler")
		}
	}()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.RequestLogger(logger.WithComponent("http")))
	e.Use(echoMiddleware.Recover())
	e.Use(echoMiddleware.CORS())
	e.Pre(echoMiddleware.RemoveTrailingSlash())

	versionMiddleware := middleware.NewVersionMiddleware()
	e.Use(versionMiddleware.APIVersionResolver())

	handlers.RegisterRoutes(e,
		versionMiddleware,
		handlers.NewInvoiceHandlers(a.manager),
		handlers.NewSyncHandlers(a.manager, a.tracker),
		handlers.NewHealthHandlers(a.localPinger(), a.remote, a.cachePinger(), a.manager, version),
	)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Str("version", version).Msg("Starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
