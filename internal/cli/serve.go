package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/phambaophuc/image-relay/internal/http/handlers"
	"github.com/phambaophuc/image-relay/internal/http/routes"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP session API",
	Long: `Start an HTTP server exposing the session API under /api/v1 and
Prometheus metrics under /metrics.

Temp files are swept every TEMP_SWEEP_INTERVAL. When both RABBITMQ_URL and
RECORDS_DB_PATH are set, a queue worker stores published records.`,
	RunE: runServe,
}

var portFlag string

func init() {
	serveCmd.Flags().StringVar(&portFlag, "port", "", "Listen port (overrides PORT)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	if portFlag != "" {
		cfg.Server.Port = portFlag
	}
	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.queue != nil && a.records != nil {
		if err := a.queue.StartWorker(ctx, 1, a.records); err != nil {
			logger.Warn("Record worker not started", zap.Error(err))
		}
	}
	go a.runSweeper(ctx)

	handler := handlers.NewSessionHandler(a.manager, a.prober, a.health, logger, cfg)
	router := routes.NewRouter(handler, cfg.Server.CORSOrigins, logger)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		Handler:      router.SetupRoutes(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("Shutting down server...")
	a.manager.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
	return nil
}

