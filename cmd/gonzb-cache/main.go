// Command gonzb-cache runs the caching mirror proxy: a Cobra entrypoint
// that loads config, wires the app.Context, and serves HTTP until
// SIGINT/SIGTERM. Grounded on the teacher's cmd/gonzb/main.go signal-
// handling and context-cancellation shape.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flexo-cache/flexo/internal/app"
	"github.com/flexo-cache/flexo/internal/httpserver"
	"github.com/flexo-cache/flexo/internal/infra/config"
	"github.com/flexo-cache/flexo/internal/infra/logger"
	"github.com/labstack/echo/v5"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "gonzb-cache",
	Short: "flexo is a caching HTTP proxy for package mirrors",
	Long:  `A local caching proxy that coalesces concurrent requests for the same mirror object and streams it to every requester as it downloads.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config.yaml")
}

func run() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	log, err := logger.New(cfg.Log.Path, logger.ParseLevel(cfg.Log.Level), cfg.Log.IncludeStdout)
	if err != nil {
		return fmt.Errorf("logger error: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("signal received, shutting down gracefully...")
		cancel()
	}()

	appCtx, err := app.NewContext(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize: %v", err)
		return err
	}
	defer appCtx.Close()

	log.Info("providers: %d configured, primary %s", appCtx.Pool.Len(), appCtx.Pool.Primary().URI)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	httpserver.RegisterRoutes(e, appCtx)

	addr := ":" + cfg.Port
	serverErr := make(chan error, 1)
	go func() {
		log.Info("listening on %s", addr)
		if err := e.Start(addr); err != nil {
			if ctx.Err() == nil {
				log.Error("server error: %v", err)
				serverErr <- err
				cancel()
			}
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("error during shutdown: %v", err)
	}

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	default:
		return nil
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
