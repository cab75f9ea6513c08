package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mailsync/config"
	"mailsync/internal/bootstrap"
	"mailsync/pkg/logger"

	"github.com/joho/godotenv"
)

const (
	shutdownTimeout = 30 * time.Second
)

func main() {
	logger.Init(logger.Config{
		Level:   logger.LevelInfo,
		Service: "mailsync",
	})

	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file found, using environment variables")
	}

	mode := flag.String("mode", "all", "Run mode: engine, listener, all")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config: %v", err)
	}

	switch *mode {
	case "engine":
		runEngine(cfg)
	case "listener":
		runListener(cfg)
	case "all":
		go runEngine(cfg)
		runListener(cfg)
	default:
		logger.Fatal("Unknown mode: %s", *mode)
	}
}

// runListener runs the Change Listener: the HTTP surface for inbound
// provider webhooks and the operator-facing manual sync controls.
func runListener(cfg *config.Config) {
	app, cleanup, err := bootstrap.NewListener(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize listener: %v", err)
	}
	defer cleanup()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down listener (timeout: %v)...", shutdownTimeout)

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		done := make(chan error, 1)
		go func() { done <- app.Shutdown() }()

		select {
		case err := <-done:
			if err != nil {
				logger.Error("Error shutting down listener: %v", err)
			} else {
				logger.Info("Listener shut down gracefully")
			}
		case <-ctx.Done():
			logger.Warn("Listener shutdown timed out, forcing exit")
		}
	}()

	addr := ":" + cfg.Port
	logger.Info("Starting Change Listener on %s", addr)
	if err := app.Listen(addr); err != nil {
		logger.Fatal("Failed to start listener: %v", err)
	}
}

// runEngine runs the Sync Engine: the per-account tick loop that pulls
// changes from the remote mail client and persists them to the archive
// store.
func runEngine(cfg *config.Config) {
	engine, cleanup, err := bootstrap.NewEngine(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize engine: %v", err)
	}
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutting down engine (timeout: %v)...", shutdownTimeout)
		cancel()

		stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stopCancel()

		done := make(chan error, 1)
		go func() { done <- engine.Stop(stopCtx) }()

		select {
		case err := <-done:
			if err != nil {
				logger.Error("Error stopping engine: %v", err)
			} else {
				logger.Info("Engine stopped gracefully")
			}
		case <-stopCtx.Done():
			logger.Warn("Engine shutdown timed out, forcing exit")
			os.Exit(1)
		}
	}()

	logger.Info("Starting Sync Engine...")
	if err := engine.Start(ctx); err != nil && err != context.Canceled {
		logger.Fatal("Engine stopped with error: %v", err)
	}
}
