package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"resync/internal/app"
)

// Version info - injected at build time via ldflags
var version = "dev"

func main() {
	server, err := app.CreateServer(app.ServerConfig{
		Version: version,
	})
	if err != nil {
		os.Stderr.WriteString("failed to start: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer server.Cleanup()

	logger := server.Logger

	// Start cleanup goroutine
	cleanupCancel, cleanupDone := server.StartCleanupLoop()
	defer func() {
		cleanupCancel()
		<-cleanupDone
	}()

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := server.HTTP.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", "err", err)
		}
	}()

	logger.Info("server listening", "addr", server.HTTP.Addr)
	if err := server.HTTP.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatal("server error", "err", err)
	}

	logger.Info("server stopped")
}
