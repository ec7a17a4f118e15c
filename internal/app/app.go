// Package app wires the application components together for the server
// entry point.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"resync/internal/config"
	"resync/internal/db"
	"resync/internal/handlers"
	"resync/internal/logging"
	"resync/internal/rsync"
	"resync/internal/scheduler"
	"resync/internal/services"
)

// ServerConfig contains options for creating the application server.
type ServerConfig struct {
	// Port to listen on. If 0, uses config default.
	Port int

	// RsyncBinary path override. If empty, uses the configured path.
	RsyncBinary string

	// Version string for display.
	Version string

	// BindAddress is the address to bind to. Defaults to "" (all interfaces).
	BindAddress string
}

// Server wraps the HTTP server and associated resources.
type Server struct {
	HTTP       *http.Server
	Config     *config.Config
	Logger     *log.Logger
	Database   *db.DB
	Runner     *rsync.Runner
	Supervisor *services.Supervisor
	Scheduler  *scheduler.Scheduler
}

// CreateServer initializes all application components and returns a Server.
// Call Server.Cleanup() when done to release resources.
func CreateServer(cfg ServerConfig) (*Server, error) {
	// Load configuration from environment and optional config file
	appCfg := config.Load()

	if cfg.Port > 0 {
		appCfg.Port = cfg.Port
	}

	logger := logging.New(nil)
	logger.SetLevel(logging.ParseLevel(appCfg.LogLevel))

	logger.Info("resync starting",
		"database", appCfg.DBPath,
		"port", appCfg.Port,
		"retention_days", appCfg.RetentionDays,
	)

	// Initialize database
	database, err := db.Open(appCfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Initialize rsync runner
	runner := rsync.NewRunner(logger)
	runner.SetBinaryPath(appCfg.RsyncPath)
	if cfg.RsyncBinary != "" {
		runner.SetBinaryPath(cfg.RsyncBinary)
	}

	// Check rsync is installed
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := runner.CheckInstalled(ctx); err != nil {
		logger.Warn("rsync not found; transfers will fail until it is installed", "err", err)
	}
	cancel()

	// Initialize supervisor
	supervisor := services.NewSupervisor(database, runner, logger, appCfg.AuthSignatures)

	// Initialize scheduler
	sched := scheduler.New(database, supervisor, logger)
	sched.Start()

	// Initialize handlers
	h := handlers.New(database, appCfg, runner, supervisor, sched, logger, cfg.Version)

	// Set up HTTP server
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	addr := fmt.Sprintf("%s:%d", cfg.BindAddress, appCfg.Port)

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // No timeout for SSE
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		HTTP:       server,
		Config:     appCfg,
		Logger:     logger,
		Database:   database,
		Runner:     runner,
		Supervisor: supervisor,
		Scheduler:  sched,
	}, nil
}

// Cleanup releases all resources held by the server.
func (s *Server) Cleanup() {
	if s.Scheduler != nil {
		s.Scheduler.Stop()
	}
	if s.Database != nil {
		s.Database.Close()
	}
}

// StartCleanupLoop starts a background goroutine that periodically prunes
// old run history. Returns a cancel function and a done channel.
func (s *Server) StartCleanupLoop() (cancel func(), done <-chan struct{}) {
	cleanupDone := make(chan struct{})
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())

	go func() {
		defer close(cleanupDone)
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()

		for {
			select {
			case <-cleanupCtx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().AddDate(0, 0, -s.Config.RetentionDays)
				pruned, err := s.Database.PruneSyncRuns(cutoff)
				if err != nil {
					s.Logger.Error("cleanup failed", "err", err)
					continue
				}
				if pruned > 0 {
					s.Logger.Info("pruned old runs", "count", pruned, "retention_days", s.Config.RetentionDays)
				}
			}
		}
	}()

	return cleanupCancel, cleanupDone
}
