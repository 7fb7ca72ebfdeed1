// Package server assembles the long-running service: job store, event bus,
// transcoding module and the HTTP API in front of them.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/vodpack/internal/config"
	"github.com/mantonx/vodpack/internal/database"
	"github.com/mantonx/vodpack/internal/events"
	"github.com/mantonx/vodpack/internal/middleware"
	"github.com/mantonx/vodpack/internal/modules/transcodingmodule"
	"github.com/mantonx/vodpack/internal/modules/transcodingmodule/core/cleanup"
	"github.com/mantonx/vodpack/internal/modules/transcodingmodule/core/watcher"
	"gorm.io/gorm"
)

// Server owns every long-lived component of the service
type Server struct {
	config *config.Config
	logger hclog.Logger

	db       *gorm.DB
	eventBus *events.Bus
	module   *transcodingmodule.Module
	router   *gin.Engine
	http     *http.Server
}

// OpenDatabase connects to the job store named by the configuration
func OpenDatabase(cfg *config.Config) (*gorm.DB, error) {
	return database.Open(database.Options{
		Type: cfg.Database.Type,
		Path: cfg.Database.DatabasePath,
		URL:  cfg.Database.URL,
	})
}

// ModuleConfig maps the application configuration onto the module's options
func ModuleConfig(cfg *config.Config) transcodingmodule.ModuleConfig {
	return transcodingmodule.ModuleConfig{
		Pipeline:     cfg.Pipeline(),
		WatchEnabled: cfg.Watch.Enabled,
		Watch: watcher.Config{
			Dir:        cfg.Watch.Dir,
			Extensions: cfg.Watch.Extensions,
			Debounce:   cfg.Watch.Debounce,
			Encrypt:    cfg.Watch.Encrypt,
		},
		Cleanup: cleanup.Config{
			Retention: cfg.Cleanup.Retention,
			Interval:  cfg.Cleanup.Interval,
		},
	}
}

// New builds the server. Nothing runs until Run.
func New(cfg *config.Config, db *gorm.DB, logger hclog.Logger) (*Server, error) {
	logger = logger.Named("server")

	bus := events.NewBus(logger)
	module := transcodingmodule.NewModule(ModuleConfig(cfg), db, bus, logger)
	if err := module.Migrate(db); err != nil {
		return nil, err
	}
	if err := module.Init(); err != nil {
		return nil, err
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), middleware.CORS(), middleware.RequestLogger(logger), middleware.ErrorLogger(logger))
	module.RegisterRoutes(router)

	s := &Server{
		config:   cfg,
		logger:   logger,
		db:       db,
		eventBus: bus,
		module:   module,
		router:   router,
		http: &http.Server{
			Addr:         net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			ErrorLog:     logger.StandardLogger(&hclog.StandardLoggerOptions{InferLevels: true}),
		},
	}
	return s, nil
}

// Router exposes the HTTP handler
func (s *Server) Router() http.Handler {
	return s.router
}

// Module returns the transcoding module
func (s *Server) Module() *transcodingmodule.Module {
	return s.module
}

// Run starts the module and serves HTTP until ctx is cancelled, then shuts
// everything down within shutdownTimeout.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	if err := s.module.Start(); err != nil {
		return fmt.Errorf("failed to start transcoding module: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		s.logger.Info("shutting down gracefully")
	case serveErr = <-errCh:
		if serveErr != nil {
			s.logger.Error("HTTP server failed", "error", serveErr)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = err
	}
	return serveErr
}

// Shutdown stops HTTP first, then the module and its running jobs
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error

	if err := s.http.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http server: %w", err))
	}
	if err := s.module.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("transcoding module: %w", err))
	}
	if sqlDB, err := s.db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}

	s.logger.Info("server shutdown complete", "dropped_events", s.eventBus.Dropped())
	return errors.Join(errs...)
}
