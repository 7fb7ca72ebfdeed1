// Package transcodingmodule turns source video files into adaptive-bitrate
// DASH/HLS packages.
//
// A job moves through probe, resolution selection, parallel encoding,
// subtitle normalization, optional ClearKey generation and packaging:
//
//	Prober → Selector → Encoder/Subtitles/Key → Packager
//
// The module owns the job manager and its supporting services: the HTTP
// control API, the watch-folder ingest and the sweep of stale intermediates.
package transcodingmodule

import (
	"context"
	"fmt"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/vodpack/internal/database"
	"github.com/mantonx/vodpack/internal/events"
	"github.com/mantonx/vodpack/internal/modules/transcodingmodule/api"
	"github.com/mantonx/vodpack/internal/modules/transcodingmodule/core/cleanup"
	"github.com/mantonx/vodpack/internal/modules/transcodingmodule/core/watcher"
	"github.com/mantonx/vodpack/internal/modules/transcodingmodule/types"
	"gorm.io/gorm"
)

const (
	// ModuleID is the unique identifier for the transcoding module
	ModuleID = "system.transcoding"

	// ModuleName is the display name for the transcoding module
	ModuleName = "Transcoding Manager"

	// ModuleVersion is the version of the transcoding module
	ModuleVersion = "1.0.0"
)

// ModuleConfig groups the settings of the manager and its services
type ModuleConfig struct {
	Pipeline types.PipelineConfig

	WatchEnabled bool
	Watch        watcher.Config

	// Cleanup.WorkDir is taken from the pipeline configuration
	Cleanup cleanup.Config
}

// Module wires the job manager to its API and background services
type Module struct {
	config   ModuleConfig
	db       *gorm.DB
	eventBus events.EventBus
	logger   hclog.Logger

	manager *Manager
	watcher *watcher.Watcher
	cleanup *cleanup.Service

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewModule creates a new transcoding module
func NewModule(config ModuleConfig, db *gorm.DB, eventBus events.EventBus, logger hclog.Logger) *Module {
	return &Module{
		config:   config,
		db:       db,
		eventBus: eventBus,
		logger:   logger.Named("transcoding"),
	}
}

// ID returns the unique module identifier
func (m *Module) ID() string {
	return ModuleID
}

// Name returns the module display name
func (m *Module) Name() string {
	return ModuleName
}

// GetVersion returns the module version
func (m *Module) GetVersion() string {
	return ModuleVersion
}

// Migrate performs any necessary database migrations
func (m *Module) Migrate(db *gorm.DB) error {
	m.logger.Info("migrating transcoding database schema")
	return database.Migrate(db)
}

// Init builds the manager and the services that depend on it
func (m *Module) Init() error {
	m.logger.Info("initializing transcoding module")

	if m.db == nil {
		return fmt.Errorf("transcoding module requires a database")
	}

	manager, err := NewManager(m.config.Pipeline, m.db, m.eventBus, m.logger)
	if err != nil {
		return fmt.Errorf("failed to create transcoding manager: %w", err)
	}
	m.manager = manager

	if m.config.WatchEnabled {
		w, err := watcher.NewWatcher(m.config.Watch, manager, m.logger)
		if err != nil {
			return fmt.Errorf("failed to create watcher: %w", err)
		}
		m.watcher = w
	}

	cleanupConfig := m.config.Cleanup
	cleanupConfig.WorkDir = manager.Config().WorkDir
	m.cleanup = cleanup.NewService(cleanupConfig, manager.Store(), m.logger)

	return nil
}

// Start recovers interrupted jobs and starts the background services
func (m *Module) Start() error {
	if m.manager == nil {
		return fmt.Errorf("transcoding module is not initialized")
	}
	if err := m.manager.RecoverInterrupted(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	if m.cleanup.Enabled() {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.cleanup.Run(ctx)
		}()
	}

	if m.watcher != nil {
		if err := m.watcher.Start(); err != nil {
			return err
		}
	}

	m.logger.Info("transcoding module started",
		"watch", m.watcher != nil,
		"cleanup", m.cleanup.Enabled())
	return nil
}

// RegisterRoutes registers all transcoding module HTTP routes
func (m *Module) RegisterRoutes(router *gin.Engine) {
	if m.manager == nil {
		m.logger.Error("cannot register routes: transcoding manager is nil")
		return
	}

	handler := api.NewAPIHandler(m.manager, m.logger)
	var eventsHandler *api.EventsHandler
	if m.eventBus != nil {
		eventsHandler = api.NewEventsHandler(m.eventBus, m.logger)
	}
	api.RegisterRoutes(router, handler, eventsHandler)
}

// Manager returns the job manager
func (m *Module) Manager() *Manager {
	return m.manager
}

// Shutdown stops ingest first, then cancels running jobs and waits for them
func (m *Module) Shutdown(ctx context.Context) error {
	m.logger.Info("shutting down transcoding module")

	if m.watcher != nil {
		if err := m.watcher.Stop(); err != nil {
			m.logger.Warn("failed to stop watcher", "error", err)
		}
	}
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()

	if m.manager == nil {
		return nil
	}
	return m.manager.Shutdown(ctx)
}
