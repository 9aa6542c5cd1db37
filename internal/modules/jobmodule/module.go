package jobmodule

import (
	"gorm.io/gorm"

	"github.com/purecut/purecut/internal/config"
	"github.com/purecut/purecut/internal/database"
	"github.com/purecut/purecut/internal/logger"
	"github.com/purecut/purecut/internal/modules/modulemanager"
)

// Auto-register the module when imported
func init() {
	Register()
}

const (
	// ModuleID is the unique identifier for the job module
	ModuleID = "system.jobs"

	// ModuleName is the display name for the job module
	ModuleName = "Processing Jobs"
)

// Module runs the content-filtering pipeline as a module.
type Module struct {
	db      *gorm.DB
	manager *Manager
}

// Register adds the job module to the global registry.
func Register() {
	modulemanager.Register(&Module{})
}

// ID returns the unique module identifier
func (m *Module) ID() string {
	return ModuleID
}

// Name returns the module display name
func (m *Module) Name() string {
	return ModuleName
}

// Core returns whether this is a core module
func (m *Module) Core() bool {
	return true // the pipeline is the whole point
}

// Migrate performs any necessary database migrations
func (m *Module) Migrate(db *gorm.DB) error {
	logger.Info("Migrating job database schema")
	return db.AutoMigrate(
		&database.ProcessingJob{},
		&database.SegmentRecord{},
		&database.ReplacementClipRecord{},
		&database.AdvisoryCacheEntry{},
	)
}

// Init initializes the job module and resumes any jobs interrupted by a
// previous process.
func (m *Module) Init() error {
	logger.Info("Initializing job module")

	if m.db == nil {
		m.db = database.GetDB()
	}
	m.manager = NewManager(m.db, config.Get(), logger.Named("jobs"))

	if err := m.manager.RecoverOrphans(); err != nil {
		logger.Error("Failed to recover orphaned jobs: %v", err)
	}
	return nil
}

// Shutdown cancels running jobs and waits for them to stop.
func (m *Module) Shutdown() error {
	if m.manager != nil {
		m.manager.Shutdown()
	}
	return nil
}

// GetManager exposes the pipeline manager, mainly for tests.
func (m *Module) GetManager() *Manager {
	return m.manager
}
