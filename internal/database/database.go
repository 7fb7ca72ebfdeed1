// Package database opens the job store connection and owns its schema.
package database

import (
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// Options selects and locates the database
type Options struct {
	Type string // sqlite or postgres
	Path string // sqlite file
	URL  string // postgres DSN
}

// Open connects to the configured database and migrates the schema
func Open(opts Options) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch opts.Type {
	case "", "sqlite":
		if opts.Path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(opts.Path), 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		dialector = sqlite.Open(opts.Path)
	case "postgres":
		dialector = postgres.Open(opts.URL)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", opts.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if opts.Type == "" || opts.Type == "sqlite" {
		// :memory: databases exist per connection
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates the job tables
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&TranscodeJob{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}
