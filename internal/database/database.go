package database

import (
	"fmt"

	"github.com/freightmatch/freight-api/internal/database/migrations"
	"github.com/freightmatch/freight-api/internal/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewDatabase initializes and returns a new GORM DB connection
func NewDatabase(path string) (*gorm.DB, error) {
	if path == "" {
		path = "freight.db"
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// Run migrations
	if err := migrations.AddNegotiationEvents(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := migrations.AddQuoteIndexes(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	// Auto-migrate other schemas
	err = db.AutoMigrate(
		&types.Load{},
		&types.CarrierProfile{},
		&types.Quote{},
		&types.Shipment{},
	)
	if err != nil {
		return nil, err
	}

	return db, nil
}
