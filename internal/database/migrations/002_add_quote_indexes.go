package migrations

import (
	"github.com/freightmatch/freight-api/internal/types"
	"gorm.io/gorm"
)

// AddQuoteIndexes creates the quote table and the indexes backing the
// state machine's hot paths.
func AddQuoteIndexes(db *gorm.DB) error {
	if err := db.AutoMigrate(&types.Quote{}); err != nil {
		return err
	}

	if err := db.AutoMigrate(&types.Load{}); err != nil {
		return err
	}

	indexes := []string{
		// Duplicate-pending-quote check on submit
		`CREATE INDEX IF NOT EXISTS idx_quotes_load_carrier_status
		 ON quotes(load_id, carrier_id, status)`,

		// Expiring competing quotes on accept
		`CREATE INDEX IF NOT EXISTS idx_quotes_load_status
		 ON quotes(load_id, status)`,

		// Time-based expiry sweep
		`CREATE INDEX IF NOT EXISTS idx_quotes_status_delivery_date
		 ON quotes(status, proposed_delivery_date)`,

		// Rate predictor's historical window query
		`CREATE INDEX IF NOT EXISTS idx_loads_equipment_status_updated
		 ON loads(equipment_type, status, updated_at)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
