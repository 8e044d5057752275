package migrations

import (
	"github.com/freightmatch/freight-api/internal/types"
	"gorm.io/gorm"
)

// AddNegotiationEvents creates the durable event log and its indexes.
// The (room_id, sequence) pair is unique: sequence numbers are strictly
// increasing and gap-free within a room.
func AddNegotiationEvents(db *gorm.DB) error {
	if err := db.AutoMigrate(&types.NegotiationEvent{}); err != nil {
		return err
	}

	indexes := []string{
		// Replay queries walk a room in sequence order
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_negotiation_events_room_seq
		 ON negotiation_events(room_id, sequence)`,

		// Retention jobs and debugging query by time
		`CREATE INDEX IF NOT EXISTS idx_negotiation_events_created_at
		 ON negotiation_events(created_at)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
