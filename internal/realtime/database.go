package realtime

import (
	"errors"

	"github.com/freightmatch/freight-api/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// AppendEvent persists one broadcast event to the durable log.
func (d *Database) AppendEvent(evt *types.NegotiationEvent) error {
	return d.db.Create(evt).Error
}

// MaxSequence returns the highest sequence number recorded for a room,
// or zero for a room with no history.
func (d *Database) MaxSequence(roomID string) (int64, error) {
	var max int64
	err := d.db.Model(&types.NegotiationEvent{}).
		Where("room_id = ?", roomID).
		Select("COALESCE(MAX(sequence), 0)").
		Scan(&max).Error
	if err != nil {
		return 0, err
	}
	return max, nil
}

// EventsAfter returns up to limit events for a room with sequence numbers
// strictly greater than after, in sequence order.
func (d *Database) EventsAfter(roomID string, after int64, limit int) ([]types.NegotiationEvent, error) {
	var events []types.NegotiationEvent
	err := d.db.
		Where("room_id = ? AND sequence > ?", roomID, after).
		Order("sequence ASC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

// Directory lookups backing room authorization in the session gateway.

func (d *Database) GetLoad(loadID string) (*types.Load, error) {
	var load types.Load
	if err := d.db.Where("load_id = ?", loadID).First(&load).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &load, nil
}

func (d *Database) GetQuote(quoteID string) (*types.Quote, error) {
	var quote types.Quote
	if err := d.db.Where("quote_id = ?", quoteID).First(&quote).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &quote, nil
}

// HasQuote reports whether the carrier holds any quote on the load.
func (d *Database) HasQuote(loadID, carrierID string) (bool, error) {
	var count int64
	err := d.db.Model(&types.Quote{}).
		Where("load_id = ? AND carrier_id = ?", loadID, carrierID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
