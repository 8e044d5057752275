package negotiation

import (
	"errors"
	"time"

	"github.com/freightmatch/freight-api/internal/types"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
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

// HasPendingQuote reports whether the carrier already holds a pending quote
// on the load.
func (d *Database) HasPendingQuote(loadID, carrierID string) (bool, error) {
	var count int64
	err := d.db.Model(&types.Quote{}).
		Where("load_id = ? AND carrier_id = ? AND status = ?", loadID, carrierID, types.QuoteStatusPending).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// CreateQuoteWithTransition creates the quote and, when the load is still
// posted or matching, moves it to negotiating, in one transaction. The load
// status is re-verified inside the transaction; a load already closed to
// bidding aborts with ErrInvalidTransition and no quote row. Returns
// whether the load actually transitioned.
func (d *Database) CreateQuoteWithTransition(quote *types.Quote) (bool, error) {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return false, err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	var load types.Load
	if err := tx.Where("load_id = ?", quote.LoadID).First(&load).Error; err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, types.ErrNotFound
		}
		return false, err
	}
	switch load.Status {
	case types.LoadStatusPosted, types.LoadStatusMatching, types.LoadStatusNegotiating:
	default:
		tx.Rollback()
		return false, types.ErrInvalidTransition
	}

	if err := tx.Create(quote).Error; err != nil {
		tx.Rollback()
		return false, err
	}

	result := tx.Model(&types.Load{}).
		Where("load_id = ? AND status IN ?", quote.LoadID, []string{types.LoadStatusPosted, types.LoadStatusMatching}).
		Updates(map[string]interface{}{
			"status":     types.LoadStatusNegotiating,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		tx.Rollback()
		return false, result.Error
	}
	transitioned := result.RowsAffected > 0

	if err := tx.Commit().Error; err != nil {
		return false, err
	}
	return transitioned, nil
}

// AcceptQuoteTx executes the accept transition as a single atomic unit:
// the winning quote becomes accepted, the load becomes assigned, every
// competing pending quote expires, and exactly one shipment is created.
// A quote or load no longer in an acceptable state aborts the whole
// transaction with ErrInvalidTransition.
func (d *Database) AcceptQuoteTx(quote *types.Quote) (*AcceptResult, error) {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	now := time.Now()

	// First accept wins: both updates are conditional on current state.
	result := tx.Model(&types.Quote{}).
		Where("quote_id = ? AND status = ?", quote.QuoteID, types.QuoteStatusPending).
		Updates(map[string]interface{}{
			"status":     types.QuoteStatusAccepted,
			"updated_at": now,
		})
	if result.Error != nil {
		tx.Rollback()
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		tx.Rollback()
		return nil, types.ErrInvalidTransition
	}

	result = tx.Model(&types.Load{}).
		Where("load_id = ? AND status IN ?", quote.LoadID, []string{
			types.LoadStatusPosted,
			types.LoadStatusMatching,
			types.LoadStatusNegotiating,
		}).
		Updates(map[string]interface{}{
			"status":     types.LoadStatusAssigned,
			"updated_at": now,
		})
	if result.Error != nil {
		tx.Rollback()
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		tx.Rollback()
		return nil, types.ErrInvalidTransition
	}

	var competing []types.Quote
	if err := tx.Where("load_id = ? AND status = ? AND quote_id <> ?",
		quote.LoadID, types.QuoteStatusPending, quote.QuoteID).Find(&competing).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if len(competing) > 0 {
		if err := tx.Model(&types.Quote{}).
			Where("load_id = ? AND status = ? AND quote_id <> ?",
				quote.LoadID, types.QuoteStatusPending, quote.QuoteID).
			Updates(map[string]interface{}{
				"status":     types.QuoteStatusExpired,
				"updated_at": now,
			}).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	shipment := &types.Shipment{
		ShipmentID: "SHP_" + uuid.New().String(),
		LoadID:     quote.LoadID,
		CarrierID:  quote.CarrierID,
		Status:     types.ShipmentStatusPending,
		ETA:        quote.ProposedDeliveryDate,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := tx.Create(shipment).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	accepted := *quote
	accepted.Status = types.QuoteStatusAccepted
	accepted.UpdatedAt = now
	for i := range competing {
		competing[i].Status = types.QuoteStatusExpired
		competing[i].UpdatedAt = now
	}

	load, err := d.GetLoad(quote.LoadID)
	if err != nil {
		return nil, err
	}

	return &AcceptResult{
		Quote:         &accepted,
		Shipment:      shipment,
		ExpiredQuotes: competing,
		Load:          load,
	}, nil
}

// RejectQuoteIf moves a pending quote to rejected. Reports whether the
// transition happened.
func (d *Database) RejectQuoteIf(quoteID string) (bool, error) {
	result := d.db.Model(&types.Quote{}).
		Where("quote_id = ? AND status = ?", quoteID, types.QuoteStatusPending).
		Updates(map[string]interface{}{
			"status":     types.QuoteStatusRejected,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ExpireQuoteIf moves a pending quote to expired. Reports whether the
// transition happened; a concurrently accepted quote is left alone.
func (d *Database) ExpireQuoteIf(quoteID string) (bool, error) {
	result := d.db.Model(&types.Quote{}).
		Where("quote_id = ? AND status = ?", quoteID, types.QuoteStatusPending).
		Updates(map[string]interface{}{
			"status":     types.QuoteStatusExpired,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// GetDuePendingQuotes returns pending quotes whose proposed delivery date
// has passed without shipper action.
func (d *Database) GetDuePendingQuotes(now time.Time) ([]types.Quote, error) {
	var due []types.Quote
	err := d.db.
		Where("status = ? AND proposed_delivery_date < ?", types.QuoteStatusPending, now).
		Find(&due).Error
	if err != nil {
		return nil, err
	}
	return due, nil
}
