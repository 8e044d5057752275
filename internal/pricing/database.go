package pricing

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

// GetRecentDeliveredLoads returns up to limit delivered loads of the given
// equipment type that carried a rate, newest first.
func (d *Database) GetRecentDeliveredLoads(equipmentType string, limit int) ([]types.Load, error) {
	var history []types.Load
	err := d.db.
		Where("equipment_type = ? AND status = ? AND asking_rate > 0", equipmentType, types.LoadStatusDelivered).
		Order("updated_at DESC").
		Limit(limit).
		Find(&history).Error
	if err != nil {
		return nil, err
	}
	return history, nil
}
