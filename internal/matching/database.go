package matching

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

// GetActiveCarriers pulls the full active-carrier directory in one read.
// Ordered by carrier_id so a ranking over equal-scoring carriers is
// deterministic for a fixed snapshot.
func (d *Database) GetActiveCarriers() ([]types.CarrierProfile, error) {
	var carriers []types.CarrierProfile
	if err := d.db.Where("active = ?", true).Order("carrier_id ASC").Find(&carriers).Error; err != nil {
		return nil, err
	}
	return carriers, nil
}
