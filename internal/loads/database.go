package loads

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

func (d *Database) CreateLoad(load *types.Load) error {
	return d.db.Create(load).Error
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

// UpdateLoadFieldsIf writes only the given columns, and only while the load
// is still posted. A quote arriving between the caller's read and this write
// moves the load to negotiating and makes the guard fail, so an edit can
// never write a stale status back. Reports whether a row moved.
func (d *Database) UpdateLoadFieldsIf(loadID string, fields map[string]interface{}) (bool, error) {
	result := d.db.Model(&types.Load{}).
		Where("load_id = ? AND status = ?", loadID, types.LoadStatusPosted).
		Updates(fields)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// UpdateLoadStatusIf performs a conditional status transition and reports
// whether a row actually moved. Used for the posted -> cancelled soft delete.
func (d *Database) UpdateLoadStatusIf(loadID, newStatus string, fromStatuses []string) (bool, error) {
	result := d.db.Model(&types.Load{}).
		Where("load_id = ? AND status IN ?", loadID, fromStatuses).
		Update("status", newStatus)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (d *Database) UpsertCarrier(profile *types.CarrierProfile) error {
	var existing types.CarrierProfile
	err := d.db.Where("carrier_id = ?", profile.CarrierID).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return d.db.Create(profile).Error
	}
	if err != nil {
		return err
	}

	existing.CompanyName = profile.CompanyName
	existing.EquipmentTypes = profile.EquipmentTypes
	existing.ServiceAreas = profile.ServiceAreas
	existing.InsuranceAmount = profile.InsuranceAmount
	existing.Rating = profile.Rating
	existing.Active = profile.Active
	return d.db.Save(&existing).Error
}

func (d *Database) GetCarrier(carrierID string) (*types.CarrierProfile, error) {
	var profile types.CarrierProfile
	if err := d.db.Where("carrier_id = ?", carrierID).First(&profile).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &profile, nil
}
