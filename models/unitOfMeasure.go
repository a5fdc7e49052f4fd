package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/operations_backend/config"
	"bitbucket.org/mmdatafocus/operations_backend/utils"
)

// UnitOfMeasure is the base (inventory) unit a product's stock and cost are
// tracked in, e.g. gram, milliliter, unit.
type UnitOfMeasure struct {
	ID           int       `gorm:"primary_key" json:"id"`
	Name         string    `gorm:"size:50;not null;uniqueIndex" json:"name" binding:"required"`
	Abbreviation string    `gorm:"size:10;not null;uniqueIndex" json:"abbreviation" binding:"required"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewUnitOfMeasure struct {
	Name         string `json:"name" validate:"required,max=50"`
	Abbreviation string `json:"abbreviation" validate:"required,max=10"`
}

func (input *NewUnitOfMeasure) validate(ctx context.Context, id int) error {
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if err := utils.ValidateUnique[UnitOfMeasure](ctx, "name", input.Name, id); err != nil {
		return err
	}
	if err := utils.ValidateUnique[UnitOfMeasure](ctx, "abbreviation", input.Abbreviation, id); err != nil {
		return err
	}
	return nil
}

func CreateUnitOfMeasure(ctx context.Context, input *NewUnitOfMeasure) (*UnitOfMeasure, error) {

	if err := input.validate(ctx, 0); err != nil {
		return nil, err
	}

	unit := UnitOfMeasure{
		Name:         input.Name,
		Abbreviation: input.Abbreviation,
	}

	db := config.GetDB()
	err := db.WithContext(ctx).Create(&unit).Error
	if err != nil {
		return nil, err
	}
	return &unit, nil
}

func UpdateUnitOfMeasure(ctx context.Context, id int, input *NewUnitOfMeasure) (*UnitOfMeasure, error) {

	if err := input.validate(ctx, id); err != nil {
		return nil, err
	}

	unit, err := utils.FetchModel[UnitOfMeasure](ctx, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Model(unit).Updates(map[string]interface{}{
		"Name":         input.Name,
		"Abbreviation": input.Abbreviation,
	}).Error
	if err != nil {
		return nil, err
	}
	return unit, nil
}

func DeleteUnitOfMeasure(ctx context.Context, id int) (*UnitOfMeasure, error) {

	result, err := utils.FetchModel[UnitOfMeasure](ctx, id)
	if err != nil {
		return nil, err
	}

	// don't delete while products or purchase units reference this unit
	count, err := utils.ResourceCountWhere[Product](ctx, "inventory_unit_id = ?", id)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, errors.New("used by product")
	}
	count, err = utils.ResourceCountWhere[PurchaseUnit](ctx, "base_unit_id = ?", id)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, errors.New("used by purchase unit")
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Delete(result).Error
	if err != nil {
		return nil, err
	}
	return result, nil
}

func GetUnitOfMeasure(ctx context.Context, id int) (*UnitOfMeasure, error) {
	return utils.FetchModel[UnitOfMeasure](ctx, id)
}

func GetUnitsOfMeasure(ctx context.Context) ([]*UnitOfMeasure, error) {

	db := config.GetDB()
	var results []*UnitOfMeasure
	err := db.WithContext(ctx).Order("name").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
