package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/operations_backend/config"
	"bitbucket.org/mmdatafocus/operations_backend/utils"
	"github.com/shopspring/decimal"
)

// PurchaseUnit is a unit that appears on supplier documents ("25kg sack").
// ConversionFactor expresses how many base units one purchase unit holds;
// conversion is single-hop, a purchase unit belongs to exactly one base unit.
type PurchaseUnit struct {
	ID               int             `gorm:"primary_key" json:"id"`
	Name             string          `gorm:"size:100;not null;uniqueIndex" json:"name" binding:"required"`
	BaseUnitId       int             `gorm:"index;not null" json:"base_unit_id" binding:"required"`
	BaseUnit         *UnitOfMeasure  `gorm:"foreignKey:BaseUnitId" json:"base_unit,omitempty"`
	ConversionFactor decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"conversion_factor"`
	Description      string          `gorm:"type:text" json:"description"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// ToBaseQuantity converts a quantity expressed in this purchase unit into the
// base unit: base_qty = purchase_qty x conversion_factor.
func (pu PurchaseUnit) ToBaseQuantity(quantity decimal.Decimal) decimal.Decimal {
	return quantity.Mul(pu.ConversionFactor)
}

type NewPurchaseUnit struct {
	Name             string          `json:"name" validate:"required,max=100"`
	BaseUnitId       int             `json:"base_unit_id" validate:"required,gt=0"`
	ConversionFactor decimal.Decimal `json:"conversion_factor"`
	Description      string          `json:"description"`
}

func (input *NewPurchaseUnit) validate(ctx context.Context, id int) error {
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if !input.ConversionFactor.IsPositive() {
		return errors.New("conversion factor must be greater than zero")
	}
	if err := utils.ValidateUnique[PurchaseUnit](ctx, "name", input.Name, id); err != nil {
		return err
	}
	if err := utils.ValidateResourceId[UnitOfMeasure](ctx, input.BaseUnitId); err != nil {
		return errors.New("base unit not found")
	}
	return nil
}

func CreatePurchaseUnit(ctx context.Context, input *NewPurchaseUnit) (*PurchaseUnit, error) {

	if err := input.validate(ctx, 0); err != nil {
		return nil, err
	}

	unit := PurchaseUnit{
		Name:             input.Name,
		BaseUnitId:       input.BaseUnitId,
		ConversionFactor: input.ConversionFactor,
		Description:      input.Description,
	}

	db := config.GetDB()
	err := db.WithContext(ctx).Create(&unit).Error
	if err != nil {
		return nil, err
	}
	clearPurchaseUnitCache()
	return &unit, nil
}

func UpdatePurchaseUnit(ctx context.Context, id int, input *NewPurchaseUnit) (*PurchaseUnit, error) {

	if err := input.validate(ctx, id); err != nil {
		return nil, err
	}

	unit, err := utils.FetchModel[PurchaseUnit](ctx, id)
	if err != nil {
		return nil, err
	}
	factorChanged := !unit.ConversionFactor.Equal(input.ConversionFactor)

	db := config.GetDB()
	err = db.WithContext(ctx).Model(unit).Updates(map[string]interface{}{
		"Name":             input.Name,
		"BaseUnitId":       input.BaseUnitId,
		"ConversionFactor": input.ConversionFactor,
		"Description":      input.Description,
	}).Error
	if err != nil {
		return nil, err
	}
	clearPurchaseUnitCache()

	// a factor edit changes every ingredient line measured in this unit
	if factorChanged {
		if err := RecalculateRecipesUsingPurchaseUnit(ctx, id); err != nil {
			config.LogError(config.GetLogger(), "purchaseUnit", "UpdatePurchaseUnit",
				"recipe refresh after factor change", id, err)
		}
	}
	return unit, nil
}

func DeletePurchaseUnit(ctx context.Context, id int) (*PurchaseUnit, error) {

	result, err := utils.FetchModel[PurchaseUnit](ctx, id)
	if err != nil {
		return nil, err
	}

	count, err := utils.ResourceCountWhere[PurchaseItem](ctx, "purchase_unit_id = ?", id)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, errors.New("used by purchase item")
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Delete(result).Error
	if err != nil {
		return nil, err
	}
	clearPurchaseUnitCache()
	return result, nil
}

func GetPurchaseUnit(ctx context.Context, id int) (*PurchaseUnit, error) {
	return utils.FetchModel[PurchaseUnit](ctx, id, "BaseUnit")
}

func GetPurchaseUnits(ctx context.Context) ([]*PurchaseUnit, error) {

	db := config.GetDB()
	var results []*PurchaseUnit
	err := db.WithContext(ctx).Preload("BaseUnit").Order("name").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

const purchaseUnitMapKey = "PurchaseUnitMap"

// MapPurchaseUnits returns id => purchase unit, redis or db.
func MapPurchaseUnits(ctx context.Context) (map[int]*PurchaseUnit, error) {

	unitMap := make(map[int]*PurchaseUnit)
	exists, err := config.GetRedisObject(purchaseUnitMapKey, &unitMap)
	if err != nil {
		return nil, err
	}
	if exists {
		return unitMap, nil
	}

	units, err := GetPurchaseUnits(ctx)
	if err != nil {
		return nil, err
	}
	for _, unit := range units {
		unitMap[unit.ID] = unit
	}
	if err := config.SetRedisObject(purchaseUnitMapKey, &unitMap, time.Hour); err != nil {
		return nil, err
	}
	return unitMap, nil
}

func clearPurchaseUnitCache() {
	_ = config.RemoveRedisKey(purchaseUnitMapKey)
}
