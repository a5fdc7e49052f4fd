package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/operations_backend/config"
	"bitbucket.org/mmdatafocus/operations_backend/utils"
	"github.com/shopspring/decimal"
)

// Product owns its valuation numbers. CurrentStock and AverageCost are written
// exclusively by ApplyStockMovement; every other mutation path must leave them
// untouched.
type Product struct {
	ID                int              `gorm:"primary_key" json:"id"`
	Name              string           `gorm:"size:200;not null;uniqueIndex" json:"name" binding:"required"`
	Description       string           `gorm:"type:text" json:"description"`
	CategoryId        int              `gorm:"index;not null" json:"category_id" binding:"required"`
	Category          *Category        `gorm:"foreignKey:CategoryId" json:"category,omitempty"`
	InventoryUnitId   int              `gorm:"index;not null" json:"inventory_unit_id" binding:"required"`
	InventoryUnit     *UnitOfMeasure   `gorm:"foreignKey:InventoryUnitId" json:"inventory_unit,omitempty"`
	CurrentStock      decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"current_stock"`
	AverageCost       decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"average_cost"`
	LowStockThreshold *decimal.Decimal `gorm:"type:decimal(20,4)" json:"low_stock_threshold"`
	WastePercentage   *decimal.Decimal `gorm:"type:decimal(5,2)" json:"waste_percentage"`
	IsActive          *bool            `gorm:"not null;default:true;index" json:"is_active"`
	IsActivePos       *bool            `gorm:"not null;default:true" json:"is_active_pos"`
	CreatedAt         time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsLowStock reports whether the product sits at or below its threshold.
// Products without a threshold never alert.
func (p Product) IsLowStock() bool {
	if p.LowStockThreshold == nil {
		return false
	}
	return p.CurrentStock.LessThanOrEqual(*p.LowStockThreshold)
}

type NewProduct struct {
	Name              string           `json:"name" validate:"required,max=200"`
	Description       string           `json:"description"`
	CategoryId        int              `json:"category_id" validate:"required,gt=0"`
	InventoryUnitId   int              `json:"inventory_unit_id" validate:"required,gt=0"`
	LowStockThreshold *decimal.Decimal `json:"low_stock_threshold"`
	WastePercentage   *decimal.Decimal `json:"waste_percentage"`
	IsActivePos       *bool            `json:"is_active_pos"`
}

func (input *NewProduct) validate(ctx context.Context, id int) error {
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if input.LowStockThreshold != nil && input.LowStockThreshold.IsNegative() {
		return errors.New("low stock threshold cannot be negative")
	}
	if input.WastePercentage != nil {
		if input.WastePercentage.IsNegative() || input.WastePercentage.GreaterThan(decimal.NewFromInt(100)) {
			return errors.New("waste percentage must be between 0 and 100")
		}
	}
	if err := utils.ValidateUnique[Product](ctx, "name", input.Name, id); err != nil {
		return err
	}
	if err := utils.ValidateResourceId[Category](ctx, input.CategoryId); err != nil {
		return errors.New("category not found")
	}
	if err := utils.ValidateResourceId[UnitOfMeasure](ctx, input.InventoryUnitId); err != nil {
		return errors.New("inventory unit not found")
	}
	return nil
}

func CreateProduct(ctx context.Context, input *NewProduct) (*Product, error) {

	if err := input.validate(ctx, 0); err != nil {
		return nil, err
	}

	product := Product{
		Name:              input.Name,
		Description:       input.Description,
		CategoryId:        input.CategoryId,
		InventoryUnitId:   input.InventoryUnitId,
		LowStockThreshold: input.LowStockThreshold,
		WastePercentage:   input.WastePercentage,
		CurrentStock:      decimal.Zero,
		AverageCost:       decimal.Zero,
		IsActive:          utils.NewTrue(),
		IsActivePos:       utils.NewTrue(),
	}
	if input.IsActivePos != nil {
		product.IsActivePos = input.IsActivePos
	}

	db := config.GetDB()
	err := db.WithContext(ctx).Create(&product).Error
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// UpdateProduct never writes CurrentStock or AverageCost; those belong to the
// valuation engine.
func UpdateProduct(ctx context.Context, id int, input *NewProduct) (*Product, error) {

	if err := input.validate(ctx, id); err != nil {
		return nil, err
	}

	product, err := utils.FetchModel[Product](ctx, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Model(product).Updates(map[string]interface{}{
		"Name":              input.Name,
		"Description":       input.Description,
		"CategoryId":        input.CategoryId,
		"InventoryUnitId":   input.InventoryUnitId,
		"LowStockThreshold": input.LowStockThreshold,
		"WastePercentage":   input.WastePercentage,
	}).Error
	if err != nil {
		return nil, err
	}
	return product, nil
}

func ToggleActiveProduct(ctx context.Context, id int, isActive bool) (*Product, error) {

	product, err := utils.FetchModel[Product](ctx, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Model(product).Update("IsActive", isActive).Error
	if err != nil {
		return nil, err
	}
	return product, nil
}

func DeleteProduct(ctx context.Context, id int) (*Product, error) {

	result, err := utils.FetchModel[Product](ctx, id)
	if err != nil {
		return nil, err
	}

	// referential protection: purchase items and recipe ingredients hold
	// non-owning references
	count, err := utils.ResourceCountWhere[PurchaseItem](ctx, "product_id = ?", id)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, errors.New("used by purchase item")
	}
	count, err = utils.ResourceCountWhere[RecipeIngredient](ctx, "product_id = ?", id)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, errors.New("used by recipe ingredient")
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Delete(result).Error
	if err != nil {
		return nil, err
	}
	return result, nil
}

func GetProduct(ctx context.Context, id int) (*Product, error) {
	return utils.FetchModel[Product](ctx, id, "Category", "InventoryUnit")
}

func GetProducts(ctx context.Context, name *string) ([]*Product, error) {

	db := config.GetDB()
	var results []*Product

	dbCtx := db.WithContext(ctx).Preload("Category").Preload("InventoryUnit")
	if name != nil && len(*name) > 0 {
		dbCtx = dbCtx.Where("name LIKE ?", "%"+*name+"%")
	}
	err := dbCtx.Order("name").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// MenuProduct is the snapshot shape the menu/signage collaborator reads
// directly off Product records (not via the event bus).
type MenuProduct struct {
	ID           int             `json:"id"`
	Name         string          `json:"name"`
	CurrentStock decimal.Decimal `json:"current_stock"`
	AverageCost  decimal.Decimal `json:"average_cost"`
	IsActive     bool            `json:"is_active"`
}

func GetMenuProducts(ctx context.Context) ([]*MenuProduct, error) {

	db := config.GetDB()
	var results []*MenuProduct
	err := db.WithContext(ctx).Model(&Product{}).
		Select("id", "name", "current_stock", "average_cost", "is_active").
		Where("is_active = ? AND is_active_pos = ?", true, true).
		Order("name").
		Scan(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
