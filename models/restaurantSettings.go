package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/operations_backend/config"
	"bitbucket.org/mmdatafocus/operations_backend/utils"
	"github.com/shopspring/decimal"
)

// RestaurantSettings is a single-row table (id fixed at 1). Load it with
// GetRestaurantSettings and pass the value to whoever needs it; nothing reads
// it implicitly.
type RestaurantSettings struct {
	ID                       int             `gorm:"primary_key" json:"id"`
	Name                     string          `gorm:"size:200;not null;default:''" json:"name"`
	Currency                 string          `gorm:"size:10;not null;default:CLP" json:"currency"`
	DefaultWastePercentage   decimal.Decimal `gorm:"type:decimal(5,2);default:0" json:"default_waste_percentage"`
	DefaultLowStockThreshold decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"default_low_stock_threshold"`
	CreatedAt                time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt                time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

const restaurantSettingsId = 1

// GetRestaurantSettings returns the singleton row, creating it with defaults
// on first access.
func GetRestaurantSettings(ctx context.Context) (*RestaurantSettings, error) {

	db := config.GetDB()
	settings := RestaurantSettings{ID: restaurantSettingsId}
	err := db.WithContext(ctx).
		Where(RestaurantSettings{ID: restaurantSettingsId}).
		FirstOrCreate(&settings).Error
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

type UpdateRestaurantSettingsInput struct {
	Name                     string          `json:"name" validate:"max=200"`
	Currency                 string          `json:"currency" validate:"required,max=10"`
	DefaultWastePercentage   decimal.Decimal `json:"default_waste_percentage"`
	DefaultLowStockThreshold decimal.Decimal `json:"default_low_stock_threshold"`
}

func UpdateRestaurantSettings(ctx context.Context, input *UpdateRestaurantSettingsInput) (*RestaurantSettings, error) {

	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}

	settings, err := GetRestaurantSettings(ctx)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Model(settings).Updates(map[string]interface{}{
		"Name":                     input.Name,
		"Currency":                 input.Currency,
		"DefaultWastePercentage":   input.DefaultWastePercentage,
		"DefaultLowStockThreshold": input.DefaultLowStockThreshold,
	}).Error
	if err != nil {
		return nil, err
	}
	return settings, nil
}
