package models

import (
	"context"

	"bitbucket.org/mmdatafocus/operations_backend/config"
	"github.com/shopspring/decimal"
)

// LowStockAlert is a read-model row: active products sitting at or below
// their own threshold. Products without a threshold never appear.
type LowStockAlert struct {
	ProductId    int             `json:"product_id"`
	ProductName  string          `json:"product_name"`
	CurrentStock decimal.Decimal `json:"current_stock"`
	Threshold    decimal.Decimal `json:"threshold"`
	UnitName     string          `json:"unit_name"`
}

func ListLowStockAlerts(ctx context.Context) ([]*LowStockAlert, error) {

	db := config.GetDB()
	var results []*LowStockAlert
	err := db.WithContext(ctx).Model(&Product{}).
		Select("products.id AS product_id",
			"products.name AS product_name",
			"products.current_stock AS current_stock",
			"products.low_stock_threshold AS threshold",
			"unit_of_measures.name AS unit_name").
		Joins("LEFT JOIN unit_of_measures ON unit_of_measures.id = products.inventory_unit_id").
		Where("products.is_active = ?", true).
		Where("products.low_stock_threshold IS NOT NULL").
		Where("products.current_stock <= products.low_stock_threshold").
		Order("products.name").
		Scan(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
