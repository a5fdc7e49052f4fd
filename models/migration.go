package models

import (
	"bitbucket.org/mmdatafocus/operations_backend/config"
)

// MigrateTable runs the auto migrations. Order matters for foreign keys:
// referenced tables first.
func MigrateTable() error {
	db := config.GetDB()
	return db.AutoMigrate(
		&UnitOfMeasure{},
		&PurchaseUnit{},
		&Category{},
		&Supplier{},
		&Product{},
		&Purchase{},
		&PurchaseItem{},
		&Recipe{},
		&RecipeIngredient{},
		&RestaurantSettings{},
		&EventRecord{},
		&IdempotencyKey{},
	)
}
