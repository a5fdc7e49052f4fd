// seed-units loads the base units of measure, common purchase units and a few
// starter categories. Safe to rerun: existing rows are left alone.
//
// Usage (from backend directory):
//   DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/seed-units
package main

import (
	"context"
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/operations_backend/config"
	"bitbucket.org/mmdatafocus/operations_backend/models"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type baseUnit struct {
	name         string
	abbreviation string
}

type purchaseUnit struct {
	name     string
	baseUnit string
	factor   string
}

var baseUnits = []baseUnit{
	{"Gram", "g"},
	{"Milliliter", "ml"},
	{"Unit", "un"},
}

var purchaseUnits = []purchaseUnit{
	{"Kilogram", "Gram", "1000"},
	{"Gram", "Gram", "1"},
	{"Liter", "Milliliter", "1000"},
	{"Milliliter", "Milliliter", "1"},
	{"Unit", "Unit", "1"},
	{"Dozen", "Unit", "12"},
	{"Box of 6", "Unit", "6"},
	{"Box of 24", "Unit", "24"},
}

var categories = []string{
	"Proteins",
	"Vegetables",
	"Dairy",
	"Dry Goods",
	"Beverages",
	"Cleaning",
}

func main() {
	_ = godotenv.Load()

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}

	if err := models.MigrateTable(); err != nil {
		fmt.Fprintf(os.Stderr, "migration failed: %v\n", err)
		os.Exit(1)
	}

	unitIds := map[string]int{}
	for _, u := range baseUnits {
		unit := models.UnitOfMeasure{Name: u.name, Abbreviation: u.abbreviation}
		err := db.WithContext(ctx).
			Where(models.UnitOfMeasure{Name: u.name}).
			FirstOrCreate(&unit).Error
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to seed unit %q: %v\n", u.name, err)
			os.Exit(1)
		}
		unitIds[u.name] = unit.ID
	}

	for _, pu := range purchaseUnits {
		factor, err := decimal.NewFromString(pu.factor)
		if err != nil {
			fmt.Fprintf(os.Stderr, "bad factor for %q: %v\n", pu.name, err)
			os.Exit(1)
		}
		record := models.PurchaseUnit{
			Name:             pu.name,
			BaseUnitId:       unitIds[pu.baseUnit],
			ConversionFactor: factor,
		}
		err = db.WithContext(ctx).
			Where(models.PurchaseUnit{Name: pu.name}).
			FirstOrCreate(&record).Error
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to seed purchase unit %q: %v\n", pu.name, err)
			os.Exit(1)
		}
	}

	for _, name := range categories {
		record := models.Category{Name: name}
		err := db.WithContext(ctx).
			Where(models.Category{Name: name}).
			FirstOrCreate(&record).Error
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to seed category %q: %v\n", name, err)
			os.Exit(1)
		}
	}

	if _, err := models.GetRestaurantSettings(ctx); err != nil && err != gorm.ErrRecordNotFound {
		fmt.Fprintf(os.Stderr, "failed to seed settings: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Seeded %d units, %d purchase units, %d categories\n",
		len(baseUnits), len(purchaseUnits), len(categories))
}
