package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/operations_backend/config"
	"bitbucket.org/mmdatafocus/operations_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Purchase is a supplier document header. TotalAmount is derived from its
// items and rewritten whenever an item is added.
type Purchase struct {
	ID             int             `gorm:"primary_key" json:"id"`
	SupplierId     int             `gorm:"index;not null" json:"supplier_id"`
	Supplier       *Supplier       `gorm:"foreignKey:SupplierId" json:"supplier,omitempty"`
	DocumentType   DocumentType    `gorm:"size:20;not null;uniqueIndex:idx_purchase_document,priority:1" json:"document_type"`
	DocumentNumber string          `gorm:"size:100;not null;uniqueIndex:idx_purchase_document,priority:2" json:"document_number"`
	PurchaseDate   time.Time       `gorm:"not null;index" json:"purchase_date"`
	TotalAmount    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_amount"`
	Notes          string          `gorm:"type:text" json:"notes"`
	Items          []PurchaseItem  `gorm:"foreignKey:PurchaseId" json:"items,omitempty"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// PurchaseItem stores both the document figures (purchase unit, tax-inclusive
// total for invoices) and the derived valuation figures so the intake math can
// be audited later without replaying it.
type PurchaseItem struct {
	ID             int             `gorm:"primary_key" json:"id"`
	PurchaseId     int             `gorm:"index;not null" json:"purchase_id"`
	ProductId      int             `gorm:"index;not null" json:"product_id"`
	Product        *Product        `gorm:"foreignKey:ProductId" json:"product,omitempty"`
	PurchaseUnitId int             `gorm:"not null" json:"purchase_unit_id"`
	PurchaseUnit   *PurchaseUnit   `gorm:"foreignKey:PurchaseUnitId" json:"purchase_unit,omitempty"`
	Quantity       decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity"`
	QuantityInBase decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity_in_base"`
	TotalCost      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"total_cost"`
	NetCost        decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"net_cost"`
	NetCostPerBase decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"net_cost_per_base"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewPurchaseItem struct {
	ProductId      int             `json:"product_id" validate:"required,gt=0"`
	PurchaseUnitId int             `json:"purchase_unit_id" validate:"required,gt=0"`
	Quantity       decimal.Decimal `json:"quantity" validate:"required"`
	TotalCost      decimal.Decimal `json:"total_cost" validate:"required"`
}

type NewPurchase struct {
	SupplierId     int               `json:"supplier_id" validate:"required,gt=0"`
	DocumentType   DocumentType      `json:"document_type" validate:"required"`
	DocumentNumber string            `json:"document_number" validate:"required,max=100"`
	PurchaseDate   time.Time         `json:"purchase_date" validate:"required"`
	Notes          string            `json:"notes"`
	Items          []NewPurchaseItem `json:"items" validate:"dive"`
}

func (input *NewPurchase) validate(ctx context.Context) error {
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if !input.DocumentType.IsValid() {
		return fmt.Errorf("invalid document type %q", input.DocumentType)
	}
	if err := utils.ValidateResourceId[Supplier](ctx, input.SupplierId); err != nil {
		return errors.New("supplier not found")
	}
	unitMap, err := MapPurchaseUnits(ctx)
	if err != nil {
		return err
	}
	for _, item := range input.Items {
		if !item.Quantity.IsPositive() {
			return errors.New("item quantity must be positive")
		}
		if item.TotalCost.IsNegative() {
			return errors.New("item total cost cannot be negative")
		}
		if _, ok := unitMap[item.PurchaseUnitId]; !ok {
			return errors.New("purchase unit not found")
		}
	}
	return nil
}

// CreatePurchase persists the document and runs the intake pipeline for every
// item in a single transaction: either the whole document lands (stock,
// averages, outbox records included) or none of it does.
func CreatePurchase(ctx context.Context, input *NewPurchase) (*Purchase, error) {

	if err := input.validate(ctx); err != nil {
		return nil, err
	}

	db := config.GetDB()
	purchase := Purchase{
		SupplierId:     input.SupplierId,
		DocumentType:   input.DocumentType,
		DocumentNumber: input.DocumentNumber,
		PurchaseDate:   input.PurchaseDate,
		Notes:          input.Notes,
	}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&purchase).Error; err != nil {
			if utils.IsDuplicateKeyErr(err) {
				return fmt.Errorf("document %s %s already recorded",
					input.DocumentType, input.DocumentNumber)
			}
			return err
		}
		for i := range input.Items {
			if _, err := createPurchaseItem(tx, ctx, &purchase, &input.Items[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	refreshRecipesForItems(ctx, input.Items)

	return GetPurchase(ctx, purchase.ID)
}

// refreshRecipesForItems re-costs recipes whose ingredients just moved in
// average cost. Runs after the intake transaction commits; a recipe failure
// is logged, never rolls back the purchase.
func refreshRecipesForItems(ctx context.Context, items []NewPurchaseItem) {
	logger := config.GetLogger()
	productIds := make([]int, 0, len(items))
	for _, item := range items {
		productIds = append(productIds, item.ProductId)
	}
	for _, productId := range utils.UniqueSlice(productIds) {
		if err := RecalculateRecipesContainingProduct(ctx, productId); err != nil {
			config.LogError(logger, "purchase", "refreshRecipesForItems",
				"recipe refresh after purchase", productId, err)
		}
	}
}

// AddPurchaseItem appends one line to an existing document inside its own
// transaction, re-running the intake pipeline for that line.
func AddPurchaseItem(ctx context.Context, purchaseId int, input *NewPurchaseItem) (*PurchaseItem, error) {

	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if !input.Quantity.IsPositive() {
		return nil, errors.New("item quantity must be positive")
	}
	if input.TotalCost.IsNegative() {
		return nil, errors.New("item total cost cannot be negative")
	}

	purchase, err := utils.FetchModel[Purchase](ctx, purchaseId)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	var item *PurchaseItem
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		item, err = createPurchaseItem(tx, ctx, purchase, input)
		return err
	})
	if err != nil {
		return nil, err
	}

	refreshRecipesForItems(ctx, []NewPurchaseItem{*input})

	return item, nil
}

// createPurchaseItem is the intake pipeline for one document line:
// convert to base units, strip included tax for invoices, derive the net cost
// per base unit, then hand the inflow to the valuation engine. The document
// total is recomputed from the stored items afterwards.
func createPurchaseItem(tx *gorm.DB, ctx context.Context, purchase *Purchase, input *NewPurchaseItem) (*PurchaseItem, error) {

	var purchaseUnit PurchaseUnit
	if err := tx.First(&purchaseUnit, input.PurchaseUnitId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("purchase unit not found")
		}
		return nil, err
	}

	quantityInBase := purchaseUnit.ToBaseQuantity(input.Quantity)
	if !quantityInBase.IsPositive() {
		return nil, errors.New("converted quantity must be positive")
	}

	netCost := NetCostFromTotal(input.TotalCost, purchase.DocumentType)
	netCostPerBase := netCost.Div(quantityInBase)

	item := PurchaseItem{
		PurchaseId:     purchase.ID,
		ProductId:      input.ProductId,
		PurchaseUnitId: input.PurchaseUnitId,
		Quantity:       input.Quantity,
		QuantityInBase: quantityInBase,
		TotalCost:      input.TotalCost,
		NetCost:        netCost,
		NetCostPerBase: netCostPerBase,
	}
	if err := tx.Create(&item).Error; err != nil {
		return nil, err
	}

	_, err := ApplyStockMovement(tx, ctx, input.ProductId, quantityInBase, &CostContext{
		NetCostTotal:        netCost,
		QuantityInBaseUnits: quantityInBase,
	})
	if err != nil {
		return nil, err
	}

	err = tx.Model(&Purchase{}).Where("id = ?", purchase.ID).
		Update("total_amount", tx.Model(&PurchaseItem{}).
			Select("COALESCE(SUM(total_cost), 0)").
			Where("purchase_id = ?", purchase.ID)).Error
	if err != nil {
		return nil, err
	}

	return &item, nil
}

func GetPurchase(ctx context.Context, id int) (*Purchase, error) {
	return utils.FetchModel[Purchase](ctx, id, "Supplier", "Items", "Items.Product", "Items.PurchaseUnit")
}

func GetPurchases(ctx context.Context, supplierId *int) ([]*Purchase, error) {

	db := config.GetDB()
	var results []*Purchase

	dbCtx := db.WithContext(ctx).Preload("Supplier")
	if supplierId != nil {
		dbCtx = dbCtx.Where("supplier_id = ?", *supplierId)
	}
	err := dbCtx.Order("purchase_date DESC, id DESC").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
