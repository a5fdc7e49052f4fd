package models

import (
	"context"
	"errors"
	"fmt"

	"bitbucket.org/mmdatafocus/operations_backend/config"
	"bitbucket.org/mmdatafocus/operations_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var moduleValuation = "valuation"

// invoiceTaxDivisor extracts the net amount from a tax-inclusive invoice
// total. Invoice documents carry 19% VAT; receipts and dispatch notes are
// already net.
var invoiceTaxDivisor = decimal.RequireFromString("1.19")

// ErrInsufficientStock is returned instead of clamping when strict deduction
// is enabled and an outflow would drive stock negative.
var ErrInsufficientStock = errors.New("insufficient stock")

// NetCostFromTotal strips included tax from a document line total. Only
// INVOICE documents are tax-inclusive.
func NetCostFromTotal(total decimal.Decimal, documentType DocumentType) decimal.Decimal {
	if documentType == DocumentTypeInvoice {
		return total.Div(invoiceTaxDivisor)
	}
	return total
}

// NextAverageCost computes the weighted-average unit cost after an inflow of
// quantityInBase units costing netCostTotal in aggregate. When the combined
// quantity is not positive the previous average is kept, so a fully clamped
// stock never divides by zero.
func NextAverageCost(currentStock, averageCost, quantityInBase, netCostTotal decimal.Decimal) decimal.Decimal {
	newStock := currentStock.Add(quantityInBase)
	if !newStock.IsPositive() {
		return averageCost
	}
	carried := currentStock.Mul(averageCost)
	return carried.Add(netCostTotal).Div(newStock)
}

// CostContext carries the valuation inputs of an inflow. Outflows pass nil and
// are valued at the product's running average.
type CostContext struct {
	NetCostTotal        decimal.Decimal
	QuantityInBaseUnits decimal.Decimal
}

// ApplyStockMovement is the single writer of Product.CurrentStock and
// Product.AverageCost. It takes a FOR UPDATE row lock on the product, applies
// quantityChange (positive inflow, negative outflow), recomputes the running
// average for inflows and enqueues a stock-updated outbox record in the same
// transaction. Callers own the transaction; concurrent movements on the same
// product serialize on the row lock.
func ApplyStockMovement(tx *gorm.DB, ctx context.Context, productId int, quantityChange decimal.Decimal, costCtx *CostContext) (*Product, error) {
	logger := config.GetLogger()

	var product Product
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&product, productId).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}

	previousStock := product.CurrentStock
	newStock := previousStock.Add(quantityChange)

	if quantityChange.IsPositive() {
		if costCtx == nil {
			return nil, fmt.Errorf("stock inflow for product %d requires a cost context", productId)
		}
		product.AverageCost = NextAverageCost(previousStock, product.AverageCost,
			costCtx.QuantityInBaseUnits, costCtx.NetCostTotal)
	}

	if newStock.IsNegative() {
		if config.StrictStockDeduction() {
			return nil, fmt.Errorf("%w: product %d has %s, movement %s",
				ErrInsufficientStock, productId, previousStock, quantityChange)
		}
		actor, _ := utils.GetActorFromContext(ctx)
		logger.WithFields(logrus.Fields{
			"module":         moduleValuation,
			"funcName":       "ApplyStockMovement",
			"productId":      productId,
			"previousStock":  previousStock,
			"quantityChange": quantityChange,
			"actor":          actor,
		}).Warn("stock clamped to zero")
		newStock = decimal.Zero
	}
	product.CurrentStock = newStock

	err = tx.Model(&Product{}).Where("id = ?", product.ID).
		Updates(map[string]interface{}{
			"CurrentStock": product.CurrentStock,
			"AverageCost":  product.AverageCost,
		}).Error
	if err != nil {
		return nil, err
	}

	err = EnqueueStockUpdated(tx, ctx, &product, previousStock)
	if err != nil {
		return nil, err
	}

	return &product, nil
}
