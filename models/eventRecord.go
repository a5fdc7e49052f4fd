package models

import (
	"context"
	"encoding/json"
	"time"

	"bitbucket.org/mmdatafocus/operations_backend/config"
	"bitbucket.org/mmdatafocus/operations_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// EventRecord is the transactional outbox. Domain code appends rows inside the
// transaction that produced the change; the dispatcher claims and publishes
// them afterwards. A row is never published before its transaction commits.
type EventRecord struct {
	ID              int        `gorm:"primary_key" json:"id"`
	Topic           string     `gorm:"size:200;not null;index:idx_event_status_topic,priority:2" json:"topic"`
	EventType       EventType  `gorm:"size:100;not null" json:"event_type"`
	Payload         string     `gorm:"type:text;not null" json:"payload"`
	PublishStatus   string     `gorm:"size:20;not null;default:PENDING;index:idx_event_status_topic,priority:1" json:"publish_status"`
	PublishAttempts int        `gorm:"not null;default:0" json:"publish_attempts"`
	LastError       string     `gorm:"type:text" json:"last_error"`
	NextAttemptAt   *time.Time `gorm:"index" json:"next_attempt_at"`
	LockedBy        string     `gorm:"size:100" json:"locked_by"`
	LockedAt        *time.Time `json:"locked_at"`
	PublishedAt     *time.Time `json:"published_at"`
	MessageId       string     `gorm:"size:200" json:"message_id"`
	CorrelationId   string     `gorm:"size:100" json:"correlation_id"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// StockUpdatedEvent is the wire payload of product.stock.updated.
type StockUpdatedEvent struct {
	EventType     EventType       `json:"event_type"`
	ProductId     int             `json:"product_id"`
	ProductName   string          `json:"product_name"`
	PreviousStock decimal.Decimal `json:"previous_stock"`
	NewStock      decimal.Decimal `json:"new_stock"`
	NewCost       decimal.Decimal `json:"new_cost"`
	UnitId        int             `json:"unit_id"`
	Timestamp     time.Time       `json:"timestamp"`
}

// RecipeUpdatedEvent is the wire payload of recipe.updated.
type RecipeUpdatedEvent struct {
	EventType     EventType       `json:"event_type"`
	RecipeId      int             `json:"recipe_id"`
	RecipeName    string          `json:"recipe_name"`
	TotalCost     decimal.Decimal `json:"total_cost"`
	CostPerUnit   decimal.Decimal `json:"cost_per_unit"`
	YieldQuantity decimal.Decimal `json:"yield_quantity"`
	Timestamp     time.Time       `json:"timestamp"`
}

func enqueueEvent(tx *gorm.DB, ctx context.Context, topic string, eventType EventType, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	record := EventRecord{
		Topic:         topic,
		EventType:     eventType,
		Payload:       string(body),
		PublishStatus: OutboxPublishStatusPending,
		CorrelationId: correlationId,
	}
	return tx.Create(&record).Error
}

// EnqueueStockUpdated appends a product.stock.updated record using the
// caller's transaction so the event commits with the stock change.
func EnqueueStockUpdated(tx *gorm.DB, ctx context.Context, product *Product, previousStock decimal.Decimal) error {
	return enqueueEvent(tx, ctx, config.StockUpdatedTopic(), EventTypeStockUpdated,
		StockUpdatedEvent{
			EventType:     EventTypeStockUpdated,
			ProductId:     product.ID,
			ProductName:   product.Name,
			PreviousStock: previousStock,
			NewStock:      product.CurrentStock,
			NewCost:       product.AverageCost,
			UnitId:        product.InventoryUnitId,
			Timestamp:     time.Now().UTC(),
		})
}

// EnqueueRecipeUpdated appends a recipe.updated record using the caller's
// transaction.
func EnqueueRecipeUpdated(tx *gorm.DB, ctx context.Context, recipe *Recipe) error {
	return enqueueEvent(tx, ctx, config.RecipeUpdatedTopic(), EventTypeRecipeUpdated,
		RecipeUpdatedEvent{
			EventType:     EventTypeRecipeUpdated,
			RecipeId:      recipe.ID,
			RecipeName:    recipe.Name,
			TotalCost:     recipe.TotalCost,
			CostPerUnit:   recipe.CostPerUnit,
			YieldQuantity: recipe.YieldQuantity,
			Timestamp:     time.Now().UTC(),
		})
}
