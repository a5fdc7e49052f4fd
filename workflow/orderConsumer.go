package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/operations_backend/config"
	"bitbucket.org/mmdatafocus/operations_backend/models"
	"bitbucket.org/mmdatafocus/operations_backend/utils"
	"cloud.google.com/go/pubsub"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const orderPaidHandlerName = "order-paid-stock-deduction"

// Each processing attempt runs under a bounded deadline so a hung database
// call cannot hold product row locks past it.
const orderProcessingTimeout = 2 * time.Minute

// After this many broker deliveries a persistently failing order is parked on
// the dead-letter topic instead of cycling through redelivery forever.
// Pub/Sub requires a value between 5 and 100.
const orderMaxDeliveryAttempts = 5

// OrderPaidMessage is the inbound payload from the point-of-sale system.
// OrderId arrives as a JSON number. Quantity is expressed in the product's
// inventory unit.
type OrderPaidMessage struct {
	OrderId   int             `json:"order_id"`
	PaidAt    time.Time       `json:"paid_at"`
	ItemsSold []OrderLineSold `json:"items_sold"`
}

type OrderLineSold struct {
	ProductId int             `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
}

// ledger key for an order; the ledger stores message ids as strings
func orderLedgerKey(orderId int) string {
	return strconv.Itoa(orderId)
}

func boundedProcessingContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, orderProcessingTimeout)
}

// RunOrderPaidConsumer subscribes to order.paid and deducts sold quantities
// from stock. Delivery is at-least-once: a failed order is Nacked and
// redelivered until the dead-letter bound, a processed one is Acked. Without
// the dedup flag a redelivery of an already-applied order deducts again;
// enabling ORDER_DEDUP closes that window with the idempotency ledger.
func RunOrderPaidConsumer(ctx context.Context) error {
	logger := config.GetLogger()
	client, err := config.GetClient(ctx)
	if err != nil {
		return err
	}
	topic, err := config.CreateTopicIfNotExists(client, config.OrderPaidTopic())
	if err != nil {
		return err
	}
	deadLetterTopic, err := config.CreateTopicIfNotExists(client, config.OrderPaidDeadLetterTopic())
	if err != nil {
		return err
	}
	sub, err := config.CreateSubscriptionIfNotExists(client, config.OrderPaidSubscription(),
		topic, deadLetterTopic, orderMaxDeliveryAttempts)
	if err != nil {
		return err
	}
	sub.ReceiveSettings.MaxOutstandingMessages = 10

	callback := func(ctx context.Context, msg *pubsub.Message) {
		m := OrderPaidMessage{}
		if err := json.Unmarshal(msg.Data, &m); err != nil {
			config.LogError(logger, "orderConsumer", "RunOrderPaidConsumer",
				"unmarshaling order.paid message", string(msg.Data), err)
			// malformed payloads never become valid; drop instead of cycling
			msg.Ack()
			return
		}

		ctx = utils.SetCorrelationIdInContext(ctx, uuid.NewString())
		ctx = utils.SetActorInContext(ctx, "order-consumer")

		err := utils.RetryWithBackoff(ctx, 3, 60*time.Second, func(attempt int) error {
			attemptCtx, cancel := boundedProcessingContext(ctx)
			defer cancel()
			return ProcessOrderPaid(attemptCtx, logger, &m, msg.ID)
		})
		if err != nil {
			if errors.Is(err, ErrIdempotencyInProgress) {
				msg.Nack()
				return
			}
			ordersFailedTotal.Inc()
			logger.WithFields(logrus.Fields{
				"field":      "OrderPaidConsumer",
				"order_id":   m.OrderId,
				"message_id": msg.ID,
			}).Error("order processing failed: " + err.Error())
			msg.Nack()
			return
		}
		ordersProcessedTotal.Inc()
		msg.Ack()
	}

	go func() {
		if err := sub.Receive(ctx, callback); err != nil {
			config.LogError(logger, "orderConsumer", "RunOrderPaidConsumer",
				"failed to receive messages", nil, err)
		}
	}()

	return nil
}

// ProcessOrderPaid applies one order in a single transaction. Every sold line
// locks its product row before deducting, so concurrent orders touching the
// same product serialize rather than losing updates. Lines for products that
// no longer exist are skipped with a log; the rest of the order still lands.
//
// When dedup is on, the STARTED ledger row commits before the deduction
// transaction so a later failure can still be recorded against it.
func ProcessOrderPaid(ctx context.Context, logger *logrus.Logger, m *OrderPaidMessage, messageId string) error {
	db := config.GetDB()
	orderKey := orderLedgerKey(m.OrderId)

	if config.OrderDedupEnabled() {
		var skip bool
		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			skip, err = BeginIdempotency(tx, orderPaidHandlerName, orderKey)
			return err
		})
		if err != nil {
			return err
		}
		if skip {
			logger.WithFields(logrus.Fields{
				"field":      "OrderPaidConsumer",
				"order_id":   m.OrderId,
				"message_id": messageId,
			}).Info("duplicate order delivery skipped")
			return nil
		}
	}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, line := range m.ItemsSold {
			if !line.Quantity.IsPositive() {
				continue
			}
			_, err := models.ApplyStockMovement(tx, ctx, line.ProductId, line.Quantity.Neg(), nil)
			if err != nil {
				if errors.Is(err, utils.ErrorRecordNotFound) {
					orderLinesSkippedTotal.Inc()
					logger.WithFields(logrus.Fields{
						"field":      "OrderPaidConsumer",
						"order_id":   m.OrderId,
						"product_id": line.ProductId,
					}).Warn("order line skipped: product not found")
					continue
				}
				return err
			}
		}

		if config.OrderDedupEnabled() {
			return MarkIdempotencySucceeded(tx, orderPaidHandlerName, orderKey)
		}
		return nil
	})
	if err != nil {
		if config.OrderDedupEnabled() {
			markErr := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				return MarkIdempotencyFailed(tx, orderPaidHandlerName, orderKey, err)
			})
			if markErr != nil {
				config.LogError(logger, "orderConsumer", "ProcessOrderPaid",
					"marking idempotency failed", orderKey, markErr)
			}
		}
		return err
	}
	return nil
}
