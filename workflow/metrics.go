package workflow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "operations_events_published_total",
		Help: "Outbox records published to the bus, by topic.",
	}, []string{"topic"})

	eventsPublishFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "operations_events_publish_failed_total",
		Help: "Outbox publish attempts that failed, by topic.",
	}, []string{"topic"})

	ordersProcessedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "operations_orders_processed_total",
		Help: "order.paid messages fully applied to stock.",
	})

	ordersFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "operations_orders_failed_total",
		Help: "order.paid messages that failed and were redelivered.",
	})

	orderLinesSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "operations_order_lines_skipped_total",
		Help: "Order lines skipped because the product no longer exists.",
	})

	lowStockAlertsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "operations_low_stock_alerts_total",
		Help: "Low-stock alert lines logged by the monitor.",
	})
)
