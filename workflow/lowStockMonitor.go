package workflow

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/operations_backend/config"
	"bitbucket.org/mmdatafocus/operations_backend/models"
	"bitbucket.org/mmdatafocus/operations_backend/utils"
	"github.com/sirupsen/logrus"
)

const lowStockLockName = "low-stock-monitor"

// LowStockMonitor periodically scans for products at or below their
// threshold and logs one warning per product. Log-only on purpose: no events,
// no persisted alert state, so a product below threshold is re-reported every
// cycle until restocked. A redis leader lock keeps multiple replicas from
// double-reporting.
type LowStockMonitor struct {
	Logger   *logrus.Logger
	Interval time.Duration
}

func NewLowStockMonitor(logger *logrus.Logger) *LowStockMonitor {
	return &LowStockMonitor{
		Logger:   logger,
		Interval: 15 * time.Minute,
	}
}

func (m *LowStockMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.scanOnce(ctx)
		}
	}
}

func (m *LowStockMonitor) scanOnce(ctx context.Context) {
	err := utils.WithLeaderLock(ctx, lowStockLockName, m.Interval/2,
		"lowStockMonitor", "scanOnce", func() error {
			alerts, err := models.ListLowStockAlerts(ctx)
			if err != nil {
				return err
			}
			for _, alert := range alerts {
				lowStockAlertsTotal.Inc()
				m.Logger.WithFields(logrus.Fields{
					"field":         "LowStockMonitor",
					"product_id":    alert.ProductId,
					"product_name":  alert.ProductName,
					"current_stock": alert.CurrentStock,
					"threshold":     alert.Threshold,
					"unit":          alert.UnitName,
				}).Warn("product at or below low-stock threshold")
			}
			return nil
		})
	if err != nil {
		config.LogError(m.Logger, "lowStockMonitor", "scanOnce", "low stock scan", nil, err)
	}
}
