package workflow

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/operations_backend/config"
	"bitbucket.org/mmdatafocus/operations_backend/models"
	"bitbucket.org/mmdatafocus/operations_backend/utils"
	"github.com/sirupsen/logrus"
)

const recipeCostSweepLockName = "recipe-cost-sweep"

// RecipeCostSweep periodically re-derives every active recipe's cost figures
// from the current ingredient averages, catching drift the per-mutation
// recomputes could not see (a conversion factor edited while the service was
// down, manual data fixes). A redis leader lock keeps one instance sweeping.
type RecipeCostSweep struct {
	Logger   *logrus.Logger
	Interval time.Duration
}

func NewRecipeCostSweep(logger *logrus.Logger) *RecipeCostSweep {
	return &RecipeCostSweep{
		Logger:   logger,
		Interval: time.Hour,
	}
}

func (s *RecipeCostSweep) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *RecipeCostSweep) sweepOnce(ctx context.Context) {
	err := utils.WithLeaderLock(ctx, recipeCostSweepLockName, s.Interval/2,
		"recipeCostSweep", "sweepOnce", func() error {
			return models.RecalculateAllRecipeCosts(ctx)
		})
	if err != nil {
		config.LogError(s.Logger, "recipeCostSweep", "sweepOnce", "recipe cost sweep", nil, err)
	}
}
