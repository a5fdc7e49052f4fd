package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestRecipeCostSweepStopsOnShutdown(t *testing.T) {
	sweep := NewRecipeCostSweep(logrus.New())
	if sweep.Interval <= 0 {
		t.Fatal("sweep interval must be positive")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweep.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweep did not stop after shutdown")
	}
}
