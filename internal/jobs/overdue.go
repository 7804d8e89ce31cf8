package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"semaphore/bursar/internal/config"
)

type OverdueMarker interface {
	MarkOverdue(ctx context.Context) (int64, error)
}

// StartOverdueJob flips unpaid obligations past their due date to overdue
// on every tick, starting with one immediate run.
func StartOverdueJob(ctx context.Context, cfg config.Config, ledger OverdueMarker, log *zap.Logger) {
	if !cfg.OverdueJobEnabled {
		return
	}
	if ledger == nil {
		log.Warn("overdue job disabled: ledger not configured")
		return
	}
	interval := cfg.OverdueJobInterval
	if interval <= 0 {
		interval = time.Hour
	}
	timeout := cfg.OverdueJobTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	run := func() {
		tickCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		n, err := ledger.MarkOverdue(tickCtx)
		if err != nil {
			log.Error("overdue job failed", zap.Error(err))
			return
		}
		if n > 0 {
			log.Info("overdue job marked obligations", zap.Int64("count", n))
		}
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		run()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				run()
			}
		}
	}()
}
