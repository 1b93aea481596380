// Package janitor periodically sweeps the transfer coordinator: expired
// reservations and orphaned partial uploads left by aborted streams.
package janitor

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"forumdb/pkg/config"
	"forumdb/pkg/logger"
	"forumdb/pkg/transfer"
)

// Start launches the sweep scheduler if enabled and returns a cancel func.
func Start(ctx context.Context, cfg config.JanitorConfig, coord *transfer.Coordinator) (context.CancelFunc, error) {
	if !cfg.Enabled {
		logger.Info("janitor_disabled")
		return func() {}, nil
	}
	cronExpr := cfg.Cron
	if cronExpr == "" {
		cronExpr = "*/5 * * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("janitor_invalid_cron", "cron", cronExpr)
		return nil, fmt.Errorf("invalid janitor cron expression: %s", cronExpr)
	}

	ctx2, cancel := context.WithCancel(ctx)
	go run(ctx2, cronExpr, coord)
	logger.Info("janitor_started", "cron", cronExpr)
	return cancel, nil
}

// run computes the next tick with gronx and sleeps until then, sweeping on
// every tick until the context ends.
func run(ctx context.Context, cronExpr string, coord *transfer.Coordinator) {
	for {
		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("janitor_next_tick_failed", "cron", cronExpr, "error", err)
			return
		}
		select {
		case <-ctx.Done():
			logger.Info("janitor_stopping")
			return
		case <-time.After(next.Sub(now)):
		}
		if n := coord.Sweep(); n > 0 {
			logger.Info("janitor_swept", "cleaned", n)
		}
	}
}
