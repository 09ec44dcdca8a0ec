package modelsync

import (
	"context"
	"time"

	"go.uber.org/zap"

	"agrisense/logger"
)

// Notify requests a forced scan from Run. Requests made while one is
// already pending collapse into it.
func (e *Engine) Notify() {
	select {
	case e.requests <- struct{}{}:
	default:
	}
}

// Run performs an initial scan, then serves Notify requests with forced
// scans and runs a normal scan on every Interval tick until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	e.FetchModels(ctx, false)

	var tick <-chan time.Time
	if e.cfg.Interval > 0 {
		t := time.NewTicker(e.cfg.Interval)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			logger.Logger.Info("Model sync stopped")
			return nil
		case <-e.requests:
			recs := e.FetchModels(ctx, true)
			logger.Logger.Debug("Forced scan finished", zap.Int("resolved", len(recs)))
		case <-tick:
			e.FetchModels(ctx, false)
		}
	}
}
