package chain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"agrisense/logger"
)

// Watcher turns live ModelRegistered logs into refresh notifications. It
// never touches the model collection itself.
type Watcher struct {
	client *Client
	notify func()
	poll   time.Duration
}

func NewWatcher(client *Client, poll time.Duration, notify func()) *Watcher {
	if poll <= 0 {
		poll = 5 * time.Second
	}
	return &Watcher{client: client, notify: notify, poll: poll}
}

// Run blocks until ctx is done. It uses eth_subscribe when the endpoint
// supports it and falls back to polling eth_getLogs otherwise.
func (w *Watcher) Run(ctx context.Context) error {
	logs := make(chan types.Log, 16)
	sub, err := w.client.backend.SubscribeFilterLogs(ctx, w.client.modelQuery(0, nil), logs)
	if err != nil {
		logger.Logger.Info("Log subscription unavailable, polling instead",
			zap.String("url", w.client.url), zap.Duration("interval", w.poll), zap.Error(err))
		return w.runPolling(ctx)
	}
	defer sub.Unsubscribe()

	logger.Logger.Info("Watching ModelRegistered events", zap.String("url", w.client.url))
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-sub.Err():
			logger.Logger.Warn("Log subscription dropped, polling instead", zap.Error(err))
			return w.runPolling(ctx)
		case l := <-logs:
			if l.Removed {
				logger.Logger.Debug("Ignoring reorged ModelRegistered log",
					zap.Uint64("block", l.BlockNumber), zap.String("tx", l.TxHash.Hex()))
				continue
			}
			logger.Logger.Info("ModelRegistered event detected, refreshing models",
				zap.Uint64("block", l.BlockNumber), zap.String("tx", l.TxHash.Hex()))
			w.notify()
		}
	}
}

func (w *Watcher) runPolling(ctx context.Context) error {
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	var last uint64
	if head, err := w.client.BlockNumber(ctx); err == nil {
		last = head
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		head, err := w.client.BlockNumber(ctx)
		if err != nil {
			logger.Logger.Debug("Watcher head poll failed", zap.Error(err))
			continue
		}
		if head <= last {
			continue
		}
		events, err := w.client.FilterModelRegistered(ctx, last+1, head)
		if err != nil {
			if IsRangeTooLarge(err) {
				// the periodic scan will cover the skipped range
				last = head
			}
			logger.Logger.Debug("Watcher log poll failed", zap.Error(err))
			continue
		}
		last = head
		if len(events) > 0 {
			logger.Logger.Info("ModelRegistered event detected, refreshing models",
				zap.Int("events", len(events)), zap.Uint64("head", head))
			w.notify()
		}
	}
}
