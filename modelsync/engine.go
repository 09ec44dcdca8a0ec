package modelsync

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"agrisense/chain"
	"agrisense/logger"
	"agrisense/models"
	"agrisense/repository"
)

// ChainReader is the read side of the model registry.
type ChainReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterModelRegistered(ctx context.Context, from, to uint64) ([]chain.ModelEvent, error)
	GetModel(ctx context.Context, id models.ModelID) (*models.ModelRecord, error)
}

var _ ChainReader = (*chain.Client)(nil)

type Config struct {
	DeployBlock    uint64
	BatchSize      uint64
	MinBatchSize   uint64
	BatchDelay     time.Duration
	FallbackWindow uint64
	Interval       time.Duration
}

func DefaultConfig() Config {
	return Config{
		BatchSize:      5000,
		MinBatchSize:   500,
		BatchDelay:     150 * time.Millisecond,
		FallbackWindow: 100000,
		Interval:       30 * time.Second,
	}
}

// Engine keeps the model collection in step with ModelRegistered events.
//
// At most one scan runs at a time. A normal FetchModels call that finds a
// scan in progress returns immediately; a forced one waits for the slot.
type Engine struct {
	cfg      Config
	repo     repository.ModelRepositoryInterface
	hub      *broadcaster
	slot     chan struct{}
	requests chan struct{}

	// writeMu orders collection writes with their snapshot publish.
	writeMu sync.Mutex

	mu          sync.Mutex
	reader      ChainReader
	rpcURL      string
	cursor      uint64
	latest      uint64
	online      bool
	batchSize   uint64
	failedScans int
	lastErr     string
}

func NewEngine(reader ChainReader, rpcURL string, repo repository.ModelRepositoryInterface, cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.BatchSize == 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MinBatchSize == 0 {
		cfg.MinBatchSize = def.MinBatchSize
	}
	if cfg.FallbackWindow == 0 {
		cfg.FallbackWindow = def.FallbackWindow
	}
	return &Engine{
		cfg:       cfg,
		repo:      repo,
		hub:       newBroadcaster(),
		slot:      make(chan struct{}, 1),
		requests:  make(chan struct{}, 1),
		reader:    reader,
		rpcURL:    rpcURL,
		cursor:    cfg.DeployBlock,
		batchSize: cfg.BatchSize,
	}
}

// SetReader swaps the read client, e.g. after a late successful dial.
func (e *Engine) SetReader(reader ChainReader, rpcURL string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reader = reader
	e.rpcURL = rpcURL
}

func (e *Engine) Cursor() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cursor
}

// FetchModels scans for new ModelRegistered events and merges the resolved
// records into the collection. It returns only the records resolved by
// this call and never fails: errors are logged and yield an empty result.
//
// A successful scan moves the cursor to head+1, with one exception: a
// forced scan whose window starts after the cursor leaves it unchanged,
// so the next normal scan still covers the blocks in between.
func (e *Engine) FetchModels(ctx context.Context, force bool) (out []models.ModelRecord) {
	reader := e.currentReader()
	if reader == nil {
		logger.Logger.Debug("fetchModels: no read client configured")
		return nil
	}

	if force {
		select {
		case e.slot <- struct{}{}:
		case <-ctx.Done():
			return nil
		}
	} else {
		select {
		case e.slot <- struct{}{}:
		default:
			logger.Logger.Debug("Fetch already in progress, skipping")
			return nil
		}
	}
	defer func() { <-e.slot }()

	defer func() {
		if r := recover(); r != nil {
			logger.Logger.Error("fetchModels panicked", zap.Any("panic", r), zap.Stack("stack"))
			e.recordFailure(errors.Errorf("panic: %v", r))
			out = nil
		}
	}()

	recs, err := e.scan(ctx, reader, force)
	if err != nil {
		logger.Logger.Error("fetchModels failed", zap.Bool("force", force), zap.Error(err))
		e.recordFailure(err)
		return nil
	}
	return recs
}

func (e *Engine) scan(ctx context.Context, reader ChainReader, force bool) ([]models.ModelRecord, error) {
	scanID := uuid.NewString()
	log := logger.Logger.With(zap.String("scan_id", scanID), zap.Bool("force", force))

	latest, err := reader.BlockNumber(ctx)
	if err != nil {
		e.setOnline(false)
		return nil, err
	}
	e.setHead(latest)

	cursor := e.Cursor()
	from := e.resumeBlock(cursor, latest)
	if from > latest && !force {
		log.Debug("No new blocks to scan", zap.Uint64("from", from), zap.Uint64("latest", latest))
		return nil, nil
	}

	start := from
	if force {
		start = e.forcedStart(latest)
	}
	log.Info("Starting event scan", zap.Uint64("from", start), zap.Uint64("latest", latest))

	w := chain.NewWindowWalker(start, latest, e.cfg.BatchSize, e.cfg.MinBatchSize)
	var events []chain.ModelEvent
	for !w.Done() {
		lo, hi := w.Window()
		part, err := reader.FilterModelRegistered(ctx, lo, hi)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if chain.IsRangeTooLarge(err) {
				prev := w.BatchSize()
				if !w.Shrink() {
					return nil, errors.Wrapf(err, "batch size %d cannot shrink further", prev)
				}
				log.Warn("Reducing batch size due to RPC limits",
					zap.Uint64("from_size", prev), zap.Uint64("to_size", w.BatchSize()), zap.Error(err))
				continue
			}
			log.Warn("Skipping window after RPC error",
				zap.Uint64("from", lo), zap.Uint64("to", hi), zap.Error(err))
			w.Advance()
			continue
		}

		log.Debug("Scanned window", zap.Uint64("from", lo), zap.Uint64("to", hi), zap.Int("events", len(part)))
		events = append(events, part...)
		w.Advance()
		if !w.Done() {
			if err := sleepCtx(ctx, e.cfg.BatchDelay); err != nil {
				return nil, err
			}
		}
	}
	e.setBatchSize(w.BatchSize())
	log.Info("Event scan complete", zap.Int("events", len(events)))

	resolved := make([]models.ModelRecord, 0, len(events))
	for _, id := range uniqueIDs(events) {
		rec, err := reader.GetModel(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warn("Failed to read model for event id", zap.String("id", string(id)), zap.Error(err))
			continue
		}
		rec.Normalize()
		resolved = append(resolved, *rec)
	}

	if len(resolved) > 0 {
		if err := e.mergeAndPublish(resolved); err != nil {
			return nil, err
		}
	}

	next := cursor
	// a forced window that starts past the cursor leaves a gap for the
	// next normal scan to fill
	if start <= from && latest+1 > next {
		next = latest + 1
	}
	e.setCursor(next)

	cp := &models.ScanCheckpoint{
		ScanID:     scanID,
		From:       start,
		To:         latest,
		Cursor:     next,
		Forced:     force,
		Events:     len(events),
		Resolved:   len(resolved),
		FinishedAt: time.Now().UTC(),
	}
	if err := e.repo.PutCheckpoint(cp); err != nil {
		log.Warn("Failed to store scan checkpoint", zap.Error(err))
	}
	return resolved, nil
}

// resumeBlock picks where a normal scan starts.
func (e *Engine) resumeBlock(cursor, latest uint64) uint64 {
	if cursor > 0 {
		return cursor
	}
	if e.cfg.DeployBlock > 0 {
		return e.cfg.DeployBlock
	}
	if latest > e.cfg.FallbackWindow {
		start := latest - e.cfg.FallbackWindow
		logger.Logger.Warn("No deploy block set, starting scan from fallback window", zap.Uint64("from", start))
		return start
	}
	return 0
}

// forcedStart bounds a forced scan to the two most recent batches.
func (e *Engine) forcedStart(latest uint64) uint64 {
	var start uint64
	if span := 2 * e.cfg.BatchSize; latest > span {
		start = latest - span
	}
	if start < e.cfg.DeployBlock {
		start = e.cfg.DeployBlock
	}
	return start
}

func uniqueIDs(events []chain.ModelEvent) []models.ModelID {
	seen := make(map[models.ModelID]struct{}, len(events))
	out := make([]models.ModelID, 0, len(events))
	for _, ev := range events {
		if ev.ID == "" {
			continue
		}
		if _, ok := seen[ev.ID]; ok {
			continue
		}
		seen[ev.ID] = struct{}{}
		out = append(out, ev.ID)
	}
	return out
}

// AddLocalModel reflects a just-submitted registration before its event is
// observed, placing it first in the collection.
func (e *Engine) AddLocalModel(rec models.ModelRecord) error {
	if rec.ID == "" {
		return models.ErrMissingModelID
	}
	rec.ID = models.ModelID(strings.ToLower(string(rec.ID)))
	if _, err := rec.ID.Bytes32(); err != nil {
		return err
	}
	if rec.Price != "" {
		price, err := models.ParsePrice(rec.Price)
		if err != nil {
			return err
		}
		rec.Price = price
	}
	rec.CID = models.NormalizeCID(rec.CID)
	if rec.Category != "" {
		rec.Category = models.NormalizeCategory(string(rec.Category))
	}

	_, err := e.repo.GetModel(rec.ID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		rec.Normalize()
	case err != nil:
		return err
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	snapshot, err := e.repo.PromoteModel(rec)
	if err != nil {
		return err
	}
	e.hub.publish(snapshot)
	return nil
}

func (e *Engine) mergeAndPublish(recs []models.ModelRecord) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	snapshot, err := e.repo.MergeModels(recs)
	if err != nil {
		return errors.Wrap(err, "merge models")
	}
	e.hub.publish(snapshot)
	return nil
}

// Models returns a copy of the merged collection.
func (e *Engine) Models() []models.ModelRecord {
	list, err := e.repo.GetAllModels()
	if err != nil {
		logger.Logger.Error("Failed to read models", zap.Error(err))
		return nil
	}
	return list
}

// Subscribe delivers a snapshot after every change to the collection.
func (e *Engine) Subscribe() (<-chan []models.ModelRecord, func()) {
	return e.hub.subscribe()
}

func (e *Engine) Status() models.SyncStatus {
	cp, err := e.repo.GetLatestCheckpoint()
	if err != nil {
		logger.Logger.Warn("Failed to read scan checkpoint", zap.Error(err))
	}
	count := len(e.Models())

	e.mu.Lock()
	defer e.mu.Unlock()
	return models.SyncStatus{
		RPCURL:      e.rpcURL,
		Online:      e.online,
		LatestBlock: e.latest,
		Cursor:      e.cursor,
		BatchSize:   e.batchSize,
		Scanning:    len(e.slot) > 0,
		FailedScans: e.failedScans,
		Models:      count,
		LastScan:    cp,
		LastScanErr: e.lastErr,
	}
}

func (e *Engine) currentReader() ChainReader {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reader
}

func (e *Engine) setHead(latest uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.latest = latest
	e.online = true
}

func (e *Engine) setOnline(ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.online = ok
}

func (e *Engine) setCursor(next uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if next > e.cursor {
		e.cursor = next
	}
	e.lastErr = ""
}

func (e *Engine) setBatchSize(n uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.batchSize = n
}

func (e *Engine) recordFailure(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failedScans++
	e.lastErr = err.Error()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
