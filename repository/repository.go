package repository

import (
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"

	"agrisense/db"
	"agrisense/models"
)

var ErrNotFound = errors.New("model not found")

var (
	modelPrefix   = []byte("model:")
	orderKey      = []byte("meta:order")
	checkpointKey = []byte("checkpoint:latest")
)

// It abstracts the storage layer from the sync engine
type ModelRepositoryInterface interface {
	MergeModels(incoming []models.ModelRecord) ([]models.ModelRecord, error)
	PromoteModel(rec models.ModelRecord) ([]models.ModelRecord, error)
	GetModel(id models.ModelID) (*models.ModelRecord, error)
	GetAllModels() ([]models.ModelRecord, error)
	PutCheckpoint(cp *models.ScanCheckpoint) error
	GetLatestCheckpoint() (*models.ScanCheckpoint, error)
}

// ModelRepository keeps the merged model collection in LevelDB. Records are
// stored under model:<id> and their display order under meta:order; both
// change in one batch so readers never observe half a merge.
type ModelRepository struct {
	db *db.LevelDB
	mu sync.RWMutex
}

// NewModelRepository creates and returns a new ModelRepository instance
func NewModelRepository(db *db.LevelDB) *ModelRepository {
	return &ModelRepository{db: db}
}

func modelKey(id models.ModelID) []byte {
	return append(append([]byte{}, modelPrefix...), string(id)...)
}

// MergeModels folds incoming into the collection, keeping the existing
// order and appending unseen ids, and returns the resulting collection.
func (r *ModelRepository) MergeModels(incoming []models.ModelRecord) ([]models.ModelRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, err := r.loadAll()
	if err != nil {
		return nil, err
	}
	incoming = models.DedupLast(incoming)
	merged := models.MergeOrdered(prev, incoming)
	if err := r.writeAll(incoming, merged); err != nil {
		return nil, err
	}
	return merged, nil
}

// PromoteModel upserts rec and moves it to the front of the collection.
func (r *ModelRepository) PromoteModel(rec models.ModelRecord) ([]models.ModelRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, err := r.loadAll()
	if err != nil {
		return nil, err
	}
	merged := models.PromoteFront(prev, rec)
	if err := r.writeAll(merged[:1], merged); err != nil {
		return nil, err
	}
	return merged, nil
}

// GetModel retrieves one record by id
func (r *ModelRepository) GetModel(id models.ModelID) (*models.ModelRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	data, err := r.db.Get(modelKey(id))
	if db.IsNotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get model %s", id)
	}
	var m models.ModelRecord
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrapf(err, "decode model %s", id)
	}
	return &m, nil
}

// GetAllModels returns a copy of the collection in display order
func (r *ModelRepository) GetAllModels() ([]models.ModelRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loadAll()
}

// PutCheckpoint replaces the stored scan checkpoint
func (r *ModelRepository) PutCheckpoint(cp *models.ScanCheckpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	return r.db.Put(checkpointKey, data)
}

// GetLatestCheckpoint returns the last successful scan, or nil before the first
func (r *ModelRepository) GetLatestCheckpoint() (*models.ScanCheckpoint, error) {
	data, err := r.db.Get(checkpointKey)
	if db.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cp models.ScanCheckpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

func (r *ModelRepository) loadAll() ([]models.ModelRecord, error) {
	var order []models.ModelID
	data, err := r.db.Get(orderKey)
	switch {
	case db.IsNotFound(err):
	case err != nil:
		return nil, errors.Wrap(err, "read model order")
	default:
		if err := json.Unmarshal(data, &order); err != nil {
			return nil, errors.Wrap(err, "decode model order")
		}
	}

	byID := make(map[models.ModelID]models.ModelRecord, len(order))
	iter := r.db.NewPrefixIterator(modelPrefix)
	defer iter.Release()
	for iter.Next() {
		var m models.ModelRecord
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			return nil, errors.Wrapf(err, "decode %s", iter.Key())
		}
		byID[m.ID] = m
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}

	out := make([]models.ModelRecord, 0, len(order))
	for _, id := range order {
		if m, ok := byID[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *ModelRepository) writeAll(changed, order []models.ModelRecord) error {
	b := new(leveldb.Batch)
	for _, m := range changed {
		data, err := json.Marshal(m)
		if err != nil {
			return err
		}
		b.Put(modelKey(m.ID), data)
	}
	ids := make([]models.ModelID, len(order))
	for i, m := range order {
		ids[i] = m.ID
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	b.Put(orderKey, data)
	return errors.Wrap(r.db.Write(b), "write model batch")
}
