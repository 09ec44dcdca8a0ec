package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"agrisense/chain"
	"agrisense/logger"
	"agrisense/models"
)

// ModelEngine is the part of modelsync.Engine the API needs.
type ModelEngine interface {
	FetchModels(ctx context.Context, force bool) []models.ModelRecord
	AddLocalModel(rec models.ModelRecord) error
	Models() []models.ModelRecord
	Status() models.SyncStatus
}

type PredictionLister interface {
	PredictionsForModel(ctx context.Context, id models.ModelID) ([]models.Prediction, error)
}

type ModelLookup interface {
	GetModel(ctx context.Context, id models.ModelID) (*models.ModelRecord, error)
}

// Handler contains the HTTP handlers for the model registry API
type Handler struct {
	Engine  ModelEngine
	Gateway string

	mu          sync.RWMutex
	predictions PredictionLister
	lookup      ModelLookup
}

// ModelView is a record as the UI renders it.
type ModelView struct {
	models.ModelRecord
	CategoryLabel string `json:"category_label"`
	ImageURL      string `json:"image_url"`
}

// NewHandler creates and returns a new Handler instance
func NewHandler(engine ModelEngine, gateway string) *Handler {
	return &Handler{Engine: engine, Gateway: gateway}
}

// SetChain installs the chain readers once an endpoint is reachable.
func (h *Handler) SetChain(lookup ModelLookup, predictions PredictionLister) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lookup = lookup
	h.predictions = predictions
}

func (h *Handler) chainReaders() (ModelLookup, PredictionLister) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lookup, h.predictions
}

func (h *Handler) view(rec models.ModelRecord) ModelView {
	return ModelView{
		ModelRecord:   rec,
		CategoryLabel: models.CategoryLabel(rec.Category),
		ImageURL:      models.ImageURL(h.Gateway, rec.CID),
	}
}

func (h *Handler) views(list []models.ModelRecord) []ModelView {
	out := make([]ModelView, 0, len(list))
	for _, rec := range list {
		out = append(out, h.view(rec))
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// resolveID accepts either a 0x-prefixed bytes32 id or a model name.
func resolveID(raw string) (models.ModelID, error) {
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		id := models.ModelID(strings.ToLower(raw))
		if _, err := id.Bytes32(); err != nil {
			return "", err
		}
		return id, nil
	}
	return models.EncodeModelName(raw)
}

// ListModels handles GET requests for the merged collection
func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.views(h.Engine.Models()))
}

// GetModel handles GET requests for a single record by id or name
func (h *Handler) GetModel(w http.ResponseWriter, r *http.Request) {
	id, err := resolveID(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	for _, rec := range h.Engine.Models() {
		if rec.ID == id {
			writeJSON(w, http.StatusOK, h.view(rec))
			return
		}
	}
	writeError(w, http.StatusNotFound, "model not found")
}

// SyncModels runs a scan and returns the records it resolved. The response
// is always a list.
func (h *Handler) SyncModels(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"

	var fetched []models.ModelRecord
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Logger.Error("Model sync panicked", zap.Any("panic", rec))
				fetched = nil
			}
		}()
		fetched = h.Engine.FetchModels(r.Context(), force)
	}()

	writeJSON(w, http.StatusOK, h.views(fetched))
}

// AddLocalModel handles POST requests reflecting a just-submitted registration
func (h *Handler) AddLocalModel(w http.ResponseWriter, r *http.Request) {
	var rec models.ModelRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		logger.Logger.Error("Failed to decode model", zap.Error(err))
		writeError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if rec.ID == "" && rec.Name != "" {
		id, err := models.EncodeModelName(rec.Name)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		rec.ID = id
	}

	if err := h.Engine.AddLocalModel(rec); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, models.ErrMissingModelID) || errors.Is(err, models.ErrInvalidModelID) ||
			errors.Is(err, models.ErrInvalidPrice) {
			status = http.StatusBadRequest
		}
		logger.Logger.Error("Failed to add local model", zap.Error(err))
		writeError(w, status, err.Error())
		return
	}

	id := models.ModelID(strings.ToLower(string(rec.ID)))
	logger.Logger.Info("Added local model", zap.String("model_id", string(id)), zap.String("tx_hash", rec.TxHash))

	for _, stored := range h.Engine.Models() {
		if stored.ID == id {
			writeJSON(w, http.StatusCreated, map[string]interface{}{
				"message": "Model added successfully",
				"model":   h.view(stored),
			})
			return
		}
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"message": "Model added successfully"})
}

// GetPredictions handles GET requests for the predictions recorded against a model
func (h *Handler) GetPredictions(w http.ResponseWriter, r *http.Request) {
	id, err := resolveID(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	_, predictions := h.chainReaders()
	if predictions == nil {
		writeError(w, http.StatusServiceUnavailable, "chain not connected")
		return
	}
	list, err := predictions.PredictionsForModel(r.Context(), id)
	if err != nil {
		logger.Logger.Error("Failed to list predictions", zap.String("model_id", string(id)), zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if list == nil {
		list = []models.Prediction{}
	}
	writeJSON(w, http.StatusOK, list)
}

// NameAvailable reports whether a model name is still unregistered
func (h *Handler) NameAvailable(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(mux.Vars(r)["name"])
	if name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	id, err := models.EncodeModelName(name)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	lookup, _ := h.chainReaders()
	if lookup == nil {
		writeError(w, http.StatusServiceUnavailable, "chain not connected")
		return
	}

	rec, err := lookup.GetModel(r.Context(), id)
	switch {
	case errors.Is(err, chain.ErrModelNotFound):
		writeJSON(w, http.StatusOK, map[string]interface{}{"name": name, "id": id, "available": true})
	case err != nil:
		logger.Logger.Error("Failed to check model name", zap.String("name", name), zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"name":      name,
			"id":        id,
			"available": false,
			"provider":  rec.Provider,
		})
	}
}

// GetStatus handles GET requests for the sync engine state
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Engine.Status())
}
