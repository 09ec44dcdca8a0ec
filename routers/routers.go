package routers

import (
	"agrisense/handlers"

	"github.com/gorilla/mux"
)

// RegisterRoutes sets up all the HTTP routes for the model registry
func RegisterRoutes(r *mux.Router, h *handlers.Handler) {

	// Merged collection, in display order
	r.HandleFunc("/models", h.ListModels).Methods("GET")

	// Runs one scan; force=true rescans the recent window
	r.HandleFunc("/models/sync", h.SyncModels).Methods("POST")

	// Reflects a registration before its event is observed
	r.HandleFunc("/models/local", h.AddLocalModel).Methods("POST")

	r.HandleFunc("/models/name/{name}/available", h.NameAvailable).Methods("GET")

	r.HandleFunc("/models/{id}/predictions", h.GetPredictions).Methods("GET")

	r.HandleFunc("/models/{id}", h.GetModel).Methods("GET")

	// Cursor, head and last scan of the sync engine
	r.HandleFunc("/status", h.GetStatus).Methods("GET")
}
