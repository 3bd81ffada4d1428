package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/nicolasvandooren/dicom-forwarder/internal/cache"
	"github.com/nicolasvandooren/dicom-forwarder/internal/database"
)

type HealthHandler struct {
	cache cache.Cache
}

func NewHealthHandler(cacheImpl cache.Cache) *HealthHandler {
	return &HealthHandler{
		cache: cacheImpl,
	}
}

type healthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services"`
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	response := healthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Services:  make(map[string]string),
	}

	// Check database
	if err := database.Ping(ctx); err != nil {
		response.Services["database"] = "unhealthy"
		response.Status = "degraded"
	} else {
		response.Services["database"] = "healthy"
	}

	// Check cache
	if _, err := h.cache.Exists(ctx, "health:probe"); err != nil {
		response.Services["cache"] = "unhealthy"
		response.Status = "degraded"
	} else {
		response.Services["cache"] = "healthy"
	}

	w.Header().Set("Content-Type", "application/json")
	if response.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(response)
}

func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	// Ready only once the database is reachable, destinations cannot be
	// resolved without it.
	if err := database.Ping(r.Context()); err != nil {
		http.Error(w, "Service not ready", http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
