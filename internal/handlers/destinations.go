package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/nicolasvandooren/dicom-forwarder/internal/models"
	"github.com/nicolasvandooren/dicom-forwarder/internal/services"
)

type DestinationsHandler struct {
	destinations *services.DestinationService
}

func NewDestinationsHandler(destinations *services.DestinationService) *DestinationsHandler {
	return &DestinationsHandler{
		destinations: destinations,
	}
}

// Create registers a new forwarding destination
func (h *DestinationsHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req models.DestinationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	config, err := h.destinations.Create(ctx, &req)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create destination")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(config)
}

// List retrieves all forwarding destinations
func (h *DestinationsHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	configs, err := h.destinations.List(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list destinations")
		http.Error(w, "Failed to list destinations", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(configs)
}

// Get retrieves one forwarding destination
func (h *DestinationsHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid destination ID", http.StatusBadRequest)
		return
	}

	config, err := h.destinations.Get(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			http.Error(w, "Destination not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("destination_id", id.String()).Msg("Failed to get destination")
		http.Error(w, "Failed to get destination", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(config)
}

// Update replaces a forwarding destination's configuration
func (h *DestinationsHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid destination ID", http.StatusBadRequest)
		return
	}

	var req models.DestinationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	config, err := h.destinations.Update(ctx, id, &req)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			http.Error(w, "Destination not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("destination_id", id.String()).Msg("Failed to update destination")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(config)
}

// Delete removes a forwarding destination
func (h *DestinationsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid destination ID", http.StatusBadRequest)
		return
	}

	if err := h.destinations.Delete(ctx, id); err != nil {
		log.Error().Err(err).Str("destination_id", id.String()).Msg("Failed to delete destination")
		http.Error(w, "Failed to delete destination", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Test probes a destination with C-ECHO or an authenticated HTTP request
func (h *DestinationsHandler) Test(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid destination ID", http.StatusBadRequest)
		return
	}

	status, err := h.destinations.TestConnection(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			http.Error(w, "Destination not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("destination_id", id.String()).Msg("Connection test failed")
		http.Error(w, "Failed to test destination", http.StatusInternalServerError)
		return
	}

	// A failed probe is still a 200, the body carries isConnected: false.
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}
