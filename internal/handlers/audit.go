package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/nicolasvandooren/dicom-forwarder/internal/repository"
)

// defaultAuditLimit caps unfiltered audit listings.
const defaultAuditLimit = 100

type AuditHandler struct {
	audits *repository.AuditRepository
}

func NewAuditHandler(audits *repository.AuditRepository) *AuditHandler {
	return &AuditHandler{
		audits: audits,
	}
}

// List retrieves forward audit entries, newest first. Query parameters
// source_aet, destination_id, sop_instance_uid, status, limit and offset
// narrow the result.
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filter := repository.AuditFilter{
		SourceAET:      r.URL.Query().Get("source_aet"),
		SOPInstanceUID: r.URL.Query().Get("sop_instance_uid"),
		Status:         r.URL.Query().Get("status"),
		Limit:          defaultAuditLimit,
	}

	if raw := r.URL.Query().Get("destination_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, "Invalid destination ID", http.StatusBadRequest)
			return
		}
		filter.DestinationID = id
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		filter.Limit = limit
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			http.Error(w, "Invalid offset", http.StatusBadRequest)
			return
		}
		filter.Offset = offset
	}

	audits, err := h.audits.List(ctx, filter)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list forward audits")
		http.Error(w, "Failed to list forward audits", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(audits)
}

// Trail retrieves the fan-out history of one SOP instance across all
// destinations, newest first
func (h *AuditHandler) Trail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	iuid := chi.URLParam(r, "sopInstanceUID")
	audits, err := h.audits.GetBySOPInstanceUID(ctx, iuid)
	if err != nil {
		log.Error().Err(err).Str("sop_instance_uid", iuid).Msg("Failed to get forward audits")
		http.Error(w, "Failed to get forward audits", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(audits)
}
