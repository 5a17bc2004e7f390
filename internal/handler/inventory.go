package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"brickcache-api/internal/model"
	"brickcache-api/internal/service"
	"brickcache-api/pkg/apierror"
	"brickcache-api/pkg/response"
)

// maxEnrichItems bounds a single enrich request.
const maxEnrichItems = 2000

// InventoryHandler joins user inventory rows with shared catalog records.
type InventoryHandler struct {
	catalog *service.CatalogService
}

// NewInventoryHandler creates a new inventory handler.
func NewInventoryHandler(catalog *service.CatalogService) *InventoryHandler {
	return &InventoryHandler{catalog: catalog}
}

// EnrichRequest carries the caller's inventory rows.
type EnrichRequest struct {
	Items []model.InventoryItem `json:"items"`
}

// Enrich handles POST /api/v1/inventory/enrich
func (h *InventoryHandler) Enrich(w http.ResponseWriter, r *http.Request) {
	var req EnrichRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<20)).Decode(&req); err != nil {
		response.Error(w, apierror.BadRequest("invalid JSON"))
		return
	}
	if len(req.Items) > maxEnrichItems {
		response.Error(w, apierror.ValidationError("too many items",
			apierror.FieldError{Field: "items", Message: fmt.Sprintf("at most %d per request", maxEnrichItems)}))
		return
	}
	var details []apierror.FieldError
	for i, it := range req.Items {
		if it.PrimaryID == "" {
			details = append(details, apierror.FieldError{Field: fmt.Sprintf("items[%d].primary_id", i), Message: "required"})
		}
		if it.Kind == model.KindPrice {
			details = append(details, apierror.FieldError{Field: fmt.Sprintf("items[%d].kind", i), Message: "must be part or figure"})
		}
	}
	if len(details) > 0 {
		response.Error(w, apierror.ValidationError("invalid items", details...))
		return
	}

	enriched, err := h.catalog.Enrich(r.Context(), req.Items)
	if err != nil {
		response.Error(w, err)
		return
	}

	missing := 0
	for _, e := range enriched {
		missing += e.Missing()
	}
	response.OK(w, map[string]interface{}{
		"items":         enriched,
		"count":         len(enriched),
		"missing_total": missing,
	})
}
