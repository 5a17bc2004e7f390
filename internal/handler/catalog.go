package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"brickcache-api/internal/model"
	"brickcache-api/internal/service"
	"brickcache-api/pkg/apierror"
	"brickcache-api/pkg/response"

	"github.com/go-chi/chi/v5"
)

// CatalogHandler serves shared part, figure and price records.
type CatalogHandler struct {
	catalog *service.CatalogService
}

// NewCatalogHandler creates a new catalog handler.
func NewCatalogHandler(catalog *service.CatalogService) *CatalogHandler {
	return &CatalogHandler{catalog: catalog}
}

// GetMetadata handles GET /api/v1/catalog/{kind}/{id}
func (h *CatalogHandler) GetMetadata(w http.ResponseWriter, r *http.Request) {
	kind, err := model.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		response.Error(w, apierror.BadRequest(err.Error()))
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		response.Error(w, apierror.BadRequest("id is required"))
		return
	}

	rec, err := h.catalog.RequestMetadata(r.Context(), kind, id)
	if err != nil {
		response.Error(w, err)
		return
	}
	if rec == nil {
		response.Error(w, apierror.ServiceUnavailable("metadata not available yet, retry later"))
		return
	}
	response.OK(w, rec)
}

// GetPrice handles GET /api/v1/catalog/prices/{id}
func (h *CatalogHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	rec, err := h.catalog.RequestPrice(r.Context(), id)
	if err != nil {
		response.Error(w, err)
		return
	}
	if rec == nil {
		response.Error(w, apierror.NotFound("no price stored for "+id))
		return
	}
	response.OK(w, rec)
}

// PriceRequest identifies the item to resolve on the marketplace.
// Kind defaults to part.
type PriceRequest struct {
	Kind        string `json:"kind"`
	Name        string `json:"name"`
	SetID       string `json:"set_id"`
	SecondaryID string `json:"secondary_id"`
}

// AcquirePrice handles POST /api/v1/catalog/prices/{id}/resolve
func (h *CatalogHandler) AcquirePrice(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))

	var req PriceRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, apierror.BadRequest("invalid JSON"))
			return
		}
	}
	kind := model.KindPart
	if req.Kind != "" {
		k, err := model.ParseKind(req.Kind)
		if err != nil {
			response.Error(w, apierror.BadRequest(err.Error()))
			return
		}
		kind = k
	}

	var rec *model.PriceRecord
	var err error
	if req.SecondaryID != "" {
		rec, err = h.catalog.AcquirePrice(r.Context(), service.PriceTarget{Kind: kind, PrimaryID: id, SecondaryID: req.SecondaryID})
	} else {
		rec, err = h.catalog.ResolveAndPrice(r.Context(), kind, id, req.Name, req.SetID)
	}
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, rec)
}
