package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"time"

	"brickcache-api/internal/model"
	"brickcache-api/internal/repository"
	"brickcache-api/internal/service"
	"brickcache-api/pkg/apierror"
	"brickcache-api/pkg/response"
)

// Sizer is implemented by caches that can report their entry count.
type Sizer interface {
	Len() int
}

// AdminHandler handles maintenance endpoints.
type AdminHandler struct {
	catalog   *service.CatalogService
	refresher *service.RefreshService
	repo      repository.Repository
	cache     Sizer // nil when the cache cannot report its size
	dbType    string
	cacheType string
	startTime time.Time
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(
	catalog *service.CatalogService,
	refresher *service.RefreshService,
	repo repository.Repository,
	cache Sizer,
	dbType, cacheType string,
) *AdminHandler {
	return &AdminHandler{
		catalog:   catalog,
		refresher: refresher,
		repo:      repo,
		cache:     cache,
		dbType:    dbType,
		cacheType: cacheType,
		startTime: time.Now(),
	}
}

// GetStats handles GET /api/v1/admin/stats
func (h *AdminHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats := make(map[string]interface{})

	stats["uptime_seconds"] = int64(time.Since(h.startTime).Seconds())
	stats["uptime_human"] = time.Since(h.startTime).Round(time.Second).String()
	stats["server_time"] = time.Now().Format(time.RFC3339)
	stats["db_type"] = h.dbType

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	stats["memory"] = map[string]interface{}{
		"alloc_mb":      float64(memStats.Alloc) / 1024 / 1024,
		"sys_mb":        float64(memStats.Sys) / 1024 / 1024,
		"heap_inuse_mb": float64(memStats.HeapInuse) / 1024 / 1024,
		"num_gc":        memStats.NumGC,
		"goroutines":    runtime.NumGoroutine(),
	}

	cacheStats := map[string]interface{}{"type": h.cacheType}
	if h.cache != nil {
		cacheStats["entries"] = h.cache.Len()
	}
	stats["cache"] = cacheStats

	if h.repo != nil {
		dbStats, err := h.repo.GetStats(ctx)
		if err == nil {
			dbStats["status"] = "connected"
			stats["database"] = dbStats
		} else {
			stats["database"] = map[string]interface{}{
				"status": "error",
				"error":  err.Error(),
			}
		}
	}

	stats["runtime"] = map[string]interface{}{
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"cpus":       runtime.NumCPU(),
	}

	response.OK(w, stats)
}

// TriggerRefresh handles POST /api/v1/admin/refresh
//
// The run happens within the request and its report is returned. With
// ?async=true it starts in the background and 202 is returned instead.
func (h *AdminHandler) TriggerRefresh(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("async") == "true" {
		if !h.refresher.Trigger(service.TriggerManual) {
			response.Error(w, apierror.Conflict(service.ErrRefreshInProgress.Error()))
			return
		}
		response.Accepted(w, map[string]string{"status": "started"})
		return
	}

	report, err := h.refresher.Run(r.Context(), service.TriggerManual)
	if errors.Is(err, service.ErrRefreshInProgress) {
		response.Error(w, apierror.Conflict(err.Error()))
		return
	}
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, report)
}

// ExpireRequest lists the price records to flag for the next refresh.
type ExpireRequest struct {
	IDs []string `json:"ids"`
}

// ExpirePrices handles POST /api/v1/admin/prices/expire
func (h *AdminHandler) ExpirePrices(w http.ResponseWriter, r *http.Request) {
	var req ExpireRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierror.BadRequest("invalid JSON"))
		return
	}
	if len(req.IDs) == 0 {
		response.Error(w, apierror.ValidationError("ids are required",
			apierror.FieldError{Field: "ids", Message: "at least one id"}))
		return
	}
	n, err := h.catalog.ForceRefresh(r.Context(), req.IDs)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, map[string]interface{}{"expired": n})
}

// InvalidateRequest names one cached record, or all of them when ID is empty.
type InvalidateRequest struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

// Invalidate handles POST /api/v1/admin/cache/invalidate
func (h *AdminHandler) Invalidate(w http.ResponseWriter, r *http.Request) {
	var req InvalidateRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, apierror.BadRequest("invalid JSON"))
			return
		}
	}

	kind := model.KindPart
	if req.Kind == string(model.KindPrice) {
		kind = model.KindPrice
	} else if req.Kind != "" {
		k, err := model.ParseKind(req.Kind)
		if err != nil {
			response.Error(w, apierror.BadRequest(err.Error()))
			return
		}
		kind = k
	}

	if err := h.catalog.Invalidate(r.Context(), kind, req.ID); err != nil {
		response.Error(w, err)
		return
	}
	scope := "all"
	if req.ID != "" {
		scope = string(kind) + ":" + req.ID
	}
	response.OK(w, map[string]string{"invalidated": scope})
}
