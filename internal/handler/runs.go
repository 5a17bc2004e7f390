package handler

import (
	"net/http"
	"strconv"

	"brickcache-api/internal/repository"
	"brickcache-api/pkg/apierror"
	"brickcache-api/pkg/response"
)

// RunLogHandler serves the refresh run history.
type RunLogHandler struct {
	runs repository.RunLogRepository
}

func NewRunLogHandler(runs repository.RunLogRepository) *RunLogHandler {
	return &RunLogHandler{runs: runs}
}

// ListRuns returns paginated refresh runs, newest first.
func (h *RunLogHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		response.Error(w, apierror.ServiceUnavailable("run log unavailable"))
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 20
	}
	offset := (page - 1) * limit

	runs, total, err := h.runs.ListRefreshRuns(r.Context(), limit, offset)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.JSONWithMeta(w, http.StatusOK, runs, page, limit, total)
}
