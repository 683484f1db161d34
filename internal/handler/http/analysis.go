package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/windfall/francoflex_service/internal/errors"
	"github.com/windfall/francoflex_service/internal/middleware"
	"github.com/windfall/francoflex_service/internal/service"
	"github.com/windfall/francoflex_service/pkg/response"
)

// AnalysisHandler serves the saved-analysis history.
type AnalysisHandler struct {
	log      zerolog.Logger
	analyses *service.AnalysisService
}

// NewAnalysisHandler creates a new analysis handler.
func NewAnalysisHandler(log zerolog.Logger, analyses *service.AnalysisService) *AnalysisHandler {
	return &AnalysisHandler{
		log:      log,
		analyses: analyses,
	}
}

// Save handles POST /api/v1/pronunciation/analyses
//
// Request: { "level": "B1", "analysis_content": {...}, "analysis_type": "repeat" }
func (h *AnalysisHandler) Save(w http.ResponseWriter, r *http.Request) {
	var in service.SaveAnalysisInput
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		if bodyTooLarge(err) {
			h.handleError(w, errors.New(errors.ErrPayloadTooLarge, "request body too large"))
			return
		}
		h.handleError(w, errors.InvalidRequest("invalid JSON body"))
		return
	}

	record, err := h.analyses.Save(r.Context(), middleware.GetUserID(r.Context()), in)
	if err != nil {
		h.handleError(w, err)
		return
	}

	response.Created(w, record)
}

// List handles GET /api/v1/pronunciation/analyses?limit=20
func (h *AnalysisHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			h.handleError(w, errors.Validation("limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	records, err := h.analyses.List(r.Context(), middleware.GetUserID(r.Context()), limit)
	if err != nil {
		h.handleError(w, err)
		return
	}

	response.JSONWithMeta(w, http.StatusOK, records, &response.Meta{
		Limit: limit,
		Total: len(records),
	})
}

func (h *AnalysisHandler) handleError(w http.ResponseWriter, err error) {
	writeError(w, h.log, err)
}
