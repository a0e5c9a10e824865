package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/prsnl-labs/intel-engine/pkg/models"
	"github.com/prsnl-labs/intel-engine/pkg/services"
)

// AnalysisListResponse for GET /api/repositories/{ref}/analyses
type AnalysisListResponse struct {
	Analyses []*models.Analysis `json:"analyses"`
	Total    int                `json:"total"`
}

// InsightListResponse for GET /api/analyses/{ref}/insights
type InsightListResponse struct {
	Insights []*models.Insight `json:"insights"`
	Total    int               `json:"total"`
}

// CrossReferenceListResponse for GET /api/analyses/{ref}/cross-references
type CrossReferenceListResponse struct {
	CrossReferences []*models.CrossReference `json:"cross_references"`
	Total           int                      `json:"total"`
}

// UpdateInsightStatusRequest for PATCH /api/insights/{id}/status
type UpdateInsightStatusRequest struct {
	Status string `json:"status"`
}

// defaultListLimit bounds repository analysis listings when the caller
// does not pass one.
const defaultListLimit = 50

// AnalysisHandler handles analysis intake and status HTTP requests.
type AnalysisHandler struct {
	service services.AnalysisService
	logger  *zap.Logger
}

// NewAnalysisHandler creates a new analysis handler.
func NewAnalysisHandler(service services.AnalysisService, logger *zap.Logger) *AnalysisHandler {
	return &AnalysisHandler{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes registers the analysis handler's routes on the given mux.
func (h *AnalysisHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/analyses", h.Submit)
	mux.HandleFunc("GET /api/analyses/{ref}", h.Get)
	mux.HandleFunc("POST /api/analyses/{ref}/cancel", h.Cancel)
	mux.HandleFunc("GET /api/analyses/{ref}/insights", h.ListInsights)
	mux.HandleFunc("GET /api/analyses/{ref}/cross-references", h.ListCrossReferences)
	mux.HandleFunc("GET /api/repositories/{ref}/analyses", h.ListByRepository)
	mux.HandleFunc("PATCH /api/insights/{id}/status", h.UpdateInsightStatus)
}

// Submit handles POST /api/analyses
func (h *AnalysisHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req services.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request_body", "Request body must be valid JSON")
		return
	}

	result, err := h.service.Submit(r.Context(), req)
	if err != nil {
		h.serviceError(w, err, "Failed to submit analysis")
		return
	}

	if err := WriteJSON(w, http.StatusAccepted, ApiResponse{Success: true, Data: result}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Get handles GET /api/analyses/{ref}
func (h *AnalysisHandler) Get(w http.ResponseWriter, r *http.Request) {
	analysis, err := h.service.GetAnalysis(r.Context(), r.PathValue("ref"))
	if err != nil {
		h.serviceError(w, err, "Failed to load analysis")
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: analysis}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Cancel handles POST /api/analyses/{ref}/cancel
func (h *AnalysisHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Cancel(r.Context(), r.PathValue("ref")); err != nil {
		h.serviceError(w, err, "Failed to cancel analysis")
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "analysis cancelled"}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// ListByRepository handles GET /api/repositories/{ref}/analyses
func (h *AnalysisHandler) ListByRepository(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			h.writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	analyses, err := h.service.ListByRepository(r.Context(), r.PathValue("ref"), limit)
	if err != nil {
		h.serviceError(w, err, "Failed to list analyses")
		return
	}

	response := AnalysisListResponse{Analyses: analyses, Total: len(analyses)}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// ListInsights handles GET /api/analyses/{ref}/insights
func (h *AnalysisHandler) ListInsights(w http.ResponseWriter, r *http.Request) {
	var status *models.InsightStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		parsed := models.InsightStatus(raw)
		status = &parsed
	}

	insights, err := h.service.ListInsights(r.Context(), r.PathValue("ref"), status)
	if err != nil {
		h.serviceError(w, err, "Failed to list insights")
		return
	}

	response := InsightListResponse{Insights: insights, Total: len(insights)}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// ListCrossReferences handles GET /api/analyses/{ref}/cross-references
func (h *AnalysisHandler) ListCrossReferences(w http.ResponseWriter, r *http.Request) {
	refs, err := h.service.ListCrossReferences(r.Context(), r.PathValue("ref"))
	if err != nil {
		h.serviceError(w, err, "Failed to list cross-references")
		return
	}

	response := CrossReferenceListResponse{CrossReferences: refs, Total: len(refs)}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// UpdateInsightStatus handles PATCH /api/insights/{id}/status
func (h *AnalysisHandler) UpdateInsightStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_insight_id", "Invalid insight ID format")
		return
	}

	var req UpdateInsightStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request_body", "Request body must be valid JSON")
		return
	}

	insight, err := h.service.UpdateInsightStatus(r.Context(), id, models.InsightStatus(req.Status))
	if err != nil {
		h.serviceError(w, err, "Failed to update insight status")
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: insight}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *AnalysisHandler) serviceError(w http.ResponseWriter, err error, logMsg string) {
	status, code := statusFromError(err)
	if status == http.StatusInternalServerError {
		// The full error stays in the server log; clients only see the
		// generic message.
		h.logger.Error(logMsg, zap.Error(err))
		h.writeError(w, status, code, logMsg)
		return
	}
	h.writeError(w, status, code, err.Error())
}

func (h *AnalysisHandler) writeError(w http.ResponseWriter, status int, code, message string) {
	if err := ErrorResponse(w, status, code, message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}
