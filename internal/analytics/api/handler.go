package analytics_api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"ms-lottery/internal/analytics"
	"ms-lottery/internal/logger"
	"ms-lottery/internal/utils"
)

// Handler handles analytics HTTP endpoints
type Handler struct {
	Service *analytics.Service
	Logger  *logger.Logger
}

func NewHandler(service *analytics.Service, logger *logger.Logger) *Handler {
	return &Handler{Service: service, Logger: logger}
}

// RegisterRoutes registers the public analytics routes on a chi router
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/stats", h.GetSummary)
}

// GetSummary serves GET /stats?days=N.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	days := 0
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			sendJSONResponse(w, http.StatusBadRequest, utils.ErrorResponse("Invalid days parameter", err.Error()))
			return
		}
		days = n
	}

	summary, err := h.Service.GetSummary(r.Context(), days)
	if err != nil {
		h.Logger.Error("ANALYTICS", fmt.Sprintf("Failed to build summary: %v", err))
		sendJSONResponse(w, http.StatusInternalServerError, utils.ErrorResponse("Could not load statistics", err.Error()))
		return
	}
	sendJSONResponse(w, http.StatusOK, utils.SuccessResponse("Lottery statistics", summary))
}

func sendJSONResponse(w http.ResponseWriter, status int, resp utils.APIResponse) {
	utils.WriteJSON(w, status, resp)
}
