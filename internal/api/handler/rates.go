package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/riscambio/riscambio/internal/domain"
	"github.com/riscambio/riscambio/internal/models"
	"github.com/riscambio/riscambio/internal/rates"
)

// RatesHandler exposes the current exchange rates and the admin update endpoint.
type RatesHandler struct {
	manager *rates.Manager
}

func NewRatesHandler(manager *rates.Manager) *RatesHandler {
	return &RatesHandler{manager: manager}
}

// GetRates handles GET /v1/rates.
func (h *RatesHandler) GetRates(w http.ResponseWriter, r *http.Request) {
	snap, err := h.manager.Current(r.Context())
	if err != nil {
		if errors.Is(err, models.ErrRateUnavailable) {
			RespondError(w, r, http.StatusServiceUnavailable, "rates/unavailable", "exchange rates are not available")
			return
		}
		zap.L().Error("get rates failed", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "rates/read-failed", "Failed to get rates")
		return
	}

	RespondJSON(w, http.StatusOK, snap)
}

type updateRatesRequest struct {
	RisToVes decimal.Decimal `json:"ris_to_ves"`
	VesToRis decimal.Decimal `json:"ves_to_ris"`
	RisToBrl decimal.Decimal `json:"ris_to_brl"`
}

// UpdateRates handles PUT /v1/admin/rates (admin only).
func (h *RatesHandler) UpdateRates(w http.ResponseWriter, r *http.Request) {
	var req updateRatesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	snap := domain.RateSnapshot{
		RisToVes: req.RisToVes,
		VesToRis: req.VesToRis,
		RisToBrl: req.RisToBrl,
	}
	updated, err := h.manager.Update(r.Context(), snap)
	if err != nil {
		if status, problemType, message, ok := mapServiceError(err); ok {
			RespondError(w, r, status, problemType, message)
			return
		}
		zap.L().Error("update rates failed", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "rates/update-failed", "Failed to update rates")
		return
	}
	RespondJSON(w, http.StatusOK, updated)
}
