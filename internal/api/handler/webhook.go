package handler

import (
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/riscambio/riscambio/internal/service"
)

const maxWebhookBody = 1 << 20

// WebhookHandler receives confirmation callbacks from the instant-payment
// gateway.
type WebhookHandler struct {
	callback *service.GatewayCallback
}

func NewWebhookHandler(callback *service.GatewayCallback) *WebhookHandler {
	return &WebhookHandler{callback: callback}
}

// GatewayCallback handles POST /webhooks/gateway.
// The body is authenticated with an HMAC signature; duplicate deliveries
// replay the completed transaction.
func (h *WebhookHandler) GatewayCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Failed to read request body")
		return
	}

	tx, err := h.callback.Handle(r.Context(), body, r.Header.Get("X-Gateway-Signature"))
	if err != nil {
		if errors.Is(err, service.ErrInvalidSignature) {
			RespondError(w, r, http.StatusUnauthorized, "gateway/invalid-signature", "invalid signature")
			return
		}
		if status, problemType, message, ok := mapServiceError(err); ok {
			RespondError(w, r, status, problemType, message)
			return
		}
		zap.L().Error("gateway callback failed", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "gateway/callback-failed", "Failed to process callback")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]any{
		"transaction_id": tx.ID,
		"status":         tx.Status,
	})
}
