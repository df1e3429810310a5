package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/riscambio/riscambio/internal/models"
)

// ErrInvalidSignature is returned when the callback signature does not match
// the shared secret.
var ErrInvalidSignature = errors.New("invalid callback signature")

// GatewayCallback authenticates and applies confirmation callbacks from the
// instant-payment gateway.
type GatewayCallback struct {
	recharges *RechargeService
	secret    []byte
	skipSig   bool
}

func NewGatewayCallback(recharges *RechargeService, secret string, skipSig bool) *GatewayCallback {
	if skipSig {
		zap.L().Warn("gateway callback signature verification disabled")
	}
	return &GatewayCallback{
		recharges: recharges,
		secret:    []byte(secret),
		skipSig:   skipSig,
	}
}

type callbackPayload struct {
	TransactionID string `json:"transaction_id"`
	Reference     string `json:"reference"`
	Event         string `json:"event"`
}

// VerifySignature checks the X-Gateway-Signature header value against the
// body. The expected format is "sha256=<hex hmac>".
func (g *GatewayCallback) VerifySignature(body []byte, signature string) error {
	if g.skipSig {
		return nil
	}
	if len(g.secret) == 0 {
		return fmt.Errorf("%w: no shared secret configured", ErrInvalidSignature)
	}
	raw, ok := strings.CutPrefix(signature, "sha256=")
	if !ok {
		return fmt.Errorf("%w: malformed signature header", ErrInvalidSignature)
	}
	provided, err := hex.DecodeString(raw)
	if err != nil {
		return fmt.Errorf("%w: malformed signature header", ErrInvalidSignature)
	}

	mac := hmac.New(sha256.New, g.secret)
	mac.Write(body)
	if !hmac.Equal(provided, mac.Sum(nil)) {
		return ErrInvalidSignature
	}
	return nil
}

// Handle verifies the signature, decodes the payload and confirms the
// recharge. Duplicate deliveries resolve to the already-completed
// transaction.
func (g *GatewayCallback) Handle(ctx context.Context, body []byte, signature string) (*models.Transaction, error) {
	if err := g.VerifySignature(body, signature); err != nil {
		return nil, err
	}

	var payload callbackPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, models.Validationf("body", "malformed callback payload")
	}
	txID, err := uuid.Parse(payload.TransactionID)
	if err != nil {
		return nil, models.Validationf("transaction_id", "must be a UUID")
	}
	if payload.Reference == "" {
		return nil, models.Validationf("reference", "is required")
	}

	tx, err := g.recharges.ConfirmAutomatic(ctx, txID, payload.Reference)
	if err != nil {
		return nil, err
	}
	zap.L().Info("gateway callback applied",
		zap.String("transaction_id", tx.ID.String()),
		zap.String("reference", payload.Reference),
	)
	return tx, nil
}
