package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/riscambio/riscambio/internal/domain"
	"github.com/riscambio/riscambio/internal/gateway"
	"github.com/riscambio/riscambio/internal/models"
	"github.com/riscambio/riscambio/internal/notify"
	"github.com/riscambio/riscambio/internal/observability"
	"github.com/riscambio/riscambio/internal/rates"
	"github.com/riscambio/riscambio/internal/store"
)

// RechargeService drives the inbound side: funds arrive in BRL (instant
// payment) or VES (bank transfer) and credit the RIS balance exactly once
// when the transaction completes.
type RechargeService struct {
	store    store.Store
	rates    rates.Provider
	gateway  gateway.InstantPayment
	notifier notify.Notifier
	limits   Limits
}

func NewRechargeService(st store.Store, rp rates.Provider, gw gateway.InstantPayment, notifier notify.Notifier, limits Limits) *RechargeService {
	return &RechargeService{
		store:    st,
		rates:    rp,
		gateway:  gw,
		notifier: notifier,
		limits:   limits,
	}
}

// CreateRechargeRequest holds the parameters for a new recharge.
type CreateRechargeRequest struct {
	UserID       uuid.UUID
	AmountMicros int64
	Channel      string
}

// Create validates the amount against the channel bounds and the monthly
// ceiling, captures the rate snapshot and persists a pending transaction.
// The instant-payment channel registers the charge with the gateway first
// and stores its reference; no ledger effect happens here.
func (s *RechargeService) Create(ctx context.Context, req CreateRechargeRequest) (*models.Transaction, error) {
	if req.UserID == uuid.Nil {
		return nil, models.Validationf("user_id", "is required")
	}
	if req.AmountMicros <= 0 {
		return nil, models.Validationf("amount", "must be greater than zero")
	}

	var inputCurrency string
	switch req.Channel {
	case domain.ChannelInstantPayment:
		inputCurrency = domain.CurrencyBRL
		if req.AmountMicros < s.limits.InstantPaymentMinMicros {
			return nil, models.Validationf("amount", "below instant-payment minimum of %d", s.limits.InstantPaymentMinMicros)
		}
		if req.AmountMicros > s.limits.InstantPaymentMaxMicros {
			return nil, models.Validationf("amount", "above instant-payment maximum of %d", s.limits.InstantPaymentMaxMicros)
		}
	case domain.ChannelBankTransfer:
		inputCurrency = domain.CurrencyVES
		if req.AmountMicros < s.limits.BankTransferMinMicros {
			return nil, models.Validationf("amount", "below bank-transfer minimum of %d", s.limits.BankTransferMinMicros)
		}
		if req.AmountMicros > s.limits.BankTransferMaxMicros {
			return nil, models.Validationf("amount", "above bank-transfer maximum of %d", s.limits.BankTransferMaxMicros)
		}
	default:
		return nil, models.Validationf("channel", "must be %s or %s", domain.ChannelInstantPayment, domain.ChannelBankTransfer)
	}

	snap, err := s.rates.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("capture rate snapshot: %w", err)
	}

	input := domain.NewMoney(req.AmountMicros, inputCurrency)
	var output domain.Money
	if req.Channel == domain.ChannelInstantPayment {
		output = snap.RISFromBRL(input)
	} else {
		output = snap.RISFromVES(input)
	}
	if output.Amount <= 0 {
		return nil, models.Validationf("amount", "converts to zero RIS at the current rate")
	}

	now := time.Now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	monthTotal, err := s.store.Transactions().MonthlyRechargeTotal(ctx, req.UserID, monthStart)
	if err != nil {
		return nil, fmt.Errorf("check monthly ceiling: %w", err)
	}
	if monthTotal+output.Amount > s.limits.MonthlyRechargeCeilingMicros {
		return nil, models.Validationf("amount", "exceeds monthly recharge ceiling of %d RIS micros", s.limits.MonthlyRechargeCeilingMicros)
	}

	tx := &models.Transaction{
		ID:                 uuid.New(),
		OwnerUserID:        req.UserID,
		Kind:               domain.KindRecharge,
		Channel:            req.Channel,
		AmountInputMicros:  req.AmountMicros,
		InputCurrency:      inputCurrency,
		AmountOutputMicros: output.Amount,
		OutputCurrency:     domain.CurrencyRIS,
		Rate:               snap,
		Status:             domain.StatusPending,
	}

	// The gateway call happens before any store write so it never overlaps
	// a transaction scope.
	if req.Channel == domain.ChannelInstantPayment {
		ref, err := s.gateway.RegisterCharge(ctx, tx.ID, req.AmountMicros)
		if err != nil {
			return nil, fmt.Errorf("register gateway charge: %w", err)
		}
		tx.GatewayReference = ref
	}

	err = s.store.RunInTx(ctx, func(st store.Store) error {
		if err := st.Transactions().Create(ctx, tx); err != nil {
			return err
		}
		return st.Transactions().AppendHistory(ctx, models.StatusChange{
			TransactionID: tx.ID,
			NextStatus:    domain.StatusPending,
			Actor:         req.UserID.String(),
			Reason:        "created",
		})
	})
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// ConfirmAutomatic is the gateway confirmation boundary. It is safe against
// duplicate delivery: a replay for an already-completed recharge with the
// same reference returns the transaction without touching the ledger again.
func (s *RechargeService) ConfirmAutomatic(ctx context.Context, txID uuid.UUID, gatewayRef string) (*models.Transaction, error) {
	var confirmed *models.Transaction
	replay := false
	err := s.store.RunInTx(ctx, func(st store.Store) error {
		tx, err := st.Transactions().Get(ctx, txID)
		if err != nil {
			return err
		}
		if tx.Kind != domain.KindRecharge || tx.Channel != domain.ChannelInstantPayment {
			return fmt.Errorf("%w: automatic confirmation only applies to instant-payment recharges", models.ErrInvalidTransition)
		}
		if tx.GatewayReference == "" || tx.GatewayReference != gatewayRef {
			return models.ErrGatewayReferenceMismatch
		}
		if tx.Status == domain.StatusCompleted {
			confirmed = tx
			replay = true
			return nil
		}

		now := time.Now().UTC()
		tx.DecidedAt = &now
		tx.DecidedBy = domain.ActorSystem
		if err := transition(ctx, st, tx, domain.StatusCompleted, domain.ActorSystem, "gateway_confirmed"); err != nil {
			return err
		}
		if err := st.Ledger().Credit(ctx, tx.OwnerUserID, tx.AmountOutputMicros, tx.ID); err != nil {
			if !errors.Is(err, models.ErrAlreadyApplied) {
				return err
			}
		}
		confirmed = tx
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !replay {
		notifyStatus(s.notifier, confirmed, domain.StatusPending, "gateway_confirmed")
	}
	return confirmed, nil
}

// AttachProof records user-supplied payment evidence and moves the recharge
// into manual review. Only legal while pending.
func (s *RechargeService) AttachProof(ctx context.Context, txID, userID uuid.UUID, proofRef string) (*models.Transaction, error) {
	if proofRef == "" {
		return nil, models.Validationf("proof_reference", "is required")
	}

	var updated *models.Transaction
	err := s.store.RunInTx(ctx, func(st store.Store) error {
		tx, err := st.Transactions().Get(ctx, txID)
		if err != nil {
			return err
		}
		if tx.OwnerUserID != userID {
			return models.ErrTransactionNotFound
		}
		if tx.Kind != domain.KindRecharge {
			return fmt.Errorf("%w: proof can only be attached to a recharge", models.ErrInvalidTransition)
		}
		if tx.Status != domain.StatusPending {
			return fmt.Errorf("%w: proof requires a pending recharge, got %s", models.ErrInvalidTransition, tx.Status)
		}

		tx.ProofReference = proofRef
		if err := transition(ctx, st, tx, domain.StatusManualReview, userID.String(), "proof_attached"); err != nil {
			return err
		}
		updated = tx
		return nil
	})
	if err != nil {
		return nil, err
	}
	notifyStatus(s.notifier, updated, domain.StatusPending, "proof_attached")
	return updated, nil
}

// DecideManual finalizes a recharge waiting in manual review. Approval
// credits the ledger exactly once; rejection records the reason. A decision
// on an already-terminal transaction is an error, not a reprocess, so
// operator double-submission is surfaced.
func (s *RechargeService) DecideManual(ctx context.Context, txID uuid.UUID, approved bool, decidedBy, reason string) (*models.Transaction, error) {
	if decidedBy == "" {
		return nil, models.Validationf("decided_by", "is required")
	}
	if !approved && reason == "" {
		return nil, models.Validationf("reason", "is required when rejecting")
	}

	var decided *models.Transaction
	var prev domain.Status
	err := s.store.RunInTx(ctx, func(st store.Store) error {
		tx, err := st.Transactions().Get(ctx, txID)
		if err != nil {
			return err
		}
		if tx.Kind != domain.KindRecharge {
			return fmt.Errorf("%w: manual decision only applies to recharges", models.ErrInvalidTransition)
		}
		if tx.Status != domain.StatusManualReview {
			return fmt.Errorf("%w: decision requires manual review, got %s", models.ErrInvalidTransition, tx.Status)
		}
		prev = tx.Status

		now := time.Now().UTC()
		tx.DecidedAt = &now
		tx.DecidedBy = decidedBy

		if approved {
			if err := transition(ctx, st, tx, domain.StatusCompleted, decidedBy, "manual_approved"); err != nil {
				return err
			}
			if err := st.Ledger().Credit(ctx, tx.OwnerUserID, tx.AmountOutputMicros, tx.ID); err != nil {
				if !errors.Is(err, models.ErrAlreadyApplied) {
					return err
				}
			}
		} else {
			tx.RejectionReason = reason
			if err := transition(ctx, st, tx, domain.StatusRejected, decidedBy, reason); err != nil {
				return err
			}
		}
		decided = tx
		return nil
	})
	if err != nil {
		return nil, err
	}
	notifyStatus(s.notifier, decided, prev, reason)
	return decided, nil
}

// ExpireStale marks recharges stuck in pending or manual review beyond the
// window as expired. Expiry never credits the ledger and is safe to run
// repeatedly; rows that reached a terminal state in the meantime are skipped
// by the conditional update.
func (s *RechargeService) ExpireStale(ctx context.Context, window time.Duration, batch int32) (int, error) {
	cutoff := time.Now().UTC().Add(-window)
	var expired []*models.Transaction
	var prevs []domain.Status

	err := s.store.RunInTx(ctx, func(st store.Store) error {
		stale, err := st.Transactions().ListStaleRecharges(ctx, cutoff, batch)
		if err != nil {
			return err
		}
		for i := range stale {
			tx := &stale[i]
			prev := tx.Status
			now := time.Now().UTC()
			tx.DecidedAt = &now
			tx.DecidedBy = domain.ActorSystem
			if err := transition(ctx, st, tx, domain.StatusExpired, domain.ActorSystem, "expired"); err != nil {
				return fmt.Errorf("expire recharge %s: %w", tx.ID, err)
			}
			expired = append(expired, tx)
			prevs = append(prevs, prev)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for i, tx := range expired {
		notifyStatus(s.notifier, tx, prevs[i], "expired")
	}
	if len(expired) > 0 {
		observability.AddExpiredRecharges(len(expired))
		zap.L().Info("expired stale recharges", zap.Int("count", len(expired)))
	}
	return len(expired), nil
}
