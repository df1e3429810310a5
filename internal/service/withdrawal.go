package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/riscambio/riscambio/internal/domain"
	"github.com/riscambio/riscambio/internal/models"
	"github.com/riscambio/riscambio/internal/notify"
	"github.com/riscambio/riscambio/internal/observability"
	"github.com/riscambio/riscambio/internal/rates"
	"github.com/riscambio/riscambio/internal/store"
)

// WithdrawalService drives the outbound side: RIS balance is reserved at
// creation, then either committed when the bank transfer is confirmed or
// released when the request is rejected. Withdrawals never expire.
type WithdrawalService struct {
	store    store.Store
	rates    rates.Provider
	notifier notify.Notifier
	limits   Limits
}

func NewWithdrawalService(st store.Store, rp rates.Provider, notifier notify.Notifier, limits Limits) *WithdrawalService {
	return &WithdrawalService{
		store:    st,
		rates:    rp,
		notifier: notifier,
		limits:   limits,
	}
}

// CreateWithdrawalRequest holds the parameters for a new withdrawal. The
// amount is in RIS micros; the beneficiary receives the VES equivalent at
// the snapshot rate.
type CreateWithdrawalRequest struct {
	UserID       uuid.UUID
	AmountMicros int64
	Beneficiary  models.Beneficiary
}

func validateBeneficiary(b models.Beneficiary) error {
	if b.Name == "" {
		return models.Validationf("beneficiary.name", "is required")
	}
	if b.BankCode == "" {
		return models.Validationf("beneficiary.bank_code", "is required")
	}
	if b.AccountNumber == "" {
		return models.Validationf("beneficiary.account_number", "is required")
	}
	if b.DocumentID == "" {
		return models.Validationf("beneficiary.document_id", "is required")
	}
	return nil
}

// Create reserves the RIS amount and persists the pending withdrawal in one
// transaction. An insufficient available balance leaves no record behind.
func (s *WithdrawalService) Create(ctx context.Context, req CreateWithdrawalRequest) (*models.Transaction, error) {
	if req.UserID == uuid.Nil {
		return nil, models.Validationf("user_id", "is required")
	}
	if req.AmountMicros < s.limits.WithdrawalMinMicros {
		return nil, models.Validationf("amount", "below withdrawal minimum of %d", s.limits.WithdrawalMinMicros)
	}
	if req.AmountMicros > s.limits.WithdrawalMaxMicros {
		return nil, models.Validationf("amount", "above withdrawal maximum of %d", s.limits.WithdrawalMaxMicros)
	}
	if err := validateBeneficiary(req.Beneficiary); err != nil {
		return nil, err
	}

	snap, err := s.rates.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("capture rate snapshot: %w", err)
	}
	output := snap.VESFromRIS(domain.NewMoney(req.AmountMicros, domain.CurrencyRIS))
	if output.Amount <= 0 {
		return nil, models.Validationf("amount", "converts to zero VES at the current rate")
	}

	beneficiary := req.Beneficiary
	tx := &models.Transaction{
		ID:                 uuid.New(),
		OwnerUserID:        req.UserID,
		Kind:               domain.KindWithdrawal,
		Channel:            domain.ChannelBankTransfer,
		AmountInputMicros:  req.AmountMicros,
		InputCurrency:      domain.CurrencyRIS,
		AmountOutputMicros: output.Amount,
		OutputCurrency:     domain.CurrencyVES,
		Rate:               snap,
		Beneficiary:        &beneficiary,
		Status:             domain.StatusPending,
	}

	err = s.store.RunInTx(ctx, func(st store.Store) error {
		if err := st.Ledger().Reserve(ctx, req.UserID, req.AmountMicros, tx.ID); err != nil {
			if errors.Is(err, models.ErrInsufficientFunds) {
				observability.IncrementReservationFailure()
			}
			return err
		}
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

// Process confirms the bank transfer went out: the reservation is committed
// (the balance drops for good) and the transaction completes. payoutProof is
// the bank's transfer reference.
func (s *WithdrawalService) Process(ctx context.Context, txID uuid.UUID, decidedBy, payoutProof string) (*models.Transaction, error) {
	if decidedBy == "" {
		return nil, models.Validationf("decided_by", "is required")
	}
	if payoutProof == "" {
		return nil, models.Validationf("payout_proof", "is required")
	}

	var processed *models.Transaction
	err := s.store.RunInTx(ctx, func(st store.Store) error {
		tx, err := st.Transactions().Get(ctx, txID)
		if err != nil {
			return err
		}
		if tx.Kind != domain.KindWithdrawal {
			return fmt.Errorf("%w: not a withdrawal", models.ErrInvalidTransition)
		}
		if tx.Status != domain.StatusPending {
			return fmt.Errorf("%w: processing requires a pending withdrawal, got %s", models.ErrInvalidTransition, tx.Status)
		}

		now := time.Now().UTC()
		tx.DecidedAt = &now
		tx.DecidedBy = decidedBy
		tx.ProofReference = payoutProof
		if err := transition(ctx, st, tx, domain.StatusCompleted, decidedBy, "payout_sent"); err != nil {
			return err
		}
		if err := st.Ledger().CommitReservation(ctx, tx.OwnerUserID, tx.AmountInputMicros, tx.ID); err != nil {
			if !errors.Is(err, models.ErrAlreadyApplied) {
				return err
			}
		}
		processed = tx
		return nil
	})
	if err != nil {
		return nil, err
	}
	notifyStatus(s.notifier, processed, domain.StatusPending, "payout_sent")
	return processed, nil
}

// Reject cancels a pending withdrawal and releases the reserved funds back
// to the available balance.
func (s *WithdrawalService) Reject(ctx context.Context, txID uuid.UUID, decidedBy, reason string) (*models.Transaction, error) {
	if decidedBy == "" {
		return nil, models.Validationf("decided_by", "is required")
	}
	if reason == "" {
		return nil, models.Validationf("reason", "is required when rejecting")
	}

	var rejected *models.Transaction
	err := s.store.RunInTx(ctx, func(st store.Store) error {
		tx, err := st.Transactions().Get(ctx, txID)
		if err != nil {
			return err
		}
		if tx.Kind != domain.KindWithdrawal {
			return fmt.Errorf("%w: not a withdrawal", models.ErrInvalidTransition)
		}
		if tx.Status != domain.StatusPending {
			return fmt.Errorf("%w: rejection requires a pending withdrawal, got %s", models.ErrInvalidTransition, tx.Status)
		}

		now := time.Now().UTC()
		tx.DecidedAt = &now
		tx.DecidedBy = decidedBy
		tx.RejectionReason = reason
		if err := transition(ctx, st, tx, domain.StatusRejected, decidedBy, reason); err != nil {
			return err
		}
		if err := st.Ledger().Release(ctx, tx.OwnerUserID, tx.AmountInputMicros, tx.ID); err != nil {
			if !errors.Is(err, models.ErrAlreadyApplied) {
				return err
			}
		}
		rejected = tx
		return nil
	})
	if err != nil {
		return nil, err
	}
	notifyStatus(s.notifier, rejected, domain.StatusPending, reason)
	return rejected, nil
}
