package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/riscambio/riscambio/internal/models"
	"github.com/riscambio/riscambio/internal/store"
)

// QueryService is the read side: transactions, history and balances.
type QueryService struct {
	store store.Store
}

func NewQueryService(st store.Store) *QueryService {
	return &QueryService{store: st}
}

// GetTransaction returns the transaction if it belongs to userID. Admin
// callers pass uuid.Nil to skip the ownership check.
func (s *QueryService) GetTransaction(ctx context.Context, txID, userID uuid.UUID) (*models.Transaction, error) {
	tx, err := s.store.Transactions().Get(ctx, txID)
	if err != nil {
		return nil, err
	}
	if userID != uuid.Nil && tx.OwnerUserID != userID {
		return nil, models.ErrTransactionNotFound
	}
	return tx, nil
}

// ListTransactions returns the user's transactions, newest first, filtered
// by kind and status when set.
func (s *QueryService) ListTransactions(ctx context.Context, userID uuid.UUID, filter store.ListFilter) ([]models.Transaction, error) {
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.store.Transactions().List(ctx, userID, filter)
}

// History returns the status trail for a transaction the user owns.
func (s *QueryService) History(ctx context.Context, txID, userID uuid.UUID) ([]models.StatusChange, error) {
	if _, err := s.GetTransaction(ctx, txID, userID); err != nil {
		return nil, err
	}
	return s.store.Transactions().History(ctx, txID)
}

// Balance returns the user's ledger view. Users with no ledger rows get
// zeros, not an error.
func (s *QueryService) Balance(ctx context.Context, userID uuid.UUID) (models.BalanceView, error) {
	return s.store.Ledger().Balance(ctx, userID)
}
