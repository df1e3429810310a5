// Package store holds the authoritative state of the exchange: RIS balances
// with their open reservations, and transaction records with their
// append-only status history.
//
// Every balance mutation is keyed by (user, transaction) with checked-and-set
// semantics, so replays from retried calls or duplicate webhook deliveries
// collapse into a single effect.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/riscambio/riscambio/internal/domain"
	"github.com/riscambio/riscambio/internal/models"
)

// Ledger is the sole mutator of user balances. A replayed operation for a
// transaction id that already took effect returns models.ErrAlreadyApplied;
// commit and release require an open reservation for the same transaction id
// and return models.ErrNoReservation otherwise.
//
// Mutating operations must run inside Store.RunInTx so a multi-step pipeline
// change is all-or-nothing.
type Ledger interface {
	// Reserve holds amountMicros against the user's available balance.
	// Returns models.ErrInsufficientFunds when available < amount.
	Reserve(ctx context.Context, userID uuid.UUID, amountMicros int64, txID uuid.UUID) error

	// Credit adds amountMicros to the user's balance.
	Credit(ctx context.Context, userID uuid.UUID, amountMicros int64, txID uuid.UUID) error

	// Release returns a prior reservation to the available balance.
	Release(ctx context.Context, userID uuid.UUID, amountMicros int64, txID uuid.UUID) error

	// CommitReservation converts a reservation into a permanent debit.
	CommitReservation(ctx context.Context, userID uuid.UUID, amountMicros int64, txID uuid.UUID) error

	// Balance reads the stored balance, the open reservation total and the
	// derived available balance. Reflects the latest committed state.
	Balance(ctx context.Context, userID uuid.UUID) (models.BalanceView, error)

	// ReservationDrift lists users whose stored reservation total no longer
	// matches the sum of their open reservations. Used by reconciliation.
	ReservationDrift(ctx context.Context) ([]Drift, error)
}

// Drift is one reconciliation finding.
type Drift struct {
	UserID              uuid.UUID
	ReservedMicros      int64
	OpenReservationsSum int64
}

// ListFilter narrows a transaction listing.
type ListFilter struct {
	Kind   string
	Status domain.Status
	Limit  int32
	Offset int32
}

// Transactions persists transaction records. Status rows are append-only:
// Update refuses to overwrite a row whose status is not the expected one.
type Transactions interface {
	Create(ctx context.Context, tx *models.Transaction) error

	Get(ctx context.Context, id uuid.UUID) (*models.Transaction, error)

	// Update writes the mutable fields of tx (status, proof, decision,
	// rejection reason) conditioned on the row still being in expected
	// status. Returns models.ErrInvalidTransition when the condition fails.
	Update(ctx context.Context, tx *models.Transaction, expected domain.Status) error

	AppendHistory(ctx context.Context, change models.StatusChange) error

	History(ctx context.Context, txID uuid.UUID) ([]models.StatusChange, error)

	List(ctx context.Context, userID uuid.UUID, filter ListFilter) ([]models.Transaction, error)

	// MonthlyRechargeTotal sums the RIS output of the user's non-failed
	// recharges created at or after from.
	MonthlyRechargeTotal(ctx context.Context, userID uuid.UUID, from time.Time) (int64, error)

	// ListStaleRecharges returns recharges still pending or in manual review
	// that were created before cutoff.
	ListStaleRecharges(ctx context.Context, cutoff time.Time, limit int32) ([]models.Transaction, error)

	// CountManualReview returns the number of recharges waiting on an
	// administrator decision.
	CountManualReview(ctx context.Context) (int64, error)
}

// Store bundles the ledger and transaction persistence behind a single
// transactional scope.
type Store interface {
	Ledger() Ledger
	Transactions() Transactions

	// RunInTx executes fn atomically. The Store passed to fn is bound to the
	// transaction; nesting is a no-op (fn runs in the enclosing scope).
	RunInTx(ctx context.Context, fn func(Store) error) error
}
