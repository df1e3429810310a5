package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/riscambio/riscambio/internal/observability"
	"github.com/riscambio/riscambio/internal/store"
)

// ReconciliationService cross-checks the reserved column against the sum of
// open reservation adjustments. Drift means a bug or manual intervention; it
// is reported, never auto-corrected.
type ReconciliationService struct {
	store store.Store
}

func NewReconciliationService(st store.Store) *ReconciliationService {
	return &ReconciliationService{store: st}
}

// CheckReservations returns every user whose reserved balance disagrees with
// their open reservations.
func (s *ReconciliationService) CheckReservations(ctx context.Context) ([]store.Drift, error) {
	drifts, err := s.store.Ledger().ReservationDrift(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range drifts {
		observability.IncrementReservationDrift()
		zap.L().Error("reservation drift detected",
			zap.String("user_id", d.UserID.String()),
			zap.Int64("reserved_micros", d.ReservedMicros),
			zap.Int64("open_reservations_sum", d.OpenReservationsSum),
		)
	}

	if queued, err := s.store.Transactions().CountManualReview(ctx); err != nil {
		zap.L().Warn("manual review queue count failed", zap.Error(err))
	} else {
		observability.SetManualReviewQueueSize(queued)
	}
	return drifts, nil
}
