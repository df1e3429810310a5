package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/riscambio/riscambio/internal/domain"
	"github.com/riscambio/riscambio/internal/models"
	"github.com/riscambio/riscambio/internal/notify"
	"github.com/riscambio/riscambio/internal/observability"
	"github.com/riscambio/riscambio/internal/store"
)

// transition moves tx to next, writing the row conditioned on its current
// status and appending the history entry. Illegal transitions are rejected at
// this boundary; callers never flip status fields themselves.
func transition(ctx context.Context, st store.Store, tx *models.Transaction, next domain.Status, actor, reason string) error {
	prev := tx.Status
	if prev == next {
		return nil
	}
	if !domain.CanTransition(prev, next) {
		return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, prev, next)
	}

	tx.Status = next
	if err := st.Transactions().Update(ctx, tx, prev); err != nil {
		tx.Status = prev
		return err
	}
	if err := st.Transactions().AppendHistory(ctx, models.StatusChange{
		TransactionID: tx.ID,
		PrevStatus:    prev,
		NextStatus:    next,
		Actor:         actor,
		Reason:        reason,
	}); err != nil {
		return err
	}

	observability.IncrementStatusTransition(tx.Kind, string(next))
	return nil
}

// notifyStatus publishes the status event outside any store transaction.
// Publish failures are logged and swallowed; notification never affects
// correctness.
func notifyStatus(notifier notify.Notifier, tx *models.Transaction, prev domain.Status, reason string) {
	if notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	event := notify.StatusEvent{
		TransactionID: tx.ID,
		UserID:        tx.OwnerUserID,
		Kind:          tx.Kind,
		PrevStatus:    prev,
		NextStatus:    tx.Status,
		Reason:        reason,
		OccurredAt:    time.Now().UTC(),
	}
	if err := notifier.PublishStatusEvent(ctx, event); err != nil {
		zap.L().Warn("status notification failed",
			zap.Error(err),
			zap.String("transaction_id", tx.ID.String()),
			zap.String("next_status", string(tx.Status)),
		)
	}
}
