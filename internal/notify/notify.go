// Package notify informs downstream consumers (push, SMS, back office) of
// transaction status changes. Delivery is fire-and-forget: a publish failure
// is logged and swallowed, it never fails or rolls back a transaction.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/riscambio/riscambio/internal/domain"
)

// StatusEvent is the payload published on every terminal transition and on
// manual-review entry.
type StatusEvent struct {
	TransactionID uuid.UUID     `json:"transaction_id"`
	UserID        uuid.UUID     `json:"user_id"`
	Kind          string        `json:"kind"`
	PrevStatus    domain.Status `json:"prev_status"`
	NextStatus    domain.Status `json:"next_status"`
	Reason        string        `json:"reason,omitempty"`
	OccurredAt    time.Time     `json:"occurred_at"`
}

// Notifier publishes status events.
type Notifier interface {
	PublishStatusEvent(ctx context.Context, event StatusEvent) error
	Close()
}

// Noop is used when no broker is configured and in tests.
type Noop struct{}

func (Noop) PublishStatusEvent(ctx context.Context, event StatusEvent) error { return nil }
func (Noop) Close()                                                          {}
