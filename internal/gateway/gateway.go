// Package gateway is the boundary to the external instant-payment rail.
// The core stores only the reference id the gateway hands back; the actual
// money movement and its confirmation arrive through the webhook.
package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
)

// InstantPayment registers inbound charges with the external rail.
type InstantPayment interface {
	// RegisterCharge announces an expected inbound payment and returns the
	// gateway's reference id for it.
	RegisterCharge(ctx context.Context, txID uuid.UUID, amountMicros int64) (string, error)
}

// MockGateway simulates the external instant-payment rail for local runs.
// It introduces a short delay and fails a configurable fraction of calls.
type MockGateway struct {
	// FailureRate is the probability of failure (0.0 to 1.0).
	FailureRate float64
}

// NewMockGateway creates a MockGateway with a 5% failure rate.
func NewMockGateway() *MockGateway {
	return &MockGateway{FailureRate: 0.05}
}

func (g *MockGateway) RegisterCharge(ctx context.Context, txID uuid.UUID, amountMicros int64) (string, error) {
	delay := time.Duration(100+rand.Intn(400)) * time.Millisecond
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return "", fmt.Errorf("gateway call canceled: %w", ctx.Err())
	}

	if rand.Float64() < g.FailureRate {
		return "", fmt.Errorf("gateway temporarily unavailable")
	}
	return fmt.Sprintf("PIX-%s-%05d", time.Now().Format("20060102-150405"), rand.Intn(100000)), nil
}
