// Package rates exposes the conversion rates in force. Pipelines call
// Current exactly once per transaction and store the snapshot by value;
// nothing re-reads a live rate after creation.
package rates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/riscambio/riscambio/internal/domain"
	"github.com/riscambio/riscambio/internal/models"
)

const redisRatesKey = "rates:current"

// Provider returns the current rate snapshot.
type Provider interface {
	Current(ctx context.Context) (domain.RateSnapshot, error)
}

// Manager holds the current snapshot in memory and mirrors it to Redis so
// replicas and restarts converge on the same rates. Updated by an
// administrative action; read-mostly.
type Manager struct {
	mu    sync.RWMutex
	snap  *domain.RateSnapshot
	redis redis.Cmdable
}

// NewManager creates a Manager. redis may be nil for single-instance runs.
func NewManager(redis redis.Cmdable) *Manager {
	return &Manager{redis: redis}
}

// Update validates and installs a new snapshot, stamping CapturedAt.
func (m *Manager) Update(ctx context.Context, snap domain.RateSnapshot) (domain.RateSnapshot, error) {
	if err := snap.Validate(); err != nil {
		return domain.RateSnapshot{}, models.Validationf("rates", "%s", err)
	}
	snap.CapturedAt = time.Now().UTC()

	m.mu.Lock()
	m.snap = &snap
	m.mu.Unlock()

	if m.redis != nil {
		payload, err := json.Marshal(snap)
		if err == nil {
			err = m.redis.Set(ctx, redisRatesKey, payload, 0).Err()
		}
		if err != nil {
			zap.L().Warn("rates redis mirror failed", zap.Error(err))
		}
	}
	return snap, nil
}

// Current returns the snapshot in force. Falls back to the Redis mirror when
// this instance has not seen an update yet.
func (m *Manager) Current(ctx context.Context) (domain.RateSnapshot, error) {
	m.mu.RLock()
	snap := m.snap
	m.mu.RUnlock()
	if snap != nil {
		return *snap, nil
	}

	if m.redis != nil {
		val, err := m.redis.Get(ctx, redisRatesKey).Result()
		if err == nil {
			var cached domain.RateSnapshot
			if jsonErr := json.Unmarshal([]byte(val), &cached); jsonErr == nil {
				m.mu.Lock()
				m.snap = &cached
				m.mu.Unlock()
				return cached, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			return domain.RateSnapshot{}, fmt.Errorf("read rates mirror: %w", err)
		}
	}
	return domain.RateSnapshot{}, models.ErrRateUnavailable
}

// Static is a fixed-rate Provider used in tests.
type Static struct {
	Snapshot domain.RateSnapshot
}

func (s Static) Current(ctx context.Context) (domain.RateSnapshot, error) {
	return s.Snapshot, nil
}
