package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riscambio/riscambio/internal/domain"
	"github.com/riscambio/riscambio/internal/models"
)

func seedBalance(t *testing.T, m *Memory, userID uuid.UUID, micros int64) {
	t.Helper()
	require.NoError(t, m.Ledger().Credit(context.Background(), userID, micros, uuid.New()))
}

func TestReserveHoldsAvailableNotBalance(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	userID := uuid.New()
	seedBalance(t, m, userID, 100_000_000)

	txID := uuid.New()
	require.NoError(t, m.Ledger().Reserve(ctx, userID, 80_000_000, txID))

	view, err := m.Ledger().Balance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(100_000_000), view.BalanceMicros)
	assert.Equal(t, int64(80_000_000), view.ReservedMicros)
	assert.Equal(t, int64(20_000_000), view.AvailableMicros)
}

func TestReserveInsufficientAvailable(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	userID := uuid.New()
	seedBalance(t, m, userID, 100_000_000)

	require.NoError(t, m.Ledger().Reserve(ctx, userID, 80_000_000, uuid.New()))

	// Balance is still 100 but only 20 is available.
	err := m.Ledger().Reserve(ctx, userID, 30_000_000, uuid.New())
	assert.ErrorIs(t, err, models.ErrInsufficientFunds)
}

func TestCreditIsIdempotentPerTransaction(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	userID := uuid.New()
	txID := uuid.New()

	require.NoError(t, m.Ledger().Credit(ctx, userID, 50_000_000, txID))
	err := m.Ledger().Credit(ctx, userID, 50_000_000, txID)
	assert.ErrorIs(t, err, models.ErrAlreadyApplied)

	view, err := m.Ledger().Balance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(50_000_000), view.BalanceMicros)
}

func TestCommitReservationDebitsOnce(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	userID := uuid.New()
	txID := uuid.New()
	seedBalance(t, m, userID, 100_000_000)

	require.NoError(t, m.Ledger().Reserve(ctx, userID, 80_000_000, txID))
	require.NoError(t, m.Ledger().CommitReservation(ctx, userID, 80_000_000, txID))

	assert.ErrorIs(t, m.Ledger().CommitReservation(ctx, userID, 80_000_000, txID), models.ErrAlreadyApplied)

	view, err := m.Ledger().Balance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(20_000_000), view.BalanceMicros)
	assert.Equal(t, int64(0), view.ReservedMicros)
	assert.Equal(t, int64(20_000_000), view.AvailableMicros)
}

func TestReleaseRestoresAvailable(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	userID := uuid.New()
	txID := uuid.New()
	seedBalance(t, m, userID, 100_000_000)

	require.NoError(t, m.Ledger().Reserve(ctx, userID, 80_000_000, txID))
	require.NoError(t, m.Ledger().Release(ctx, userID, 80_000_000, txID))

	view, err := m.Ledger().Balance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(100_000_000), view.BalanceMicros)
	assert.Equal(t, int64(100_000_000), view.AvailableMicros)
}

func TestCommitAndReleaseRequireReservation(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	userID := uuid.New()
	seedBalance(t, m, userID, 100_000_000)

	assert.ErrorIs(t, m.Ledger().CommitReservation(ctx, userID, 10_000_000, uuid.New()), models.ErrNoReservation)
	assert.ErrorIs(t, m.Ledger().Release(ctx, userID, 10_000_000, uuid.New()), models.ErrNoReservation)

	// Commit after release (and vice versa) must refuse too.
	txID := uuid.New()
	require.NoError(t, m.Ledger().Reserve(ctx, userID, 10_000_000, txID))
	require.NoError(t, m.Ledger().Release(ctx, userID, 10_000_000, txID))
	assert.ErrorIs(t, m.Ledger().CommitReservation(ctx, userID, 10_000_000, txID), models.ErrNoReservation)
}

func TestBalanceUnknownUserIsZero(t *testing.T) {
	m := NewMemory()
	view, err := m.Ledger().Balance(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, int64(0), view.BalanceMicros)
	assert.Equal(t, int64(0), view.ReservedMicros)
	assert.Equal(t, int64(0), view.AvailableMicros)
}

func TestConcurrentReservationsNeverOversell(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	userID := uuid.New()
	seedBalance(t, m, userID, 100_000_000)

	const attempts = 10
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- m.Ledger().Reserve(ctx, userID, 30_000_000, uuid.New())
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, models.ErrInsufficientFunds)
		}
	}
	assert.Equal(t, 3, succeeded)

	view, err := m.Ledger().Balance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(90_000_000), view.ReservedMicros)
	assert.Equal(t, int64(10_000_000), view.AvailableMicros)
}

func TestUpdateRefusesStaleStatus(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	tx := &models.Transaction{
		ID:          uuid.New(),
		OwnerUserID: uuid.New(),
		Kind:        domain.KindRecharge,
		Channel:     domain.ChannelInstantPayment,
		Status:      domain.StatusPending,
	}
	require.NoError(t, m.Transactions().Create(ctx, tx))

	tx.Status = domain.StatusCompleted
	require.NoError(t, m.Transactions().Update(ctx, tx, domain.StatusPending))

	// Row is no longer pending, a second conditional write must fail.
	tx.Status = domain.StatusRejected
	assert.ErrorIs(t, m.Transactions().Update(ctx, tx, domain.StatusPending), models.ErrInvalidTransition)
}

func TestListFiltersAndPaginates(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	userID := uuid.New()

	for i := 0; i < 5; i++ {
		kind := domain.KindRecharge
		if i%2 == 1 {
			kind = domain.KindWithdrawal
		}
		tx := &models.Transaction{
			ID:          uuid.New(),
			OwnerUserID: userID,
			Kind:        kind,
			Channel:     domain.ChannelBankTransfer,
			Status:      domain.StatusPending,
			CreatedAt:   time.Now().Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, m.Transactions().Create(ctx, tx))
	}
	// Another user's transaction must not leak in.
	require.NoError(t, m.Transactions().Create(ctx, &models.Transaction{
		ID:          uuid.New(),
		OwnerUserID: uuid.New(),
		Kind:        domain.KindRecharge,
		Status:      domain.StatusPending,
	}))

	all, err := m.Transactions().List(ctx, userID, ListFilter{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, all, 5)

	recharges, err := m.Transactions().List(ctx, userID, ListFilter{Kind: domain.KindRecharge, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, recharges, 3)

	page, err := m.Transactions().List(ctx, userID, ListFilter{Limit: 2, Offset: 4})
	require.NoError(t, err)
	assert.Len(t, page, 1)
}

func TestListStaleRechargesSkipsFreshAndTerminal(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	userID := uuid.New()
	cutoff := time.Now().Add(-30 * time.Minute)

	stalePending := &models.Transaction{
		ID: uuid.New(), OwnerUserID: userID, Kind: domain.KindRecharge,
		Status: domain.StatusPending, CreatedAt: time.Now().Add(-time.Hour),
	}
	staleReview := &models.Transaction{
		ID: uuid.New(), OwnerUserID: userID, Kind: domain.KindRecharge,
		Status: domain.StatusManualReview, CreatedAt: time.Now().Add(-2 * time.Hour),
	}
	fresh := &models.Transaction{
		ID: uuid.New(), OwnerUserID: userID, Kind: domain.KindRecharge,
		Status: domain.StatusPending, CreatedAt: time.Now(),
	}
	staleCompleted := &models.Transaction{
		ID: uuid.New(), OwnerUserID: userID, Kind: domain.KindRecharge,
		Status: domain.StatusCompleted, CreatedAt: time.Now().Add(-time.Hour),
	}
	staleWithdrawal := &models.Transaction{
		ID: uuid.New(), OwnerUserID: userID, Kind: domain.KindWithdrawal,
		Status: domain.StatusPending, CreatedAt: time.Now().Add(-time.Hour),
	}
	for _, tx := range []*models.Transaction{stalePending, staleReview, fresh, staleCompleted, staleWithdrawal} {
		require.NoError(t, m.Transactions().Create(ctx, tx))
	}

	stale, err := m.Transactions().ListStaleRecharges(ctx, cutoff, 10)
	require.NoError(t, err)
	ids := make(map[uuid.UUID]bool, len(stale))
	for _, tx := range stale {
		ids[tx.ID] = true
	}
	assert.Len(t, stale, 2)
	assert.True(t, ids[stalePending.ID])
	assert.True(t, ids[staleReview.ID])
}

func TestCountManualReviewCountsRechargesOnly(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	userID := uuid.New()

	mk := func(kind string, status domain.Status) *models.Transaction {
		return &models.Transaction{
			ID: uuid.New(), OwnerUserID: userID, Kind: kind, Status: status,
		}
	}
	require.NoError(t, m.Transactions().Create(ctx, mk(domain.KindRecharge, domain.StatusManualReview)))
	require.NoError(t, m.Transactions().Create(ctx, mk(domain.KindRecharge, domain.StatusManualReview)))
	require.NoError(t, m.Transactions().Create(ctx, mk(domain.KindRecharge, domain.StatusPending)))
	require.NoError(t, m.Transactions().Create(ctx, mk(domain.KindWithdrawal, domain.StatusPending)))

	queued, err := m.Transactions().CountManualReview(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), queued)
}

func TestMonthlyRechargeTotalCountsOpenAndCompleted(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	userID := uuid.New()
	monthStart := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	mk := func(status domain.Status, output int64, created time.Time) *models.Transaction {
		return &models.Transaction{
			ID: uuid.New(), OwnerUserID: userID, Kind: domain.KindRecharge,
			AmountOutputMicros: output, OutputCurrency: domain.CurrencyRIS,
			Status: status, CreatedAt: created,
		}
	}
	inMonth := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	require.NoError(t, m.Transactions().Create(ctx, mk(domain.StatusCompleted, 10_000_000, inMonth)))
	require.NoError(t, m.Transactions().Create(ctx, mk(domain.StatusPending, 5_000_000, inMonth)))
	require.NoError(t, m.Transactions().Create(ctx, mk(domain.StatusManualReview, 3_000_000, inMonth)))
	// Rejected, expired and prior-month recharges do not count.
	require.NoError(t, m.Transactions().Create(ctx, mk(domain.StatusRejected, 7_000_000, inMonth)))
	require.NoError(t, m.Transactions().Create(ctx, mk(domain.StatusExpired, 7_000_000, inMonth)))
	require.NoError(t, m.Transactions().Create(ctx, mk(domain.StatusCompleted, 9_000_000, monthStart.Add(-time.Hour))))

	total, err := m.Transactions().MonthlyRechargeTotal(ctx, userID, monthStart)
	require.NoError(t, err)
	assert.Equal(t, int64(18_000_000), total)
}

func TestReservationDriftDetection(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	userID := uuid.New()
	seedBalance(t, m, userID, 100_000_000)
	require.NoError(t, m.Ledger().Reserve(ctx, userID, 40_000_000, uuid.New()))

	drifts, err := m.Ledger().ReservationDrift(ctx)
	require.NoError(t, err)
	assert.Empty(t, drifts)

	// Corrupt the reserved column directly, the way a bad manual fix would.
	m.mu.Lock()
	m.balances[userID].reservedMicros = 55_000_000
	m.mu.Unlock()

	drifts, err = m.Ledger().ReservationDrift(ctx)
	require.NoError(t, err)
	require.Len(t, drifts, 1)
	assert.Equal(t, userID, drifts[0].UserID)
	assert.Equal(t, int64(55_000_000), drifts[0].ReservedMicros)
	assert.Equal(t, int64(40_000_000), drifts[0].OpenReservationsSum)
}

func TestRunInTxNests(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	userID := uuid.New()

	err := m.RunInTx(ctx, func(st Store) error {
		if err := st.Ledger().Credit(ctx, userID, 10_000_000, uuid.New()); err != nil {
			return err
		}
		return st.RunInTx(ctx, func(inner Store) error {
			return inner.Ledger().Credit(ctx, userID, 5_000_000, uuid.New())
		})
	})
	require.NoError(t, err)

	view, err := m.Ledger().Balance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(15_000_000), view.BalanceMicros)
}
