package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riscambio/riscambio/internal/domain"
	"github.com/riscambio/riscambio/internal/models"
	"github.com/riscambio/riscambio/internal/notify"
	"github.com/riscambio/riscambio/internal/rates"
	"github.com/riscambio/riscambio/internal/service"
	"github.com/riscambio/riscambio/internal/store"
)

type fakeGateway struct {
	mu    sync.Mutex
	refs  map[uuid.UUID]string
	calls int
	fail  error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{refs: make(map[uuid.UUID]string)}
}

func (g *fakeGateway) RegisterCharge(ctx context.Context, txID uuid.UUID, amountMicros int64) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fail != nil {
		return "", g.fail
	}
	g.calls++
	ref := "PIX-TEST-" + txID.String()[:8]
	g.refs[txID] = ref
	return ref, nil
}

type eventRecorder struct {
	mu     sync.Mutex
	events []notify.StatusEvent
}

func (r *eventRecorder) PublishStatusEvent(ctx context.Context, event notify.StatusEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *eventRecorder) Close() {}

func (r *eventRecorder) all() []notify.StatusEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.StatusEvent(nil), r.events...)
}

func testRates() rates.Static {
	return rates.Static{Snapshot: domain.RateSnapshot{
		RisToVes:   decimal.RequireFromString("100"),
		VesToRis:   decimal.RequireFromString("0.01"),
		RisToBrl:   decimal.RequireFromString("1"),
		CapturedAt: time.Now().UTC(),
	}}
}

type rechargeFixture struct {
	store    *store.Memory
	gateway  *fakeGateway
	events   *eventRecorder
	recharge *service.RechargeService
}

func newRechargeFixture(limits service.Limits) *rechargeFixture {
	mem := store.NewMemory()
	gw := newFakeGateway()
	events := &eventRecorder{}
	return &rechargeFixture{
		store:    mem,
		gateway:  gw,
		events:   events,
		recharge: service.NewRechargeService(mem, testRates(), gw, events, limits),
	}
}

func TestCreateRechargeInstantPayment(t *testing.T) {
	ctx := context.Background()
	f := newRechargeFixture(service.DefaultLimits())
	userID := uuid.New()

	tx, err := f.recharge.Create(ctx, service.CreateRechargeRequest{
		UserID:       userID,
		AmountMicros: 50_000_000, // 50 BRL
		Channel:      domain.ChannelInstantPayment,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusPending, tx.Status)
	assert.Equal(t, domain.CurrencyBRL, tx.InputCurrency)
	assert.Equal(t, int64(50_000_000), tx.AmountOutputMicros) // 50 RIS at ris_to_brl = 1
	assert.Equal(t, domain.CurrencyRIS, tx.OutputCurrency)
	assert.NotEmpty(t, tx.GatewayReference)

	// No balance effect before confirmation.
	view, err := f.store.Ledger().Balance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), view.BalanceMicros)

	history, err := f.store.Transactions().History(ctx, tx.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.StatusPending, history[0].NextStatus)
	assert.Equal(t, userID.String(), history[0].Actor)
}

func TestCreateRechargeBankTransferConvertsVES(t *testing.T) {
	ctx := context.Background()
	f := newRechargeFixture(service.DefaultLimits())

	tx, err := f.recharge.Create(ctx, service.CreateRechargeRequest{
		UserID:       uuid.New(),
		AmountMicros: 100_000_000, // 100 VES
		Channel:      domain.ChannelBankTransfer,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.CurrencyVES, tx.InputCurrency)
	assert.Equal(t, int64(1_000_000), tx.AmountOutputMicros) // 1 RIS at ves_to_ris = 0.01
	assert.Empty(t, tx.GatewayReference)
	assert.Equal(t, 0, f.gateway.calls)
}

func TestCreateRechargeValidation(t *testing.T) {
	ctx := context.Background()
	f := newRechargeFixture(service.DefaultLimits())
	userID := uuid.New()

	_, err := f.recharge.Create(ctx, service.CreateRechargeRequest{UserID: userID, AmountMicros: 10_000_000, Channel: "carrier_pigeon"})
	assert.True(t, models.IsValidation(err))

	// Below the 10 BRL floor.
	_, err = f.recharge.Create(ctx, service.CreateRechargeRequest{UserID: userID, AmountMicros: 9_000_000, Channel: domain.ChannelInstantPayment})
	assert.True(t, models.IsValidation(err))

	// Above the 5000 BRL cap.
	_, err = f.recharge.Create(ctx, service.CreateRechargeRequest{UserID: userID, AmountMicros: 5_001_000_000, Channel: domain.ChannelInstantPayment})
	assert.True(t, models.IsValidation(err))

	_, err = f.recharge.Create(ctx, service.CreateRechargeRequest{UserID: userID, AmountMicros: 0, Channel: domain.ChannelInstantPayment})
	assert.True(t, models.IsValidation(err))

	_, err = f.recharge.Create(ctx, service.CreateRechargeRequest{UserID: uuid.Nil, AmountMicros: 10_000_000, Channel: domain.ChannelInstantPayment})
	assert.True(t, models.IsValidation(err))
}

func TestCreateRechargeMonthlyCeiling(t *testing.T) {
	ctx := context.Background()
	limits := service.DefaultLimits()
	limits.MonthlyRechargeCeilingMicros = 60_000_000 // 60 RIS
	f := newRechargeFixture(limits)
	userID := uuid.New()

	_, err := f.recharge.Create(ctx, service.CreateRechargeRequest{
		UserID: userID, AmountMicros: 40_000_000, Channel: domain.ChannelInstantPayment,
	})
	require.NoError(t, err)

	// Pending recharges count toward the ceiling, so 40 + 30 > 60 fails.
	_, err = f.recharge.Create(ctx, service.CreateRechargeRequest{
		UserID: userID, AmountMicros: 30_000_000, Channel: domain.ChannelInstantPayment,
	})
	assert.True(t, models.IsValidation(err))

	// Another user is unaffected.
	_, err = f.recharge.Create(ctx, service.CreateRechargeRequest{
		UserID: uuid.New(), AmountMicros: 30_000_000, Channel: domain.ChannelInstantPayment,
	})
	assert.NoError(t, err)
}

func TestCreateRechargeGatewayFailureLeavesNoRecord(t *testing.T) {
	ctx := context.Background()
	f := newRechargeFixture(service.DefaultLimits())
	f.gateway.fail = errors.New("gateway down")
	userID := uuid.New()

	_, err := f.recharge.Create(ctx, service.CreateRechargeRequest{
		UserID: userID, AmountMicros: 50_000_000, Channel: domain.ChannelInstantPayment,
	})
	require.Error(t, err)

	txs, err := f.store.Transactions().List(ctx, userID, store.ListFilter{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestConfirmAutomaticCreditsOnce(t *testing.T) {
	ctx := context.Background()
	f := newRechargeFixture(service.DefaultLimits())
	userID := uuid.New()

	tx, err := f.recharge.Create(ctx, service.CreateRechargeRequest{
		UserID: userID, AmountMicros: 50_000_000, Channel: domain.ChannelInstantPayment,
	})
	require.NoError(t, err)

	confirmed, err := f.recharge.ConfirmAutomatic(ctx, tx.ID, tx.GatewayReference)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, confirmed.Status)
	assert.Equal(t, domain.ActorSystem, confirmed.DecidedBy)
	require.NotNil(t, confirmed.DecidedAt)

	view, err := f.store.Ledger().Balance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(50_000_000), view.BalanceMicros)

	// A duplicate delivery replays the result without a second credit.
	replayed, err := f.recharge.ConfirmAutomatic(ctx, tx.ID, tx.GatewayReference)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, replayed.Status)

	view, err = f.store.Ledger().Balance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(50_000_000), view.BalanceMicros)

	// Exactly one completion event was published.
	completed := 0
	for _, e := range f.events.all() {
		if e.NextStatus == domain.StatusCompleted {
			completed++
		}
	}
	assert.Equal(t, 1, completed)
}

func TestConfirmAutomaticReferenceMismatch(t *testing.T) {
	ctx := context.Background()
	f := newRechargeFixture(service.DefaultLimits())
	userID := uuid.New()

	tx, err := f.recharge.Create(ctx, service.CreateRechargeRequest{
		UserID: userID, AmountMicros: 50_000_000, Channel: domain.ChannelInstantPayment,
	})
	require.NoError(t, err)

	_, err = f.recharge.ConfirmAutomatic(ctx, tx.ID, "PIX-WRONG-REF")
	assert.ErrorIs(t, err, models.ErrGatewayReferenceMismatch)

	got, err := f.store.Transactions().Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)
}

func TestConfirmAutomaticRejectsBankTransfer(t *testing.T) {
	ctx := context.Background()
	f := newRechargeFixture(service.DefaultLimits())

	tx, err := f.recharge.Create(ctx, service.CreateRechargeRequest{
		UserID: uuid.New(), AmountMicros: 100_000_000, Channel: domain.ChannelBankTransfer,
	})
	require.NoError(t, err)

	_, err = f.recharge.ConfirmAutomatic(ctx, tx.ID, "anything")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestAttachProofMovesToManualReview(t *testing.T) {
	ctx := context.Background()
	f := newRechargeFixture(service.DefaultLimits())
	userID := uuid.New()

	tx, err := f.recharge.Create(ctx, service.CreateRechargeRequest{
		UserID: userID, AmountMicros: 100_000_000, Channel: domain.ChannelBankTransfer,
	})
	require.NoError(t, err)

	updated, err := f.recharge.AttachProof(ctx, tx.ID, userID, "bank-slip-42")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusManualReview, updated.Status)
	assert.Equal(t, "bank-slip-42", updated.ProofReference)

	// Attaching again is no longer pending.
	_, err = f.recharge.AttachProof(ctx, tx.ID, userID, "bank-slip-43")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	// Another user cannot touch it.
	_, err = f.recharge.AttachProof(ctx, tx.ID, uuid.New(), "bank-slip-44")
	assert.ErrorIs(t, err, models.ErrTransactionNotFound)
}

func TestDecideManualApproveCreditsLedger(t *testing.T) {
	ctx := context.Background()
	f := newRechargeFixture(service.DefaultLimits())
	userID := uuid.New()

	tx, err := f.recharge.Create(ctx, service.CreateRechargeRequest{
		UserID: userID, AmountMicros: 100_000_000, Channel: domain.ChannelBankTransfer,
	})
	require.NoError(t, err)
	_, err = f.recharge.AttachProof(ctx, tx.ID, userID, "bank-slip-42")
	require.NoError(t, err)

	decided, err := f.recharge.DecideManual(ctx, tx.ID, true, "admin-1", "looks good")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, decided.Status)
	assert.Equal(t, "admin-1", decided.DecidedBy)

	view, err := f.store.Ledger().Balance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), view.BalanceMicros) // 100 VES -> 1 RIS

	// A second decision on a terminal transaction is an error, not a replay.
	_, err = f.recharge.DecideManual(ctx, tx.ID, true, "admin-2", "again")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	view, err = f.store.Ledger().Balance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), view.BalanceMicros)
}

func TestDecideManualRejectNeedsReason(t *testing.T) {
	ctx := context.Background()
	f := newRechargeFixture(service.DefaultLimits())
	userID := uuid.New()

	tx, err := f.recharge.Create(ctx, service.CreateRechargeRequest{
		UserID: userID, AmountMicros: 100_000_000, Channel: domain.ChannelBankTransfer,
	})
	require.NoError(t, err)
	_, err = f.recharge.AttachProof(ctx, tx.ID, userID, "bank-slip-42")
	require.NoError(t, err)

	_, err = f.recharge.DecideManual(ctx, tx.ID, false, "admin-1", "")
	assert.True(t, models.IsValidation(err))

	decided, err := f.recharge.DecideManual(ctx, tx.ID, false, "admin-1", "proof unreadable")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, decided.Status)
	assert.Equal(t, "proof unreadable", decided.RejectionReason)

	// Rejection never credits.
	view, err := f.store.Ledger().Balance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), view.BalanceMicros)
}

func TestDecideManualRequiresManualReview(t *testing.T) {
	ctx := context.Background()
	f := newRechargeFixture(service.DefaultLimits())

	tx, err := f.recharge.Create(ctx, service.CreateRechargeRequest{
		UserID: uuid.New(), AmountMicros: 100_000_000, Channel: domain.ChannelBankTransfer,
	})
	require.NoError(t, err)

	_, err = f.recharge.DecideManual(ctx, tx.ID, true, "admin-1", "")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestExpireStaleNeverCredits(t *testing.T) {
	ctx := context.Background()
	f := newRechargeFixture(service.DefaultLimits())
	userID := uuid.New()

	stale, err := f.recharge.Create(ctx, service.CreateRechargeRequest{
		UserID: userID, AmountMicros: 100_000_000, Channel: domain.ChannelBankTransfer,
	})
	require.NoError(t, err)
	fresh, err := f.recharge.Create(ctx, service.CreateRechargeRequest{
		UserID: userID, AmountMicros: 200_000_000, Channel: domain.ChannelBankTransfer,
	})
	require.NoError(t, err)

	// Backdate the first one past the window.
	backdate(t, f.store, stale.ID, time.Now().Add(-time.Hour))

	count, err := f.recharge.ExpireStale(ctx, 30*time.Minute, 50)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := f.store.Transactions().Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, got.Status)
	assert.Equal(t, domain.ActorSystem, got.DecidedBy)

	untouched, err := f.store.Transactions().Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, untouched.Status)

	view, err := f.store.Ledger().Balance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), view.BalanceMicros)

	// A second sweep finds nothing.
	count, err = f.recharge.ExpireStale(ctx, 30*time.Minute, 50)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

// backdate rewrites a transaction's creation time through the store's own
// conditional update so expiry tests can age records.
func backdate(t *testing.T, mem *store.Memory, txID uuid.UUID, createdAt time.Time) {
	t.Helper()
	ctx := context.Background()
	tx, err := mem.Transactions().Get(ctx, txID)
	require.NoError(t, err)
	require.NoError(t, mem.Backdate(ctx, tx.ID, createdAt))
}
