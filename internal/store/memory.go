package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/riscambio/riscambio/internal/domain"
	"github.com/riscambio/riscambio/internal/models"
)

// Memory is an in-process Store used by tests and local development. A
// single mutex serializes every operation, so RunInTx gives the same
// serialization guarantees as the Postgres store; it does not undo partial
// writes, which is why pipelines validate before they mutate.
type Memory struct {
	mu          sync.Mutex
	balances    map[uuid.UUID]*memBalance
	adjustments map[uuid.UUID]map[string]memAdjustment
	txs         map[uuid.UUID]*models.Transaction
	history     []models.StatusChange
	nextHistID  int64
}

type memBalance struct {
	balanceMicros  int64
	reservedMicros int64
}

type memAdjustment struct {
	userID       uuid.UUID
	amountMicros int64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		balances:    make(map[uuid.UUID]*memBalance),
		adjustments: make(map[uuid.UUID]map[string]memAdjustment),
		txs:         make(map[uuid.UUID]*models.Transaction),
		nextHistID:  1,
	}
}

func (m *Memory) Ledger() Ledger             { return lockedView{m} }
func (m *Memory) Transactions() Transactions { return lockedView{m} }

// RunInTx serializes fn under the store mutex.
func (m *Memory) RunInTx(ctx context.Context, fn func(Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(txView{m})
}

// lockedView is the top-level access path: every call takes the store mutex.
type lockedView struct{ m *Memory }

func (v lockedView) Ledger() Ledger             { return v }
func (v lockedView) Transactions() Transactions { return v }

func (v lockedView) Reserve(ctx context.Context, userID uuid.UUID, amountMicros int64, txID uuid.UUID) error {
	v.m.mu.Lock()
	defer v.m.mu.Unlock()
	return v.m.reserve(userID, amountMicros, txID)
}

func (v lockedView) Credit(ctx context.Context, userID uuid.UUID, amountMicros int64, txID uuid.UUID) error {
	v.m.mu.Lock()
	defer v.m.mu.Unlock()
	return v.m.credit(userID, amountMicros, txID)
}

func (v lockedView) Release(ctx context.Context, userID uuid.UUID, amountMicros int64, txID uuid.UUID) error {
	v.m.mu.Lock()
	defer v.m.mu.Unlock()
	return v.m.release(userID, amountMicros, txID)
}

func (v lockedView) CommitReservation(ctx context.Context, userID uuid.UUID, amountMicros int64, txID uuid.UUID) error {
	v.m.mu.Lock()
	defer v.m.mu.Unlock()
	return v.m.commitReservation(userID, amountMicros, txID)
}

func (v lockedView) Balance(ctx context.Context, userID uuid.UUID) (models.BalanceView, error) {
	v.m.mu.Lock()
	defer v.m.mu.Unlock()
	return v.m.balanceView(userID), nil
}

func (v lockedView) ReservationDrift(ctx context.Context) ([]Drift, error) {
	v.m.mu.Lock()
	defer v.m.mu.Unlock()
	return v.m.reservationDrift(), nil
}

func (v lockedView) Create(ctx context.Context, tx *models.Transaction) error {
	v.m.mu.Lock()
	defer v.m.mu.Unlock()
	return v.m.createTx(tx)
}

func (v lockedView) Get(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	v.m.mu.Lock()
	defer v.m.mu.Unlock()
	return v.m.getTx(id)
}

func (v lockedView) Update(ctx context.Context, tx *models.Transaction, expected domain.Status) error {
	v.m.mu.Lock()
	defer v.m.mu.Unlock()
	return v.m.updateTx(tx, expected)
}

func (v lockedView) AppendHistory(ctx context.Context, change models.StatusChange) error {
	v.m.mu.Lock()
	defer v.m.mu.Unlock()
	v.m.appendHistory(change)
	return nil
}

func (v lockedView) History(ctx context.Context, txID uuid.UUID) ([]models.StatusChange, error) {
	v.m.mu.Lock()
	defer v.m.mu.Unlock()
	return v.m.historyFor(txID), nil
}

func (v lockedView) List(ctx context.Context, userID uuid.UUID, filter ListFilter) ([]models.Transaction, error) {
	v.m.mu.Lock()
	defer v.m.mu.Unlock()
	return v.m.listTx(userID, filter), nil
}

func (v lockedView) MonthlyRechargeTotal(ctx context.Context, userID uuid.UUID, from time.Time) (int64, error) {
	v.m.mu.Lock()
	defer v.m.mu.Unlock()
	return v.m.monthlyRechargeTotal(userID, from), nil
}

func (v lockedView) ListStaleRecharges(ctx context.Context, cutoff time.Time, limit int32) ([]models.Transaction, error) {
	v.m.mu.Lock()
	defer v.m.mu.Unlock()
	return v.m.listStale(cutoff, limit), nil
}

func (v lockedView) CountManualReview(ctx context.Context) (int64, error) {
	v.m.mu.Lock()
	defer v.m.mu.Unlock()
	return v.m.countManualReview(), nil
}

func (v lockedView) RunInTx(ctx context.Context, fn func(Store) error) error {
	return v.m.RunInTx(ctx, fn)
}

// txView runs inside RunInTx where the mutex is already held.
type txView struct{ m *Memory }

func (v txView) Ledger() Ledger             { return v }
func (v txView) Transactions() Transactions { return v }
func (v txView) RunInTx(ctx context.Context, fn func(Store) error) error {
	return fn(v)
}

func (v txView) Reserve(ctx context.Context, userID uuid.UUID, amountMicros int64, txID uuid.UUID) error {
	return v.m.reserve(userID, amountMicros, txID)
}
func (v txView) Credit(ctx context.Context, userID uuid.UUID, amountMicros int64, txID uuid.UUID) error {
	return v.m.credit(userID, amountMicros, txID)
}
func (v txView) Release(ctx context.Context, userID uuid.UUID, amountMicros int64, txID uuid.UUID) error {
	return v.m.release(userID, amountMicros, txID)
}
func (v txView) CommitReservation(ctx context.Context, userID uuid.UUID, amountMicros int64, txID uuid.UUID) error {
	return v.m.commitReservation(userID, amountMicros, txID)
}
func (v txView) Balance(ctx context.Context, userID uuid.UUID) (models.BalanceView, error) {
	return v.m.balanceView(userID), nil
}
func (v txView) ReservationDrift(ctx context.Context) ([]Drift, error) {
	return v.m.reservationDrift(), nil
}
func (v txView) Create(ctx context.Context, tx *models.Transaction) error {
	return v.m.createTx(tx)
}
func (v txView) Get(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	return v.m.getTx(id)
}
func (v txView) Update(ctx context.Context, tx *models.Transaction, expected domain.Status) error {
	return v.m.updateTx(tx, expected)
}
func (v txView) AppendHistory(ctx context.Context, change models.StatusChange) error {
	v.m.appendHistory(change)
	return nil
}
func (v txView) History(ctx context.Context, txID uuid.UUID) ([]models.StatusChange, error) {
	return v.m.historyFor(txID), nil
}
func (v txView) List(ctx context.Context, userID uuid.UUID, filter ListFilter) ([]models.Transaction, error) {
	return v.m.listTx(userID, filter), nil
}
func (v txView) MonthlyRechargeTotal(ctx context.Context, userID uuid.UUID, from time.Time) (int64, error) {
	return v.m.monthlyRechargeTotal(userID, from), nil
}
func (v txView) ListStaleRecharges(ctx context.Context, cutoff time.Time, limit int32) ([]models.Transaction, error) {
	return v.m.listStale(cutoff, limit), nil
}
func (v txView) CountManualReview(ctx context.Context) (int64, error) {
	return v.m.countManualReview(), nil
}

func (m *Memory) balance(userID uuid.UUID) *memBalance {
	b, ok := m.balances[userID]
	if !ok {
		b = &memBalance{}
		m.balances[userID] = b
	}
	return b
}

func (m *Memory) applied(txID uuid.UUID, op string) bool {
	_, ok := m.adjustments[txID][op]
	return ok
}

func (m *Memory) record(txID uuid.UUID, op string, userID uuid.UUID, amountMicros int64) {
	ops, ok := m.adjustments[txID]
	if !ok {
		ops = make(map[string]memAdjustment)
		m.adjustments[txID] = ops
	}
	ops[op] = memAdjustment{userID: userID, amountMicros: amountMicros}
}

func (m *Memory) reserve(userID uuid.UUID, amountMicros int64, txID uuid.UUID) error {
	if m.applied(txID, opReserve) {
		return models.ErrAlreadyApplied
	}
	b := m.balance(userID)
	if b.balanceMicros-b.reservedMicros < amountMicros {
		return models.ErrInsufficientFunds
	}
	m.record(txID, opReserve, userID, amountMicros)
	b.reservedMicros += amountMicros
	return nil
}

func (m *Memory) credit(userID uuid.UUID, amountMicros int64, txID uuid.UUID) error {
	if m.applied(txID, opCredit) {
		return models.ErrAlreadyApplied
	}
	m.record(txID, opCredit, userID, amountMicros)
	m.balance(userID).balanceMicros += amountMicros
	return nil
}

func (m *Memory) release(userID uuid.UUID, amountMicros int64, txID uuid.UUID) error {
	if !m.applied(txID, opReserve) || m.applied(txID, opCommit) {
		return models.ErrNoReservation
	}
	if m.applied(txID, opRelease) {
		return models.ErrAlreadyApplied
	}
	m.record(txID, opRelease, userID, amountMicros)
	m.balance(userID).reservedMicros -= amountMicros
	return nil
}

func (m *Memory) commitReservation(userID uuid.UUID, amountMicros int64, txID uuid.UUID) error {
	if !m.applied(txID, opReserve) || m.applied(txID, opRelease) {
		return models.ErrNoReservation
	}
	if m.applied(txID, opCommit) {
		return models.ErrAlreadyApplied
	}
	m.record(txID, opCommit, userID, amountMicros)
	b := m.balance(userID)
	b.balanceMicros -= amountMicros
	b.reservedMicros -= amountMicros
	return nil
}

func (m *Memory) balanceView(userID uuid.UUID) models.BalanceView {
	b, ok := m.balances[userID]
	if !ok {
		return models.BalanceView{UserID: userID}
	}
	return models.BalanceView{
		UserID:          userID,
		BalanceMicros:   b.balanceMicros,
		ReservedMicros:  b.reservedMicros,
		AvailableMicros: b.balanceMicros - b.reservedMicros,
	}
}

func (m *Memory) reservationDrift() []Drift {
	open := make(map[uuid.UUID]int64)
	for _, ops := range m.adjustments {
		res, ok := ops[opReserve]
		if !ok {
			continue
		}
		if _, committed := ops[opCommit]; committed {
			continue
		}
		if _, released := ops[opRelease]; released {
			continue
		}
		open[res.userID] += res.amountMicros
	}
	var drifts []Drift
	for userID, b := range m.balances {
		if b.reservedMicros != open[userID] {
			drifts = append(drifts, Drift{
				UserID:              userID,
				ReservedMicros:      b.reservedMicros,
				OpenReservationsSum: open[userID],
			})
		}
	}
	return drifts
}

func (m *Memory) createTx(tx *models.Transaction) error {
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now()
	}
	cp := cloneTx(tx)
	m.txs[tx.ID] = cp
	return nil
}

func (m *Memory) getTx(id uuid.UUID) (*models.Transaction, error) {
	tx, ok := m.txs[id]
	if !ok {
		return nil, models.ErrTransactionNotFound
	}
	return cloneTx(tx), nil
}

func (m *Memory) updateTx(tx *models.Transaction, expected domain.Status) error {
	current, ok := m.txs[tx.ID]
	if !ok || current.Status != expected {
		return models.ErrInvalidTransition
	}
	cp := cloneTx(tx)
	cp.CreatedAt = current.CreatedAt
	m.txs[tx.ID] = cp
	return nil
}

func (m *Memory) appendHistory(change models.StatusChange) {
	change.ID = m.nextHistID
	m.nextHistID++
	if change.CreatedAt.IsZero() {
		change.CreatedAt = time.Now()
	}
	m.history = append(m.history, change)
}

func (m *Memory) historyFor(txID uuid.UUID) []models.StatusChange {
	var out []models.StatusChange
	for _, c := range m.history {
		if c.TransactionID == txID {
			out = append(out, c)
		}
	}
	return out
}

func (m *Memory) listTx(userID uuid.UUID, filter ListFilter) []models.Transaction {
	var out []models.Transaction
	for _, tx := range m.txs {
		if tx.OwnerUserID != userID {
			continue
		}
		if filter.Kind != "" && tx.Kind != filter.Kind {
			continue
		}
		if filter.Status != "" && tx.Status != filter.Status {
			continue
		}
		out = append(out, *cloneTx(tx))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	start := int(filter.Offset)
	if start > len(out) {
		start = len(out)
	}
	end := start + int(limit)
	if end > len(out) {
		end = len(out)
	}
	return out[start:end]
}

func (m *Memory) monthlyRechargeTotal(userID uuid.UUID, from time.Time) int64 {
	var total int64
	for _, tx := range m.txs {
		if tx.OwnerUserID != userID || tx.Kind != domain.KindRecharge {
			continue
		}
		if tx.CreatedAt.Before(from) {
			continue
		}
		switch tx.Status {
		case domain.StatusPending, domain.StatusManualReview, domain.StatusCompleted:
			total += tx.AmountOutputMicros
		}
	}
	return total
}

func (m *Memory) listStale(cutoff time.Time, limit int32) []models.Transaction {
	var out []models.Transaction
	for _, tx := range m.txs {
		if tx.Kind != domain.KindRecharge {
			continue
		}
		if tx.Status != domain.StatusPending && tx.Status != domain.StatusManualReview {
			continue
		}
		if !tx.CreatedAt.Before(cutoff) {
			continue
		}
		out = append(out, *cloneTx(tx))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && int(limit) < len(out) {
		out = out[:limit]
	}
	return out
}

func (m *Memory) countManualReview() int64 {
	var n int64
	for _, tx := range m.txs {
		if tx.Kind == domain.KindRecharge && tx.Status == domain.StatusManualReview {
			n++
		}
	}
	return n
}

// Backdate rewrites a transaction's creation time. Test hook for aging
// records past expiry windows; CreatedAt is otherwise immutable.
func (m *Memory) Backdate(ctx context.Context, txID uuid.UUID, createdAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.txs[txID]
	if !ok {
		return models.ErrTransactionNotFound
	}
	tx.CreatedAt = createdAt
	return nil
}

func cloneTx(tx *models.Transaction) *models.Transaction {
	cp := *tx
	if tx.Beneficiary != nil {
		b := *tx.Beneficiary
		cp.Beneficiary = &b
	}
	if tx.DecidedAt != nil {
		t := *tx.DecidedAt
		cp.DecidedAt = &t
	}
	return &cp
}
