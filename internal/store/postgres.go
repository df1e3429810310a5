package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/riscambio/riscambio/internal/domain"
	"github.com/riscambio/riscambio/internal/models"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx so the same query
// code runs inside and outside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres is the production Store backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
	q    querier
}

// NewPostgres creates a Postgres store around a connection pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool, q: pool}
}

func (s *Postgres) Ledger() Ledger             { return &pgLedger{q: s.q} }
func (s *Postgres) Transactions() Transactions { return &pgTransactions{q: s.q} }

// RunInTx executes fn within a database transaction. Nested calls reuse the
// enclosing transaction.
func (s *Postgres) RunInTx(ctx context.Context, fn func(Store) error) error {
	if s.pool == nil {
		return fn(s)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&Postgres{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type pgLedger struct {
	q querier
}

const (
	opReserve = "reserve"
	opCredit  = "credit"
	opCommit  = "commit"
	opRelease = "release"
)

func (l *pgLedger) recordAdjustment(ctx context.Context, txID uuid.UUID, op string, userID uuid.UUID, amountMicros int64) error {
	tag, err := l.q.Exec(ctx, `
		INSERT INTO ledger_adjustments (transaction_id, op, user_id, amount_micros, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (transaction_id, op) DO NOTHING`,
		txID, op, userID, amountMicros)
	if err != nil {
		return fmt.Errorf("record %s adjustment: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrAlreadyApplied
	}
	return nil
}

func (l *pgLedger) adjustmentOps(ctx context.Context, txID uuid.UUID) (map[string]struct{}, error) {
	rows, err := l.q.Query(ctx, `SELECT op FROM ledger_adjustments WHERE transaction_id = $1`, txID)
	if err != nil {
		return nil, fmt.Errorf("load adjustments: %w", err)
	}
	defer rows.Close()

	ops := make(map[string]struct{})
	for rows.Next() {
		var op string
		if err := rows.Scan(&op); err != nil {
			return nil, fmt.Errorf("scan adjustment op: %w", err)
		}
		ops[op] = struct{}{}
	}
	return ops, rows.Err()
}

func (l *pgLedger) ensureBalanceRow(ctx context.Context, userID uuid.UUID) error {
	_, err := l.q.Exec(ctx, `
		INSERT INTO balances (user_id, balance_micros, reserved_micros)
		VALUES ($1, 0, 0)
		ON CONFLICT (user_id) DO NOTHING`, userID)
	if err != nil {
		return fmt.Errorf("ensure balance row: %w", err)
	}
	return nil
}

func (l *pgLedger) Reserve(ctx context.Context, userID uuid.UUID, amountMicros int64, txID uuid.UUID) error {
	if err := l.ensureBalanceRow(ctx, userID); err != nil {
		return err
	}
	if err := l.recordAdjustment(ctx, txID, opReserve, userID, amountMicros); err != nil {
		return err
	}
	tag, err := l.q.Exec(ctx, `
		UPDATE balances
		SET reserved_micros = reserved_micros + $1
		WHERE user_id = $2 AND balance_micros - reserved_micros >= $1`,
		amountMicros, userID)
	if err != nil {
		return fmt.Errorf("reserve funds: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrInsufficientFunds
	}
	return nil
}

func (l *pgLedger) Credit(ctx context.Context, userID uuid.UUID, amountMicros int64, txID uuid.UUID) error {
	if err := l.recordAdjustment(ctx, txID, opCredit, userID, amountMicros); err != nil {
		return err
	}
	_, err := l.q.Exec(ctx, `
		INSERT INTO balances (user_id, balance_micros, reserved_micros)
		VALUES ($1, $2, 0)
		ON CONFLICT (user_id) DO UPDATE SET balance_micros = balances.balance_micros + EXCLUDED.balance_micros`,
		userID, amountMicros)
	if err != nil {
		return fmt.Errorf("credit funds: %w", err)
	}
	return nil
}

func (l *pgLedger) Release(ctx context.Context, userID uuid.UUID, amountMicros int64, txID uuid.UUID) error {
	ops, err := l.adjustmentOps(ctx, txID)
	if err != nil {
		return err
	}
	if _, ok := ops[opReserve]; !ok {
		return models.ErrNoReservation
	}
	if _, ok := ops[opCommit]; ok {
		return models.ErrNoReservation
	}
	if err := l.recordAdjustment(ctx, txID, opRelease, userID, amountMicros); err != nil {
		return err
	}
	tag, err := l.q.Exec(ctx, `
		UPDATE balances
		SET reserved_micros = reserved_micros - $1
		WHERE user_id = $2 AND reserved_micros >= $1`,
		amountMicros, userID)
	if err != nil {
		return fmt.Errorf("release funds: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("release for user %s: reservation total below %d", userID, amountMicros)
	}
	return nil
}

func (l *pgLedger) CommitReservation(ctx context.Context, userID uuid.UUID, amountMicros int64, txID uuid.UUID) error {
	ops, err := l.adjustmentOps(ctx, txID)
	if err != nil {
		return err
	}
	if _, ok := ops[opReserve]; !ok {
		return models.ErrNoReservation
	}
	if _, ok := ops[opRelease]; ok {
		return models.ErrNoReservation
	}
	if err := l.recordAdjustment(ctx, txID, opCommit, userID, amountMicros); err != nil {
		return err
	}
	tag, err := l.q.Exec(ctx, `
		UPDATE balances
		SET balance_micros = balance_micros - $1,
		    reserved_micros = reserved_micros - $1
		WHERE user_id = $2 AND reserved_micros >= $1 AND balance_micros >= $1`,
		amountMicros, userID)
	if err != nil {
		return fmt.Errorf("commit reservation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("commit reservation for user %s: balance state inconsistent", userID)
	}
	return nil
}

func (l *pgLedger) Balance(ctx context.Context, userID uuid.UUID) (models.BalanceView, error) {
	view := models.BalanceView{UserID: userID}
	err := l.q.QueryRow(ctx, `
		SELECT balance_micros, reserved_micros FROM balances WHERE user_id = $1`,
		userID).Scan(&view.BalanceMicros, &view.ReservedMicros)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return view, nil
		}
		return view, fmt.Errorf("read balance: %w", err)
	}
	view.AvailableMicros = view.BalanceMicros - view.ReservedMicros
	return view, nil
}

func (l *pgLedger) ReservationDrift(ctx context.Context) ([]Drift, error) {
	rows, err := l.q.Query(ctx, `
		SELECT b.user_id, b.reserved_micros, COALESCE(open.total, 0)
		FROM balances b
		LEFT JOIN (
			SELECT r.user_id, SUM(r.amount_micros) AS total
			FROM ledger_adjustments r
			WHERE r.op = 'reserve'
			  AND NOT EXISTS (
				SELECT 1 FROM ledger_adjustments f
				WHERE f.transaction_id = r.transaction_id AND f.op IN ('commit', 'release')
			  )
			GROUP BY r.user_id
		) open ON open.user_id = b.user_id
		WHERE b.reserved_micros <> COALESCE(open.total, 0)`)
	if err != nil {
		return nil, fmt.Errorf("query reservation drift: %w", err)
	}
	defer rows.Close()

	var drifts []Drift
	for rows.Next() {
		var d Drift
		if err := rows.Scan(&d.UserID, &d.ReservedMicros, &d.OpenReservationsSum); err != nil {
			return nil, fmt.Errorf("scan drift row: %w", err)
		}
		drifts = append(drifts, d)
	}
	return drifts, rows.Err()
}

type pgTransactions struct {
	q querier
}

const transactionColumns = `id, owner_user_id, kind, channel, amount_input_micros, input_currency,
	amount_output_micros, output_currency, rate_ris_to_ves, rate_ves_to_ris, rate_ris_to_brl,
	rate_captured_at, beneficiary, gateway_reference, proof_reference, status, created_at,
	decided_at, decided_by, rejection_reason`

func (r *pgTransactions) Create(ctx context.Context, tx *models.Transaction) error {
	var beneficiary []byte
	if tx.Beneficiary != nil {
		var err error
		beneficiary, err = json.Marshal(tx.Beneficiary)
		if err != nil {
			return fmt.Errorf("encode beneficiary: %w", err)
		}
	}
	err := r.q.QueryRow(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, NOW(), $17, $18, $19)
		RETURNING created_at`,
		tx.ID, tx.OwnerUserID, tx.Kind, tx.Channel, tx.AmountInputMicros, tx.InputCurrency,
		tx.AmountOutputMicros, tx.OutputCurrency, tx.Rate.RisToVes.String(), tx.Rate.VesToRis.String(),
		tx.Rate.RisToBrl.String(), tx.Rate.CapturedAt, beneficiary, nullable(tx.GatewayReference),
		nullable(tx.ProofReference), string(tx.Status), tx.DecidedAt, nullable(tx.DecidedBy),
		nullable(tx.RejectionReason),
	).Scan(&tx.CreatedAt)
	if err != nil {
		return fmt.Errorf("create transaction: %w", err)
	}
	return nil
}

func (r *pgTransactions) Get(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	row := r.q.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	tx, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return tx, nil
}

func (r *pgTransactions) Update(ctx context.Context, tx *models.Transaction, expected domain.Status) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE transactions
		SET status = $1,
		    proof_reference = $2,
		    decided_at = $3,
		    decided_by = $4,
		    rejection_reason = $5
		WHERE id = $6 AND status = $7`,
		string(tx.Status), nullable(tx.ProofReference), tx.DecidedAt, nullable(tx.DecidedBy),
		nullable(tx.RejectionReason), tx.ID, string(expected))
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrInvalidTransition
	}
	return nil
}

func (r *pgTransactions) AppendHistory(ctx context.Context, change models.StatusChange) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO transaction_status_history (transaction_id, prev_status, next_status, actor, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())`,
		change.TransactionID, string(change.PrevStatus), string(change.NextStatus), change.Actor,
		nullable(change.Reason))
	if err != nil {
		return fmt.Errorf("append status history: %w", err)
	}
	return nil
}

func (r *pgTransactions) History(ctx context.Context, txID uuid.UUID) ([]models.StatusChange, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, transaction_id, prev_status, next_status, actor, COALESCE(reason, ''), created_at
		FROM transaction_status_history
		WHERE transaction_id = $1
		ORDER BY id`, txID)
	if err != nil {
		return nil, fmt.Errorf("load status history: %w", err)
	}
	defer rows.Close()

	var changes []models.StatusChange
	for rows.Next() {
		var c models.StatusChange
		var prev, next string
		if err := rows.Scan(&c.ID, &c.TransactionID, &prev, &next, &c.Actor, &c.Reason, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		c.PrevStatus = domain.Status(prev)
		c.NextStatus = domain.Status(next)
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

func (r *pgTransactions) List(ctx context.Context, userID uuid.UUID, filter ListFilter) ([]models.Transaction, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE owner_user_id = $1`
	args := []any{userID}
	if filter.Kind != "" {
		args = append(args, filter.Kind)
		query += fmt.Sprintf(" AND kind = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	args = append(args, limit, filter.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txs []models.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txs = append(txs, *tx)
	}
	return txs, rows.Err()
}

func (r *pgTransactions) MonthlyRechargeTotal(ctx context.Context, userID uuid.UUID, from time.Time) (int64, error) {
	var total int64
	err := r.q.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount_output_micros), 0)
		FROM transactions
		WHERE owner_user_id = $1 AND kind = $2 AND created_at >= $3
		  AND status IN ($4, $5, $6)`,
		userID, domain.KindRecharge, from,
		string(domain.StatusPending), string(domain.StatusManualReview), string(domain.StatusCompleted),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum monthly recharges: %w", err)
	}
	return total, nil
}

func (r *pgTransactions) ListStaleRecharges(ctx context.Context, cutoff time.Time, limit int32) ([]models.Transaction, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE kind = $1 AND status IN ($2, $3) AND created_at < $4
		ORDER BY created_at
		LIMIT $5
		FOR UPDATE SKIP LOCKED`,
		domain.KindRecharge, string(domain.StatusPending), string(domain.StatusManualReview), cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale recharges: %w", err)
	}
	defer rows.Close()

	var txs []models.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stale recharge: %w", err)
		}
		txs = append(txs, *tx)
	}
	return txs, rows.Err()
}

func (r *pgTransactions) CountManualReview(ctx context.Context) (int64, error) {
	var count int64
	err := r.q.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM transactions
		WHERE kind = $1 AND status = $2`,
		domain.KindRecharge, string(domain.StatusManualReview),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count manual review queue: %w", err)
	}
	return count, nil
}

func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	var (
		tx                          models.Transaction
		risToVes, vesToRis, risToBrl string
		beneficiary                 []byte
		gatewayRef, proofRef        *string
		decidedBy, rejectionReason  *string
		status                      string
	)
	err := row.Scan(
		&tx.ID, &tx.OwnerUserID, &tx.Kind, &tx.Channel, &tx.AmountInputMicros, &tx.InputCurrency,
		&tx.AmountOutputMicros, &tx.OutputCurrency, &risToVes, &vesToRis, &risToBrl,
		&tx.Rate.CapturedAt, &beneficiary, &gatewayRef, &proofRef, &status, &tx.CreatedAt,
		&tx.DecidedAt, &decidedBy, &rejectionReason,
	)
	if err != nil {
		return nil, err
	}
	if tx.Rate.RisToVes, err = decimal.NewFromString(risToVes); err != nil {
		return nil, fmt.Errorf("parse ris_to_ves: %w", err)
	}
	if tx.Rate.VesToRis, err = decimal.NewFromString(vesToRis); err != nil {
		return nil, fmt.Errorf("parse ves_to_ris: %w", err)
	}
	if tx.Rate.RisToBrl, err = decimal.NewFromString(risToBrl); err != nil {
		return nil, fmt.Errorf("parse ris_to_brl: %w", err)
	}
	if len(beneficiary) > 0 {
		tx.Beneficiary = &models.Beneficiary{}
		if err := json.Unmarshal(beneficiary, tx.Beneficiary); err != nil {
			return nil, fmt.Errorf("decode beneficiary: %w", err)
		}
	}
	tx.Status = domain.Status(status)
	if gatewayRef != nil {
		tx.GatewayReference = *gatewayRef
	}
	if proofRef != nil {
		tx.ProofReference = *proofRef
	}
	if decidedBy != nil {
		tx.DecidedBy = *decidedBy
	}
	if rejectionReason != nil {
		tx.RejectionReason = *rejectionReason
	}
	return &tx, nil
}

func nullable(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
