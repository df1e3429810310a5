package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/riscambio/riscambio/internal/domain"
)

// Beneficiary is the foreign bank counterparty of a withdrawal. It is copied
// by value onto the transaction at submission time; later edits to a saved
// beneficiary never change an existing transaction.
type Beneficiary struct {
	Name          string `json:"name"`
	BankCode      string `json:"bank_code"`
	AccountNumber string `json:"account_number"`
	DocumentID    string `json:"document_id"`
	Phone         string `json:"phone"`
}

// Transaction is one recharge or withdrawal. Its ID doubles as the
// idempotency key for every ledger adjustment it causes.
type Transaction struct {
	ID                uuid.UUID           `json:"id"`
	OwnerUserID       uuid.UUID           `json:"owner_user_id"`
	Kind              string              `json:"kind"`
	Channel           string              `json:"channel"`
	AmountInputMicros int64               `json:"amount_input_micros"`
	InputCurrency     string              `json:"input_currency"`
	AmountOutputMicros int64              `json:"amount_output_micros"`
	OutputCurrency    string              `json:"output_currency"`
	Rate              domain.RateSnapshot `json:"rate_snapshot"`
	Beneficiary       *Beneficiary        `json:"beneficiary,omitempty"`
	GatewayReference  string              `json:"gateway_reference,omitempty"`
	ProofReference    string              `json:"proof_reference,omitempty"`
	Status            domain.Status       `json:"status"`
	CreatedAt         time.Time           `json:"created_at"`
	DecidedAt         *time.Time          `json:"decided_at,omitempty"`
	DecidedBy         string              `json:"decided_by,omitempty"`
	RejectionReason   string              `json:"rejection_reason,omitempty"`
}

// StatusChange is one append-only status history row.
type StatusChange struct {
	ID            int64         `json:"id"`
	TransactionID uuid.UUID     `json:"transaction_id"`
	PrevStatus    domain.Status `json:"prev_status"`
	NextStatus    domain.Status `json:"next_status"`
	Actor         string        `json:"actor"`
	Reason        string        `json:"reason,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

// BalanceView is the user-facing balance: the stored RIS balance, the sum of
// open withdrawal reservations, and what remains spendable.
type BalanceView struct {
	UserID         uuid.UUID `json:"user_id"`
	BalanceMicros  int64     `json:"balance_micros"`
	ReservedMicros int64     `json:"reserved_micros"`
	AvailableMicros int64    `json:"available_micros"`
}
