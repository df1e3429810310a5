package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RateSnapshot is an immutable copy of the conversion rates in force when a
// transaction was created. Transactions store the snapshot by value so later
// rate changes never alter a confirmed transaction's computed amounts.
//
// RisToVes and RisToBrl are quoted as foreign units per 1 RIS; VesToRis is
// RIS per 1 VES.
type RateSnapshot struct {
	RisToVes   decimal.Decimal `json:"ris_to_ves"`
	VesToRis   decimal.Decimal `json:"ves_to_ris"`
	RisToBrl   decimal.Decimal `json:"ris_to_brl"`
	CapturedAt time.Time       `json:"captured_at"`
}

// Validate ensures every rate is strictly positive.
func (r RateSnapshot) Validate() error {
	for name, rate := range map[string]decimal.Decimal{
		"ris_to_ves": r.RisToVes,
		"ves_to_ris": r.VesToRis,
		"ris_to_brl": r.RisToBrl,
	} {
		if !rate.IsPositive() {
			return fmt.Errorf("rate %s must be positive, got %s", name, rate)
		}
	}
	return nil
}

// RISFromBRL converts an inbound BRL amount to RIS.
func (r RateSnapshot) RISFromBRL(brl Money) Money {
	amountDec := brl.ToDecimal().Div(r.RisToBrl)
	return Money{Amount: FromDecimal(amountDec), Currency: CurrencyRIS}
}

// RISFromVES converts an inbound VES amount to RIS.
func (r RateSnapshot) RISFromVES(ves Money) Money {
	return ves.Convert(CurrencyRIS, r.VesToRis)
}

// VESFromRIS converts an outbound RIS amount to VES.
func (r RateSnapshot) VESFromRIS(ris Money) Money {
	return ris.Convert(CurrencyVES, r.RisToVes)
}
