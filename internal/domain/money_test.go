package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestMoneyDecimalRoundTrip(t *testing.T) {
	m := NewMoney(12_345_678, CurrencyRIS)
	assert.Equal(t, "12.345678", m.ToDecimal().String())
	assert.Equal(t, int64(12_345_678), FromDecimal(m.ToDecimal()))
}

func TestMoneyConvertRoundsDown(t *testing.T) {
	// 1 unit at rate 0.0000001 is below one micro and truncates to zero.
	m := NewMoney(1_000_000, CurrencyVES)
	got := m.Convert(CurrencyRIS, decimal.RequireFromString("0.0000001"))
	assert.Equal(t, int64(0), got.Amount)
	assert.Equal(t, CurrencyRIS, got.Currency)
}

func TestMoneyString(t *testing.T) {
	assert.Equal(t, "50.00 BRL", NewMoney(50_000_000, CurrencyBRL).String())
}
