package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSnapshot(risToVes, vesToRis, risToBrl string) RateSnapshot {
	return RateSnapshot{
		RisToVes: decimal.RequireFromString(risToVes),
		VesToRis: decimal.RequireFromString(vesToRis),
		RisToBrl: decimal.RequireFromString(risToBrl),
	}
}

func TestRateSnapshotValidate(t *testing.T) {
	require.NoError(t, testSnapshot("100", "0.01", "1").Validate())

	assert.Error(t, testSnapshot("0", "0.01", "1").Validate())
	assert.Error(t, testSnapshot("100", "-0.01", "1").Validate())
	assert.Error(t, testSnapshot("100", "0.01", "0").Validate())
}

func TestRISFromBRL(t *testing.T) {
	snap := testSnapshot("100", "0.01", "1")

	// 50 BRL at ris_to_brl = 1 buys 50 RIS.
	got := snap.RISFromBRL(NewMoney(50_000_000, CurrencyBRL))
	assert.Equal(t, int64(50_000_000), got.Amount)
	assert.Equal(t, CurrencyRIS, got.Currency)

	// At ris_to_brl = 2 each RIS costs 2 BRL.
	snap = testSnapshot("100", "0.01", "2")
	got = snap.RISFromBRL(NewMoney(50_000_000, CurrencyBRL))
	assert.Equal(t, int64(25_000_000), got.Amount)
}

func TestRISFromVES(t *testing.T) {
	snap := testSnapshot("100", "0.01", "1")

	got := snap.RISFromVES(NewMoney(100_000_000, CurrencyVES))
	assert.Equal(t, int64(1_000_000), got.Amount)
	assert.Equal(t, CurrencyRIS, got.Currency)
}

func TestVESFromRIS(t *testing.T) {
	snap := testSnapshot("100", "0.01", "1")

	// 80 RIS at ris_to_ves = 100 pays out 8000 VES.
	got := snap.VESFromRIS(NewMoney(80_000_000, CurrencyRIS))
	assert.Equal(t, int64(8_000_000_000), got.Amount)
	assert.Equal(t, CurrencyVES, got.Currency)
}
