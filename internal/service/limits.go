package service

// Limits bounds transaction amounts. Recharge minima and maxima are in the
// channel's input currency micros (BRL for instant payment, VES for bank
// transfer); the monthly ceiling and withdrawal bounds are in RIS micros.
type Limits struct {
	InstantPaymentMinMicros      int64
	InstantPaymentMaxMicros      int64
	BankTransferMinMicros        int64
	BankTransferMaxMicros        int64
	MonthlyRechargeCeilingMicros int64
	WithdrawalMinMicros          int64
	WithdrawalMaxMicros          int64
}

// DefaultLimits mirror the production configuration defaults.
func DefaultLimits() Limits {
	return Limits{
		InstantPaymentMinMicros:      10_000_000,         // 10 BRL
		InstantPaymentMaxMicros:      5_000_000_000,      // 5000 BRL
		BankTransferMinMicros:        100_000_000,        // 100 VES
		BankTransferMaxMicros:        500_000_000_000,    // 500k VES
		MonthlyRechargeCeilingMicros: 50_000_000_000,     // 50k RIS
		WithdrawalMinMicros:          1_000_000,          // 1 RIS
		WithdrawalMaxMicros:          20_000_000_000,     // 20k RIS
	}
}
