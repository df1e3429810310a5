package domain

// Transaction kinds.
const (
	KindRecharge   = "recharge"
	KindWithdrawal = "withdrawal"
)

// Confirmation channels. The channel decides how a recharge reaches a
// terminal state: the instant-payment rail confirms automatically through the
// gateway callback, bank transfers go through proof upload and manual review.
const (
	ChannelInstantPayment = "instant_payment"
	ChannelBankTransfer   = "bank_transfer"
)

// Currencies handled by the exchange. RIS is the internal unit the ledger
// tracks; BRL enters through recharges, VES leaves through withdrawals.
const (
	CurrencyRIS = "RIS"
	CurrencyBRL = "BRL"
	CurrencyVES = "VES"
)

// ActorSystem is recorded as decided_by when the system itself finalizes a
// transaction (gateway confirmation, expiry sweep).
const ActorSystem = "system"
