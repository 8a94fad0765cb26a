package domain

import "time"

// EscrowStatus is the per-bet escrow lifecycle state, per spec.md §4.2.
type EscrowStatus string

const (
	EscrowAwaitingDeposit   EscrowStatus = "awaiting_deposit"
	EscrowDepositDetected   EscrowStatus = "deposit_detected"
	EscrowJoiningSC         EscrowStatus = "joining_sc"
	EscrowActiveInSC        EscrowStatus = "active_in_sc"
	EscrowWonAwaitingSweep  EscrowStatus = "won_awaiting_sweep"
	EscrowSweeping          EscrowStatus = "sweeping"
	EscrowSwept             EscrowStatus = "swept"
	EscrowCompleted         EscrowStatus = "completed"
	EscrowLost              EscrowStatus = "lost"
	EscrowExpired           EscrowStatus = "expired"
	EscrowRefunding         EscrowStatus = "refunding"
	EscrowRefunded          EscrowStatus = "refunded"
)

// Escrow is the per-bet, single-use on-chain identity a user deposits
// into, per spec.md §3/§4.2.
type Escrow struct {
	ID       string `db:"id" json:"id"`
	BetID    string `db:"bet_id" json:"bet_id"`
	MarketID string `db:"market_id" json:"market_id"`

	EscrowAddress     string `db:"escrow_address" json:"escrow_address"`
	UserPayoutAddress string `db:"user_payout_address" json:"user_payout_address"`
	Option            int    `db:"option" json:"option"`
	Slots             int    `db:"slots" json:"slots"`
	ExpectedAmountQU  QU     `db:"expected_amount_qu" json:"expected_amount_qu"`

	Status EscrowStatus `db:"status" json:"status"`

	DepositDetectedAt *time.Time `db:"deposit_detected_at" json:"deposit_detected_at,omitempty"`
	DepositAmountQU   *QU        `db:"deposit_amount_qu" json:"deposit_amount_qu,omitempty"`

	JoinTxID   *string `db:"join_tx_id" json:"join_tx_id,omitempty"`
	JoinTick   *uint32 `db:"join_tick" json:"join_tick,omitempty"`
	JoinRetries int    `db:"join_retries" json:"join_retries"`

	PayoutDetectedAt *time.Time `db:"payout_detected_at" json:"payout_detected_at,omitempty"`
	PayoutAmountQU   *QU        `db:"payout_amount_qu" json:"payout_amount_qu,omitempty"`

	SweepTxID    *string `db:"sweep_tx_id" json:"sweep_tx_id,omitempty"`
	SweepTick    *uint32 `db:"sweep_tick" json:"sweep_tick,omitempty"`
	SweepRetries int     `db:"sweep_retries" json:"sweep_retries"`

	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// IsTerminal reports whether the escrow has reached a state with no
// further transitions (underlined states in spec.md §4.2's state graph).
func (e *Escrow) IsTerminal() bool {
	switch e.Status {
	case EscrowExpired, EscrowSwept, EscrowLost, EscrowCompleted, EscrowRefunded:
		return true
	default:
		return false
	}
}

// KeyStatus is the lifecycle of the encrypted seed material for one escrow,
// per spec.md §3.
type KeyStatus string

const (
	KeyActive   KeyStatus = "active"
	KeySwept    KeyStatus = "swept"
	KeyArchived KeyStatus = "archived"
)

// EscrowKey holds the AEAD-encrypted seed for one escrow's on-chain
// identity, per spec.md §3/§4.8.
type EscrowKey struct {
	EscrowID       string    `db:"escrow_id" json:"escrow_id"`
	CiphertextHex  string    `db:"ciphertext_hex" json:"-"`
	IVHex          string    `db:"iv_hex" json:"-"`
	TagHex         string    `db:"tag_hex" json:"-"`
	Status         KeyStatus `db:"status" json:"status"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// Account is a custodial address's running balance and lifetime totals,
// per spec.md §3.
type Account struct {
	Address     string `db:"address" json:"address"`
	DisplayName string `db:"display_name" json:"display_name"`

	BalanceQU QU `db:"balance_qu" json:"balance_qu"`

	TotalDepositedQU QU `db:"total_deposited_qu" json:"total_deposited_qu"`
	TotalWithdrawnQU QU `db:"total_withdrawn_qu" json:"total_withdrawn_qu"`
	TotalBetQU       QU `db:"total_bet_qu" json:"total_bet_qu"`
	TotalWonQU       QU `db:"total_won_qu" json:"total_won_qu"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// TxType enumerates ledger transaction kinds, per spec.md §3.
type TxType string

const (
	TxDeposit      TxType = "deposit"
	TxWithdrawal   TxType = "withdrawal"
	TxBet          TxType = "bet"
	TxPayout       TxType = "payout"
	TxMarketCreate TxType = "market_create"
	TxRefund       TxType = "refund"
)

// TxStatus is the ledger row's settlement status.
type TxStatus string

const (
	TxStatusPending   TxStatus = "pending"
	TxStatusConfirmed TxStatus = "confirmed"
	TxStatusFailed    TxStatus = "failed"
)

// Transaction is an append-only ledger row, per spec.md §3.
type Transaction struct {
	ID       int64   `db:"id" json:"id"`
	Address  string  `db:"address" json:"address"`
	Type     TxType  `db:"type" json:"type"`
	AmountQU QU      `db:"amount_qu" json:"amount_qu"`
	TxHash   *string `db:"tx_hash" json:"tx_hash,omitempty"`
	MarketID *string `db:"market_id" json:"market_id,omitempty"`
	Status   TxStatus `db:"status" json:"status"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
