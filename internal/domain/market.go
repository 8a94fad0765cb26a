package domain

import "time"

// MarketStatus is the market lifecycle state, per spec.md §3/§4.3.
type MarketStatus string

const (
	MarketDraft     MarketStatus = "draft"
	MarketPendingTx MarketStatus = "pending_tx"
	MarketActive    MarketStatus = "active"
	MarketClosed    MarketStatus = "closed"
	MarketResolving MarketStatus = "resolving"
	MarketResolved  MarketStatus = "resolved"
	MarketCancelled MarketStatus = "cancelled"
)

// MarketType classifies how a market's resolution is sourced.
type MarketType string

const (
	MarketTypePrice  MarketType = "price"
	MarketTypeSports MarketType = "sports"
	MarketTypeAI     MarketType = "ai"
	MarketTypeCustom MarketType = "custom"
)

// ResolutionKind is the shape of the winner-determination rule.
type ResolutionKind string

const (
	ResolutionAbove   ResolutionKind = "above"
	ResolutionBelow   ResolutionKind = "below"
	ResolutionRange   ResolutionKind = "range"
	ResolutionBracket ResolutionKind = "bracket"
)

// ResolutionSpec describes how a numeric outcome maps to a winning option,
// per spec.md §3.
type ResolutionSpec struct {
	Type        ResolutionKind `json:"type" db:"resolution_type"`
	Target      float64        `json:"target" db:"target"`
	TargetHigh  *float64       `json:"target_high,omitempty" db:"target_high"`
	Brackets    []float64      `json:"brackets,omitempty" db:"-"`
}

// Provenance records how a market came to exist — user-submitted,
// AI-parsed, or raised by the (out-of-scope) trending agent.
type Provenance string

const (
	ProvenanceUser     Provenance = "user"
	ProvenanceAIParsed Provenance = "ai_parsed"
	ProvenanceTrending Provenance = "trending_agent"
)

// Market is the aggregate root for one prediction market, per spec.md §3.
type Market struct {
	ID       string       `db:"id" json:"id"`
	OnChainBetID *uint32  `db:"onchain_bet_id" json:"onchain_bet_id,omitempty"`

	Pair     string     `db:"pair" json:"pair"`
	Question string     `db:"question" json:"question"`

	ResolutionType  ResolutionKind `db:"resolution_type" json:"resolution_type"`
	Target          float64        `db:"target" json:"target"`
	TargetHigh      *float64       `db:"target_high" json:"target_high,omitempty"`

	MarketType MarketType `db:"market_type" json:"market_type"`
	Options    []string   `db:"-" json:"options"`
	OptionsRaw string     `db:"options_json" json:"-"`

	CloseAt time.Time `db:"close_at" json:"close_at"`
	EndAt   time.Time `db:"end_at" json:"end_at"`

	MinBetQU     QU  `db:"min_bet_qu" json:"min_bet_qu"`
	MaxSlots     int `db:"max_slots" json:"max_slots"`

	TotalPoolQU QU     `db:"total_pool_qu" json:"total_pool_qu"`
	SlotMap     []int  `db:"-" json:"slot_map"`
	SlotMapRaw  string `db:"slot_map_json" json:"-"`

	Status MarketStatus `db:"status" json:"status"`

	ResolutionPrice *float64 `db:"resolution_price" json:"resolution_price,omitempty"`
	WinningOption   *int     `db:"winning_option" json:"winning_option,omitempty"`

	CreatorAddress string  `db:"creator_address" json:"creator_address"`
	CreationTx     *string `db:"creation_tx" json:"creation_tx,omitempty"`
	CommitmentHash string  `db:"commitment_hash" json:"commitment_hash"`

	OracleAddresses []string `db:"-" json:"oracle_addresses"`
	OracleAddressesRaw string `db:"oracle_addresses_json" json:"-"`
	OracleFeeBps    int      `db:"oracle_fee_bps" json:"oracle_fee_bps"`

	AutoRefundAt *time.Time `db:"auto_refund_at" json:"auto_refund_at,omitempty"`
	Category     string     `db:"category" json:"category"`

	AIAttemptCount   int     `db:"ai_attempt_count" json:"ai_attempt_count"`
	AIResolutionProof *string `db:"ai_resolution_proof" json:"ai_resolution_proof,omitempty"`

	Provenance Provenance `db:"provenance" json:"provenance"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
	ResolvedAt *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
}

// IsActive reports whether the market can still accept deposits.
func (m *Market) IsActive() bool { return m.Status == MarketActive }

// IsTerminal reports whether the market has reached a terminal state.
func (m *Market) IsTerminal() bool {
	return m.Status == MarketResolved || m.Status == MarketCancelled
}

// OptionCount returns how many outcome options this market has.
func (m *Market) OptionCount() int { return len(m.Options) }

// Bet is a single stake on one option of one market, per spec.md §3.
type BetStatus string

const (
	BetPendingDeposit BetStatus = "pending_deposit"
	BetPending        BetStatus = "pending"
	BetConfirmed      BetStatus = "confirmed"
	BetWon            BetStatus = "won"
	BetLost           BetStatus = "lost"
	BetRefunded       BetStatus = "refunded"
)

// Bet is the aggregate for a single user stake, per spec.md §3.
type Bet struct {
	ID       string `db:"id" json:"id"`
	MarketID string `db:"market_id" json:"market_id"`

	UserPayoutAddress string `db:"user_payout_address" json:"user_payout_address"`
	Option             int    `db:"option" json:"option"`
	Slots              int    `db:"slots" json:"slots"`
	AmountQU           QU     `db:"amount_qu" json:"amount_qu"`

	OnChainTx *string `db:"onchain_tx" json:"onchain_tx,omitempty"`

	Status BetStatus `db:"status" json:"status"`
	PayoutQU *QU      `db:"payout_qu" json:"payout_qu,omitempty"`

	CommitmentHash  string `db:"commitment_hash" json:"commitment_hash"`
	CommitmentNonce string `db:"commitment_nonce" json:"commitment_nonce"`
	UserSignature   *string `db:"user_signature" json:"user_signature,omitempty"`

	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	ResolvedAt *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
}

// ContributesToPool reports whether this bet's amount/slots should be
// counted in the market's total_pool / slot_map — spec.md §3's ghost-bet
// prevention rule: only pending_deposit is excluded.
func (b *Bet) ContributesToPool() bool {
	switch b.Status {
	case BetPending, BetConfirmed, BetWon, BetLost:
		return true
	default:
		return false
	}
}

// IsSettled reports whether the bet reached a resolution-terminal status.
func (b *Bet) IsSettled() bool {
	return b.Status == BetWon || b.Status == BetLost || b.Status == BetRefunded
}
