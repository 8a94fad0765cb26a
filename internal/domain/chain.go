package domain

import "time"

// EventType enumerates the ten commitment-chain event kinds, per spec.md §3.
type EventType string

const (
	EventMarketCreate     EventType = "market_create"
	EventBetPlace         EventType = "bet_place"
	EventBetConfirm       EventType = "bet_confirm"
	EventMarketResolve    EventType = "market_resolve"
	EventMarketRecovery   EventType = "market_recovery"
	EventPayout           EventType = "payout"
	EventDeposit          EventType = "deposit"
	EventWithdrawal       EventType = "withdrawal"
	EventSolvencyProof    EventType = "solvency_proof"
	EventSolvencyViolation EventType = "solvency_violation"
)

// CommitmentChainEntry is one append-only row of the audit hash chain, per
// spec.md §3/§4.7.
type CommitmentChainEntry struct {
	SequenceNum int64     `db:"sequence_num" json:"sequence_num"`
	EventType   EventType `db:"event_type" json:"event_type"`
	EntityID    string    `db:"entity_id" json:"entity_id"`
	PayloadJSON string    `db:"payload_json" json:"payload_json"`
	PayloadHash string    `db:"payload_hash" json:"payload_hash"`
	PrevHash    string    `db:"prev_hash" json:"prev_hash"`
	ChainHash   string    `db:"chain_hash" json:"chain_hash"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// GenesisHash is the prev_hash value used for the first chain entry —
// 64 zero nibbles, per spec.md §3.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// OracleAttestation binds one oracle's price observation to the platform
// with an HMAC signature, per spec.md §3/§4.7.
type OracleAttestation struct {
	ID              int64     `db:"id" json:"id"`
	MarketID        string    `db:"market_id" json:"market_id"`
	Source          string    `db:"source" json:"source"`
	Pair            string    `db:"pair" json:"pair"`
	Price           float64   `db:"price" json:"price"`
	Tick            *uint32   `db:"tick" json:"tick,omitempty"`
	Epoch           *uint32   `db:"epoch" json:"epoch,omitempty"`
	SourceTS        time.Time `db:"source_ts" json:"source_ts"`
	AttestationHash string    `db:"attestation_hash" json:"attestation_hash"`
	ServerSignature string    `db:"server_signature" json:"server_signature"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// SolvencyLeaf is one leaf of the solvency Merkle tree: an address and the
// balance attested for it at proof time.
type SolvencyLeaf struct {
	Address string `json:"address"`
	Balance QU     `json:"balance"`
}

// SolvencyProof is a Merkle-tree + on-chain-balance snapshot proving
// custodial liabilities are covered by on-chain assets, per spec.md §3/§4.7.
type SolvencyProof struct {
	ID                int64          `db:"id" json:"id"`
	MerkleRoot        string         `db:"merkle_root" json:"merkle_root"`
	TotalUserBalanceQU QU            `db:"total_user_balance_qu" json:"total_user_balance_qu"`
	OnChainBalanceQU  QU             `db:"on_chain_balance_qu" json:"on_chain_balance_qu"`
	IsSolvent         bool           `db:"is_solvent" json:"is_solvent"`
	AccountCount      int            `db:"account_count" json:"account_count"`
	Tick              uint32         `db:"tick" json:"tick"`
	Epoch             uint32         `db:"epoch" json:"epoch"`
	Leaves            []SolvencyLeaf `db:"-" json:"leaves"`
	CreatedAt         time.Time      `db:"created_at" json:"created_at"`
}
