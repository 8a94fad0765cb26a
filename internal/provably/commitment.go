package provably

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/evetabi/qpredict/internal/domain"
)

// sha256Hex hashes b and renders the digest as lowercase hex.
func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// HashPayload computes payload_hash = SHA256(canonical_json(payload)),
// per spec.md §3.
func HashPayload(payload interface{}) (payloadJSON, payloadHash string, err error) {
	payloadJSON, err = CanonicalJSON(payload)
	if err != nil {
		return "", "", err
	}
	payloadHash = sha256Hex([]byte(payloadJSON))
	return payloadJSON, payloadHash, nil
}

// ChainHash computes chain_hash = SHA256("{seq}|{event}|{entity}|{payload_hash}|{prev_hash}"),
// per spec.md §3.
func ChainHash(seq int64, eventType domain.EventType, entityID, payloadHash, prevHash string) string {
	s := fmt.Sprintf("%d|%s|%s|%s|%s", seq, eventType, entityID, payloadHash, prevHash)
	return sha256Hex([]byte(s))
}

// BuildEntry assembles a CommitmentChainEntry ready for insertion, given
// the previous row's sequence number and chain hash (0, "" for genesis —
// an empty prevHash is replaced here by domain.GenesisHash).
// It does not assign CreatedAt; the store sets that at insert time.
func BuildEntry(prevSeq int64, prevHash string, eventType domain.EventType, entityID string, payload interface{}) (domain.CommitmentChainEntry, error) {
	if prevHash == "" {
		prevHash = domain.GenesisHash
	}
	payloadJSON, payloadHash, err := HashPayload(payload)
	if err != nil {
		return domain.CommitmentChainEntry{}, err
	}
	seq := prevSeq + 1
	hash := ChainHash(seq, eventType, entityID, payloadHash, prevHash)
	return domain.CommitmentChainEntry{
		SequenceNum: seq,
		EventType:   eventType,
		EntityID:    entityID,
		PayloadJSON: payloadJSON,
		PayloadHash: payloadHash,
		PrevHash:    prevHash,
		ChainHash:   hash,
	}, nil
}

// VerifyResult is the outcome of verifying a slice of chain entries.
type VerifyResult struct {
	Valid    bool
	BrokenAt int64 // sequence number of the first row that failed, 0 if Valid
	Reason   string
}

// VerifyChainSequence checks spec.md §4.7's verification rule: every row's
// stored payload_hash/chain_hash must recompute correctly, and for any two
// consecutive rows (seq_{i+1} = seq_i + 1) prev_hash_{i+1} must equal
// chain_hash_i. Entries must be supplied in ascending sequence_num order;
// gaps (from an entity-filtered slice) are tolerated and not required to
// chain across.
func VerifyChainSequence(entries []domain.CommitmentChainEntry) VerifyResult {
	var prev *domain.CommitmentChainEntry

	for i := range entries {
		e := &entries[i]

		wantPayloadHash := sha256Hex([]byte(e.PayloadJSON))
		if wantPayloadHash != e.PayloadHash {
			return VerifyResult{Valid: false, BrokenAt: e.SequenceNum, Reason: "payload_hash mismatch"}
		}

		wantChainHash := ChainHash(e.SequenceNum, e.EventType, e.EntityID, e.PayloadHash, e.PrevHash)
		if wantChainHash != e.ChainHash {
			return VerifyResult{Valid: false, BrokenAt: e.SequenceNum, Reason: "chain_hash mismatch"}
		}

		if prev != nil && e.SequenceNum == prev.SequenceNum+1 {
			if e.PrevHash != prev.ChainHash {
				return VerifyResult{Valid: false, BrokenAt: e.SequenceNum, Reason: "prev_hash does not match predecessor's chain_hash"}
			}
		}
		prev = e
	}

	return VerifyResult{Valid: true}
}

// RandomNonceHex returns 16 random bytes rendered as hex, used as the bet
// commitment nonce per spec.md §3/§4.7.
func RandomNonceHex() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("provably: random nonce: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// BetCommitment computes SHA256("{market_id}|{user}|{option}|{slots}|{nonce}"),
// per spec.md §4.7.
func BetCommitment(marketID, user string, option, slots int, nonce string) string {
	s := marketID + "|" + user + "|" + strconv.Itoa(option) + "|" + strconv.Itoa(slots) + "|" + nonce
	return sha256Hex([]byte(s))
}

// MarketCommitmentInput is the canonicalized-and-hashed input for a market
// commitment, per spec.md §4.7.
type MarketCommitmentInput struct {
	Pair           string   `json:"pair"`
	Question       string   `json:"question"`
	ResolutionType string   `json:"resolution_type"`
	Target         float64  `json:"target"`
	TargetHigh     *float64 `json:"target_high,omitempty"`
	Close          string   `json:"close"`
	End            string   `json:"end"`
	MinBet         string   `json:"min_bet"`
	MaxSlots       int      `json:"max_slots"`
	Creator        string   `json:"creator"`
}

// MarketCommitment computes SHA256(canonical_json(input)), per spec.md §4.7.
func MarketCommitment(input MarketCommitmentInput) (string, error) {
	canon, err := CanonicalJSON(input)
	if err != nil {
		return "", err
	}
	return sha256Hex([]byte(canon)), nil
}

// StripMutationCheck returns s with leading and trailing white space
// removed. Resolution proof verification does not call it: resolution_proof.go
// leaves ProofHash out of the hash through proofHashInput.
func StripMutationCheck(s string) string {
	return strings.TrimSpace(s)
}
