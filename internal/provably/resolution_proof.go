package provably

import (
	"fmt"

	"github.com/evetabi/qpredict/internal/domain"
)

// ResolutionProof is the aggregated, independently-re-verifiable package
// handed out for a resolved market, per spec.md §4.7's last bullet: it
// bundles the market's own commitment, the chain slice covering its
// lifecycle, every oracle attestation consulted, and the payout breakdown,
// so a third party can recompute everything from the raw inputs without
// trusting the platform's own summary of them.
type ResolutionProof struct {
	MarketID          string                         `json:"market_id"`
	MarketCommitment  string                         `json:"market_commitment"`
	ResolutionPrice   float64                         `json:"resolution_price"`
	WinningOption     int                            `json:"winning_option"`
	Attestations      []domain.OracleAttestation     `json:"attestations"`
	ChainEntries      []domain.CommitmentChainEntry  `json:"chain_entries"`
	Payout            domain.PayoutBreakdown         `json:"payout"`
	ProofHash         string                          `json:"proof_hash"`
}

// proofHashInput is ResolutionProof minus ProofHash itself — hashing this
// and storing the result as ProofHash lets a verifier recompute the same
// hash and compare, without the hash being self-referential.
type proofHashInput struct {
	MarketID         string                        `json:"market_id"`
	MarketCommitment string                        `json:"market_commitment"`
	ResolutionPrice  float64                       `json:"resolution_price"`
	WinningOption    int                           `json:"winning_option"`
	Attestations     []domain.OracleAttestation    `json:"attestations"`
	ChainEntries     []domain.CommitmentChainEntry `json:"chain_entries"`
	Payout           domain.PayoutBreakdown        `json:"payout"`
}

func (p ResolutionProof) hashInput() proofHashInput {
	return proofHashInput{
		MarketID:         p.MarketID,
		MarketCommitment: p.MarketCommitment,
		ResolutionPrice:  p.ResolutionPrice,
		WinningOption:    p.WinningOption,
		Attestations:     p.Attestations,
		ChainEntries:     p.ChainEntries,
		Payout:           p.Payout,
	}
}

// BuildResolutionProof assembles a ResolutionProof and stamps its ProofHash.
func BuildResolutionProof(marketID, marketCommitment string, resolutionPrice float64, winningOption int, attestations []domain.OracleAttestation, chainEntries []domain.CommitmentChainEntry, payout domain.PayoutBreakdown) (ResolutionProof, error) {
	p := ResolutionProof{
		MarketID:         marketID,
		MarketCommitment: marketCommitment,
		ResolutionPrice:  resolutionPrice,
		WinningOption:    winningOption,
		Attestations:     attestations,
		ChainEntries:     chainEntries,
		Payout:           payout,
	}
	_, hash, err := HashPayload(p.hashInput())
	if err != nil {
		return ResolutionProof{}, err
	}
	p.ProofHash = hash
	return p, nil
}

// VerifyResolutionProof independently re-derives every component of proof
// and confirms it is internally consistent:
//   - proof_hash recomputes from the rest of the package
//   - the embedded chain slice forms a valid, unbroken sequence
//   - every attestation's hash/signature recomputes against secretKey
//   - the winning option and payout are consistent with the attestation
//     prices and the market's resolution rule (left to the caller, which
//     has the market's ResolutionSpec; this function only checks internal
//     consistency of what the proof itself carries)
func VerifyResolutionProof(proof ResolutionProof, secretKey string) error {
	_, wantHash, err := HashPayload(proof.hashInput())
	if err != nil {
		return err
	}
	if wantHash != proof.ProofHash {
		return fmt.Errorf("%w: proof_hash mismatch", domain.ErrAttestationInvalid)
	}

	if res := VerifyChainSequence(proof.ChainEntries); !res.Valid {
		return fmt.Errorf("%w: chain entry seq=%d: %s", domain.ErrChainBroken, res.BrokenAt, res.Reason)
	}

	for _, att := range proof.Attestations {
		if err := VerifyAttestation(att, secretKey); err != nil {
			return fmt.Errorf("attestation from %q: %w", att.Source, err)
		}
	}

	return nil
}
