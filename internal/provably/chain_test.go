package provably_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/evetabi/qpredict/internal/domain"
	"github.com/evetabi/qpredict/internal/provably"
)

type betCreatedPayload struct {
	MarketID string `json:"market_id"`
	Option   int    `json:"option"`
}

func buildTestChain(t *testing.T, n int) []domain.CommitmentChainEntry {
	t.Helper()
	var entries []domain.CommitmentChainEntry
	prevSeq := int64(0)
	prevHash := ""
	for i := 0; i < n; i++ {
		e, err := provably.BuildEntry(prevSeq, prevHash, domain.EventBetPlace, "mkt-1", betCreatedPayload{MarketID: "mkt-1", Option: i % 2})
		require.NoError(t, err)
		entries = append(entries, e)
		prevSeq = e.SequenceNum
		prevHash = e.ChainHash
	}
	return entries
}

func TestVerifyChainSequence_ValidChainPasses(t *testing.T) {
	entries := buildTestChain(t, 5)
	result := provably.VerifyChainSequence(entries)
	require.True(t, result.Valid)
	require.Equal(t, int64(0), result.BrokenAt)
}

func TestVerifyChainSequence_GenesisEntryUsesGenesisHash(t *testing.T) {
	entries := buildTestChain(t, 1)
	require.Equal(t, domain.GenesisHash, entries[0].PrevHash)
}

func TestVerifyChainSequence_DetectsPayloadTamper(t *testing.T) {
	entries := buildTestChain(t, 3)
	entries[1].PayloadJSON = `{"market_id":"mkt-1","option":99}`

	result := provably.VerifyChainSequence(entries)
	require.False(t, result.Valid)
	require.Equal(t, entries[1].SequenceNum, result.BrokenAt)
	require.Contains(t, result.Reason, "payload_hash")
}

func TestVerifyChainSequence_DetectsBrokenLink(t *testing.T) {
	entries := buildTestChain(t, 3)
	// Recompute entries[2]'s chain_hash against a forged prev_hash so the
	// per-row hash check passes but the link to entries[1] is broken.
	entries[2].PrevHash = "f000000000000000000000000000000000000000000000000000000000000000"
	entries[2].ChainHash = provably.ChainHash(entries[2].SequenceNum, entries[2].EventType, entries[2].EntityID, entries[2].PayloadHash, entries[2].PrevHash)

	result := provably.VerifyChainSequence(entries)
	require.False(t, result.Valid)
	require.Equal(t, entries[2].SequenceNum, result.BrokenAt)
	require.Contains(t, result.Reason, "prev_hash")
}

func TestVerifyChainSequence_ToleratesGapsFromEntityFilter(t *testing.T) {
	entries := buildTestChain(t, 5)
	filtered := []domain.CommitmentChainEntry{entries[0], entries[2], entries[4]}

	result := provably.VerifyChainSequence(filtered)
	require.True(t, result.Valid)
}

func TestBetCommitment_IsDeterministicAndNonceSensitive(t *testing.T) {
	c1 := provably.BetCommitment("mkt-1", "USER", 0, 2, "nonce-a")
	c2 := provably.BetCommitment("mkt-1", "USER", 0, 2, "nonce-a")
	require.Equal(t, c1, c2)

	c3 := provably.BetCommitment("mkt-1", "USER", 0, 2, "nonce-b")
	require.NotEqual(t, c1, c3)
}

func TestRandomNonceHex_ProducesDistinctValues(t *testing.T) {
	n1, err := provably.RandomNonceHex()
	require.NoError(t, err)
	n2, err := provably.RandomNonceHex()
	require.NoError(t, err)
	require.NotEqual(t, n1, n2)
	require.Len(t, n1, 32)
}
