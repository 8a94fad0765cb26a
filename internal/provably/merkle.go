package provably

import (
	"fmt"
	"sort"

	"github.com/cbergoon/merkletree"

	"github.com/evetabi/qpredict/internal/domain"
)

// solvencyLeafContent adapts a domain.SolvencyLeaf to merkletree.Content.
// Hashing the address alongside the balance means two accounts that happen
// to share a balance never collide.
type solvencyLeafContent struct {
	leaf domain.SolvencyLeaf
}

func (c solvencyLeafContent) CalculateHash() ([]byte, error) {
	s := c.leaf.Address + "|" + c.leaf.Balance.String()
	sum := sha256Hex([]byte(s))
	return []byte(sum), nil
}

func (c solvencyLeafContent) Equals(other merkletree.Content) (bool, error) {
	o, ok := other.(solvencyLeafContent)
	if !ok {
		return false, fmt.Errorf("provably: incompatible content type")
	}
	return c.leaf.Address == o.leaf.Address && c.leaf.Balance.Equal(o.leaf.Balance), nil
}

// BuildSolvencyTree sorts leaves by address (so the tree is deterministic
// regardless of account iteration order) and builds a Merkle tree over
// them. An odd trailing leaf is paired with itself by the underlying
// library, matching spec.md §3's construction rule.
func BuildSolvencyTree(leaves []domain.SolvencyLeaf) (*merkletree.MerkleTree, []domain.SolvencyLeaf, error) {
	sorted := make([]domain.SolvencyLeaf, len(leaves))
	copy(sorted, leaves)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Address < sorted[j].Address })

	contents := make([]merkletree.Content, len(sorted))
	for i, leaf := range sorted {
		contents[i] = solvencyLeafContent{leaf: leaf}
	}

	tree, err := merkletree.NewTree(contents)
	if err != nil {
		return nil, nil, fmt.Errorf("provably: build solvency tree: %w", err)
	}
	return tree, sorted, nil
}

// MerkleRootHex returns the tree's root hash as lowercase hex.
func MerkleRootHex(tree *merkletree.MerkleTree) string {
	return fmt.Sprintf("%x", tree.MerkleRoot())
}

// VerifyLeafInclusion confirms that leaf is included in tree, re-deriving
// its Merkle path and validating it against the tree's root.
func VerifyLeafInclusion(tree *merkletree.MerkleTree, leaf domain.SolvencyLeaf) (bool, error) {
	ok, err := tree.VerifyContent(solvencyLeafContent{leaf: leaf})
	if err != nil {
		return false, fmt.Errorf("provably: verify leaf inclusion: %w", err)
	}
	return ok, nil
}

// VerifyTreeIntegrity recomputes every node's hash from its children and
// confirms the recomputed root matches the tree's stored root.
func VerifyTreeIntegrity(tree *merkletree.MerkleTree) (bool, error) {
	ok, err := tree.VerifyTree()
	if err != nil {
		return false, fmt.Errorf("provably: verify tree integrity: %w", err)
	}
	return ok, nil
}

// BuildSolvencyProof assembles a full domain.SolvencyProof from a set of
// account balances and the platform's live on-chain balance, per spec.md
// §3/§4.7. IsSolvent holds iff on-chain balance covers total liabilities.
func BuildSolvencyProof(leaves []domain.SolvencyLeaf, onChainBalance domain.QU, tick, epoch uint32) (domain.SolvencyProof, error) {
	tree, sorted, err := BuildSolvencyTree(leaves)
	if err != nil {
		return domain.SolvencyProof{}, err
	}

	total := domain.ZeroQU()
	for _, l := range sorted {
		total = total.Add(l.Balance)
	}

	return domain.SolvencyProof{
		MerkleRoot:         MerkleRootHex(tree),
		TotalUserBalanceQU: total,
		OnChainBalanceQU:   onChainBalance,
		IsSolvent:          onChainBalance.GreaterThanOrEqual(total),
		AccountCount:       len(sorted),
		Tick:               tick,
		Epoch:              epoch,
		Leaves:             sorted,
	}, nil
}
