package market

import (
	"context"
	"fmt"
	"time"

	"github.com/evetabi/qpredict/internal/chainrpc"
	"github.com/evetabi/qpredict/internal/domain"
	"github.com/evetabi/qpredict/internal/provably"
)

const (
	minOptions  = 2
	maxOptions  = 8
	maxLabelLen = 31

	minBetFloorQU = 10_000
	maxSlotsCap   = 2_048

	priceMaxWindow = 30 * 24 * time.Hour
	otherMaxWindow = 90 * 24 * time.Hour
	minWindow      = time.Minute

	discoveryAttempts = 5
	discoveryBackoff   = 2 * time.Second
)

// CreateParams describes a market to be created.
type CreateParams struct {
	Pair            string
	Question        string
	ResolutionType  domain.ResolutionKind
	Target          float64
	TargetHigh      *float64
	MarketType      domain.MarketType
	Options         []string
	CloseAt         time.Time
	EndAt           time.Time
	MinBetQU        domain.QU
	MaxSlots        int
	CreatorAddress  string
	OracleAddresses []string
	OracleFeeBps    int
	Category        string
	Provenance      domain.Provenance
}

// validate enforces spec.md §3's market creation invariants.
func validate(p CreateParams) error {
	if len(p.Options) < minOptions || len(p.Options) > maxOptions {
		return fmt.Errorf("%w: option count %d outside [%d,%d]", domain.ErrInvalidMarketParams, len(p.Options), minOptions, maxOptions)
	}
	for _, opt := range p.Options {
		if len(opt) == 0 || len(opt) > maxLabelLen {
			return fmt.Errorf("%w: option label %q exceeds %d bytes", domain.ErrInvalidMarketParams, opt, maxLabelLen)
		}
	}
	if !p.CloseAt.Before(p.EndAt) && !p.CloseAt.Equal(p.EndAt) {
		return fmt.Errorf("%w: close_at must be <= end_at", domain.ErrInvalidMarketParams)
	}
	window := p.EndAt.Sub(p.CloseAt)
	maxWindow := otherMaxWindow
	if p.MarketType == domain.MarketTypePrice {
		maxWindow = priceMaxWindow
	}
	if window < minWindow || window > maxWindow {
		return fmt.Errorf("%w: end-close window %s outside [%s,%s]", domain.ErrInvalidMarketParams, window, minWindow, maxWindow)
	}
	if amt, err := p.MinBetQU.Int64(); err != nil || amt < minBetFloorQU {
		return fmt.Errorf("%w: min_bet_qu below floor of %d", domain.ErrInvalidMarketParams, minBetFloorQU)
	}
	if p.MaxSlots <= 0 || p.MaxSlots > maxSlotsCap {
		return fmt.Errorf("%w: max_slots %d outside (0,%d]", domain.ErrInvalidMarketParams, p.MaxSlots, maxSlotsCap)
	}
	return nil
}

// marketID derives a stable id for a new market from its commitment hash,
// mirroring the escrow package's commitmentID helper — deterministic and
// collision-resistant without pulling in a UUID dependency this package
// otherwise has no use for.
func marketID(commitmentHash string) string {
	if len(commitmentHash) >= 16 {
		return "mkt_" + commitmentHash[:16]
	}
	return "mkt_" + commitmentHash
}

// Create validates p, computes the market commitment, inserts the market
// row (draft), appends the market_create chain entry, attempts issueBet on
// the smart contract, and tries to discover the assigned on-chain bet id
// before returning — per spec.md §4.3's creation flow. A failed or
// undiscovered issueBet does not fail Create: the market is left active
// with bet id 0 (or in pending_tx, for recovery to retry) rather than
// blocking the caller on chain liveness.
func (s *Service) Create(ctx context.Context, p CreateParams) (*domain.Market, error) {
	if err := validate(p); err != nil {
		return nil, err
	}

	commitInput := provably.MarketCommitmentInput{
		Pair:           p.Pair,
		Question:       p.Question,
		ResolutionType: string(p.ResolutionType),
		Target:         p.Target,
		TargetHigh:     p.TargetHigh,
		Close:          p.CloseAt.UTC().Format(time.RFC3339),
		End:            p.EndAt.UTC().Format(time.RFC3339),
		MinBet:         p.MinBetQU.String(),
		MaxSlots:       p.MaxSlots,
		Creator:        p.CreatorAddress,
	}
	commitment, err := provably.MarketCommitment(commitInput)
	if err != nil {
		return nil, fmt.Errorf("market.Create: commitment: %w", err)
	}

	now := time.Now().UTC()
	id := marketID(commitment)
	var autoRefundAt *time.Time
	if p.MarketType == domain.MarketTypeCustom || p.MarketType == domain.MarketTypeAI {
		t := p.EndAt.Add(48 * time.Hour)
		autoRefundAt = &t
	}

	m := &domain.Market{
		ID:              id,
		Pair:            p.Pair,
		Question:        p.Question,
		ResolutionType:  p.ResolutionType,
		Target:          p.Target,
		TargetHigh:      p.TargetHigh,
		MarketType:      p.MarketType,
		Options:         p.Options,
		CloseAt:         p.CloseAt,
		EndAt:           p.EndAt,
		MinBetQU:        p.MinBetQU,
		MaxSlots:        p.MaxSlots,
		TotalPoolQU:     domain.ZeroQU(),
		SlotMap:         make([]int, len(p.Options)),
		Status:          domain.MarketDraft,
		CreatorAddress:  p.CreatorAddress,
		CommitmentHash:  commitment,
		OracleAddresses: p.OracleAddresses,
		OracleFeeBps:    p.OracleFeeBps,
		AutoRefundAt:    autoRefundAt,
		Category:        p.Category,
		Provenance:      p.Provenance,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.store.CreateMarket(ctx, m); err != nil {
		return nil, fmt.Errorf("market.Create: %w", err)
	}
	if _, err := s.store.AppendChainEntry(ctx, domain.EventMarketCreate, m.ID, m); err != nil {
		return nil, fmt.Errorf("market.Create: chain entry: %w", err)
	}

	s.issueAndDiscover(ctx, m)
	return m, nil
}

// issueAndDiscover attempts issueBet on the SC and, on success, polls for
// the assigned bet id up to discoveryAttempts times with a short backoff
// between tries. Failures here are alerted, not returned: the market row
// already committed in Create stands regardless, left for phase 0c / the
// stuck-market recovery to retry.
func (s *Service) issueAndDiscover(ctx context.Context, m *domain.Market) {
	issueFee := s.chain.IssueFee(ctx, m.MaxSlots, m.OptionCount(), m.EndAt)
	proc, err := chainrpc.NewIssueBetProcedure(m.ID, m.Options, m.OracleAddresses, oracleFeesArray(m), m.CloseAt, m.EndAt, mustInt64(m.MinBetQU), m.MaxSlots)
	if err != nil {
		s.alert.Alert("market.issue_bet_build_failed", fmt.Sprintf("market %s: %v", m.ID, err))
		return
	}

	result, err := s.chain.IssueBet(ctx, s.cfg.Platform.Seed, proc, issueFee)
	if err != nil {
		s.alert.Alert("market.issue_bet_failed", fmt.Sprintf("market %s: %v", m.ID, err))
		if activateErr := s.store.ActivateWithoutBetID(ctx, m.ID); activateErr != nil {
			s.alert.Alert("market.activate_without_betid_failed", fmt.Sprintf("market %s: %v", m.ID, activateErr))
		}
		return
	}
	txID := result.TxID
	m.CreationTx = &txID

	for attempt := 0; attempt < discoveryAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(discoveryBackoff)
		}
		betID, found, err := s.chain.DiscoverBetID(ctx, m.ID)
		if err != nil {
			continue
		}
		if found {
			if err := s.store.SetOnChainBetID(ctx, m.ID, betID); err != nil {
				s.alert.Alert("market.set_onchain_betid_failed", fmt.Sprintf("market %s: %v", m.ID, err))
			}
			return
		}
	}

	if err := s.store.ActivateWithoutBetID(ctx, m.ID); err != nil {
		s.alert.Alert("market.activate_without_betid_failed", fmt.Sprintf("market %s: %v", m.ID, err))
	}
}

// DiscoverPendingBetIDs implements spec.md §4.4 phase 0c: one more
// discovery attempt per cycle for every active market still carrying bet
// id 0.
func (s *Service) DiscoverPendingBetIDs(ctx context.Context) error {
	markets, err := s.store.ListMarketsByStatus(ctx, domain.MarketActive, domain.MarketPendingTx)
	if err != nil {
		return fmt.Errorf("market.DiscoverPendingBetIDs: %w", err)
	}
	for _, m := range markets {
		if m.OnChainBetID != nil && *m.OnChainBetID != 0 {
			continue
		}
		betID, found, err := s.chain.DiscoverBetID(ctx, m.ID)
		if err != nil {
			s.alert.Alert("market.discover_betid_failed", fmt.Sprintf("market %s: %v", m.ID, err))
			continue
		}
		if !found {
			continue
		}
		if err := s.store.SetOnChainBetID(ctx, m.ID, betID); err != nil {
			s.alert.Alert("market.set_onchain_betid_failed", fmt.Sprintf("market %s: %v", m.ID, err))
		}
	}
	return nil
}

// CloseExpiredBetting implements spec.md §4.4 phase 0a: flips active
// markets whose close_at has passed to closed. No RPC involved.
func (s *Service) CloseExpiredBetting(ctx context.Context) ([]string, error) {
	ids, err := s.store.CloseExpiredBetting(ctx, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("market.CloseExpiredBetting: %w", err)
	}
	return ids, nil
}

func oracleFeesArray(m *domain.Market) []uint32 {
	fees := make([]uint32, len(m.OracleAddresses))
	for i := range fees {
		fees[i] = uint32(m.OracleFeeBps)
	}
	return fees
}

func mustInt64(q domain.QU) int64 {
	v, _ := q.Int64()
	return v
}
