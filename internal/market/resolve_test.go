package market_test

import (
	"context"
	"testing"
	"time"

	"github.com/evetabi/qpredict/internal/domain"
	"github.com/evetabi/qpredict/internal/market"
	"github.com/evetabi/qpredict/internal/oracle"
	"github.com/evetabi/qpredict/internal/store"
	"github.com/evetabi/qpredict/internal/vault"
)

// seedActiveEscrow lands a bet's escrow directly in active_in_sc, bypassing
// internal/escrow.Service's on-chain join flow, so resolve tests can assert
// on the fan-out step 6 performs against a real escrow/key pair.
func seedActiveEscrow(t *testing.T, st *store.Store, b *domain.Bet) *domain.Escrow {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	e := &domain.Escrow{
		ID:                "escrow-" + b.ID,
		BetID:             b.ID,
		MarketID:          b.MarketID,
		EscrowAddress:     "ESCROW" + b.ID,
		UserPayoutAddress: b.UserPayoutAddress,
		Option:            b.Option,
		Slots:             b.Slots,
		ExpectedAmountQU:  b.AmountQU,
		Status:            domain.EscrowAwaitingDeposit,
		ExpiresAt:         now.Add(time.Hour),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	enc := vault.Encrypted{CiphertextHex: "aa", IVHex: "bb", TagHex: "cc"}
	if err := st.CreateEscrowWithBet(ctx, b, e, enc); err != nil {
		t.Fatalf("create escrow: %v", err)
	}
	if err := st.MarkDepositDetected(ctx, e.ID, b.AmountQU, now); err != nil {
		t.Fatalf("mark deposit detected: %v", err)
	}
	if err := st.BeginJoinBet(ctx, e.ID); err != nil {
		t.Fatalf("begin join bet: %v", err)
	}
	ok, err := st.ConfirmJoinBet(ctx, e.ID)
	if err != nil || !ok {
		t.Fatalf("confirm join bet: ok=%v err=%v", ok, err)
	}
	got, err := st.GetEscrow(ctx, e.ID)
	if err != nil {
		t.Fatalf("reload escrow: %v", err)
	}
	if got.Status != domain.EscrowActiveInSC {
		t.Fatalf("expected active_in_sc, got %s", got.Status)
	}
	return got
}

func seedBet(t *testing.T, id, marketID, payoutAddr string, option, slots int, amount domain.QU) *domain.Bet {
	t.Helper()
	now := time.Now().UTC()
	return &domain.Bet{
		ID:                id,
		MarketID:          marketID,
		UserPayoutAddress: payoutAddr,
		Option:            option,
		Slots:             slots,
		AmountQU:          amount,
		Status:            domain.BetConfirmed,
		CommitmentHash:    "hash-" + id,
		CommitmentNonce:   "nonce-" + id,
		CreatedAt:         now,
	}
}

func TestResolve_SettlesWinnersAndLosersAndCreditsAccounts(t *testing.T) {
	st := newTestStore(t)
	svc := market.New(st, &fakeChain{}, nil, testConfig(), nil)
	ctx := context.Background()

	now := time.Now().UTC()
	m := &domain.Market{
		ID:              "m-resolve",
		Pair:            "btc/usdt",
		Question:        "Will BTC be above 90000 by end date?",
		ResolutionType:  domain.ResolutionAbove,
		Target:          90000,
		MarketType:      domain.MarketTypePrice,
		Options:         []string{"yes", "no"},
		CloseAt:         now.Add(-2 * time.Hour),
		EndAt:           now.Add(-time.Hour),
		MinBetQU:        domain.NewQU(10_000),
		MaxSlots:        100,
		TotalPoolQU:     domain.ZeroQU(),
		SlotMap:         []int{0, 0},
		Status:          domain.MarketActive,
		CreatorAddress:  "CREATOR",
		CommitmentHash:  "deadbeef",
		OracleAddresses: []string{"ORACLE1"},
		OracleFeeBps:    50,
		Provenance:      domain.ProvenanceUser,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := st.CreateMarket(ctx, m); err != nil {
		t.Fatalf("seed market: %v", err)
	}

	winner := seedBet(t, "bet-win", m.ID, "WINNER00000000000000000000000000000000000000000000000000", 0, 2, domain.NewQU(20_000))
	loser := seedBet(t, "bet-lose", m.ID, "LOSER000000000000000000000000000000000000000000000000000", 1, 1, domain.NewQU(10_000))
	if err := st.CreateBet(ctx, winner); err != nil {
		t.Fatalf("seed winner bet: %v", err)
	}
	loserEscrow := seedActiveEscrow(t, st, loser)

	result := &oracle.Result{WinningOption: 0, Proof: oracle.Proof{Source: "crypto_price", Data: map[string]any{"median": "91000"}}}
	if err := svc.Resolve(ctx, m.ID, result); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	reloadedMarket, err := st.GetMarket(ctx, m.ID)
	if err != nil {
		t.Fatalf("reload market: %v", err)
	}
	if reloadedMarket.Status != domain.MarketResolved {
		t.Errorf("expected resolved, got %s", reloadedMarket.Status)
	}

	gotWinner, err := st.GetBet(ctx, winner.ID)
	if err != nil {
		t.Fatalf("reload winner: %v", err)
	}
	if gotWinner.Status != domain.BetWon {
		t.Errorf("expected won, got %s", gotWinner.Status)
	}
	if gotWinner.PayoutQU == nil || gotWinner.PayoutQU.IsZero() {
		t.Error("expected a nonzero payout recorded on the winning bet")
	}

	gotLoser, err := st.GetBet(ctx, loser.ID)
	if err != nil {
		t.Fatalf("reload loser: %v", err)
	}
	if gotLoser.Status != domain.BetLost {
		t.Errorf("expected lost, got %s", gotLoser.Status)
	}

	gotLoserEscrow, err := st.GetEscrow(ctx, loserEscrow.ID)
	if err != nil {
		t.Fatalf("reload loser escrow: %v", err)
	}
	if gotLoserEscrow.Status != domain.EscrowLost {
		t.Errorf("expected escrow lost, got %s", gotLoserEscrow.Status)
	}
	gotLoserKey, err := st.GetEscrowKey(ctx, loserEscrow.ID)
	if err != nil {
		t.Fatalf("reload loser escrow key: %v", err)
	}
	if gotLoserKey.Status != domain.KeyArchived {
		t.Errorf("expected loser escrow key archived, got %s", gotLoserKey.Status)
	}
	if gotLoserKey.CiphertextHex == "aa" {
		t.Error("expected ciphertext to be overwritten, not left as the original")
	}

	acct, err := st.GetOrCreateAccount(ctx, winner.UserPayoutAddress)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if acct.BalanceQU.IsZero() {
		t.Error("expected the winner's custody account to be credited")
	}
}

func TestResolve_SingleSidedPoolResolvesWithoutTrippingTheSolvencyGuard(t *testing.T) {
	st := newTestStore(t)
	svc := market.New(st, &fakeChain{}, nil, testConfig(), nil)
	ctx := context.Background()

	now := time.Now().UTC()
	m := &domain.Market{
		ID:              "m-solo-side",
		Pair:            "btc/usdt",
		Question:        "Will BTC be above 90000 by end date?",
		ResolutionType:  domain.ResolutionAbove,
		Target:          90000,
		MarketType:      domain.MarketTypePrice,
		Options:         []string{"yes", "no"},
		CloseAt:         now.Add(-2 * time.Hour),
		EndAt:           now.Add(-time.Hour),
		MinBetQU:        domain.NewQU(10_000),
		MaxSlots:        100,
		TotalPoolQU:     domain.ZeroQU(),
		SlotMap:         []int{0, 0},
		Status:          domain.MarketActive,
		CreatorAddress:  "CREATOR",
		CommitmentHash:  "deadbeef2",
		OracleAddresses: nil,
		OracleFeeBps:    0,
		Provenance:      domain.ProvenanceUser,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := st.CreateMarket(ctx, m); err != nil {
		t.Fatalf("seed market: %v", err)
	}
	winner := seedBet(t, "bet-only", m.ID, "SOLO0000000000000000000000000000000000000000000000000000", 0, 1, domain.NewQU(10_000))
	if err := st.CreateBet(ctx, winner); err != nil {
		t.Fatalf("seed bet: %v", err)
	}

	result := &oracle.Result{WinningOption: 0, Proof: oracle.Proof{Source: "crypto_price", Data: map[string]any{"median": "91000"}}}
	if err := svc.Resolve(ctx, m.ID, result); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	reloaded, err := st.GetMarket(ctx, m.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Status != domain.MarketResolved {
		t.Errorf("expected resolved, got %s", reloaded.Status)
	}
}

func TestResolveDue_SkipsMarketsNotPastEndDate(t *testing.T) {
	st := newTestStore(t)
	adapter := &fakeAdapter{canResolve: true, result: &oracle.Result{WinningOption: 0}}
	registry := oracle.NewRegistry(adapter, adapter, adapter, adapter)
	svc := market.New(st, &fakeChain{}, registry, testConfig(), nil)
	ctx := context.Background()

	now := time.Now().UTC()
	m := &domain.Market{
		ID:             "m-not-due",
		Pair:           "btc/usdt",
		Question:       "Will BTC be above 90000 by end date?",
		ResolutionType: domain.ResolutionAbove,
		Target:         90000,
		MarketType:     domain.MarketTypePrice,
		Options:        []string{"yes", "no"},
		CloseAt:        now.Add(time.Hour),
		EndAt:          now.Add(2 * time.Hour),
		MinBetQU:       domain.NewQU(10_000),
		MaxSlots:       100,
		TotalPoolQU:    domain.ZeroQU(),
		SlotMap:        []int{0, 0},
		Status:         domain.MarketActive,
		CreatorAddress: "CREATOR",
		CommitmentHash: "notdue",
		Provenance:     domain.ProvenanceUser,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := st.CreateMarket(ctx, m); err != nil {
		t.Fatalf("seed market: %v", err)
	}

	if err := svc.ResolveDue(ctx); err != nil {
		t.Fatalf("resolve due: %v", err)
	}
	reloaded, err := st.GetMarket(ctx, m.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Status != domain.MarketActive {
		t.Errorf("market not yet past end_at should be left alone, got %s", reloaded.Status)
	}
}
