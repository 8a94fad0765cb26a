package recovery_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/evetabi/qpredict/internal/chainrpc"
	"github.com/evetabi/qpredict/internal/config"
	"github.com/evetabi/qpredict/internal/domain"
	"github.com/evetabi/qpredict/internal/escrow"
	"github.com/evetabi/qpredict/internal/market"
	"github.com/evetabi/qpredict/internal/oracle"
	"github.com/evetabi/qpredict/internal/recovery"
	"github.com/evetabi/qpredict/internal/store"
	"github.com/evetabi/qpredict/internal/vault"
)

// fakeChain satisfies market.ChainClient and recovery.ChainClient at once —
// the same role internal/cron's guardedChain plays in production, just
// without the breaker in front of it.
type fakeChain struct {
	balances    map[string]domain.QU
	discoverID  uint32
	discoverOK  bool
	discoverErr error
}

func (f *fakeChain) GetBalance(ctx context.Context, identity string) (domain.QU, error) {
	if b, ok := f.balances[identity]; ok {
		return b, nil
	}
	return domain.ZeroQU(), nil
}

func (f *fakeChain) GetNodeInfo(ctx context.Context) (chainrpc.NodeInfo, error) {
	return chainrpc.NodeInfo{Tick: 1000, Epoch: 1, FeePerSlotPerHour: 10}, nil
}

func (f *fakeChain) IssueFee(ctx context.Context, maxSlots, optionCount int, endAt time.Time) int64 {
	return 10
}

func (f *fakeChain) IssueBet(ctx context.Context, seed string, proc chainrpc.IssueBetProcedure, issueFee int64) (chainrpc.SendResult, error) {
	return chainrpc.SendResult{TxID: "issue-tx", TargetTick: 1005}, nil
}

func (f *fakeChain) DiscoverBetID(ctx context.Context, description string) (uint32, bool, error) {
	return f.discoverID, f.discoverOK, f.discoverErr
}

func (f *fakeChain) PublishResult(ctx context.Context, seed string, betID uint32, winningOption int) (chainrpc.SendResult, error) {
	return chainrpc.SendResult{TxID: "publish-tx"}, nil
}

func (f *fakeChain) CancelBet(ctx context.Context, seed string, betID uint32) (chainrpc.SendResult, error) {
	return chainrpc.SendResult{TxID: "cancel-tx"}, nil
}

func (f *fakeChain) JoinBet(ctx context.Context, seed string, betID uint32, slots, option int, amount int64) (chainrpc.SendResult, error) {
	return chainrpc.SendResult{TxID: "join-tx", TargetTick: 1005}, nil
}

func (f *fakeChain) Transfer(ctx context.Context, seed string, destinationIdentity string, amount int64) (chainrpc.SendResult, error) {
	return chainrpc.SendResult{TxID: "sweep-tx", TargetTick: 1005}, nil
}

type recordingAlerts struct{ events []string }

func (r *recordingAlerts) Alert(event, message string) { r.events = append(r.events, event) }

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(context.Background(), filepath.Join(dir, "test.db"), time.Second)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func testConfig() *config.Config {
	return &config.Config{Platform: config.PlatformConfig{Seed: "seed"}}
}

func escrowTestConfig() *config.Config {
	return &config.Config{
		Cron: config.CronConfig{
			EscrowExpiry:        2 * time.Hour,
			JoinBetTimeoutTicks: 600,
			SweepTimeoutTicks:   300,
		},
		Chain: config.ChainConfig{TxFeeQU: 10},
	}
}

func newTestVault(t *testing.T) *vault.Vault {
	t.Helper()
	v, err := vault.New("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcd")
	if err != nil {
		t.Fatalf("new vault: %v", err)
	}
	return v
}

func seedMarket(t *testing.T, st *store.Store, id string, status domain.MarketStatus) *domain.Market {
	t.Helper()
	now := time.Now().UTC()
	m := &domain.Market{
		ID:              id,
		Pair:            "btc/usdt",
		Question:        "Will BTC be above 90000 by end date?",
		ResolutionType:  domain.ResolutionAbove,
		Target:          90000,
		MarketType:      domain.MarketTypePrice,
		Options:         []string{"yes", "no"},
		CloseAt:         now.Add(time.Hour),
		EndAt:           now.Add(2 * time.Hour),
		MinBetQU:        domain.NewQU(100),
		MaxSlots:        10,
		TotalPoolQU:     domain.ZeroQU(),
		SlotMap:         []int{0, 0},
		Status:          domain.MarketActive,
		CreatorAddress:  "CREATOR",
		CommitmentHash:  "deadbeef",
		OracleAddresses: []string{},
		Provenance:      domain.ProvenanceUser,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := st.CreateMarket(context.Background(), m); err != nil {
		t.Fatalf("seed market: %v", err)
	}
	backdate(t, st, "markets", id, status, now.Add(-90*time.Minute))
	m.Status = status
	return m
}

// backdate sets a row's status and updated_at directly, standing in for
// the passage of time the recovery thresholds key off.
func backdate(t *testing.T, st *store.Store, table, id string, status any, updatedAt time.Time) {
	t.Helper()
	_, err := st.DB().ExecContext(context.Background(),
		"UPDATE "+table+" SET status = ?, updated_at = ? WHERE id = ?", status, updatedAt, id)
	if err != nil {
		t.Fatalf("backdate %s %s: %v", table, id, err)
	}
}

func TestHandleStuckMarkets_PendingTxPastThresholdIsCancelled(t *testing.T) {
	st := newTestStore(t)
	chain := &fakeChain{balances: map[string]domain.QU{}}
	mkt := market.New(st, chain, oracle.NewRegistry(nil, nil, nil, nil), testConfig(), nil)
	rec := recovery.New(st, chain, mkt, nil)

	m := seedMarket(t, st, "m-pending-stuck", domain.MarketPendingTx)

	if err := rec.HandleStuckMarkets(context.Background()); err != nil {
		t.Fatalf("handle stuck markets: %v", err)
	}
	final, err := st.GetMarket(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if final.Status != domain.MarketCancelled {
		t.Fatalf("expected cancelled, got %s", final.Status)
	}
}

func TestHandleStuckMarkets_ResolvingPastThresholdRevertsToClosed(t *testing.T) {
	st := newTestStore(t)
	chain := &fakeChain{balances: map[string]domain.QU{}}
	mkt := market.New(st, chain, oracle.NewRegistry(nil, nil, nil, nil), testConfig(), nil)
	rec := recovery.New(st, chain, mkt, nil)

	m := seedMarket(t, st, "m-resolving-stuck", domain.MarketResolving)
	old := time.Now().UTC().Add(-2 * time.Hour)
	if _, err := st.DB().ExecContext(context.Background(),
		"UPDATE markets SET end_at = ? WHERE id = ?", old, m.ID); err != nil {
		t.Fatalf("backdate end_at: %v", err)
	}

	if err := rec.HandleStuckMarkets(context.Background()); err != nil {
		t.Fatalf("handle stuck markets: %v", err)
	}
	final, err := st.GetMarket(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if final.Status != domain.MarketClosed {
		t.Fatalf("expected reverted to closed, got %s", final.Status)
	}
}

func TestHandleStuckMarkets_ActiveWithBetIDZeroDiscoversThenCancels(t *testing.T) {
	st := newTestStore(t)

	t.Run("discovery succeeds", func(t *testing.T) {
		chain := &fakeChain{balances: map[string]domain.QU{}, discoverID: 55, discoverOK: true}
		mkt := market.New(st, chain, oracle.NewRegistry(nil, nil, nil, nil), testConfig(), nil)
		rec := recovery.New(st, chain, mkt, nil)

		m := seedMarket(t, st, "m-active-discover", domain.MarketActive)
		if err := rec.HandleStuckMarkets(context.Background()); err != nil {
			t.Fatalf("handle stuck markets: %v", err)
		}
		final, err := st.GetMarket(context.Background(), m.ID)
		if err != nil {
			t.Fatalf("reload: %v", err)
		}
		if final.OnChainBetID == nil || *final.OnChainBetID != 55 {
			t.Fatalf("expected discovered bet id 55, got %v", final.OnChainBetID)
		}
	})

	t.Run("discovery fails, market cancelled", func(t *testing.T) {
		chain := &fakeChain{balances: map[string]domain.QU{}, discoverOK: false}
		mkt := market.New(st, chain, oracle.NewRegistry(nil, nil, nil, nil), testConfig(), nil)
		rec := recovery.New(st, chain, mkt, nil)

		m := seedMarket(t, st, "m-active-nodiscover", domain.MarketActive)
		if err := rec.HandleStuckMarkets(context.Background()); err != nil {
			t.Fatalf("handle stuck markets: %v", err)
		}
		final, err := st.GetMarket(context.Background(), m.ID)
		if err != nil {
			t.Fatalf("reload: %v", err)
		}
		if final.Status != domain.MarketCancelled {
			t.Fatalf("expected cancelled, got %s", final.Status)
		}
	})
}

func TestRecoverOrphanEscrows_WonAwaitingSweepStaleOnlyAlerts(t *testing.T) {
	st := newTestStore(t)
	chain := &fakeChain{balances: map[string]domain.QU{}}
	mkt := market.New(st, chain, oracle.NewRegistry(nil, nil, nil, nil), testConfig(), nil)
	alerts := &recordingAlerts{}
	rec := recovery.New(st, chain, mkt, alerts)

	m := seedMarket(t, st, "m-won-stale", domain.MarketActive)

	escSvc := escrow.New(st, newTestVault(t), chain, escrowTestConfig(), nil)
	_, e, err := escSvc.Create(context.Background(), escrow.CreateParams{
		MarketID:          m.ID,
		UserPayoutAddress: "USERPAYOUT00000000000000000000000000000000000000000000000",
		Option:            0,
		Slots:             1,
		MinBetQU:          domain.NewQU(100),
		CommitmentHash:    "deadbeefcafebabef00dfacefeedface",
		CommitmentNonce:   "nonce-won-stale",
	})
	if err != nil {
		t.Fatalf("create escrow: %v", err)
	}
	backdate(t, st, "escrows", e.ID, domain.EscrowWonAwaitingSweep, time.Now().UTC().Add(-3*time.Hour))

	if err := rec.RecoverOrphanEscrows(context.Background()); err != nil {
		t.Fatalf("recover orphan escrows: %v", err)
	}
	if len(alerts.events) == 0 {
		t.Error("expected a stale won_awaiting_sweep alert")
	}
	final, err := st.GetEscrow(context.Background(), e.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if final.Status != domain.EscrowWonAwaitingSweep {
		t.Errorf("expected status unchanged (alert-only), got %s", final.Status)
	}
}

func TestRecoverOrphanEscrows_JoiningSCIdleZeroBalancePromotes(t *testing.T) {
	st := newTestStore(t)
	chain := &fakeChain{balances: map[string]domain.QU{}}
	mkt := market.New(st, chain, oracle.NewRegistry(nil, nil, nil, nil), testConfig(), nil)
	rec := recovery.New(st, chain, mkt, nil)

	m := seedMarket(t, st, "m-joining-idle", domain.MarketActive)
	escSvc := escrow.New(st, newTestVault(t), chain, escrowTestConfig(), nil)
	_, e, err := escSvc.Create(context.Background(), escrow.CreateParams{
		MarketID:          m.ID,
		UserPayoutAddress: "USERPAYOUT00000000000000000000000000000000000000000000000",
		Option:            0,
		Slots:             1,
		MinBetQU:          domain.NewQU(100),
		CommitmentHash:    "deadbeefcafebabef00dfacefeedface",
		CommitmentNonce:   "nonce-joining-idle",
	})
	if err != nil {
		t.Fatalf("create escrow: %v", err)
	}
	chain.balances[e.EscrowAddress] = domain.NewQU(100)
	if err := escSvc.CheckDeposit(context.Background(), e.ID); err != nil {
		t.Fatalf("check deposit: %v", err)
	}
	if err := st.BeginJoinBet(context.Background(), e.ID); err != nil {
		t.Fatalf("begin join: %v", err)
	}
	backdate(t, st, "escrows", e.ID, domain.EscrowJoiningSC, time.Now().UTC().Add(-45*time.Minute))

	// Balance at the escrow address is now zero: the joinBet actually
	// landed on-chain, so the idle joining_sc escrow should be promoted
	// rather than reverted.
	chain.balances[e.EscrowAddress] = domain.ZeroQU()

	if err := rec.RecoverOrphanEscrows(context.Background()); err != nil {
		t.Fatalf("recover orphan escrows: %v", err)
	}
	final, err := st.GetEscrow(context.Background(), e.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if final.Status != domain.EscrowActiveInSC {
		t.Fatalf("expected promoted to active_in_sc, got %s", final.Status)
	}
}
