package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/evetabi/qpredict/internal/domain"
	"github.com/evetabi/qpredict/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(context.Background(), filepath.Join(dir, "test.db"), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func seedDraftMarket(t *testing.T, st *store.Store, id string, maxSlots int) *domain.Market {
	t.Helper()
	now := time.Now().UTC()
	m := &domain.Market{
		ID:             id,
		Pair:           "btc/usdt",
		Question:       "is btc above 90000",
		ResolutionType: domain.ResolutionAbove,
		Target:         90000,
		MarketType:     domain.MarketTypePrice,
		Options:        []string{"yes", "no"},
		CloseAt:        now.Add(time.Hour),
		EndAt:          now.Add(2 * time.Hour),
		MinBetQU:       domain.NewQU(10_000),
		MaxSlots:       maxSlots,
		SlotMap:        []int{0, 0},
		TotalPoolQU:    domain.ZeroQU(),
		Status:         domain.MarketActive,
		CreatorAddress: "CREATOR",
		CommitmentHash: "deadbeef",
		OracleFeeBps:   50,
		Category:       "crypto",
		Provenance:     domain.ProvenanceUser,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, st.CreateMarket(context.Background(), m))
	return m
}

func seedBetRow(t *testing.T, st *store.Store, id, marketID string, option, slots int, amount domain.QU, status domain.BetStatus) {
	t.Helper()
	now := time.Now().UTC()
	b := &domain.Bet{
		ID:                id,
		MarketID:          marketID,
		UserPayoutAddress: "USER",
		Option:            option,
		Slots:             slots,
		AmountQU:          amount,
		Status:            status,
		CommitmentHash:    "c-" + id,
		CommitmentNonce:   "n-" + id,
		CreatedAt:         now,
	}
	require.NoError(t, st.CreateBet(context.Background(), b))
}

// TestConfirmBetDeposit_AccountsPoolAndSlotMapTogether exercises spec.md
// §3's ghost-bet prevention rule: a pending_deposit bet contributes
// nothing to the market's pool/slot_map until ConfirmBetDeposit lands,
// after which both move atomically.
func TestConfirmBetDeposit_AccountsPoolAndSlotMapTogether(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	m := seedDraftMarket(t, st, "mkt-1", 100)
	seedBetRow(t, st, "bet-1", m.ID, 0, 2, domain.NewQU(20_000), domain.BetPendingDeposit)

	before, err := st.GetMarket(ctx, m.ID)
	require.NoError(t, err)
	require.True(t, before.TotalPoolQU.IsZero())
	require.Equal(t, []int{0, 0}, before.SlotMap)

	ok, err := st.ConfirmBetDeposit(ctx, "bet-1")
	require.NoError(t, err)
	require.True(t, ok)

	after, err := st.GetMarket(ctx, m.ID)
	require.NoError(t, err)
	require.True(t, after.TotalPoolQU.Equal(domain.NewQU(20_000)))
	require.Equal(t, []int{2, 0}, after.SlotMap)

	bet, err := st.GetBet(ctx, "bet-1")
	require.NoError(t, err)
	require.Equal(t, domain.BetPending, bet.Status)
}

// TestConfirmBetDeposit_RejectsOverMaxSlots confirms the atomic check
// rejects a deposit that would push an option's slot count past the
// market's max_slots, leaving both the bet and the market untouched.
func TestConfirmBetDeposit_RejectsOverMaxSlots(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	m := seedDraftMarket(t, st, "mkt-2", 2)
	seedBetRow(t, st, "bet-1", m.ID, 0, 3, domain.NewQU(30_000), domain.BetPendingDeposit)

	ok, err := st.ConfirmBetDeposit(ctx, "bet-1")
	require.NoError(t, err)
	require.False(t, ok)

	after, err := st.GetMarket(ctx, m.ID)
	require.NoError(t, err)
	require.True(t, after.TotalPoolQU.IsZero())

	bet, err := st.GetBet(ctx, "bet-1")
	require.NoError(t, err)
	require.Equal(t, domain.BetPendingDeposit, bet.Status)
}

// TestConfirmBetDeposit_IsIdempotentAgainstDoubleConfirm guards against a
// retried confirm re-crediting the pool a second time.
func TestConfirmBetDeposit_IsIdempotentAgainstDoubleConfirm(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	m := seedDraftMarket(t, st, "mkt-3", 100)
	seedBetRow(t, st, "bet-1", m.ID, 0, 2, domain.NewQU(20_000), domain.BetPendingDeposit)

	ok1, err := st.ConfirmBetDeposit(ctx, "bet-1")
	require.NoError(t, err)
	require.True(t, ok1)

	ok2, err := st.ConfirmBetDeposit(ctx, "bet-1")
	require.NoError(t, err)
	require.False(t, ok2)

	after, err := st.GetMarket(ctx, m.ID)
	require.NoError(t, err)
	require.True(t, after.TotalPoolQU.Equal(domain.NewQU(20_000)))
	require.Equal(t, []int{2, 0}, after.SlotMap)
}

// TestPendingDepositBets_ExcludedFromPoolAccounting is the ghost-bet
// invariant checked directly: multiple pending_deposit bets sit alongside
// a confirmed one, and only the confirmed one counts.
func TestPendingDepositBets_ExcludedFromPoolAccounting(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	m := seedDraftMarket(t, st, "mkt-4", 100)
	seedBetRow(t, st, "bet-ghost-1", m.ID, 0, 5, domain.NewQU(50_000), domain.BetPendingDeposit)
	seedBetRow(t, st, "bet-ghost-2", m.ID, 1, 3, domain.NewQU(30_000), domain.BetPendingDeposit)
	seedBetRow(t, st, "bet-real", m.ID, 0, 2, domain.NewQU(20_000), domain.BetPendingDeposit)

	ok, err := st.ConfirmBetDeposit(ctx, "bet-real")
	require.NoError(t, err)
	require.True(t, ok)

	after, err := st.GetMarket(ctx, m.ID)
	require.NoError(t, err)
	require.True(t, after.TotalPoolQU.Equal(domain.NewQU(20_000)))
	require.Equal(t, []int{2, 0}, after.SlotMap)
}
