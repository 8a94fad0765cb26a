// Package market drives the prediction-market lifecycle described in
// spec.md §4.3: creation and on-chain bet-id discovery, the close trigger,
// oracle-backed resolution with its pari-mutuel payout fan-out, and
// creator/admin cancellation. Every transition that touches more than one
// row goes through store.Store's transaction primitives so a crash never
// leaves bets, escrows, and the market row disagreeing about what
// happened.
package market

import (
	"context"
	"time"

	"github.com/evetabi/qpredict/internal/chainrpc"
	"github.com/evetabi/qpredict/internal/config"
	"github.com/evetabi/qpredict/internal/oracle"
	"github.com/evetabi/qpredict/internal/store"
)

// ──────────────────────────────────────────────────────────────────────────────
// Interfaces injected into Service to keep this package testable without a
// live chain connection
// ──────────────────────────────────────────────────────────────────────────────

// ChainClient is the subset of *chainrpc.Client the market lifecycle needs.
type ChainClient interface {
	GetNodeInfo(ctx context.Context) (chainrpc.NodeInfo, error)
	IssueFee(ctx context.Context, maxSlots, optionCount int, endAt time.Time) int64
	IssueBet(ctx context.Context, seed string, proc chainrpc.IssueBetProcedure, issueFee int64) (chainrpc.SendResult, error)
	DiscoverBetID(ctx context.Context, description string) (uint32, bool, error)
	PublishResult(ctx context.Context, seed string, betID uint32, winningOption int) (chainrpc.SendResult, error)
	CancelBet(ctx context.Context, seed string, betID uint32) (chainrpc.SendResult, error)
}

// AlertSink delivers a best-effort operational alert; failures to deliver
// never block market progress, per spec.md §4.4.
type AlertSink interface {
	Alert(event, message string)
}

type noopAlerts struct{}

func (noopAlerts) Alert(string, string) {}

// Service orchestrates every market lifecycle transition.
type Service struct {
	store    *store.Store
	chain    ChainClient
	oracles  *oracle.Registry
	cfg      *config.Config
	alert    AlertSink
}

// New builds a market Service. alerts may be nil, in which case alerts are
// silently discarded.
func New(st *store.Store, chain ChainClient, oracles *oracle.Registry, cfg *config.Config, alerts AlertSink) *Service {
	if alerts == nil {
		alerts = noopAlerts{}
	}
	return &Service{store: st, chain: chain, oracles: oracles, cfg: cfg, alert: alerts}
}
