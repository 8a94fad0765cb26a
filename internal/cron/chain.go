package cron

import (
	"context"
	"time"

	"github.com/evetabi/qpredict/internal/breaker"
	"github.com/evetabi/qpredict/internal/chainrpc"
	"github.com/evetabi/qpredict/internal/domain"
)

// GuardedChain wraps *chainrpc.Client so every RPC call funnels through
// the circuit breaker, per spec.md §4.6 ("guards every RPC call"). It
// satisfies market.ChainClient, escrow.ChainClient, and
// recovery.ChainClient all at once, since the same breaker instance this
// type closes over is also the one the orchestrator gates phases with —
// there is exactly one breaker per process, never one per consumer.
type GuardedChain struct {
	inner *chainrpc.Client
	cb    *breaker.Breaker
}

// NewGuardedChain builds the breaker-guarded chain client. Call it once at
// startup, wire the result into market.New/escrow.New/recovery.New as their
// ChainClient, and pass the same cb into New so the orchestrator gates
// phases on the identical breaker instance guarding the RPC calls those
// services make.
func NewGuardedChain(inner *chainrpc.Client, cb *breaker.Breaker) *GuardedChain {
	return &GuardedChain{inner: inner, cb: cb}
}

func (g *GuardedChain) GetNodeInfo(ctx context.Context) (chainrpc.NodeInfo, error) {
	var info chainrpc.NodeInfo
	err := g.cb.Guard(func() error {
		var innerErr error
		info, innerErr = g.inner.GetNodeInfo(ctx)
		return innerErr
	})
	return info, err
}

func (g *GuardedChain) GetBalance(ctx context.Context, identity string) (domain.QU, error) {
	var bal domain.QU
	err := g.cb.Guard(func() error {
		var innerErr error
		bal, innerErr = g.inner.GetBalance(ctx, identity)
		return innerErr
	})
	return bal, err
}

func (g *GuardedChain) IssueFee(ctx context.Context, maxSlots, optionCount int, endAt time.Time) int64 {
	// IssueFee already degrades to a conservative default internally when
	// getNodeInfo fails, so it carries no error to guard.
	return g.inner.IssueFee(ctx, maxSlots, optionCount, endAt)
}

func (g *GuardedChain) IssueBet(ctx context.Context, seed string, proc chainrpc.IssueBetProcedure, issueFee int64) (chainrpc.SendResult, error) {
	var res chainrpc.SendResult
	err := g.cb.Guard(func() error {
		var innerErr error
		res, innerErr = g.inner.IssueBet(ctx, seed, proc, issueFee)
		return innerErr
	})
	return res, err
}

func (g *GuardedChain) DiscoverBetID(ctx context.Context, description string) (uint32, bool, error) {
	var id uint32
	var found bool
	err := g.cb.Guard(func() error {
		var innerErr error
		id, found, innerErr = g.inner.DiscoverBetID(ctx, description)
		return innerErr
	})
	return id, found, err
}

func (g *GuardedChain) PublishResult(ctx context.Context, seed string, betID uint32, winningOption int) (chainrpc.SendResult, error) {
	var res chainrpc.SendResult
	err := g.cb.Guard(func() error {
		var innerErr error
		res, innerErr = g.inner.PublishResult(ctx, seed, betID, winningOption)
		return innerErr
	})
	return res, err
}

func (g *GuardedChain) CancelBet(ctx context.Context, seed string, betID uint32) (chainrpc.SendResult, error) {
	var res chainrpc.SendResult
	err := g.cb.Guard(func() error {
		var innerErr error
		res, innerErr = g.inner.CancelBet(ctx, seed, betID)
		return innerErr
	})
	return res, err
}

func (g *GuardedChain) JoinBet(ctx context.Context, seed string, betID uint32, slots, option int, amount int64) (chainrpc.SendResult, error) {
	var res chainrpc.SendResult
	err := g.cb.Guard(func() error {
		var innerErr error
		res, innerErr = g.inner.JoinBet(ctx, seed, betID, slots, option, amount)
		return innerErr
	})
	return res, err
}

func (g *GuardedChain) Transfer(ctx context.Context, seed string, destinationIdentity string, amount int64) (chainrpc.SendResult, error) {
	var res chainrpc.SendResult
	err := g.cb.Guard(func() error {
		var innerErr error
		res, innerErr = g.inner.Transfer(ctx, seed, destinationIdentity, amount)
		return innerErr
	})
	return res, err
}
