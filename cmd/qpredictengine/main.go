// Package main is the entry point for the qpredict custodial settlement
// engine: it wires the store, vault, chain RPC client, circuit breaker,
// oracle adapters, and the market/escrow/recovery services together and
// starts the cron orchestrator that drives every state machine.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/evetabi/qpredict/internal/alert"
	"github.com/evetabi/qpredict/internal/breaker"
	"github.com/evetabi/qpredict/internal/chainrpc"
	"github.com/evetabi/qpredict/internal/config"
	"github.com/evetabi/qpredict/internal/cron"
	"github.com/evetabi/qpredict/internal/domain"
	"github.com/evetabi/qpredict/internal/escrow"
	"github.com/evetabi/qpredict/internal/market"
	"github.com/evetabi/qpredict/internal/oracle"
	"github.com/evetabi/qpredict/internal/recovery"
	"github.com/evetabi/qpredict/internal/store"
	"github.com/evetabi/qpredict/internal/vault"
)

func main() {
	// ── 1. Config + logger ────────────────────────────────────────────────────
	cfg := config.MustLoad()

	var logHandler slog.Handler
	if cfg.IsProd() {
		logHandler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		logHandler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	logger.Info("starting qpredict settlement engine", "env", cfg.Observability.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 2. Alert sink ─────────────────────────────────────────────────────────
	alerts := alert.New(cfg.Observability, logger)

	// ── 3. Store ──────────────────────────────────────────────────────────────
	st, err := store.Open(ctx, cfg.Store.Path, cfg.Store.BusyTimeout)
	if err != nil {
		logger.Error("store open failed", "err", err)
		os.Exit(1)
	}
	defer st.Close()
	logger.Info("store opened", "path", cfg.Store.Path)

	// ── 4. Vault ──────────────────────────────────────────────────────────────
	v, err := vault.New(cfg.Vault.MasterSecret)
	if err != nil {
		logger.Error("vault init failed", "err", err)
		os.Exit(1)
	}

	// ── 5. Chain RPC client + circuit breaker ────────────────────────────────
	chainClient, err := chainrpc.New(cfg.Chain.RPCEndpoints, cfg.Chain.CallTimeout)
	if err != nil {
		logger.Error("chain client init failed", "err", err)
		os.Exit(1)
	}
	cb := breaker.New(cfg.Breaker.FailureThreshold, cfg.Breaker.ResetTimeout, alerts)
	guarded := cron.NewGuardedChain(chainClient, cb)

	// ── 6. Oracle adapters ────────────────────────────────────────────────────
	// Sports/AI-council/custom each depend on an external data source (a
	// sports results feed, a news feed + persona-voting model, the
	// creator's own out-of-band verdict submission) that spec.md §1 places
	// outside this engine's scope — the core only ever sees the OracleAdapter
	// contract. placeholderSource below answers "not ready yet" for all
	// three until a real integration is wired behind the same interfaces.
	placeholder := placeholderSource{}
	registry := oracle.NewRegistry(
		oracle.NewCryptoAdapter(&cfg.Price, cfg.Oracle.MinSources, cfg.Attestation.SecretKey, st),
		oracle.NewSportsAdapter(placeholder),
		oracle.NewAICouncilAdapter(placeholder, placeholder),
		oracle.NewCustomAdapter(placeholder),
	)

	// ── 7. Services ───────────────────────────────────────────────────────────
	mkt := market.New(st, guarded, registry, cfg, alerts)
	esc := escrow.New(st, v, guarded, cfg, alerts)
	rec := recovery.New(st, guarded, mkt, alerts)

	// ── 8. Cron orchestrator ──────────────────────────────────────────────────
	orch := cron.New(st, mkt, esc, rec, cb, cfg, alerts, logger)

	logger.Info("engine wired, starting orchestrator",
		"fast_cycle", cfg.Cron.FastCycle, "slow_cycle", cfg.Cron.SlowCycle)

	// Start blocks until ctx is cancelled (SIGINT/SIGTERM) and drains the
	// in-flight cycle before returning.
	orch.Start(ctx)

	logger.Info("engine stopped cleanly")
}

// placeholderSource is the shared no-op implementation of oracle.EventSource,
// oracle.NewsSource, oracle.PersonaVoter, and oracle.VerdictSource — every
// method reports "nothing available yet", which keeps the corresponding
// adapter permanently deferring instead of ever emitting a forged result.
type placeholderSource struct{}

func (placeholderSource) FindEvent(ctx context.Context, m *domain.Market) (*oracle.SportsEvent, bool, error) {
	return nil, false, nil
}

func (placeholderSource) FetchEvidence(ctx context.Context, m *domain.Market) (string, error) {
	return "", nil
}

func (placeholderSource) Vote(ctx context.Context, persona string, m *domain.Market, evidence string) (oracle.PersonaVote, error) {
	return oracle.PersonaVote{}, errNoPersonaVoterConfigured
}

func (placeholderSource) CreatorVerdict(ctx context.Context, marketID string) (*oracle.CreatorVerdict, error) {
	return nil, nil
}

var errNoPersonaVoterConfigured = errors.New("ai council: no persona-voting model configured")
