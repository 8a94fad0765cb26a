// Package main is the entry point for qpredictctl, the small operational
// CLI that sits alongside the settlement engine: commitment-chain
// verification, solvency-proof generation/printing, and a manual trigger
// for the recovery subsystem's three passes, each run once against the
// live store rather than on the engine's own cron cadence.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/evetabi/qpredict/internal/chainrpc"
	"github.com/evetabi/qpredict/internal/config"
	"github.com/evetabi/qpredict/internal/market"
	"github.com/evetabi/qpredict/internal/oracle"
	"github.com/evetabi/qpredict/internal/provably"
	"github.com/evetabi/qpredict/internal/recovery"
	"github.com/evetabi/qpredict/internal/store"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg := config.MustLoad()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx := context.Background()
	st, err := store.Open(ctx, cfg.Store.Path, cfg.Store.BusyTimeout)
	if err != nil {
		logger.Error("store open failed", "err", err)
		os.Exit(1)
	}
	defer st.Close()

	var cmdErr error
	switch os.Args[1] {
	case "verify-chain":
		cmdErr = cmdVerifyChain(ctx, st, os.Args[2:])
	case "solvency":
		cmdErr = cmdSolvency(ctx, st, cfg, os.Args[2:])
	case "solvency-verify":
		cmdErr = cmdSolvencyVerify(ctx, st)
	case "recover":
		cmdErr = cmdRecover(ctx, st, cfg, logger)
	default:
		usage()
		os.Exit(2)
	}

	if cmdErr != nil {
		logger.Error("command failed", "command", os.Args[1], "err", cmdErr)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `qpredictctl <command> [args]

commands:
  verify-chain <entity-id>   verify the commitment-chain entries for an entity
  solvency                   build a fresh solvency proof from live balances and print it
  solvency-verify            re-verify the most recently stored solvency proof
  recover                    run one pass of the recovery subsystem's three checks`)
}

func cmdVerifyChain(ctx context.Context, st *store.Store, args []string) error {
	fs := flag.NewFlagSet("verify-chain", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("verify-chain: expected exactly one entity id")
	}
	entityID := fs.Arg(0)

	entries, err := st.ChainEntriesForEntity(ctx, entityID)
	if err != nil {
		return fmt.Errorf("list chain entries: %w", err)
	}
	if len(entries) == 0 {
		return fmt.Errorf("no chain entries found for entity %q", entityID)
	}

	result := provably.VerifyChainSequence(entries)
	printJSON(map[string]any{
		"entity_id": entityID,
		"entries":   len(entries),
		"valid":     result.Valid,
		"broken_at": result.BrokenAt,
		"reason":    result.Reason,
	})
	if !result.Valid {
		return fmt.Errorf("chain verification failed at sequence %d: %s", result.BrokenAt, result.Reason)
	}
	return nil
}

func cmdSolvency(ctx context.Context, st *store.Store, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("solvency", flag.ExitOnError)
	persist := fs.Bool("store", false, "persist the computed proof via InsertSolvencyProof")
	fs.Parse(args)

	chain, err := chainrpc.New(cfg.Chain.RPCEndpoints, cfg.Chain.CallTimeout)
	if err != nil {
		return fmt.Errorf("chain client: %w", err)
	}

	leaves, err := st.ListAllBalances(ctx)
	if err != nil {
		return fmt.Errorf("list balances: %w", err)
	}
	onChainBalance, err := chain.GetBalance(ctx, cfg.Platform.Identity)
	if err != nil {
		return fmt.Errorf("get on-chain balance: %w", err)
	}
	nodeInfo, err := chain.GetNodeInfo(ctx)
	if err != nil {
		return fmt.Errorf("get node info: %w", err)
	}

	proof, err := provably.BuildSolvencyProof(leaves, onChainBalance, nodeInfo.Tick, nodeInfo.Epoch)
	if err != nil {
		return fmt.Errorf("build solvency proof: %w", err)
	}

	if *persist {
		if err := st.InsertSolvencyProof(ctx, &proof); err != nil {
			return fmt.Errorf("persist solvency proof: %w", err)
		}
	}

	printJSON(proof)
	if !proof.IsSolvent {
		return fmt.Errorf("platform is NOT solvent: on-chain %s < liabilities %s",
			proof.OnChainBalanceQU.String(), proof.TotalUserBalanceQU.String())
	}
	return nil
}

func cmdSolvencyVerify(ctx context.Context, st *store.Store) error {
	proof, err := st.LatestSolvencyProof(ctx)
	if err != nil {
		return fmt.Errorf("load latest solvency proof: %w", err)
	}
	if proof == nil {
		return fmt.Errorf("no solvency proof has been stored yet")
	}

	tree, _, err := provably.BuildSolvencyTree(proof.Leaves)
	if err != nil {
		return fmt.Errorf("rebuild solvency tree: %w", err)
	}
	ok, err := provably.VerifyTreeIntegrity(tree)
	if err != nil {
		return fmt.Errorf("verify tree integrity: %w", err)
	}
	root := provably.MerkleRootHex(tree)

	printJSON(map[string]any{
		"stored_root":     proof.MerkleRoot,
		"recomputed_root": root,
		"root_matches":    root == proof.MerkleRoot,
		"tree_valid":      ok,
		"is_solvent":      proof.IsSolvent,
	})
	if !ok || root != proof.MerkleRoot {
		return fmt.Errorf("stored solvency proof failed re-verification")
	}
	return nil
}

func cmdRecover(ctx context.Context, st *store.Store, cfg *config.Config, logger *slog.Logger) error {
	chain, err := chainrpc.New(cfg.Chain.RPCEndpoints, cfg.Chain.CallTimeout)
	if err != nil {
		return fmt.Errorf("chain client: %w", err)
	}

	// recovery only needs market.Service for its cancel/discovery path; it
	// moves escrow rows only through store methods and never decrypts an
	// escrow key, so no vault.Vault is constructed here.
	registry := oracle.NewRegistry(
		oracle.NewCryptoAdapter(&cfg.Price, cfg.Oracle.MinSources, cfg.Attestation.SecretKey, st),
		nil, nil, nil,
	)
	mkt := market.New(st, chain, registry, cfg, nil)
	rec := recovery.New(st, chain, mkt, nil)

	if err := rec.RepairAggregates(ctx); err != nil {
		return fmt.Errorf("repair aggregates: %w", err)
	}
	logger.Info("repair aggregates pass complete")

	if err := rec.HandleStuckMarkets(ctx); err != nil {
		return fmt.Errorf("handle stuck markets: %w", err)
	}
	logger.Info("stuck-market pass complete")

	if err := rec.RecoverOrphanEscrows(ctx); err != nil {
		return fmt.Errorf("recover orphan escrows: %w", err)
	}
	logger.Info("orphan-escrow recovery pass complete")

	return nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
