// Package escrow drives the per-bet escrow state machine described in
// spec.md §4.2: a fresh on-chain identity per bet, deposit detection,
// joining the smart contract's pool, and sweeping winnings or late
// refunds back to the user — with crash-safe transitions at every step
// so a process restart mid-cycle never loses or duplicates funds.
package escrow

import (
	"context"
	"fmt"
	"time"

	"github.com/evetabi/qpredict/internal/chainrpc"
	"github.com/evetabi/qpredict/internal/config"
	"github.com/evetabi/qpredict/internal/domain"
	"github.com/evetabi/qpredict/internal/store"
	"github.com/evetabi/qpredict/internal/vault"
)

// ──────────────────────────────────────────────────────────────────────────────
// Interfaces injected into Service to keep this package testable without a
// live chain connection
// ──────────────────────────────────────────────────────────────────────────────

// ChainClient is the subset of *chainrpc.Client the escrow lifecycle needs.
type ChainClient interface {
	GetBalance(ctx context.Context, identity string) (domain.QU, error)
	GetNodeInfo(ctx context.Context) (chainrpc.NodeInfo, error)
	JoinBet(ctx context.Context, seed string, betID uint32, slots, option int, amount int64) (chainrpc.SendResult, error)
	Transfer(ctx context.Context, seed string, destinationIdentity string, amount int64) (chainrpc.SendResult, error)
}

// AlertSink delivers a best-effort operational alert; failures to deliver
// are never allowed to block escrow progress, per spec.md §4.4.
type AlertSink interface {
	Alert(event, message string)
}

// noopAlerts discards alerts; used when no sink is configured.
type noopAlerts struct{}

func (noopAlerts) Alert(string, string) {}

// ──────────────────────────────────────────────────────────────────────────────
// Service
// ──────────────────────────────────────────────────────────────────────────────

// Service orchestrates escrow creation and every subsequent lifecycle
// transition. All money-moving steps funnel through here so the state
// graph in spec.md §4.2 has exactly one implementation.
type Service struct {
	store *store.Store
	vault *vault.Vault
	chain ChainClient
	cfg   *config.Config
	alert AlertSink
}

// New builds an escrow Service. alerts may be nil, in which case alerts are
// silently discarded.
func New(st *store.Store, v *vault.Vault, chain ChainClient, cfg *config.Config, alerts AlertSink) *Service {
	if alerts == nil {
		alerts = noopAlerts{}
	}
	return &Service{store: st, vault: v, chain: chain, cfg: cfg, alert: alerts}
}

// ──────────────────────────────────────────────────────────────────────────────
// Create
// ──────────────────────────────────────────────────────────────────────────────

// CreateParams describes the bet a new escrow custodies funds for.
type CreateParams struct {
	MarketID          string
	UserPayoutAddress string
	Option            int
	Slots             int
	MinBetQU          domain.QU
	CommitmentHash    string
	CommitmentNonce   string
	UserSignature     *string
}

// Create mints a fresh on-chain identity for one bet and persists it in a
// single transaction, per spec.md §4.2: generate seed + public address,
// AEAD-encrypt the seed under the operator's master key, insert the bet
// (pending_deposit, pool update skipped), the escrow (awaiting_deposit),
// and the encrypted key (active).
func (s *Service) Create(ctx context.Context, p CreateParams) (*domain.Bet, *domain.Escrow, error) {
	expected := p.MinBetQU.MulInt64(int64(p.Slots))
	if _, err := expected.Int64(); err != nil {
		return nil, nil, domain.ErrAmountOverflow
	}

	seed, err := chainrpc.GenerateSeed()
	if err != nil {
		return nil, nil, fmt.Errorf("escrow.Create: generate seed: %w", err)
	}
	kp, err := chainrpc.DeriveKeyPair(seed)
	if err != nil {
		return nil, nil, fmt.Errorf("escrow.Create: derive keypair: %w", err)
	}
	address := kp.Identity()

	enc, err := s.vault.Encrypt(seed)
	if err != nil {
		return nil, nil, fmt.Errorf("escrow.Create: encrypt seed: %w", err)
	}

	now := time.Now().UTC()
	betID := commitmentID(p.CommitmentHash, address)
	bet := &domain.Bet{
		ID:                betID,
		MarketID:          p.MarketID,
		UserPayoutAddress: p.UserPayoutAddress,
		Option:            p.Option,
		Slots:             p.Slots,
		AmountQU:          expected,
		Status:            domain.BetPendingDeposit,
		CommitmentHash:    p.CommitmentHash,
		CommitmentNonce:   p.CommitmentNonce,
		UserSignature:     p.UserSignature,
		CreatedAt:         now,
	}
	escrowRow := &domain.Escrow{
		ID:                address,
		BetID:             bet.ID,
		MarketID:          p.MarketID,
		EscrowAddress:     address,
		UserPayoutAddress: p.UserPayoutAddress,
		Option:            p.Option,
		Slots:             p.Slots,
		ExpectedAmountQU:  expected,
		Status:            domain.EscrowAwaitingDeposit,
		ExpiresAt:         now.Add(s.cfg.Cron.EscrowExpiry),
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.store.CreateEscrowWithBet(ctx, bet, escrowRow, enc); err != nil {
		return nil, nil, fmt.Errorf("escrow.Create: %w", err)
	}
	return bet, escrowRow, nil
}

// commitmentID derives a stable bet id from the bet's commitment and its
// escrow address, so the id is deterministic and collision-resistant
// without depending on a UUID library the rest of this package has no
// other use for.
func commitmentID(commitmentHash, escrowAddress string) string {
	if len(commitmentHash) >= 16 {
		return commitmentHash[:16] + "-" + escrowAddress[:8]
	}
	return commitmentHash + "-" + escrowAddress[:8]
}

// feeQU returns the configured flat chain transaction fee.
func (s *Service) feeQU() domain.QU { return domain.NewQU(s.cfg.Chain.TxFeeQU) }

// decryptSeed loads and decrypts the active seed for an escrow, refusing
// if the key has already been archived or swept.
func (s *Service) decryptSeed(ctx context.Context, escrowID string) (string, error) {
	key, err := s.store.GetEscrowKey(ctx, escrowID)
	if err != nil {
		return "", fmt.Errorf("decryptSeed: %w", err)
	}
	if key.Status != domain.KeyActive {
		return "", domain.ErrEscrowWrongState
	}
	seed, err := s.vault.Decrypt(vault.Encrypted{
		CiphertextHex: key.CiphertextHex,
		IVHex:         key.IVHex,
		TagHex:        key.TagHex,
	})
	if err != nil {
		return "", fmt.Errorf("decryptSeed: %w", err)
	}
	return seed, nil
}
