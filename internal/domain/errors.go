package domain

import "errors"

// ──────────────────────────────────────────────────────────────────────────────
// Sentinel errors — compare with errors.Is()
// ──────────────────────────────────────────────────────────────────────────────

// Market errors
var (
	ErrMarketNotFound        = errors.New("market not found")
	ErrMarketNotActive       = errors.New("market is not active")
	ErrMarketAlreadyResolved = errors.New("market is already resolved")
	ErrResolutionWindowInvalid = errors.New("resolution window outside allowed bounds")
	ErrAmountOverflow        = errors.New("amount per slot times max slots exceeds the safe integer bound")
	ErrSolvencyViolation     = errors.New("resolution would pay out more than the recomputed pool")
	ErrInvalidMarketParams   = errors.New("market parameters violate a creation invariant")
)

// Bet / escrow errors
var (
	ErrBetNotFound        = errors.New("bet not found")
	ErrSlotsExhausted     = errors.New("option has no remaining slots")
	ErrEscrowNotFound     = errors.New("escrow not found")
	ErrEscrowWrongState   = errors.New("escrow is not in the expected state for this transition")
	ErrSweepClaimLost     = errors.New("another worker already claimed this escrow for sweep")
	ErrSweepNotReady      = errors.New("sweep cannot be confirmed: tx id not yet recorded")
)

// Cryptographic errors
var (
	ErrInvalidSeedFormat = errors.New("seed is not exactly 55 lowercase ascii letters")
	ErrAEADFailure       = errors.New("AEAD encrypt/decrypt failed")
	ErrCommitmentMismatch = errors.New("recomputed commitment hash does not match stored hash")
	ErrChainBroken       = errors.New("commitment chain verification failed")
	ErrAttestationInvalid = errors.New("oracle attestation signature is invalid")
)

// Chain / RPC errors
var (
	ErrDateOutOfRange  = errors.New("date is outside the 2024-2087 range the SC date format supports")
	ErrAllEndpointsDown = errors.New("all chain RPC endpoints failed")
)

// Cron / lock errors
var (
	ErrLockHeldByOther = errors.New("cron lock is held by another instance")
	ErrIdempotencyReplay = errors.New("idempotency key already has a stored response")
	ErrNonceReused     = errors.New("nonce has already been used")
)

// Fatal errors
var (
	ErrMissingMasterKey = errors.New("ESCROW_MASTER_KEY is required and was not set")
)

// ──────────────────────────────────────────────────────────────────────────────
// Helper predicates
// ──────────────────────────────────────────────────────────────────────────────

var notFoundErrors = []error{
	ErrMarketNotFound,
	ErrBetNotFound,
	ErrEscrowNotFound,
}

// IsNotFound reports whether err (or any error in its chain) is one of the
// domain "not found" sentinels.
func IsNotFound(err error) bool {
	for _, target := range notFoundErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

var conflictErrors = []error{
	ErrMarketAlreadyResolved,
	ErrSweepClaimLost,
	ErrEscrowWrongState,
	ErrIdempotencyReplay,
	ErrNonceReused,
}

// IsConflict reports whether err represents a state conflict — a claim
// that lost a race, or a transition attempted from the wrong state.
func IsConflict(err error) bool {
	for _, target := range conflictErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
