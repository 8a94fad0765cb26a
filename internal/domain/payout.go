package domain

// Fee splits applied to the loser pool on resolution, per spec.md §4.3.
// Expressed in basis points (1/100 of a percent) so QU.MulFracBps can do
// the floor-division arithmetic without floats.
const (
	BurnBps        = 200  // 2%
	ShareholderBps = 1000 // 10%
	OperatorBps    = 50   // 0.5%
)

// PayoutBreakdown is the fee split computed for one market resolution.
type PayoutBreakdown struct {
	WinnerStake QU
	LoserPool   QU
	Burn        QU
	Shareholder QU
	Operator    QU
	Oracle      QU
	WinnerPool  QU
	PerSlot     QU
}

// ComputePayout implements spec.md §4.3 step 4's payout formula exactly:
// fees apply to the loser pool only, and winner-pool division is floor
// BigInt division, never float.
//
//	winner_stake = pool * winner_slots / total_slots
//	loser_pool   = pool - winner_stake
//	burn, shareholder, operator, oracle = bps cuts of loser_pool
//	winner_pool  = winner_stake + loser_pool - (burn+shareholder+operator+oracle)
//	per_slot     = floor(winner_pool / winner_slots)
func ComputePayout(pool QU, totalSlots, winnerSlots int, oracleFeeBps int) PayoutBreakdown {
	if totalSlots == 0 || winnerSlots == 0 {
		return PayoutBreakdown{WinnerStake: ZeroQU(), LoserPool: pool, WinnerPool: ZeroQU(), PerSlot: ZeroQU()}
	}

	winnerStake := pool.MulInt64(int64(winnerSlots)).DivInt64(int64(totalSlots))
	loserPool := pool.Sub(winnerStake)

	burn := loserPool.MulFracBps(BurnBps)
	shareholder := loserPool.MulFracBps(ShareholderBps)
	operator := loserPool.MulFracBps(OperatorBps)
	oracle := loserPool.MulFracBps(int64(oracleFeeBps))

	fees := burn.Add(shareholder).Add(operator).Add(oracle)
	winnerPool := winnerStake.Add(loserPool).Sub(fees)
	perSlot := winnerPool.DivInt64(int64(winnerSlots))

	return PayoutBreakdown{
		WinnerStake: winnerStake,
		LoserPool:   loserPool,
		Burn:        burn,
		Shareholder: shareholder,
		Operator:    operator,
		Oracle:      oracle,
		WinnerPool:  winnerPool,
		PerSlot:     perSlot,
	}
}

// WinningOption determines the winning option index for a numeric
// resolution price, per spec.md §4.3's winner-determination rule.
// boundaries is only consulted for ResolutionBracket and must be
// non-decreasing; when empty, the caller is expected to have filled it in
// by evenly spacing between target and targetHigh (see market package).
func WinningOption(kind ResolutionKind, price, target float64, targetHigh *float64, boundaries []float64, optionCount int) int {
	switch kind {
	case ResolutionAbove:
		if price >= target {
			return 0
		}
		return 1
	case ResolutionBelow:
		if price <= target {
			return 0
		}
		return 1
	case ResolutionRange:
		high := target
		if targetHigh != nil {
			high = *targetHigh
		}
		if price >= target && price <= high {
			return 0
		}
		return 1
	case ResolutionBracket:
		for i, b := range boundaries {
			if price < b {
				return i
			}
		}
		return optionCount - 1
	default:
		return 0
	}
}
