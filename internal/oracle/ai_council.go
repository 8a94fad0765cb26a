package oracle

import (
	"context"
	"fmt"

	"github.com/evetabi/qpredict/internal/domain"
)

// Persona names the three independent voices the AI council consults, per
// spec.md §6.
const (
	PersonaAnalyst    = "analyst"
	PersonaJournalist = "journalist"
	PersonaResearcher = "researcher"
)

var councilPersonas = []string{PersonaAnalyst, PersonaJournalist, PersonaResearcher}

// PersonaVote is one persona's structured verdict on a market's outcome.
type PersonaVote struct {
	Persona       string
	WinningOption int
	Confidence    float64 // 0..1
}

// NewsSource gathers the evidence a persona reasons over before voting.
type NewsSource interface {
	FetchEvidence(ctx context.Context, market *domain.Market) (string, error)
}

// PersonaVoter casts one persona's vote given a market and the evidence
// gathered for it.
type PersonaVoter interface {
	Vote(ctx context.Context, persona string, market *domain.Market, evidence string) (PersonaVote, error)
}

const (
	requiredMajority  = 2 // of 3
	minAvgConfidence  = 0.7
)

// AICouncilAdapter resolves markets by asking three independent personas to
// vote and requiring a ≥2/3 majority with average confidence ≥0.7, per
// spec.md §6.
type AICouncilAdapter struct {
	news  NewsSource
	voter PersonaVoter
}

// NewAICouncilAdapter builds an AICouncilAdapter.
func NewAICouncilAdapter(news NewsSource, voter PersonaVoter) *AICouncilAdapter {
	return &AICouncilAdapter{news: news, voter: voter}
}

// CanResolve is always true for AI markets past end time — the caller
// (market package) is expected to gate on end_at before invoking the
// adapter at all, since readiness here depends only on the market's type.
func (a *AICouncilAdapter) CanResolve(ctx context.Context, market *domain.Market) (bool, error) {
	return market.MarketType == domain.MarketTypeAI, nil
}

// FetchResult gathers evidence, collects three persona votes, and returns
// a verdict only if a majority agree on the same option with sufficient
// average confidence. Returns nil (not an error) otherwise — the caller
// retries on the next AI resolution attempt per spec.md §4.4's retry
// budget.
func (a *AICouncilAdapter) FetchResult(ctx context.Context, market *domain.Market) (*Result, error) {
	evidence, err := a.news.FetchEvidence(ctx, market)
	if err != nil {
		return nil, fmt.Errorf("oracle: fetch evidence: %w", err)
	}

	votes := make([]PersonaVote, 0, len(councilPersonas))
	for _, persona := range councilPersonas {
		v, err := a.voter.Vote(ctx, persona, market, evidence)
		if err != nil {
			return nil, fmt.Errorf("oracle: persona %s vote: %w", persona, err)
		}
		votes = append(votes, v)
	}

	tally := make(map[int]int)
	confidenceSum := make(map[int]float64)
	for _, v := range votes {
		tally[v.WinningOption]++
		confidenceSum[v.WinningOption] += v.Confidence
	}

	for option, count := range tally {
		if count < requiredMajority {
			continue
		}
		avgConfidence := confidenceSum[option] / float64(count)
		if avgConfidence < minAvgConfidence {
			continue
		}
		return &Result{
			WinningOption: option,
			Proof: Proof{
				Source: "ai_council",
				Data: map[string]any{
					"votes":          votes,
					"majority_count": count,
					"avg_confidence": avgConfidence,
				},
			},
		}, nil
	}

	return nil, nil
}
