package oracle_test

import (
	"context"
	"testing"

	"github.com/evetabi/qpredict/internal/domain"
	"github.com/evetabi/qpredict/internal/oracle"
)

type fakeNewsSource struct{}

func (fakeNewsSource) FetchEvidence(ctx context.Context, market *domain.Market) (string, error) {
	return "evidence", nil
}

type scriptedVoter struct {
	votes map[string]oracle.PersonaVote
}

func (s scriptedVoter) Vote(ctx context.Context, persona string, market *domain.Market, evidence string) (oracle.PersonaVote, error) {
	return s.votes[persona], nil
}

func TestAICouncilAdapter_MajorityWithConfidenceResolves(t *testing.T) {
	voter := scriptedVoter{votes: map[string]oracle.PersonaVote{
		oracle.PersonaAnalyst:    {Persona: oracle.PersonaAnalyst, WinningOption: 0, Confidence: 0.9},
		oracle.PersonaJournalist: {Persona: oracle.PersonaJournalist, WinningOption: 0, Confidence: 0.8},
		oracle.PersonaResearcher: {Persona: oracle.PersonaResearcher, WinningOption: 1, Confidence: 0.95},
	}}
	a := oracle.NewAICouncilAdapter(fakeNewsSource{}, voter)
	market := &domain.Market{MarketType: domain.MarketTypeAI}

	result, err := a.FetchResult(context.Background(), market)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result == nil {
		t.Fatal("expected a result with a 2/3 majority above confidence threshold")
	}
	if result.WinningOption != 0 {
		t.Errorf("expected option 0, got %d", result.WinningOption)
	}
}

func TestAICouncilAdapter_NoMajorityReturnsNil(t *testing.T) {
	voter := scriptedVoter{votes: map[string]oracle.PersonaVote{
		oracle.PersonaAnalyst:    {Persona: oracle.PersonaAnalyst, WinningOption: 0, Confidence: 0.9},
		oracle.PersonaJournalist: {Persona: oracle.PersonaJournalist, WinningOption: 1, Confidence: 0.9},
		oracle.PersonaResearcher: {Persona: oracle.PersonaResearcher, WinningOption: 2, Confidence: 0.9},
	}}
	a := oracle.NewAICouncilAdapter(fakeNewsSource{}, voter)
	market := &domain.Market{MarketType: domain.MarketTypeAI}

	result, err := a.FetchResult(context.Background(), market)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil {
		t.Error("expected nil result with no 2/3 majority")
	}
}

func TestAICouncilAdapter_LowConfidenceMajorityReturnsNil(t *testing.T) {
	voter := scriptedVoter{votes: map[string]oracle.PersonaVote{
		oracle.PersonaAnalyst:    {Persona: oracle.PersonaAnalyst, WinningOption: 0, Confidence: 0.5},
		oracle.PersonaJournalist: {Persona: oracle.PersonaJournalist, WinningOption: 0, Confidence: 0.6},
		oracle.PersonaResearcher: {Persona: oracle.PersonaResearcher, WinningOption: 1, Confidence: 0.95},
	}}
	a := oracle.NewAICouncilAdapter(fakeNewsSource{}, voter)
	market := &domain.Market{MarketType: domain.MarketTypeAI}

	result, err := a.FetchResult(context.Background(), market)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil {
		t.Error("expected nil result when the majority's average confidence is below 0.7")
	}
}
