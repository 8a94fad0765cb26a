package oracle_test

import (
	"context"
	"testing"
	"time"

	"github.com/evetabi/qpredict/internal/domain"
	"github.com/evetabi/qpredict/internal/oracle"
)

type fakeEventSource struct {
	event *oracle.SportsEvent
	found bool
	err   error
}

func (f fakeEventSource) FindEvent(ctx context.Context, market *domain.Market) (*oracle.SportsEvent, bool, error) {
	return f.event, f.found, f.err
}

func TestSportsAdapter_MatchesWinnerSubstring(t *testing.T) {
	src := fakeEventSource{
		event: &oracle.SportsEvent{HomeTeam: "Fenerbahce", AwayTeam: "Galatasaray", WinnerTeam: "Galatasaray", FinishedAt: time.Now()},
		found: true,
	}
	a := oracle.NewSportsAdapter(src)
	market := &domain.Market{MarketType: domain.MarketTypeSports, Options: []string{"Fenerbahce wins", "Galatasaray wins"}}

	result, err := a.FetchResult(context.Background(), market)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result == nil {
		t.Fatal("expected a result")
	}
	if result.WinningOption != 1 {
		t.Errorf("expected option 1 (Galatasaray), got %d", result.WinningOption)
	}
}

func TestSportsAdapter_NoMatchReturnsNil(t *testing.T) {
	src := fakeEventSource{
		event: &oracle.SportsEvent{HomeTeam: "A", AwayTeam: "B", WinnerTeam: "C", FinishedAt: time.Now()},
		found: true,
	}
	a := oracle.NewSportsAdapter(src)
	market := &domain.Market{MarketType: domain.MarketTypeSports, Options: []string{"A wins", "B wins"}}

	result, err := a.FetchResult(context.Background(), market)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil {
		t.Error("expected nil result when no option matches the winner")
	}
}

func TestSportsAdapter_CanResolveFalseWithoutDecisiveEvent(t *testing.T) {
	src := fakeEventSource{found: false}
	a := oracle.NewSportsAdapter(src)
	market := &domain.Market{MarketType: domain.MarketTypeSports}

	ok, err := a.CanResolve(context.Background(), market)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected CanResolve=false with no event found")
	}
}
