package oracle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/evetabi/qpredict/internal/domain"
)

// SportsEvent is one completed event as reported by a sports data source —
// the shape this adapter needs, independent of whichever provider backs
// EventSource.
type SportsEvent struct {
	HomeTeam   string
	AwayTeam   string
	WinnerTeam string // empty if the event had no clear winner (draw, postponed)
	FinishedAt time.Time
}

// EventSource looks up the completed event matching a market's question,
// e.g. by team names extracted from the market's option labels.
type EventSource interface {
	FindEvent(ctx context.Context, market *domain.Market) (*SportsEvent, bool, error)
}

// SportsAdapter resolves sports markets by matching a completed event's
// winner against the market's option labels via substring matching, per
// spec.md §6.
type SportsAdapter struct {
	source EventSource
}

// NewSportsAdapter builds a SportsAdapter over an EventSource.
func NewSportsAdapter(source EventSource) *SportsAdapter {
	return &SportsAdapter{source: source}
}

// CanResolve reports whether a matching completed event already exists.
func (a *SportsAdapter) CanResolve(ctx context.Context, market *domain.Market) (bool, error) {
	if market.MarketType != domain.MarketTypeSports {
		return false, nil
	}
	event, found, err := a.source.FindEvent(ctx, market)
	if err != nil {
		return false, err
	}
	return found && event.WinnerTeam != "", nil
}

// FetchResult matches the event's winning team against each option label
// by case-insensitive substring; returns nil if no option decisively
// matches (ambiguous or no-match both count as "not yet resolvable").
func (a *SportsAdapter) FetchResult(ctx context.Context, market *domain.Market) (*Result, error) {
	event, found, err := a.source.FindEvent(ctx, market)
	if err != nil {
		return nil, err
	}
	if !found || event.WinnerTeam == "" {
		return nil, nil
	}

	winner := strings.ToLower(event.WinnerTeam)
	matchedOption := -1
	for i, opt := range market.Options {
		if strings.Contains(strings.ToLower(opt), winner) {
			if matchedOption != -1 {
				return nil, nil // ambiguous: more than one option matches
			}
			matchedOption = i
		}
	}
	if matchedOption == -1 {
		return nil, nil
	}

	return &Result{
		WinningOption: matchedOption,
		Proof: Proof{
			Source: "sports",
			Data: map[string]any{
				"home_team":   event.HomeTeam,
				"away_team":   event.AwayTeam,
				"winner_team": event.WinnerTeam,
				"finished_at": fmt.Sprint(event.FinishedAt.UTC().Format(time.RFC3339)),
			},
		},
	}, nil
}
