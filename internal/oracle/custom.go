package oracle

import (
	"context"

	"github.com/evetabi/qpredict/internal/domain"
)

// CreatorVerdict is the creator's explicit, out-of-band call on a custom
// market's outcome — recorded by whatever external surface collects it
// (out of scope here per spec.md §1); this adapter only consumes it.
type CreatorVerdict struct {
	WinningOption int
	Note          string
}

// VerdictSource looks up whether a market's creator has submitted an
// explicit verdict yet.
type VerdictSource interface {
	CreatorVerdict(ctx context.Context, marketID string) (*CreatorVerdict, error)
}

// CustomAdapter never auto-resolves a market; it only reports a verdict
// once the creator has explicitly submitted one. The market's
// auto_refund_at field (end + 48h) governs the fallback cancellation path,
// which lives in the recovery subsystem rather than this adapter, per
// spec.md §6.
type CustomAdapter struct {
	source VerdictSource
}

// NewCustomAdapter builds a CustomAdapter.
func NewCustomAdapter(source VerdictSource) *CustomAdapter {
	return &CustomAdapter{source: source}
}

// CanResolve reports whether the creator has already submitted a verdict.
func (a *CustomAdapter) CanResolve(ctx context.Context, market *domain.Market) (bool, error) {
	if market.MarketType != domain.MarketTypeCustom {
		return false, nil
	}
	v, err := a.source.CreatorVerdict(ctx, market.ID)
	if err != nil {
		return false, err
	}
	return v != nil, nil
}

// FetchResult returns the creator's verdict, or nil if none has been
// submitted yet.
func (a *CustomAdapter) FetchResult(ctx context.Context, market *domain.Market) (*Result, error) {
	v, err := a.source.CreatorVerdict(ctx, market.ID)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return &Result{
		WinningOption: v.WinningOption,
		Proof: Proof{
			Source: "creator",
			Data:   map[string]any{"note": v.Note},
		},
	}, nil
}
