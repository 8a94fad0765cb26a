package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/evetabi/qpredict/internal/config"
	"github.com/evetabi/qpredict/internal/domain"
	"github.com/evetabi/qpredict/internal/provably"
	"github.com/shopspring/decimal"
)

const (
	exchangeBinance = "binance"
	exchangeBybit   = "bybit"
	exchangeOKX     = "okx"
)

// exchangeDef describes a single price-feed source, mirroring the
// teacher's exchangeDef — here, unweighted, since the median (not a
// weighted average) is the required aggregate.
type exchangeDef struct {
	name  string
	fetch func(ctx context.Context) (decimal.Decimal, error)
}

// AttestationRecorder persists an oracle observation. Satisfied by
// *store.Store.
type AttestationRecorder interface {
	InsertAttestation(ctx context.Context, att *domain.OracleAttestation) error
}

// CryptoAdapter resolves price markets by fetching the median BTC/USDT-style
// price across multiple exchanges, per spec.md §6.
type CryptoAdapter struct {
	client     *http.Client
	cfg        *config.PriceConfig
	minSources int
	secretKey  string
	recorder   AttestationRecorder
	exchanges  []exchangeDef
}

// NewCryptoAdapter builds a CryptoAdapter. minSources is the smallest
// number of successful exchange fetches that still yields a resolvable
// median (spec.md §6's "median price across ≥ 2 exchanges").
func NewCryptoAdapter(cfg *config.PriceConfig, minSources int, secretKey string, recorder AttestationRecorder) *CryptoAdapter {
	a := &CryptoAdapter{
		client:     &http.Client{Timeout: cfg.FetchTimeout},
		cfg:        cfg,
		minSources: minSources,
		secretKey:  secretKey,
		recorder:   recorder,
	}
	a.exchanges = []exchangeDef{
		{name: exchangeBinance, fetch: a.fetchBinance},
		{name: exchangeBybit, fetch: a.fetchBybit},
		{name: exchangeOKX, fetch: a.fetchOKX},
	}
	return a
}

// CanResolve reports whether market has reached its end time — the
// earliest point a price resolution is allowed to fire.
func (a *CryptoAdapter) CanResolve(ctx context.Context, market *domain.Market) (bool, error) {
	if market.MarketType != domain.MarketTypePrice {
		return false, nil
	}
	return !time.Now().UTC().Before(market.EndAt), nil
}

type priceSample struct {
	source string
	price  decimal.Decimal
	ts     time.Time
}

// FetchResult fetches every exchange in parallel, requires at least
// minSources successes, computes the median, records one attestation per
// successful source, and determines the winning option via the market's
// resolution rule.
func (a *CryptoAdapter) FetchResult(ctx context.Context, market *domain.Market) (*Result, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, a.cfg.FetchTimeout)
	defer cancel()

	type fetched struct {
		sample priceSample
		err    error
	}
	resultCh := make(chan fetched, len(a.exchanges))
	for _, ex := range a.exchanges {
		ex := ex
		go func() {
			p, err := ex.fetch(fetchCtx)
			resultCh <- fetched{sample: priceSample{source: ex.name, price: p, ts: time.Now().UTC()}, err: err}
		}()
	}

	var samples []priceSample
	for range a.exchanges {
		r := <-resultCh
		if r.err != nil || r.sample.price.IsZero() {
			continue
		}
		samples = append(samples, r.sample)
	}

	if len(samples) < a.minSources {
		return nil, fmt.Errorf("oracle: only %d of %d exchange fetches succeeded, need >= %d", len(samples), len(a.exchanges), a.minSources)
	}

	median := medianPrice(samples)

	attestationIDs := make([]string, 0, len(samples))
	pricesReported := make(map[string]string, len(samples))
	for _, s := range samples {
		priceF, _ := s.price.Float64()
		att := provably.BuildAttestation(market.ID, s.source, market.Pair, priceF, nil, nil, s.ts, a.secretKey)
		if a.recorder != nil {
			if err := a.recorder.InsertAttestation(ctx, &att); err != nil {
				return nil, fmt.Errorf("oracle: record attestation for %s: %w", s.source, err)
			}
		}
		attestationIDs = append(attestationIDs, att.AttestationHash)
		pricesReported[s.source] = s.price.String()
	}

	medianF, _ := median.Float64()
	winner := domain.WinningOption(market.ResolutionType, medianF, market.Target, market.TargetHigh, nil, market.OptionCount())

	return &Result{
		WinningOption: winner,
		Proof: Proof{
			Source: "crypto_price",
			Data: map[string]any{
				"prices":          pricesReported,
				"median":          median.String(),
				"attestation_ids": attestationIDs,
			},
		},
	}, nil
}

func medianPrice(samples []priceSample) decimal.Decimal {
	sorted := make([]decimal.Decimal, len(samples))
	for i, s := range samples {
		sorted[i] = s.price
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return sorted[n/2-1].Add(sorted[n/2]).Div(decimal.NewFromInt(2))
}

// fetchBinance fetches the spot price from Binance REST API.
//
//	GET /api/v3/ticker/price?symbol=<PAIR>
func (a *CryptoAdapter) fetchBinance(ctx context.Context) (decimal.Decimal, error) {
	url := a.cfg.BinanceURL + "/api/v3/ticker/price?symbol=BTCUSDT"
	body, err := a.doGet(ctx, url)
	if err != nil {
		return decimal.Zero, fmt.Errorf("binance: %w", err)
	}
	var resp struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("binance parse: %w", err)
	}
	return decimal.NewFromString(resp.Price)
}

// fetchBybit fetches the spot price from Bybit REST API.
//
//	GET /v5/market/tickers?category=spot&symbol=<PAIR>
func (a *CryptoAdapter) fetchBybit(ctx context.Context) (decimal.Decimal, error) {
	url := a.cfg.BybitURL + "/v5/market/tickers?category=spot&symbol=BTCUSDT"
	body, err := a.doGet(ctx, url)
	if err != nil {
		return decimal.Zero, fmt.Errorf("bybit: %w", err)
	}
	var resp struct {
		Result struct {
			List []struct {
				LastPrice string `json:"lastPrice"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("bybit parse: %w", err)
	}
	if len(resp.Result.List) == 0 {
		return decimal.Zero, fmt.Errorf("bybit: empty result list")
	}
	return decimal.NewFromString(resp.Result.List[0].LastPrice)
}

// fetchOKX fetches the spot price from OKX REST API.
//
//	GET /api/v5/market/ticker?instId=<PAIR>
func (a *CryptoAdapter) fetchOKX(ctx context.Context) (decimal.Decimal, error) {
	url := a.cfg.OKXURL + "/api/v5/market/ticker?instId=BTC-USDT"
	body, err := a.doGet(ctx, url)
	if err != nil {
		return decimal.Zero, fmt.Errorf("okx: %w", err)
	}
	var resp struct {
		Data []struct {
			Last string `json:"last"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("okx parse: %w", err)
	}
	if len(resp.Data) == 0 {
		return decimal.Zero, fmt.Errorf("okx: empty data field")
	}
	return decimal.NewFromString(resp.Data[0].Last)
}

func (a *CryptoAdapter) doGet(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "qpredict-engine/1.0")
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
