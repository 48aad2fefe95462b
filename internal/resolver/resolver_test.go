package resolver

import (
	"context"
	"strings"
	"testing"

	"github.com/yourorg/cryptofolio/internal/apperr"
	"github.com/yourorg/cryptofolio/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeMarket struct {
	prices  map[string]float64
	err     error
	batches [][]string
}

func (f *fakeMarket) FetchPrices(_ context.Context, ids []string) (map[string]float64, error) {
	f.batches = append(f.batches, append([]string(nil), ids...))
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]float64)
	for _, id := range ids {
		if price, ok := f.prices[id]; ok {
			out[id] = price
		}
	}
	return out, nil
}

type fakeDiscovery struct {
	symbolPrices map[string]float64
	tokenPrices  map[string]float64
	tokenErr     error
	liveCalls    int
}

func (f *fakeDiscovery) FetchTokenPrice(_ context.Context, chain, address string) (float64, error) {
	f.liveCalls++
	if f.tokenErr != nil {
		return 0, f.tokenErr
	}
	price, ok := f.tokenPrices[chain+"_"+address]
	if !ok {
		return 0, apperr.ErrNotFound
	}
	return price, nil
}

func (f *fakeDiscovery) CachedPriceForSymbol(symbol string) (float64, bool) {
	price, ok := f.symbolPrices[strings.ToUpper(symbol)]
	return price, ok
}

func (f *fakeDiscovery) PutSymbolPrice(symbol string, price float64) {
	if f.symbolPrices == nil {
		f.symbolPrices = make(map[string]float64)
	}
	f.symbolPrices[strings.ToUpper(symbol)] = price
}

func newTestResolver(market *fakeMarket, discovery *fakeDiscovery) *Resolver {
	if market == nil {
		market = &fakeMarket{}
	}
	if discovery == nil {
		discovery = &fakeDiscovery{}
	}
	return New(market, discovery, zap.NewNop())
}

func TestResolver_PriceMapByIDWinsFirst(t *testing.T) {
	market := &fakeMarket{}
	discovery := &fakeDiscovery{symbolPrices: map[string]float64{"BTC": 999}}
	r := newTestResolver(market, discovery)
	r.Prime(map[string]float64{"bitcoin": 50000})

	res := r.Resolve(context.Background(), model.Holding{CoinID: "bitcoin", Symbol: "BTC"})
	assert.Equal(t, 50000.0, res.Price)
	assert.Equal(t, SourcePriceMapID, res.Source)
	assert.Empty(t, market.batches, "no network call when the map answers")
}

func TestResolver_SymbolFallbackInPriceMap(t *testing.T) {
	r := newTestResolver(nil, nil)
	r.PrimeCoins([]model.Coin{{ID: "someaddress", Symbol: "MOON", CurrentPrice: 0.004}})

	// Bought while viral under a different pool address: id misses, symbol hits.
	res := r.Resolve(context.Background(), model.Holding{CoinID: "otheraddress", Symbol: "moon"})
	assert.Equal(t, 0.004, res.Price)
	assert.Equal(t, SourcePriceMapSymbol, res.Source)
}

func TestResolver_DiscoverySymbolCacheBeatsCostBasis(t *testing.T) {
	// The holding's id is absent from the primary batch response but its
	// symbol is in the discovery cache: the discovery price must win over
	// the cost-basis fallback.
	market := &fakeMarket{prices: map[string]float64{}}
	discovery := &fakeDiscovery{symbolPrices: map[string]float64{"MOON": 0.005}}
	r := newTestResolver(market, discovery)

	res := r.Resolve(context.Background(), model.Holding{
		CoinID:      "unknown-id",
		Symbol:      "MOON",
		AvgBuyPrice: 0.001,
	})
	assert.Equal(t, 0.005, res.Price)
	assert.Equal(t, SourceDiscoveryCache, res.Source)
	assert.Empty(t, market.batches)
}

func TestResolver_DirectDiscoveryFetchForChainTagged(t *testing.T) {
	discovery := &fakeDiscovery{tokenPrices: map[string]float64{"solana_addr1": 0.02}}
	r := newTestResolver(nil, discovery)

	res := r.Resolve(context.Background(), model.Holding{
		CoinID: "addr1",
		Symbol: "MOON",
		Chain:  "solana",
	})
	assert.Equal(t, 0.02, res.Price)
	assert.Equal(t, SourceDiscoveryLive, res.Source)

	// The live result primes map and symbol cache for future callers.
	price, ok := discovery.CachedPriceForSymbol("MOON")
	require.True(t, ok)
	assert.Equal(t, 0.02, price)
}

func TestResolver_MarketBatchForLeftovers(t *testing.T) {
	market := &fakeMarket{prices: map[string]float64{"bitcoin": 50000, "ethereum": 3000}}
	r := newTestResolver(market, nil)

	results := r.ResolveAll(context.Background(), []model.Holding{
		{CoinID: "bitcoin", Symbol: "BTC"},
		{CoinID: "ethereum", Symbol: "ETH"},
	})

	require.Len(t, market.batches, 1, "both leftovers must share one batch call")
	assert.ElementsMatch(t, []string{"bitcoin", "ethereum"}, market.batches[0])
	assert.Equal(t, 50000.0, results["bitcoin"].Price)
	assert.Equal(t, SourceMarketBatch, results["bitcoin"].Source)
	assert.Equal(t, 3000.0, results["ethereum"].Price)
}

func TestResolver_CostBasisFallback(t *testing.T) {
	market := &fakeMarket{prices: map[string]float64{}}
	r := newTestResolver(market, nil)

	res := r.Resolve(context.Background(), model.Holding{
		CoinID:      "obscure",
		Symbol:      "OBS",
		AvgBuyPrice: 12.5,
	})
	assert.Equal(t, 12.5, res.Price)
	assert.Equal(t, SourceCostBasis, res.Source)
	assert.False(t, res.Unavailable())
}

func TestResolver_HardZeroOnlyOnExplicitNotFound(t *testing.T) {
	// The discovery source confirms the token is gone and the batch knows
	// nothing either: hard zero, sells disabled.
	market := &fakeMarket{prices: map[string]float64{}}
	discovery := &fakeDiscovery{tokenPrices: map[string]float64{}}
	r := newTestResolver(market, discovery)

	res := r.Resolve(context.Background(), model.Holding{
		CoinID:      "ruggedaddr",
		Symbol:      "RUG",
		Chain:       "solana",
		AvgBuyPrice: 1.0,
	})
	assert.Equal(t, 0.0, res.Price)
	assert.Equal(t, SourceUnavailable, res.Source)
	assert.True(t, res.Unavailable())
}

func TestResolver_NetworkFailureDegradesToCostBasisNotZero(t *testing.T) {
	market := &fakeMarket{err: apperr.ErrNetworkUnavailable}
	discovery := &fakeDiscovery{tokenErr: apperr.ErrNetworkUnavailable}
	r := newTestResolver(market, discovery)

	res := r.Resolve(context.Background(), model.Holding{
		CoinID:      "addr",
		Symbol:      "X",
		Chain:       "solana",
		AvgBuyPrice: 3.0,
	})
	assert.Equal(t, 3.0, res.Price)
	assert.Equal(t, SourceCostBasis, res.Source)
}

func TestResolver_DeterministicOnceResolved(t *testing.T) {
	market := &fakeMarket{prices: map[string]float64{"bitcoin": 50000}}
	r := newTestResolver(market, nil)
	holding := model.Holding{CoinID: "bitcoin", Symbol: "BTC"}

	first := r.Resolve(context.Background(), holding)
	require.Equal(t, 50000.0, first.Price)
	require.Len(t, market.batches, 1)

	// The batch result primed the central map: resolving again answers from
	// the map without another fetch.
	second := r.Resolve(context.Background(), holding)
	assert.Equal(t, first.Price, second.Price)
	assert.Equal(t, SourcePriceMapID, second.Source)
	assert.Len(t, market.batches, 1)
}

func TestResolver_PrimeIgnoresNonPositive(t *testing.T) {
	r := newTestResolver(&fakeMarket{prices: map[string]float64{}}, nil)
	r.Prime(map[string]float64{"zero": 0, "neg": -1})

	res := r.Resolve(context.Background(), model.Holding{CoinID: "zero", Symbol: "Z", AvgBuyPrice: 2})
	assert.Equal(t, SourceCostBasis, res.Source)
}

func TestResolver_ResolvePriceForTrade(t *testing.T) {
	r := newTestResolver(&fakeMarket{prices: map[string]float64{}}, nil)
	r.Prime(map[string]float64{"bitcoin": 50000})

	price, err := r.ResolvePrice(context.Background(), "bitcoin", "BTC", "")
	require.NoError(t, err)
	assert.Equal(t, 50000.0, price)

	// No cost basis exists for a coin being bought: unresolved is an error.
	_, err = r.ResolvePrice(context.Background(), "unknown", "UNK", "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
