package resolver

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/yourorg/cryptofolio/internal/apperr"
	"github.com/yourorg/cryptofolio/internal/model"

	"go.uber.org/zap"
)

// PriceSource identifies which cascade step produced a resolved price. The UI
// layer only branches on CostBasis (show flat gain/loss) and Unavailable
// (price 0, disable sell), but the full provenance helps debugging.
type PriceSource string

const (
	SourcePriceMapID     PriceSource = "price_map_id"
	SourcePriceMapSymbol PriceSource = "price_map_symbol"
	SourceDiscoveryCache PriceSource = "discovery_cache"
	SourceDiscoveryLive  PriceSource = "discovery_live"
	SourceMarketBatch    PriceSource = "market_batch"
	SourceCostBasis      PriceSource = "cost_basis"
	SourceUnavailable    PriceSource = "unavailable"
)

// Resolution is a resolved price with its provenance.
type Resolution struct {
	Price  float64     `json:"price"`
	Source PriceSource `json:"source"`
}

// Unavailable reports whether the price is the confirmed-absent hard zero,
// which must disable sell actions downstream.
func (r Resolution) Unavailable() bool {
	return r.Source == SourceUnavailable
}

// marketSource is the slice of MarketClient the resolver needs.
type marketSource interface {
	FetchPrices(ctx context.Context, ids []string) (map[string]float64, error)
}

// discoverySource is the slice of DiscoveryClient the resolver needs.
type discoverySource interface {
	FetchTokenPrice(ctx context.Context, chain, address string) (float64, error)
	CachedPriceForSymbol(symbol string) (float64, bool)
	PutSymbolPrice(symbol string, price float64)
}

// Resolver owns the central in-memory price map and executes the fallback
// cascade for holdings. Screen-level refreshes feed the map through Prime
// rather than keeping maps of their own, so freshness no longer depends on
// navigation order.
type Resolver struct {
	mu        sync.RWMutex
	prices    map[string]float64
	market    marketSource
	discovery discoverySource
	logger    *zap.Logger
}

// New creates a resolver over the two source clients.
func New(market marketSource, discovery discoverySource, logger *zap.Logger) *Resolver {
	return &Resolver{
		prices:    make(map[string]float64),
		market:    market,
		discovery: discovery,
		logger:    logger,
	}
}

// Prime merges prices into the central map. Zero and negative values are
// ignored; a hard zero is a resolver verdict, never an input.
func (r *Resolver) Prime(prices map[string]float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, price := range prices {
		if price > 0 {
			r.prices[key] = price
		}
	}
}

// PrimeCoins records each coin's price under both its id and its uppercased
// symbol, covering the identifier duality between the two sources.
func (r *Resolver) PrimeCoins(coins []model.Coin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, coin := range coins {
		if coin.CurrentPrice <= 0 {
			continue
		}
		r.prices[coin.ID] = coin.CurrentPrice
		if coin.Symbol != "" {
			r.prices[strings.ToUpper(coin.Symbol)] = coin.CurrentPrice
		}
	}
}

func (r *Resolver) lookup(key string) (float64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	price, ok := r.prices[key]
	return price, ok && price > 0
}

// Resolve runs the cascade for a single holding.
func (r *Resolver) Resolve(ctx context.Context, holding model.Holding) Resolution {
	results := r.ResolveAll(ctx, []model.Holding{holding})
	return results[holding.CoinID]
}

// ResolveAll resolves prices for a set of holdings, batching the final
// primary-source lookup for every holding the cheaper steps left unresolved.
// Results are keyed by coin id.
//
// Order per holding: central map by id, central map by uppercased symbol,
// discovery symbol cache, direct discovery fetch (chain-tagged holdings only),
// then one batched primary-source call. Anything still unresolved degrades to
// the recorded cost basis, unless a live fetch explicitly answered not-found,
// in which case the price is a hard zero that blocks sells.
func (r *Resolver) ResolveAll(ctx context.Context, holdings []model.Holding) map[string]Resolution {
	results := make(map[string]Resolution, len(holdings))

	type pending struct {
		holding  model.Holding
		notFound bool
	}
	var unresolved []pending

	for _, holding := range holdings {
		symbol := strings.ToUpper(holding.Symbol)

		if price, ok := r.lookup(holding.CoinID); ok {
			results[holding.CoinID] = Resolution{Price: price, Source: SourcePriceMapID}
			continue
		}

		if price, ok := r.lookup(symbol); ok {
			results[holding.CoinID] = Resolution{Price: price, Source: SourcePriceMapSymbol}
			continue
		}

		if price, ok := r.discovery.CachedPriceForSymbol(symbol); ok && price > 0 {
			results[holding.CoinID] = Resolution{Price: price, Source: SourceDiscoveryCache}
			continue
		}

		entry := pending{holding: holding}
		if holding.Chain != "" {
			price, err := r.discovery.FetchTokenPrice(ctx, holding.Chain, holding.CoinID)
			switch {
			case err == nil && price > 0:
				r.Prime(map[string]float64{holding.CoinID: price, symbol: price})
				r.discovery.PutSymbolPrice(holding.Symbol, price)
				results[holding.CoinID] = Resolution{Price: price, Source: SourceDiscoveryLive}
				continue
			case errors.Is(err, apperr.ErrNotFound):
				entry.notFound = true
			case err != nil:
				r.logger.Debug("Direct token lookup failed",
					zap.String("coin_id", holding.CoinID),
					zap.Error(err))
			}
		}

		unresolved = append(unresolved, entry)
	}

	if len(unresolved) == 0 {
		return results
	}

	ids := make([]string, 0, len(unresolved))
	for _, p := range unresolved {
		ids = append(ids, p.holding.CoinID)
	}

	batch, err := r.market.FetchPrices(ctx, ids)
	if err != nil {
		r.logger.Warn("Batched price fetch failed", zap.Error(err))
		batch = nil
	}

	for _, p := range unresolved {
		holding := p.holding
		if price, ok := batch[holding.CoinID]; ok && price > 0 {
			r.Prime(map[string]float64{
				holding.CoinID:                   price,
				strings.ToUpper(holding.Symbol): price,
			})
			results[holding.CoinID] = Resolution{Price: price, Source: SourceMarketBatch}
			continue
		}

		if p.notFound {
			// A fetch was attempted and the source confirmed absence. The
			// hard zero tells the UI to disable sells for this asset.
			results[holding.CoinID] = Resolution{Price: 0, Source: SourceUnavailable}
			continue
		}

		results[holding.CoinID] = Resolution{
			Price:  holding.AvgBuyPrice,
			Source: SourceCostBasis,
		}
	}

	return results
}

// ResolvePrice resolves a price for a coin about to be traded, outside the
// context of an existing holding. It shares the cascade but has no cost basis
// to fall back on, so an unresolved coin returns ErrNotFound.
func (r *Resolver) ResolvePrice(ctx context.Context, coinID, symbol, chain string) (float64, error) {
	res := r.Resolve(ctx, model.Holding{
		CoinID: coinID,
		Symbol: symbol,
		Chain:  chain,
	})
	if res.Source == SourceCostBasis || res.Source == SourceUnavailable || res.Price <= 0 {
		return 0, apperr.ErrNotFound
	}
	return res.Price, nil
}
