package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/yourorg/cryptofolio/internal/apperr"
	"github.com/yourorg/cryptofolio/internal/cache"
	"github.com/yourorg/cryptofolio/internal/kvstore"
	"github.com/yourorg/cryptofolio/internal/model"
	"github.com/yourorg/cryptofolio/internal/ratelimit"

	"go.uber.org/zap"
)

const (
	DefaultDiscoveryBaseURL = "https://api.geckoterminal.com/api/v2"

	viralCacheKey = "viral"

	// ohlcvMaxRetries bounds the automatic retries on a rate-limited candle
	// fetch; delays double from ohlcvRetryInterval.
	ohlcvMaxRetries    = 2
	ohlcvRetryInterval = 2 * time.Second
)

// DiscoveryClient talks to the secondary on-chain data provider that surfaces
// newly trending, high-volatility pool-based tokens. Live lookups are keyed by
// (chain, contract address) but prices are cached and exposed by uppercased
// symbol, because a holding only retains a symbol once bought outside the live
// feed context.
type DiscoveryClient struct {
	baseURL       string
	httpClient    *http.Client
	guard         *ratelimit.Guard
	market        *MarketClient
	images        kvstore.Store
	trendingCache *cache.TTL[string, []model.Coin]
	symbolPrices  *cache.TTL[string, float64]
	ohlcvCache    *cache.TTL[string, []float64]
	retryInterval time.Duration
	logger        *zap.Logger
}

// DiscoveryClientConfig carries the tunables for the discovery client.
type DiscoveryClientConfig struct {
	BaseURL          string
	Timeout          time.Duration
	TrendingCacheTTL time.Duration
	PriceCacheTTL    time.Duration
	OHLCVCacheTTL    time.Duration

	// RetryInterval overrides the initial OHLCV backoff delay. Tests shrink
	// it; production keeps the 2s default.
	RetryInterval time.Duration
}

// NewDiscoveryClient creates a discovery source client. market is used only
// for best-effort image enrichment and may share its rate-limit guard.
func NewDiscoveryClient(
	cfg DiscoveryClientConfig,
	guard *ratelimit.Guard,
	market *MarketClient,
	images kvstore.Store,
	logger *zap.Logger,
) *DiscoveryClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultDiscoveryBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.TrendingCacheTTL == 0 {
		cfg.TrendingCacheTTL = 30 * time.Second
	}
	if cfg.PriceCacheTTL == 0 {
		cfg.PriceCacheTTL = 5 * time.Minute
	}
	if cfg.OHLCVCacheTTL == 0 {
		cfg.OHLCVCacheTTL = 5 * time.Minute
	}
	if cfg.RetryInterval == 0 {
		cfg.RetryInterval = ohlcvRetryInterval
	}

	return &DiscoveryClient{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		guard:         guard,
		market:        market,
		images:        images,
		trendingCache: cache.New[string, []model.Coin](cfg.TrendingCacheTTL),
		symbolPrices:  cache.New[string, float64](cfg.PriceCacheTTL),
		ohlcvCache:    cache.New[string, []float64](cfg.OHLCVCacheTTL),
		retryInterval: cfg.RetryInterval,
		logger:        logger,
	}
}

// FetchViral returns trending pools that pass the viral classification
// filter, ranked by virality score, truncated to limit. Served from a 30s
// cache; the discovery feed churns much faster than the primary source's
// top-250 ranking.
func (c *DiscoveryClient) FetchViral(ctx context.Context, limit int) ([]model.Coin, error) {
	if coins, ok := c.trendingCache.Get(viralCacheKey); ok {
		c.logger.Debug("Viral cache hit", zap.Int("count", len(coins)))
		return truncateCoins(coins, limit), nil
	}

	coins, err := c.fetchTrendingPools(ctx)
	if err != nil {
		if errors.Is(err, apperr.ErrNetworkUnavailable) {
			if stale, ok := c.trendingCache.GetStale(viralCacheKey); ok {
				c.logger.Warn("Serving stale viral list, network unavailable")
				return truncateCoins(stale, limit), nil
			}
		}
		return nil, err
	}

	viral := make([]model.Coin, 0, len(coins))
	for _, coin := range coins {
		if IsViral(&coin) {
			coin.IsViral = true
			viral = append(viral, coin)
		}
	}

	sort.SliceStable(viral, func(i, j int) bool {
		return ViralityScore(&viral[i]) > ViralityScore(&viral[j])
	})

	for i := range viral {
		c.enrichImage(ctx, &viral[i])
	}

	c.trendingCache.Put(viralCacheKey, viral)
	for _, coin := range viral {
		if coin.CurrentPrice > 0 {
			c.symbolPrices.Put(strings.ToUpper(coin.Symbol), coin.CurrentPrice)
		}
	}

	return truncateCoins(viral, limit), nil
}

func (c *DiscoveryClient) fetchTrendingPools(ctx context.Context) ([]model.Coin, error) {
	reqURL := fmt.Sprintf("%s/networks/trending_pools", c.baseURL)
	c.logger.Debug("Fetching trending pools", zap.String("url", reqURL))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.guard.Do(ctx, c.httpClient, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var payload model.TrendingPoolsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.logger.Error("Failed to decode trending pools", zap.Error(err))
		return nil, fmt.Errorf("failed to decode trending pools: %w", apperr.ErrInvalidResponse)
	}

	coins := make([]model.Coin, 0, len(payload.Data))
	for _, pool := range payload.Data {
		coin, ok := poolToCoin(pool)
		if !ok {
			c.logger.Warn("Skipping malformed pool", zap.String("pool_id", pool.ID))
			continue
		}
		coins = append(coins, coin)
	}

	return coins, nil
}

func poolToCoin(pool model.TrendingPool) (model.Coin, bool) {
	chain, address := model.SplitPoolID(pool.ID)
	symbol := pool.Attributes.BaseSymbol()
	if address == "" || symbol == "" {
		return model.Coin{}, false
	}

	price := parseFloat(pool.Attributes.BaseTokenPriceUSD)
	if price < 0 {
		return model.Coin{}, false
	}

	createdAt := pool.Attributes.PoolCreatedAt
	coin := model.Coin{
		ID:            address,
		Symbol:        strings.ToUpper(symbol),
		Name:          strings.TrimSpace(pool.Attributes.Name),
		CurrentPrice:  price,
		MarketCap:     parseFloat(pool.Attributes.FdvUSD),
		Chain:         chain,
		PriceChange1h: parseFloat(pool.Attributes.PriceChangePercentage["h1"]),
		Buys1h:        pool.Attributes.Transactions.H1.Buys,
		Sells1h:       pool.Attributes.Transactions.H1.Sells,
		Volume1h:      parseFloat(pool.Attributes.VolumeUSD["h1"]),
	}
	if !createdAt.IsZero() {
		coin.PoolCreatedAt = &createdAt
	}

	change24h := parseFloat(pool.Attributes.PriceChangePercentage["h24"])
	coin.PriceChangePercentage24h = change24h
	coin.PriceChange24h = price * change24h / 100

	return coin, true
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}

// IsViral reports whether a pool-based coin qualifies for the viral list.
// The filter is deliberately permissive: a false positive only shows an extra
// row, a false negative hides a mover.
func IsViral(coin *model.Coin) bool {
	if coin.PriceChange1h > 50 {
		return true
	}
	if coin.Txns1h() > 100 {
		return true
	}
	if coin.PoolCreatedAt != nil && time.Since(*coin.PoolCreatedAt) < time.Hour {
		return true
	}
	return coin.PriceChange1h > 25 && coin.Txns1h() > 50
}

// ViralityScore ranks viral coins for display. The coefficients are a tuning
// choice kept stable for output compatibility.
func ViralityScore(coin *model.Coin) float64 {
	return 0.4*coin.PriceChange1h +
		0.3*float64(coin.Txns1h()) +
		0.3*(coin.Volume1h/10000)
}

// enrichImage fills coin.Image from the persistent symbol->URL store, falling
// back to a symbol search against the primary source. Failures are tolerated
// silently; a missing image is not an error.
func (c *DiscoveryClient) enrichImage(ctx context.Context, coin *model.Coin) {
	key := strings.ToUpper(coin.Symbol)

	if url, ok, err := c.images.Get(ctx, key); err == nil && ok {
		coin.Image = url
		return
	}

	if c.market == nil {
		return
	}

	url, err := c.market.SearchImage(ctx, coin.Symbol)
	if err != nil {
		c.logger.Debug("Image lookup failed",
			zap.String("symbol", coin.Symbol),
			zap.Error(err))
		return
	}

	coin.Image = url
	if err := c.images.Put(ctx, key, url); err != nil {
		c.logger.Debug("Image store write failed", zap.Error(err))
	}
}

// FetchTokenPrice fetches the live USD price of a token by chain and contract
// address, caching the result under the token's uppercased symbol when known.
func (c *DiscoveryClient) FetchTokenPrice(ctx context.Context, chain, address string) (float64, error) {
	reqURL := fmt.Sprintf("%s/networks/%s/tokens/%s", c.baseURL, chain, address)
	c.logger.Debug("Fetching token price", zap.String("url", reqURL))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.guard.Do(ctx, c.httpClient, req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	var payload model.TokenPriceResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.logger.Error("Failed to decode token price", zap.Error(err))
		return 0, fmt.Errorf("failed to decode token price: %w", apperr.ErrInvalidResponse)
	}

	price, err := strconv.ParseFloat(payload.Data.Attributes.PriceUSD, 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable price %q: %w",
			payload.Data.Attributes.PriceUSD, apperr.ErrInvalidResponse)
	}

	return price, nil
}

// PutSymbolPrice records a price in the symbol cache. The resolver uses this
// to keep the symbol cache warm after direct token lookups.
func (c *DiscoveryClient) PutSymbolPrice(symbol string, price float64) {
	if price > 0 && symbol != "" {
		c.symbolPrices.Put(strings.ToUpper(symbol), price)
	}
}

// CachedPriceForSymbol returns the fresh cached price for an uppercased
// symbol, if any.
func (c *DiscoveryClient) CachedPriceForSymbol(symbol string) (float64, bool) {
	return c.symbolPrices.Get(strings.ToUpper(symbol))
}

// CachedPricesForSymbols returns fresh cached prices for each symbol that has
// one.
func (c *DiscoveryClient) CachedPricesForSymbols(symbols []string) map[string]float64 {
	prices := make(map[string]float64, len(symbols))
	for _, symbol := range symbols {
		if price, ok := c.CachedPriceForSymbol(symbol); ok {
			prices[strings.ToUpper(symbol)] = price
		}
	}
	return prices
}

// FetchOHLCV fetches candle closes for a pool. On a rate-limit response it
// retries up to two more times with doubling delays, then falls back to the
// last cached series (even stale) before propagating the error. Only this
// path retries automatically; everything else surfaces ErrRateLimited to its
// caller.
func (c *DiscoveryClient) FetchOHLCV(ctx context.Context, chain, poolAddress, timeframe string, limit int) ([]float64, error) {
	cacheKey := fmt.Sprintf("%s|%s|%s|%d", chain, poolAddress, timeframe, limit)
	if closes, ok := c.ohlcvCache.Get(cacheKey); ok {
		return closes, nil
	}

	var closes []float64
	operation := func() error {
		var err error
		closes, err = c.fetchOHLCVOnce(ctx, chain, poolAddress, timeframe, limit)
		if err == nil {
			return nil
		}
		if errors.Is(err, apperr.ErrRateLimited) {
			return err
		}
		return backoff.Permanent(err)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(&backoff.ExponentialBackOff{
		InitialInterval:     c.retryInterval,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         c.retryInterval * 4,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}, ohlcvMaxRetries), ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		if stale, ok := c.ohlcvCache.GetStale(cacheKey); ok {
			c.logger.Warn("Serving stale OHLCV after retries",
				zap.String("pool", poolAddress),
				zap.Error(err))
			return stale, nil
		}
		return nil, err
	}

	c.ohlcvCache.Put(cacheKey, closes)
	return closes, nil
}

func (c *DiscoveryClient) fetchOHLCVOnce(ctx context.Context, chain, poolAddress, timeframe string, limit int) ([]float64, error) {
	reqURL := fmt.Sprintf("%s/networks/%s/pools/%s/ohlcv/%s?aggregate=1&limit=%d",
		c.baseURL, chain, poolAddress, timeframe, limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.guard.Do(ctx, c.httpClient, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var payload model.OHLCVResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.logger.Error("Failed to decode OHLCV", zap.Error(err))
		return nil, fmt.Errorf("failed to decode ohlcv: %w", apperr.ErrInvalidResponse)
	}

	rows := payload.Data.Attributes.OHLCVList
	closes := make([]float64, 0, len(rows))
	for _, row := range rows {
		if len(row) < 5 {
			continue
		}
		closes = append(closes, row[4])
	}

	return closes, nil
}
