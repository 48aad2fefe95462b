package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/yourorg/cryptofolio/internal/apperr"
	"github.com/yourorg/cryptofolio/internal/cache"
	"github.com/yourorg/cryptofolio/internal/model"
	"github.com/yourorg/cryptofolio/internal/ratelimit"

	"go.uber.org/zap"
)

const (
	DefaultMarketBaseURL = "https://api.coingecko.com/api/v3"

	// MaxPriceBatchSize caps how many ids go into one /simple/price call.
	MaxPriceBatchSize = 50

	trendingCacheKey = "trending"
)

// MarketClient talks to the primary market-data provider. It keeps a 60s
// trending-list cache and a 5-minute per-asset spot price cache, and batches
// price lookups into as few outbound calls as possible to respect the
// provider's aggressive rate limits.
type MarketClient struct {
	baseURL       string
	httpClient    *http.Client
	guard         *ratelimit.Guard
	trendingCache *cache.TTL[string, []model.Coin]
	priceCache    *cache.TTL[string, float64]
	logger        *zap.Logger
}

// MarketClientConfig carries the tunables for the market client.
type MarketClientConfig struct {
	BaseURL          string
	Timeout          time.Duration
	TrendingCacheTTL time.Duration
	PriceCacheTTL    time.Duration
}

// NewMarketClient creates a primary market source client.
func NewMarketClient(cfg MarketClientConfig, guard *ratelimit.Guard, logger *zap.Logger) *MarketClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultMarketBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.TrendingCacheTTL == 0 {
		cfg.TrendingCacheTTL = 60 * time.Second
	}
	if cfg.PriceCacheTTL == 0 {
		cfg.PriceCacheTTL = 5 * time.Minute
	}

	return &MarketClient{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		guard:         guard,
		trendingCache: cache.New[string, []model.Coin](cfg.TrendingCacheTTL),
		priceCache:    cache.New[string, float64](cfg.PriceCacheTTL),
		logger:        logger,
	}
}

// FetchTrending returns the top coins by market cap, serving from the 60s
// cache when fresh. A live fetch replaces the cached list wholesale. When the
// network is unavailable the cached list is returned even if stale.
func (c *MarketClient) FetchTrending(ctx context.Context, limit int) ([]model.Coin, error) {
	if coins, ok := c.trendingCache.Get(trendingCacheKey); ok {
		c.logger.Debug("Trending cache hit", zap.Int("count", len(coins)))
		return truncateCoins(coins, limit), nil
	}

	coins, err := c.fetchMarkets(ctx, limit)
	if err != nil {
		if errors.Is(err, apperr.ErrNetworkUnavailable) {
			if stale, ok := c.trendingCache.GetStale(trendingCacheKey); ok {
				c.logger.Warn("Serving stale trending list, network unavailable")
				return truncateCoins(stale, limit), nil
			}
		}
		return nil, err
	}

	c.trendingCache.Put(trendingCacheKey, coins)
	for _, coin := range coins {
		if coin.CurrentPrice > 0 {
			c.priceCache.Put(coin.ID, coin.CurrentPrice)
		}
	}

	return truncateCoins(coins, limit), nil
}

func (c *MarketClient) fetchMarkets(ctx context.Context, limit int) ([]model.Coin, error) {
	if limit <= 0 {
		limit = 100
	}

	params := url.Values{}
	params.Add("vs_currency", "usd")
	params.Add("order", "market_cap_desc")
	params.Add("per_page", strconv.Itoa(limit))
	params.Add("sparkline", "true")
	params.Add("price_change_percentage", "24h")

	reqURL := fmt.Sprintf("%s/coins/markets?%s", c.baseURL, params.Encode())
	c.logger.Debug("Fetching markets", zap.String("url", reqURL))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.guard.Do(ctx, c.httpClient, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var rows []model.MarketCoin
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		c.logger.Error("Failed to decode markets response", zap.Error(err))
		return nil, fmt.Errorf("failed to decode markets: %w", apperr.ErrInvalidResponse)
	}

	coins := make([]model.Coin, 0, len(rows))
	for _, row := range rows {
		coins = append(coins, model.Coin{
			ID:                       row.ID,
			Symbol:                   strings.ToUpper(row.Symbol),
			Name:                     row.Name,
			Image:                    row.Image,
			CurrentPrice:             row.CurrentPrice,
			PriceChange24h:           row.PriceChange24h,
			PriceChangePercentage24h: row.PriceChangePercentage24h,
			MarketCap:                row.MarketCap,
			Sparkline7d:              row.Sparkline.Price,
		})
	}

	return coins, nil
}

// FetchPrices resolves spot prices for ids, serving fresh cache entries
// without a call and batching every stale id into single /simple/price
// requests of at most MaxPriceBatchSize ids. Ids the provider does not know
// are omitted from the result and never negative-cached.
func (c *MarketClient) FetchPrices(ctx context.Context, ids []string) (map[string]float64, error) {
	prices := make(map[string]float64, len(ids))

	var stale []string
	for _, id := range ids {
		if price, ok := c.priceCache.Get(id); ok {
			prices[id] = price
		} else {
			stale = append(stale, id)
		}
	}

	if len(stale) == 0 {
		return prices, nil
	}

	for start := 0; start < len(stale); start += MaxPriceBatchSize {
		end := start + MaxPriceBatchSize
		if end > len(stale) {
			end = len(stale)
		}

		batch, err := c.fetchPriceBatch(ctx, stale[start:end])
		if err != nil {
			if errors.Is(err, apperr.ErrNetworkUnavailable) {
				// Degrade to stale entries for whatever we have cached.
				for _, id := range stale[start:end] {
					if price, ok := c.priceCache.GetStale(id); ok {
						prices[id] = price
					}
				}
				continue
			}
			return nil, err
		}

		for id, price := range batch {
			prices[id] = price
			c.priceCache.Put(id, price)
		}
	}

	return prices, nil
}

func (c *MarketClient) fetchPriceBatch(ctx context.Context, ids []string) (map[string]float64, error) {
	params := url.Values{}
	params.Add("ids", strings.Join(ids, ","))
	params.Add("vs_currencies", "usd")

	reqURL := fmt.Sprintf("%s/simple/price?%s", c.baseURL, params.Encode())
	c.logger.Debug("Fetching price batch", zap.Int("ids", len(ids)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.guard.Do(ctx, c.httpClient, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var payload model.SimplePriceResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.logger.Error("Failed to decode price response", zap.Error(err))
		return nil, fmt.Errorf("failed to decode prices: %w", apperr.ErrInvalidResponse)
	}

	prices := make(map[string]float64, len(payload))
	for id, quote := range payload {
		if usd, ok := quote["usd"]; ok {
			prices[id] = usd
		}
	}

	return prices, nil
}

// SearchImage looks up an image URL for symbol via the provider's search
// endpoint. Used for best-effort enrichment of discovery assets only.
func (c *MarketClient) SearchImage(ctx context.Context, symbol string) (string, error) {
	params := url.Values{}
	params.Add("query", symbol)

	reqURL := fmt.Sprintf("%s/search?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.guard.Do(ctx, c.httpClient, req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var payload model.SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("failed to decode search: %w", apperr.ErrInvalidResponse)
	}

	want := strings.ToUpper(symbol)
	for _, coin := range payload.Coins {
		if strings.ToUpper(coin.Symbol) != want {
			continue
		}
		if coin.Large != "" {
			return coin.Large, nil
		}
		if coin.Thumb != "" {
			return coin.Thumb, nil
		}
	}

	return "", fmt.Errorf("no image for %s: %w", symbol, apperr.ErrNotFound)
}

func truncateCoins(coins []model.Coin, limit int) []model.Coin {
	if limit > 0 && len(coins) > limit {
		return coins[:limit]
	}
	return coins
}
