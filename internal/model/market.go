package model

import (
	"strings"
	"time"
)

// MarketCoin is one row of the primary source's /coins/markets response.
type MarketCoin struct {
	ID                       string  `json:"id"`
	Symbol                   string  `json:"symbol"`
	Name                     string  `json:"name"`
	Image                    string  `json:"image"`
	CurrentPrice             float64 `json:"current_price"`
	PriceChange24h           float64 `json:"price_change_24h"`
	PriceChangePercentage24h float64 `json:"price_change_percentage_24h"`
	MarketCap                float64 `json:"market_cap"`
	Sparkline                struct {
		Price []float64 `json:"price"`
	} `json:"sparkline_in_7d"`
}

// SimplePriceResponse is the primary source's /simple/price payload:
// {id: {"usd": price}}. Ids absent from the map are unresolved, not zero.
type SimplePriceResponse map[string]map[string]float64

// SearchResponse is the primary source's /search payload, used only for
// best-effort image enrichment of discovery assets.
type SearchResponse struct {
	Coins []struct {
		ID     string `json:"id"`
		Symbol string `json:"symbol"`
		Thumb  string `json:"thumb"`
		Large  string `json:"large"`
	} `json:"coins"`
}

// TrendingPoolsResponse is the discovery source's /networks/trending_pools
// payload. Numeric attributes arrive string-encoded.
type TrendingPoolsResponse struct {
	Data []TrendingPool `json:"data"`
}

// TrendingPool is a single pool entry, id formatted "{chain}_{address}".
type TrendingPool struct {
	ID         string         `json:"id"`
	Attributes PoolAttributes `json:"attributes"`
}

// PoolAttributes carries the pool metrics the viral classifier consumes.
type PoolAttributes struct {
	Name                  string            `json:"name"`
	BaseTokenPriceUSD     string            `json:"base_token_price_usd"`
	FdvUSD                string            `json:"fdv_usd"`
	PoolCreatedAt         time.Time         `json:"pool_created_at"`
	PriceChangePercentage map[string]string `json:"price_change_percentage"`
	VolumeUSD             map[string]string `json:"volume_usd"`
	Transactions          struct {
		H1 struct {
			Buys  int `json:"buys"`
			Sells int `json:"sells"`
		} `json:"h1"`
	} `json:"transactions"`
}

// BaseSymbol extracts the token symbol from a pool name of the form
// "TOKEN / QUOTE".
func (a *PoolAttributes) BaseSymbol() string {
	name, _, _ := strings.Cut(a.Name, "/")
	return strings.TrimSpace(name)
}

// SplitPoolID splits a "{chain}_{address}" pool id into its parts. Addresses
// may themselves contain underscores on some chains, so only the first
// separator is significant.
func SplitPoolID(id string) (chain, address string) {
	chain, address, ok := strings.Cut(id, "_")
	if !ok {
		return "", id
	}
	return chain, address
}

// TokenPriceResponse is the discovery source's /networks/{chain}/tokens/{addr}
// payload. price_usd is a string-encoded decimal.
type TokenPriceResponse struct {
	Data struct {
		Attributes struct {
			PriceUSD string `json:"price_usd"`
		} `json:"attributes"`
	} `json:"data"`
}

// OHLCVResponse is the discovery source's candle payload. Each row is
// [timestamp, open, high, low, close, volume]; consumers extract only close.
type OHLCVResponse struct {
	Data struct {
		Attributes struct {
			OHLCVList [][]float64 `json:"ohlcv_list"`
		} `json:"attributes"`
	} `json:"data"`
}
