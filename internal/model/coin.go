package model

import "time"

// Coin represents a tradeable asset from either market source.
//
// ID is stable within its source but not globally unique: primary-source
// coins carry a symbol-derived id while discovery-source coins carry an
// on-chain contract address. Downstream lookups therefore fall back to the
// uppercased symbol when an id misses.
type Coin struct {
	ID                       string    `json:"id"`
	Symbol                   string    `json:"symbol"`
	Name                     string    `json:"name"`
	Image                    string    `json:"image,omitempty"`
	CurrentPrice             float64   `json:"current_price"`
	PriceChange24h           float64   `json:"price_change_24h"`
	PriceChangePercentage24h float64   `json:"price_change_percentage_24h"`
	MarketCap                float64   `json:"market_cap"`
	Sparkline7d              []float64 `json:"sparkline_7d,omitempty"`

	// Discovery-source fields. Zero-valued for primary-source coins.
	PoolCreatedAt *time.Time `json:"pool_created_at,omitempty"`
	PriceChange1h float64    `json:"price_change_1h,omitempty"`
	Buys1h        int        `json:"buys_1h,omitempty"`
	Sells1h       int        `json:"sells_1h,omitempty"`
	Volume1h      float64    `json:"volume_1h,omitempty"`
	Chain         string     `json:"chain,omitempty"`
	IsViral       bool       `json:"is_viral,omitempty"`
}

// Txns1h returns the combined 1-hour buy+sell transaction count.
func (c *Coin) Txns1h() int {
	return c.Buys1h + c.Sells1h
}
