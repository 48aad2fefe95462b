package model

import "time"

// DustThreshold is the quantity below which a holding is considered fully
// disposed and removed, so float noise never leaves ~0 holdings behind.
const DustThreshold = 1e-8

// TransactionType identifies the direction of a trade.
type TransactionType string

const (
	TransactionBuy  TransactionType = "buy"
	TransactionSell TransactionType = "sell"
)

// Portfolio holds a user's virtual cash and positions. CashBalance only moves
// through buy (decrease) and sell (increase), by exactly the trade's total.
type Portfolio struct {
	ID              string    `json:"id" db:"id"`
	Owner           string    `json:"owner" db:"owner"`
	CashBalance     float64   `json:"cash_balance" db:"cash_balance"`
	StartingBalance float64   `json:"starting_balance" db:"starting_balance"`
	NetWorth        float64   `json:"net_worth" db:"net_worth"`
	GainPercentage  float64   `json:"gain_percentage" db:"gain_percentage"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// Holding is a position in a single asset. Symbol is denormalized from the
// coin at purchase time and doubles as the fallback price-lookup key. Chain is
// set only for discovery-source assets and enables direct token lookups.
type Holding struct {
	ID              string    `json:"id" db:"id"`
	PortfolioID     string    `json:"portfolio_id" db:"portfolio_id"`
	CoinID          string    `json:"coin_id" db:"coin_id"`
	Symbol          string    `json:"symbol" db:"symbol"`
	Chain           string    `json:"chain,omitempty" db:"chain"`
	Quantity        float64   `json:"quantity" db:"quantity"`
	AvgBuyPrice     float64   `json:"avg_buy_price" db:"avg_buy_price"`
	FirstPurchaseAt time.Time `json:"first_purchase_at" db:"first_purchase_at"`
}

// Transaction is an immutable record of a single executed trade, ordered
// newest first when listed.
type Transaction struct {
	ID          string          `json:"id" db:"id"`
	PortfolioID string          `json:"portfolio_id" db:"portfolio_id"`
	Type        TransactionType `json:"type" db:"type"`
	CoinID      string          `json:"coin_id" db:"coin_id"`
	Symbol      string          `json:"symbol" db:"symbol"`
	Quantity    float64         `json:"quantity" db:"quantity"`
	Price       float64         `json:"price" db:"price"`
	TotalValue  float64         `json:"total_value" db:"total_value"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// WeightedAvgPrice recomputes the cost basis after adding addQty units bought
// at tradePrice to an existing position of oldQty units at oldAvg.
func WeightedAvgPrice(oldQty, oldAvg, addQty, tradePrice float64) float64 {
	total := oldQty + addQty
	if total <= 0 {
		return tradePrice
	}
	return (oldQty*oldAvg + addQty*tradePrice) / total
}

// GainPercentage returns the percentage gain of netWorth over startingBalance,
// or 0 when there is no starting balance to measure against.
func GainPercentage(netWorth, startingBalance float64) float64 {
	if startingBalance <= 0 {
		return 0
	}
	return (netWorth - startingBalance) / startingBalance * 100
}
