package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/yourorg/cryptofolio/internal/apperr"
	"github.com/yourorg/cryptofolio/internal/model"
	"github.com/yourorg/cryptofolio/internal/repository"
	"github.com/yourorg/cryptofolio/internal/resolver"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// portfolioStore is the repository surface the valuation engine needs.
type portfolioStore interface {
	CreatePortfolio(ctx context.Context, p *model.Portfolio) error
	GetPortfolio(ctx context.Context, id string) (*model.Portfolio, error)
	GetHoldings(ctx context.Context, portfolioID string) ([]model.Holding, error)
	GetHolding(ctx context.Context, portfolioID, coinID string) (*model.Holding, error)
	GetTransactions(ctx context.Context, portfolioID string, limit int) ([]model.Transaction, error)
	ApplyTrade(ctx context.Context, update repository.TradeUpdate) error
}

// priceResolver is the cascade surface the valuation engine needs.
type priceResolver interface {
	ResolveAll(ctx context.Context, holdings []model.Holding) map[string]resolver.Resolution
	ResolvePrice(ctx context.Context, coinID, symbol, chain string) (float64, error)
}

// BuyRequest describes a buy order: spend Amount of cash on the given coin.
type BuyRequest struct {
	CoinID string
	Symbol string
	Chain  string
	Amount float64
}

// HoldingValuation is a holding with its resolved price applied.
type HoldingValuation struct {
	model.Holding
	CurrentPrice      float64              `json:"current_price"`
	Value             float64              `json:"value"`
	UnrealizedGain    float64              `json:"unrealized_gain"`
	UnrealizedGainPct float64              `json:"unrealized_gain_pct"`
	PriceSource       resolver.PriceSource `json:"price_source"`
	PriceUnavailable  bool                 `json:"price_unavailable"`
	CanSell           bool                 `json:"can_sell"`
}

// PortfolioValuation is a portfolio with every holding valued and the
// aggregate net worth and gain computed.
type PortfolioValuation struct {
	Portfolio      model.Portfolio    `json:"portfolio"`
	Holdings       []HoldingValuation `json:"holdings"`
	NetWorth       float64            `json:"net_worth"`
	GainPercentage float64            `json:"gain_percentage"`
}

// PortfolioService executes buys and sells and values portfolios. Mutations
// of a single portfolio are serialized by a per-portfolio mutex held across
// the read-modify-write; reads run concurrently.
type PortfolioService struct {
	store    portfolioStore
	resolver priceResolver
	locks    sync.Map
	logger   *zap.Logger
}

// NewPortfolioService creates a new portfolio service.
func NewPortfolioService(store portfolioStore, resolver priceResolver, logger *zap.Logger) *PortfolioService {
	return &PortfolioService{
		store:    store,
		resolver: resolver,
		logger:   logger,
	}
}

func (s *PortfolioService) portfolioLock(id string) *sync.Mutex {
	lock, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// CreatePortfolio creates a portfolio with the given starting cash.
func (s *PortfolioService) CreatePortfolio(ctx context.Context, owner string, startingBalance float64) (*model.Portfolio, error) {
	if owner == "" || startingBalance <= 0 {
		return nil, fmt.Errorf("owner and a positive starting balance are required: %w", apperr.ErrInvalidRequest)
	}

	now := time.Now().UTC()
	p := &model.Portfolio{
		ID:              uuid.NewString(),
		Owner:           owner,
		CashBalance:     startingBalance,
		StartingBalance: startingBalance,
		NetWorth:        startingBalance,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.store.CreatePortfolio(ctx, p); err != nil {
		return nil, err
	}

	s.logger.Info("Portfolio created",
		zap.String("id", p.ID),
		zap.String("owner", owner),
		zap.Float64("starting_balance", startingBalance))

	return p, nil
}

// Buy spends req.Amount of the portfolio's cash on the coin at its current
// resolved price. Rejects on non-positive amount, insufficient funds, or an
// unresolvable price. A repeat buy of a held coin recomputes the weighted
// average cost basis.
func (s *PortfolioService) Buy(ctx context.Context, portfolioID string, req BuyRequest) (*model.Transaction, error) {
	lock := s.portfolioLock(portfolioID)
	lock.Lock()
	defer lock.Unlock()

	portfolio, err := s.store.GetPortfolio(ctx, portfolioID)
	if err != nil {
		return nil, err
	}

	if req.Amount <= 0 {
		return nil, fmt.Errorf("amount must be positive: %w", apperr.ErrInvalidRequest)
	}
	if req.Amount > portfolio.CashBalance {
		return nil, fmt.Errorf("insufficient funds: have %.2f, need %.2f: %w",
			portfolio.CashBalance, req.Amount, apperr.ErrInvalidRequest)
	}

	price, err := s.resolver.ResolvePrice(ctx, req.CoinID, req.Symbol, req.Chain)
	if err != nil {
		return nil, fmt.Errorf("price unavailable for %s: %w", req.CoinID, err)
	}

	quantity := req.Amount / price
	now := time.Now().UTC()

	holding, err := s.store.GetHolding(ctx, portfolioID, req.CoinID)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		holding = &model.Holding{
			ID:              uuid.NewString(),
			PortfolioID:     portfolioID,
			CoinID:          req.CoinID,
			Symbol:          strings.ToUpper(req.Symbol),
			Chain:           req.Chain,
			Quantity:        quantity,
			AvgBuyPrice:     price,
			FirstPurchaseAt: now,
		}
	case err != nil:
		return nil, err
	default:
		holding.AvgBuyPrice = model.WeightedAvgPrice(holding.Quantity, holding.AvgBuyPrice, quantity, price)
		holding.Quantity += quantity
	}

	txn := &model.Transaction{
		ID:          uuid.NewString(),
		PortfolioID: portfolioID,
		Type:        model.TransactionBuy,
		CoinID:      req.CoinID,
		Symbol:      strings.ToUpper(req.Symbol),
		Quantity:    quantity,
		Price:       price,
		TotalValue:  req.Amount,
		CreatedAt:   now,
	}

	update := repository.TradeUpdate{
		PortfolioID: portfolioID,
		CashBalance: portfolio.CashBalance - req.Amount,
		Holding:     holding,
		Transaction: txn,
	}
	if err := s.store.ApplyTrade(ctx, update); err != nil {
		return nil, err
	}

	s.logger.Info("Buy executed",
		zap.String("portfolio_id", portfolioID),
		zap.String("coin_id", req.CoinID),
		zap.Float64("amount", req.Amount),
		zap.Float64("price", price),
		zap.Float64("quantity", quantity))

	return txn, nil
}

// Sell disposes quantity units of a held coin at its current resolved price.
// Rejects when no holding exists, the quantity is invalid, or price
// resolution reached the hard-zero unavailable state. When the remaining
// quantity falls below the dust threshold the holding is removed entirely.
// The average buy price is untouched by a partial disposal.
func (s *PortfolioService) Sell(ctx context.Context, portfolioID, coinID string, quantity float64) (*model.Transaction, error) {
	lock := s.portfolioLock(portfolioID)
	lock.Lock()
	defer lock.Unlock()

	portfolio, err := s.store.GetPortfolio(ctx, portfolioID)
	if err != nil {
		return nil, err
	}

	holding, err := s.store.GetHolding(ctx, portfolioID, coinID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, fmt.Errorf("no holding of %s: %w", coinID, apperr.ErrInvalidRequest)
	}
	if err != nil {
		return nil, err
	}

	if quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive: %w", apperr.ErrInvalidRequest)
	}
	if quantity > holding.Quantity {
		return nil, fmt.Errorf("cannot sell %.8f, holding %.8f: %w",
			quantity, holding.Quantity, apperr.ErrInvalidRequest)
	}

	res := s.resolver.ResolveAll(ctx, []model.Holding{*holding})[holding.CoinID]
	if res.Unavailable() || res.Price <= 0 {
		return nil, fmt.Errorf("price unavailable for %s, sell disabled: %w", coinID, apperr.ErrInvalidRequest)
	}
	price := res.Price

	total := quantity * price
	now := time.Now().UTC()

	update := repository.TradeUpdate{
		PortfolioID: portfolioID,
		CashBalance: portfolio.CashBalance + total,
	}

	remaining := holding.Quantity - quantity
	if remaining < model.DustThreshold {
		update.RemoveHoldingID = holding.ID
	} else {
		updated := *holding
		updated.Quantity = remaining
		update.Holding = &updated
	}

	txn := &model.Transaction{
		ID:          uuid.NewString(),
		PortfolioID: portfolioID,
		Type:        model.TransactionSell,
		CoinID:      coinID,
		Symbol:      holding.Symbol,
		Quantity:    quantity,
		Price:       price,
		TotalValue:  total,
		CreatedAt:   now,
	}
	update.Transaction = txn

	if err := s.store.ApplyTrade(ctx, update); err != nil {
		return nil, err
	}

	s.logger.Info("Sell executed",
		zap.String("portfolio_id", portfolioID),
		zap.String("coin_id", coinID),
		zap.Float64("quantity", quantity),
		zap.Float64("price", price),
		zap.Bool("holding_removed", update.RemoveHoldingID != ""))

	return txn, nil
}

// GetValuation values a portfolio with the price cascade, cost-basis fallback
// inline. Holdings in the hard-zero unavailable state report value 0 and
// CanSell false.
func (s *PortfolioService) GetValuation(ctx context.Context, portfolioID string) (*PortfolioValuation, error) {
	portfolio, err := s.store.GetPortfolio(ctx, portfolioID)
	if err != nil {
		return nil, err
	}

	holdings, err := s.store.GetHoldings(ctx, portfolioID)
	if err != nil {
		return nil, err
	}

	resolutions := s.resolver.ResolveAll(ctx, holdings)

	valuation := &PortfolioValuation{
		Portfolio: *portfolio,
		Holdings:  make([]HoldingValuation, 0, len(holdings)),
		NetWorth:  portfolio.CashBalance,
	}

	for _, holding := range holdings {
		res := resolutions[holding.CoinID]

		hv := HoldingValuation{
			Holding:          holding,
			CurrentPrice:     res.Price,
			Value:            holding.Quantity * res.Price,
			PriceSource:      res.Source,
			PriceUnavailable: res.Unavailable(),
			CanSell:          !res.Unavailable(),
		}
		hv.UnrealizedGain = (res.Price - holding.AvgBuyPrice) * holding.Quantity
		if holding.AvgBuyPrice > 0 {
			hv.UnrealizedGainPct = (res.Price - holding.AvgBuyPrice) / holding.AvgBuyPrice * 100
		}
		if hv.PriceUnavailable {
			hv.Value = 0
			hv.UnrealizedGain = 0
			hv.UnrealizedGainPct = 0
		}

		valuation.NetWorth += hv.Value
		valuation.Holdings = append(valuation.Holdings, hv)
	}

	valuation.GainPercentage = model.GainPercentage(valuation.NetWorth, portfolio.StartingBalance)

	return valuation, nil
}

// GetTransactions lists a portfolio's trades, newest first.
func (s *PortfolioService) GetTransactions(ctx context.Context, portfolioID string, limit int) ([]model.Transaction, error) {
	if _, err := s.store.GetPortfolio(ctx, portfolioID); err != nil {
		return nil, err
	}
	return s.store.GetTransactions(ctx, portfolioID, limit)
}
