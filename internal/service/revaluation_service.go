package service

import (
	"context"
	"time"

	"github.com/yourorg/cryptofolio/internal/model"
	"github.com/yourorg/cryptofolio/internal/resolver"

	"go.uber.org/zap"
)

// revaluationStore is the repository surface the batch job needs.
type revaluationStore interface {
	ListPortfolios(ctx context.Context) ([]model.Portfolio, error)
	GetAllHoldings(ctx context.Context) ([]model.Holding, error)
	UpdateValuation(ctx context.Context, portfolioID string, netWorth, gainPercentage float64) error
}

// leaderboard receives updated net-worth scores.
type leaderboard interface {
	UpdateScore(ctx context.Context, portfolioID, owner string, netWorth float64) error
}

// batchResolver resolves prices for the deduplicated asset universe.
type batchResolver interface {
	ResolveAll(ctx context.Context, holdings []model.Holding) map[string]resolver.Resolution
}

// RevaluationSummary reports the outcome of one batch pass.
type RevaluationSummary struct {
	Success           bool   `json:"success"`
	PortfoliosUpdated int    `json:"portfolios_updated"`
	PortfoliosTotal   int    `json:"portfolios_total"`
	UniqueCoins       int    `json:"unique_coins"`
	PricesFetched     int    `json:"prices_fetched"`
	DurationMs        int64  `json:"duration_ms"`
	Error             string `json:"error,omitempty"`
}

// RevaluationService revalues every portfolio in one pass. Prices for the
// unique held assets are resolved up front, amortizing network cost across
// the whole user base; a failure on one portfolio never aborts the rest.
type RevaluationService struct {
	store       revaluationStore
	leaderboard leaderboard
	resolver    batchResolver
	logger      *zap.Logger
}

// NewRevaluationService creates a new batch revaluation service.
func NewRevaluationService(store revaluationStore, leaderboard leaderboard, resolver batchResolver, logger *zap.Logger) *RevaluationService {
	return &RevaluationService{
		store:       store,
		leaderboard: leaderboard,
		resolver:    resolver,
		logger:      logger,
	}
}

// Run executes one revaluation pass over all portfolios.
func (s *RevaluationService) Run(ctx context.Context) *RevaluationSummary {
	start := time.Now()
	summary := &RevaluationSummary{}

	portfolios, err := s.store.ListPortfolios(ctx)
	if err != nil {
		summary.Error = err.Error()
		summary.DurationMs = time.Since(start).Milliseconds()
		return summary
	}
	summary.PortfoliosTotal = len(portfolios)

	holdings, err := s.store.GetAllHoldings(ctx)
	if err != nil {
		summary.Error = err.Error()
		summary.DurationMs = time.Since(start).Milliseconds()
		return summary
	}

	// One representative holding per coin id; the batch resolver only needs
	// the id, symbol and chain tag, not any per-portfolio cost basis.
	unique := make(map[string]model.Holding)
	byPortfolio := make(map[string][]model.Holding)
	for _, h := range holdings {
		if _, seen := unique[h.CoinID]; !seen {
			unique[h.CoinID] = model.Holding{
				CoinID: h.CoinID,
				Symbol: h.Symbol,
				Chain:  h.Chain,
			}
		}
		byPortfolio[h.PortfolioID] = append(byPortfolio[h.PortfolioID], h)
	}
	summary.UniqueCoins = len(unique)

	universe := make([]model.Holding, 0, len(unique))
	for _, h := range unique {
		universe = append(universe, h)
	}

	prices := make(map[string]float64, len(unique))
	for coinID, res := range s.resolver.ResolveAll(ctx, universe) {
		if res.Price > 0 && res.Source != resolver.SourceCostBasis {
			prices[coinID] = res.Price
		}
	}
	summary.PricesFetched = len(prices)

	for _, portfolio := range portfolios {
		netWorth := portfolio.CashBalance
		for _, h := range byPortfolio[portfolio.ID] {
			price, ok := prices[h.CoinID]
			if !ok {
				// Cost-basis fallback: the holding contributes flat value.
				price = h.AvgBuyPrice
			}
			netWorth += h.Quantity * price
		}

		gain := model.GainPercentage(netWorth, portfolio.StartingBalance)

		if err := s.store.UpdateValuation(ctx, portfolio.ID, netWorth, gain); err != nil {
			s.logger.Error("Failed to persist valuation, continuing",
				zap.Error(err),
				zap.String("portfolio_id", portfolio.ID))
			continue
		}

		if err := s.leaderboard.UpdateScore(ctx, portfolio.ID, portfolio.Owner, netWorth); err != nil {
			s.logger.Warn("Failed to update leaderboard",
				zap.Error(err),
				zap.String("portfolio_id", portfolio.ID))
		}

		summary.PortfoliosUpdated++
	}

	summary.Success = true
	summary.DurationMs = time.Since(start).Milliseconds()

	s.logger.Info("Revaluation pass complete",
		zap.Int("portfolios_updated", summary.PortfoliosUpdated),
		zap.Int("portfolios_total", summary.PortfoliosTotal),
		zap.Int("unique_coins", summary.UniqueCoins),
		zap.Int("prices_fetched", summary.PricesFetched),
		zap.Int64("duration_ms", summary.DurationMs))

	return summary
}
