package service

import (
	"context"

	"github.com/yourorg/cryptofolio/internal/model"

	"go.uber.org/zap"
)

// trendingSource lists ranked coins from the primary market source.
type trendingSource interface {
	FetchTrending(ctx context.Context, limit int) ([]model.Coin, error)
}

// viralSource lists viral pool-based coins from the discovery source.
type viralSource interface {
	FetchViral(ctx context.Context, limit int) ([]model.Coin, error)
}

// pricePrimer receives freshly listed coins so later resolutions hit the
// central price map instead of the network.
type pricePrimer interface {
	PrimeCoins(coins []model.Coin)
}

// MarketService serves the trending and viral listings and feeds every
// fetched price into the central resolver map.
type MarketService struct {
	market    trendingSource
	discovery viralSource
	primer    pricePrimer
	logger    *zap.Logger
}

// NewMarketService creates a new market service.
func NewMarketService(market trendingSource, discovery viralSource, primer pricePrimer, logger *zap.Logger) *MarketService {
	return &MarketService{
		market:    market,
		discovery: discovery,
		primer:    primer,
		logger:    logger,
	}
}

// Trending returns the top coins by market cap.
func (s *MarketService) Trending(ctx context.Context, limit int) ([]model.Coin, error) {
	coins, err := s.market.FetchTrending(ctx, limit)
	if err != nil {
		return nil, err
	}
	s.primer.PrimeCoins(coins)
	return coins, nil
}

// Viral returns the ranked viral coins from the discovery source.
func (s *MarketService) Viral(ctx context.Context, limit int) ([]model.Coin, error) {
	coins, err := s.discovery.FetchViral(ctx, limit)
	if err != nil {
		return nil, err
	}
	s.primer.PrimeCoins(coins)
	return coins, nil
}
