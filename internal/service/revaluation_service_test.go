package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/yourorg/cryptofolio/internal/model"
	"github.com/yourorg/cryptofolio/internal/resolver"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeLeaderboard struct {
	scores map[string]float64
	err    error
}

func (l *fakeLeaderboard) UpdateScore(_ context.Context, portfolioID, _ string, netWorth float64) error {
	if l.err != nil {
		return l.err
	}
	if l.scores == nil {
		l.scores = make(map[string]float64)
	}
	l.scores[portfolioID] = netWorth
	return nil
}

// countingResolver records the holdings handed to each ResolveAll call.
type countingResolver struct {
	stubResolver
	batches [][]model.Holding
}

func (r *countingResolver) ResolveAll(ctx context.Context, holdings []model.Holding) map[string]resolver.Resolution {
	r.batches = append(r.batches, holdings)
	return r.stubResolver.ResolveAll(ctx, holdings)
}

// failingValuationStore fails UpdateValuation for one portfolio.
type failingValuationStore struct {
	*memoryStore
	failID string
}

func (s *failingValuationStore) UpdateValuation(ctx context.Context, portfolioID string, netWorth, gainPercentage float64) error {
	if portfolioID == s.failID {
		return errors.New("connection reset")
	}
	return s.memoryStore.UpdateValuation(ctx, portfolioID, netWorth, gainPercentage)
}

func seedPortfolio(t *testing.T, store *memoryStore, id, owner string, cash float64, holdings ...model.Holding) {
	t.Helper()
	now := time.Now().UTC()
	store.portfolios[id] = model.Portfolio{
		ID:              id,
		Owner:           owner,
		CashBalance:     cash,
		StartingBalance: 1000,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for i := range holdings {
		h := holdings[i]
		h.PortfolioID = id
		if h.ID == "" {
			h.ID = id + "-" + h.CoinID
		}
		store.holdings[h.ID] = h
	}
}

func TestRevaluation_ResolvesUniqueCoinsOnce(t *testing.T) {
	store := newMemoryStore()
	seedPortfolio(t, store, "p1", "alice", 500,
		model.Holding{CoinID: "bitcoin", Symbol: "BTC", Quantity: 2, AvgBuyPrice: 40000},
		model.Holding{CoinID: "ethereum", Symbol: "ETH", Quantity: 10, AvgBuyPrice: 2000})
	seedPortfolio(t, store, "p2", "bob", 200,
		model.Holding{CoinID: "bitcoin", Symbol: "BTC", Quantity: 1, AvgBuyPrice: 50000})

	res := &countingResolver{stubResolver: stubResolver{
		prices:      map[string]float64{"bitcoin": 60000, "ethereum": 3000},
		unavailable: make(map[string]bool),
	}}
	board := &fakeLeaderboard{}

	svc := NewRevaluationService(store, board, res, zap.NewNop())
	summary := svc.Run(context.Background())

	assert.True(t, summary.Success)
	assert.Equal(t, 2, summary.PortfoliosUpdated)
	assert.Equal(t, 2, summary.PortfoliosTotal)
	assert.Equal(t, 2, summary.UniqueCoins)
	assert.Equal(t, 2, summary.PricesFetched)

	// Three holdings across two portfolios, but only two unique coins reach
	// the resolver, in a single batch.
	require.Len(t, res.batches, 1)
	assert.Len(t, res.batches[0], 2)

	p1, err := store.GetPortfolio(context.Background(), "p1")
	require.NoError(t, err)
	assert.InDelta(t, 500+2*60000+10*3000, p1.NetWorth, 1e-9)

	p2, err := store.GetPortfolio(context.Background(), "p2")
	require.NoError(t, err)
	assert.InDelta(t, 200+60000, p2.NetWorth, 1e-9)

	assert.InDelta(t, p1.NetWorth, board.scores["p1"], 1e-9)
	assert.InDelta(t, p2.NetWorth, board.scores["p2"], 1e-9)
}

func TestRevaluation_CostBasisFallbackPerPortfolio(t *testing.T) {
	store := newMemoryStore()
	// Same coin, different cost bases: with no live price each portfolio
	// must fall back to its OWN average, not a shared one.
	seedPortfolio(t, store, "p1", "alice", 0,
		model.Holding{CoinID: "obscure", Symbol: "OBS", Quantity: 100, AvgBuyPrice: 2})
	seedPortfolio(t, store, "p2", "bob", 0,
		model.Holding{CoinID: "obscure", Symbol: "OBS", Quantity: 100, AvgBuyPrice: 5})

	res := &countingResolver{stubResolver: stubResolver{
		prices:      map[string]float64{},
		unavailable: make(map[string]bool),
	}}

	svc := NewRevaluationService(store, &fakeLeaderboard{}, res, zap.NewNop())
	summary := svc.Run(context.Background())

	assert.True(t, summary.Success)
	assert.Equal(t, 0, summary.PricesFetched, "cost-basis resolutions are not live prices")

	p1, err := store.GetPortfolio(context.Background(), "p1")
	require.NoError(t, err)
	assert.InDelta(t, 200, p1.NetWorth, 1e-9)

	p2, err := store.GetPortfolio(context.Background(), "p2")
	require.NoError(t, err)
	assert.InDelta(t, 500, p2.NetWorth, 1e-9)
}

func TestRevaluation_OneFailureDoesNotAbortThePass(t *testing.T) {
	store := newMemoryStore()
	seedPortfolio(t, store, "p1", "alice", 100,
		model.Holding{CoinID: "bitcoin", Symbol: "BTC", Quantity: 1, AvgBuyPrice: 40000})
	seedPortfolio(t, store, "p2", "bob", 100,
		model.Holding{CoinID: "bitcoin", Symbol: "BTC", Quantity: 1, AvgBuyPrice: 40000})

	res := &countingResolver{stubResolver: stubResolver{
		prices:      map[string]float64{"bitcoin": 60000},
		unavailable: make(map[string]bool),
	}}
	board := &fakeLeaderboard{}

	failing := &failingValuationStore{memoryStore: store, failID: "p1"}
	svc := NewRevaluationService(failing, board, res, zap.NewNop())
	summary := svc.Run(context.Background())

	assert.True(t, summary.Success, "a per-portfolio failure is not a pass failure")
	assert.Equal(t, 1, summary.PortfoliosUpdated)
	assert.Equal(t, 2, summary.PortfoliosTotal)

	_, skipped := board.scores["p1"]
	assert.False(t, skipped, "failed portfolio must not reach the leaderboard")
	assert.Contains(t, board.scores, "p2")
}

func TestRevaluation_ListFailureReportsError(t *testing.T) {
	store := newMemoryStore()
	res := &countingResolver{stubResolver: stubResolver{
		prices:      map[string]float64{},
		unavailable: make(map[string]bool),
	}}

	svc := NewRevaluationService(&brokenListStore{store}, &fakeLeaderboard{}, res, zap.NewNop())
	summary := svc.Run(context.Background())

	assert.False(t, summary.Success)
	assert.NotEmpty(t, summary.Error)
	assert.Empty(t, res.batches, "no resolution attempted when listing fails")
}

type brokenListStore struct {
	*memoryStore
}

func (s *brokenListStore) ListPortfolios(context.Context) ([]model.Portfolio, error) {
	return nil, errors.New("database unavailable")
}

func TestRevaluation_EmptyUniverse(t *testing.T) {
	store := newMemoryStore()
	seedPortfolio(t, store, "p1", "alice", 750)

	res := &countingResolver{stubResolver: stubResolver{
		prices:      map[string]float64{},
		unavailable: make(map[string]bool),
	}}

	svc := NewRevaluationService(store, &fakeLeaderboard{}, res, zap.NewNop())
	summary := svc.Run(context.Background())

	assert.True(t, summary.Success)
	assert.Equal(t, 0, summary.UniqueCoins)
	assert.Equal(t, 1, summary.PortfoliosUpdated)

	p1, err := store.GetPortfolio(context.Background(), "p1")
	require.NoError(t, err)
	assert.InDelta(t, 750, p1.NetWorth, 1e-9, "cash-only portfolio is worth its cash")
}
