package repository

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const leaderboardKey = "leaderboard:networth"

// LeaderboardEntry is one ranked row of the leaderboard.
type LeaderboardEntry struct {
	Rank        int     `json:"rank"`
	PortfolioID string  `json:"portfolio_id"`
	Owner       string  `json:"owner"`
	NetWorth    float64 `json:"net_worth"`
}

// LeaderboardRepository ranks portfolios by net worth in a redis sorted set.
// The batch revaluation job writes scores; the leaderboard endpoint reads the
// top of the set.
type LeaderboardRepository struct {
	client *redis.Client
	logger *zap.Logger
}

// NewLeaderboardRepository creates a redis-backed leaderboard.
func NewLeaderboardRepository(client *redis.Client, logger *zap.Logger) *LeaderboardRepository {
	return &LeaderboardRepository{
		client: client,
		logger: logger,
	}
}

// UpdateScore records a portfolio's net worth. The member encodes the
// portfolio id and owner so reads need no extra lookups.
func (r *LeaderboardRepository) UpdateScore(ctx context.Context, portfolioID, owner string, netWorth float64) error {
	member := fmt.Sprintf("%s|%s", portfolioID, owner)
	if err := r.client.ZAdd(ctx, leaderboardKey, &redis.Z{
		Score:  netWorth,
		Member: member,
	}).Err(); err != nil {
		r.logger.Error("Failed to update leaderboard",
			zap.Error(err),
			zap.String("portfolio_id", portfolioID))
		return err
	}
	return nil
}

// Top returns the highest-ranked portfolios, best first.
func (r *LeaderboardRepository) Top(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := r.client.ZRevRangeWithScores(ctx, leaderboardKey, 0, int64(limit-1)).Result()
	if err != nil {
		r.logger.Error("Failed to read leaderboard", zap.Error(err))
		return nil, err
	}

	entries := make([]LeaderboardEntry, 0, len(rows))
	for i, row := range rows {
		member, _ := row.Member.(string)
		portfolioID, owner := splitMember(member)
		entries = append(entries, LeaderboardEntry{
			Rank:        i + 1,
			PortfolioID: portfolioID,
			Owner:       owner,
			NetWorth:    row.Score,
		})
	}

	return entries, nil
}

func splitMember(member string) (portfolioID, owner string) {
	for i := 0; i < len(member); i++ {
		if member[i] == '|' {
			return member[:i], member[i+1:]
		}
	}
	return member, ""
}
