package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/yourorg/cryptofolio/internal/apperr"
	"github.com/yourorg/cryptofolio/internal/model"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// PortfolioRepository handles database operations for portfolios, holdings
// and transactions.
type PortfolioRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewPortfolioRepository creates a new portfolio repository.
func NewPortfolioRepository(db *sqlx.DB, logger *zap.Logger) *PortfolioRepository {
	return &PortfolioRepository{
		db:     db,
		logger: logger,
	}
}

// CreatePortfolio inserts a new portfolio.
func (r *PortfolioRepository) CreatePortfolio(ctx context.Context, p *model.Portfolio) error {
	query := `
		INSERT INTO portfolios (id, owner, cash_balance, starting_balance, net_worth, gain_percentage, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		p.ID, p.Owner, p.CashBalance, p.StartingBalance, p.NetWorth, p.GainPercentage, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to create portfolio", zap.Error(err), zap.String("owner", p.Owner))
		return err
	}

	return nil
}

// GetPortfolio retrieves a portfolio by id.
func (r *PortfolioRepository) GetPortfolio(ctx context.Context, id string) (*model.Portfolio, error) {
	query := `
		SELECT id, owner, cash_balance, starting_balance, net_worth, gain_percentage, created_at, updated_at
		FROM portfolios
		WHERE id = $1
	`

	var p model.Portfolio
	err := r.db.GetContext(ctx, &p, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("portfolio %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		r.logger.Error("Failed to get portfolio", zap.Error(err), zap.String("id", id))
		return nil, err
	}

	return &p, nil
}

// ListPortfolios retrieves every portfolio. Used by the batch revaluation job.
func (r *PortfolioRepository) ListPortfolios(ctx context.Context) ([]model.Portfolio, error) {
	query := `
		SELECT id, owner, cash_balance, starting_balance, net_worth, gain_percentage, created_at, updated_at
		FROM portfolios
		ORDER BY created_at
	`

	var portfolios []model.Portfolio
	if err := r.db.SelectContext(ctx, &portfolios, query); err != nil {
		r.logger.Error("Failed to list portfolios", zap.Error(err))
		return nil, err
	}

	return portfolios, nil
}

// GetHoldings retrieves all holdings of a portfolio.
func (r *PortfolioRepository) GetHoldings(ctx context.Context, portfolioID string) ([]model.Holding, error) {
	query := `
		SELECT id, portfolio_id, coin_id, symbol, chain, quantity, avg_buy_price, first_purchase_at
		FROM holdings
		WHERE portfolio_id = $1
		ORDER BY first_purchase_at
	`

	var holdings []model.Holding
	if err := r.db.SelectContext(ctx, &holdings, query, portfolioID); err != nil {
		r.logger.Error("Failed to get holdings", zap.Error(err), zap.String("portfolio_id", portfolioID))
		return nil, err
	}

	return holdings, nil
}

// GetHolding retrieves a single holding by portfolio and coin id.
func (r *PortfolioRepository) GetHolding(ctx context.Context, portfolioID, coinID string) (*model.Holding, error) {
	query := `
		SELECT id, portfolio_id, coin_id, symbol, chain, quantity, avg_buy_price, first_purchase_at
		FROM holdings
		WHERE portfolio_id = $1 AND coin_id = $2
	`

	var h model.Holding
	err := r.db.GetContext(ctx, &h, query, portfolioID, coinID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("holding %s/%s: %w", portfolioID, coinID, apperr.ErrNotFound)
	}
	if err != nil {
		r.logger.Error("Failed to get holding",
			zap.Error(err),
			zap.String("portfolio_id", portfolioID),
			zap.String("coin_id", coinID))
		return nil, err
	}

	return &h, nil
}

// GetAllHoldings retrieves every holding in the system. Used by the batch
// revaluation job to collect the unique asset universe up front.
func (r *PortfolioRepository) GetAllHoldings(ctx context.Context) ([]model.Holding, error) {
	query := `
		SELECT id, portfolio_id, coin_id, symbol, chain, quantity, avg_buy_price, first_purchase_at
		FROM holdings
	`

	var holdings []model.Holding
	if err := r.db.SelectContext(ctx, &holdings, query); err != nil {
		r.logger.Error("Failed to get all holdings", zap.Error(err))
		return nil, err
	}

	return holdings, nil
}

// GetTransactions retrieves a portfolio's transactions, newest first.
func (r *PortfolioRepository) GetTransactions(ctx context.Context, portfolioID string, limit int) ([]model.Transaction, error) {
	query := `
		SELECT id, portfolio_id, type, coin_id, symbol, quantity, price, total_value, created_at
		FROM transactions
		WHERE portfolio_id = $1
		ORDER BY created_at DESC
	`

	args := []interface{}{portfolioID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	var txns []model.Transaction
	if err := r.db.SelectContext(ctx, &txns, query, args...); err != nil {
		r.logger.Error("Failed to get transactions", zap.Error(err), zap.String("portfolio_id", portfolioID))
		return nil, err
	}

	return txns, nil
}

// TradeUpdate is the atomic state change of one executed buy or sell: the
// portfolio's new cash balance, the transaction record, and either a holding
// upsert or a holding removal (dust disposal).
type TradeUpdate struct {
	PortfolioID     string
	CashBalance     float64
	Holding         *model.Holding
	RemoveHoldingID string
	Transaction     *model.Transaction
}

// ApplyTrade persists a trade in a single database transaction.
func (r *PortfolioRepository) ApplyTrade(ctx context.Context, update TradeUpdate) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		r.logger.Error("Failed to begin transaction", zap.Error(err))
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE portfolios
		SET cash_balance = $1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2
	`, update.CashBalance, update.PortfolioID)
	if err != nil {
		r.logger.Error("Failed to update cash balance", zap.Error(err))
		return err
	}

	if update.Holding != nil {
		h := update.Holding
		_, err = tx.ExecContext(ctx, `
			INSERT INTO holdings (id, portfolio_id, coin_id, symbol, chain, quantity, avg_buy_price, first_purchase_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (portfolio_id, coin_id)
			DO UPDATE SET
				quantity = EXCLUDED.quantity,
				avg_buy_price = EXCLUDED.avg_buy_price
		`, h.ID, h.PortfolioID, h.CoinID, h.Symbol, h.Chain, h.Quantity, h.AvgBuyPrice, h.FirstPurchaseAt)
		if err != nil {
			r.logger.Error("Failed to upsert holding", zap.Error(err))
			return err
		}
	}

	if update.RemoveHoldingID != "" {
		_, err = tx.ExecContext(ctx, `DELETE FROM holdings WHERE id = $1`, update.RemoveHoldingID)
		if err != nil {
			r.logger.Error("Failed to delete holding", zap.Error(err))
			return err
		}
	}

	if update.Transaction != nil {
		t := update.Transaction
		_, err = tx.ExecContext(ctx, `
			INSERT INTO transactions (id, portfolio_id, type, coin_id, symbol, quantity, price, total_value, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, t.ID, t.PortfolioID, t.Type, t.CoinID, t.Symbol, t.Quantity, t.Price, t.TotalValue, t.CreatedAt)
		if err != nil {
			r.logger.Error("Failed to insert transaction", zap.Error(err))
			return err
		}
	}

	return tx.Commit()
}

// UpdateValuation persists a portfolio's computed net worth and gain.
func (r *PortfolioRepository) UpdateValuation(ctx context.Context, portfolioID string, netWorth, gainPercentage float64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE portfolios
		SET net_worth = $1, gain_percentage = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = $3
	`, netWorth, gainPercentage, portfolioID)
	if err != nil {
		r.logger.Error("Failed to update valuation",
			zap.Error(err),
			zap.String("portfolio_id", portfolioID))
		return err
	}

	return nil
}
