package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/yourorg/cryptofolio/internal/apperr"
	"github.com/yourorg/cryptofolio/internal/service"
	"github.com/yourorg/cryptofolio/internal/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// PortfolioHandler handles portfolio and trading HTTP requests.
type PortfolioHandler struct {
	portfolioService *service.PortfolioService
	logger           *zap.Logger
}

// NewPortfolioHandler creates a new portfolio handler.
func NewPortfolioHandler(portfolioService *service.PortfolioService, logger *zap.Logger) *PortfolioHandler {
	return &PortfolioHandler{
		portfolioService: portfolioService,
		logger:           logger,
	}
}

// CreatePortfolio handles creating a portfolio.
// POST /api/v1/portfolios
func (h *PortfolioHandler) CreatePortfolio(c *gin.Context) {
	var request struct {
		Owner           string  `json:"owner" binding:"required"`
		StartingBalance float64 `json:"starting_balance" binding:"required,gt=0"`
	}

	if err := c.ShouldBindJSON(&request); err != nil {
		utils.SendErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	portfolio, err := h.portfolioService.CreatePortfolio(c.Request.Context(), request.Owner, request.StartingBalance)
	if err != nil {
		h.respondError(c, err, "Failed to create portfolio")
		return
	}

	c.JSON(http.StatusCreated, portfolio)
}

// GetPortfolio handles retrieving a portfolio with its valuation.
// GET /api/v1/portfolios/:id
func (h *PortfolioHandler) GetPortfolio(c *gin.Context) {
	valuation, err := h.portfolioService.GetValuation(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err, "Failed to get portfolio")
		return
	}

	c.JSON(http.StatusOK, valuation)
}

// GetTransactions handles listing a portfolio's transactions, newest first.
// GET /api/v1/portfolios/:id/transactions
func (h *PortfolioHandler) GetTransactions(c *gin.Context) {
	limit := 0
	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 0 {
			utils.SendErrorResponse(c, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = parsed
	}

	txns, err := h.portfolioService.GetTransactions(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		h.respondError(c, err, "Failed to get transactions")
		return
	}

	c.JSON(http.StatusOK, gin.H{"transactions": txns, "count": len(txns)})
}

// Buy handles executing a buy order.
// POST /api/v1/portfolios/:id/buy
func (h *PortfolioHandler) Buy(c *gin.Context) {
	var request struct {
		CoinID string  `json:"coin_id" binding:"required,assetid"`
		Symbol string  `json:"symbol" binding:"required"`
		Chain  string  `json:"chain"`
		Amount float64 `json:"amount" binding:"required,gt=0"`
	}

	if err := c.ShouldBindJSON(&request); err != nil {
		utils.SendErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	txn, err := h.portfolioService.Buy(c.Request.Context(), c.Param("id"), service.BuyRequest{
		CoinID: request.CoinID,
		Symbol: request.Symbol,
		Chain:  request.Chain,
		Amount: request.Amount,
	})
	if err != nil {
		h.respondError(c, err, "Failed to execute buy")
		return
	}

	c.JSON(http.StatusCreated, txn)
}

// Sell handles executing a sell order.
// POST /api/v1/portfolios/:id/sell
func (h *PortfolioHandler) Sell(c *gin.Context) {
	var request struct {
		CoinID   string  `json:"coin_id" binding:"required,assetid"`
		Quantity float64 `json:"quantity" binding:"required,gt=0"`
	}

	if err := c.ShouldBindJSON(&request); err != nil {
		utils.SendErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	txn, err := h.portfolioService.Sell(c.Request.Context(), c.Param("id"), request.CoinID, request.Quantity)
	if err != nil {
		h.respondError(c, err, "Failed to execute sell")
		return
	}

	c.JSON(http.StatusCreated, txn)
}

// respondError maps engine error kinds onto HTTP statuses. Trade rejections
// surface their user-readable message; rate limits become a transient 429.
func (h *PortfolioHandler) respondError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, apperr.ErrInvalidRequest):
		utils.SendErrorResponse(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, apperr.ErrNotFound):
		utils.SendErrorResponse(c, http.StatusNotFound, err.Error())
	case errors.Is(err, apperr.ErrRateLimited):
		utils.SendErrorResponse(c, http.StatusTooManyRequests, "Upstream rate limit hit. Try again shortly.")
	default:
		h.logger.Error(fallback, zap.Error(err))
		utils.SendErrorResponse(c, http.StatusInternalServerError, fallback)
	}
}
