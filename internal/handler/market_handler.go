package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/yourorg/cryptofolio/internal/apperr"
	"github.com/yourorg/cryptofolio/internal/repository"
	"github.com/yourorg/cryptofolio/internal/service"
	"github.com/yourorg/cryptofolio/internal/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// MarketHandler handles market listing and leaderboard HTTP requests.
type MarketHandler struct {
	marketService      *service.MarketService
	revaluationService *service.RevaluationService
	leaderboard        *repository.LeaderboardRepository
	logger             *zap.Logger
}

// NewMarketHandler creates a new market handler.
func NewMarketHandler(
	marketService *service.MarketService,
	revaluationService *service.RevaluationService,
	leaderboard *repository.LeaderboardRepository,
	logger *zap.Logger,
) *MarketHandler {
	return &MarketHandler{
		marketService:      marketService,
		revaluationService: revaluationService,
		leaderboard:        leaderboard,
		logger:             logger,
	}
}

func parseLimit(c *gin.Context, fallback int) int {
	limitStr := c.Query("limit")
	if limitStr == "" {
		return fallback
	}
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 {
		return fallback
	}
	return limit
}

// GetTrending handles listing the top coins by market cap.
// GET /api/v1/market/trending
func (h *MarketHandler) GetTrending(c *gin.Context) {
	coins, err := h.marketService.Trending(c.Request.Context(), parseLimit(c, 100))
	if err != nil {
		h.respondError(c, err, "Failed to get trending coins")
		return
	}

	c.JSON(http.StatusOK, gin.H{"coins": coins, "count": len(coins)})
}

// GetViral handles listing viral coins from the discovery source.
// GET /api/v1/market/viral
func (h *MarketHandler) GetViral(c *gin.Context) {
	coins, err := h.marketService.Viral(c.Request.Context(), parseLimit(c, 20))
	if err != nil {
		h.respondError(c, err, "Failed to get viral coins")
		return
	}

	c.JSON(http.StatusOK, gin.H{"coins": coins, "count": len(coins)})
}

// GetLeaderboard handles listing the top portfolios by net worth.
// GET /api/v1/leaderboard
func (h *MarketHandler) GetLeaderboard(c *gin.Context) {
	entries, err := h.leaderboard.Top(c.Request.Context(), parseLimit(c, 10))
	if err != nil {
		h.logger.Error("Failed to read leaderboard", zap.Error(err))
		utils.SendErrorResponse(c, http.StatusInternalServerError, "Failed to read leaderboard")
		return
	}

	c.JSON(http.StatusOK, gin.H{"leaderboard": entries})
}

// TriggerRevaluation handles running one batch revaluation pass. Protected by
// the service-key middleware; the scheduler invokes this or the revaluer
// binary directly.
// POST /api/v1/service/revalue
func (h *MarketHandler) TriggerRevaluation(c *gin.Context) {
	summary := h.revaluationService.Run(c.Request.Context())

	status := http.StatusOK
	if !summary.Success {
		status = http.StatusInternalServerError
	}
	c.JSON(status, summary)
}

func (h *MarketHandler) respondError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, apperr.ErrRateLimited):
		utils.SendErrorResponse(c, http.StatusTooManyRequests, "Upstream rate limit hit. Try again shortly.")
	case errors.Is(err, apperr.ErrNetworkUnavailable):
		utils.SendErrorResponse(c, http.StatusServiceUnavailable, "Market data temporarily unavailable")
	default:
		h.logger.Error(fallback, zap.Error(err))
		utils.SendErrorResponse(c, http.StatusInternalServerError, fallback)
	}
}
