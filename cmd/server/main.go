package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/yourorg/cryptofolio/internal/client"
	"github.com/yourorg/cryptofolio/internal/config"
	"github.com/yourorg/cryptofolio/internal/handler"
	"github.com/yourorg/cryptofolio/internal/kvstore"
	"github.com/yourorg/cryptofolio/internal/middleware"
	"github.com/yourorg/cryptofolio/internal/ratelimit"
	"github.com/yourorg/cryptofolio/internal/repository"
	"github.com/yourorg/cryptofolio/internal/resolver"
	"github.com/yourorg/cryptofolio/internal/service"
	"github.com/yourorg/cryptofolio/internal/telemetry"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/go-redis/redis/v8"
	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Set up logger
	logger, err := createLogger(cfg.Logging.Level)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Connect to database
	db, err := connectToDB(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// Connect to redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	// Telemetry sink for rate-limit events
	var sink telemetry.Sink
	if cfg.Kafka.Enabled {
		kafkaSink := telemetry.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic, "cryptofolio-server", logger)
		defer kafkaSink.Close()
		sink = kafkaSink
	} else {
		sink = telemetry.NewLogSink(logger)
	}

	// Initialize source clients behind their rate-limit guards
	marketGuard := ratelimit.NewGuard("market", sink, logger)
	discoveryGuard := ratelimit.NewGuard("discovery", sink, logger)

	marketClient := client.NewMarketClient(client.MarketClientConfig{
		BaseURL:          cfg.Market.BaseURL,
		Timeout:          cfg.Market.Timeout,
		TrendingCacheTTL: cfg.Market.TrendingCacheTTL,
		PriceCacheTTL:    cfg.Market.PriceCacheTTL,
	}, marketGuard, logger)

	imageStore := kvstore.NewRedisStore(redisClient, "coin-images")
	discoveryClient := client.NewDiscoveryClient(client.DiscoveryClientConfig{
		BaseURL:          cfg.Discovery.BaseURL,
		Timeout:          cfg.Discovery.Timeout,
		TrendingCacheTTL: cfg.Discovery.TrendingCacheTTL,
		PriceCacheTTL:    cfg.Discovery.PriceCacheTTL,
		OHLCVCacheTTL:    cfg.Discovery.OHLCVCacheTTL,
	}, discoveryGuard, marketClient, imageStore, logger)

	// Initialize the price resolver
	priceResolver := resolver.New(marketClient, discoveryClient, logger)

	// Initialize repositories
	portfolioRepo := repository.NewPortfolioRepository(db, logger)
	leaderboardRepo := repository.NewLeaderboardRepository(redisClient, logger)

	// Initialize services
	portfolioService := service.NewPortfolioService(portfolioRepo, priceResolver, logger)
	marketService := service.NewMarketService(marketClient, discoveryClient, priceResolver, logger)
	revaluationService := service.NewRevaluationService(portfolioRepo, leaderboardRepo, priceResolver, logger)

	// Initialize handlers
	portfolioHandler := handler.NewPortfolioHandler(portfolioService, logger)
	marketHandler := handler.NewMarketHandler(marketService, revaluationService, leaderboardRepo, logger)

	// Set up HTTP server with Gin
	router := setupRouter(portfolioHandler, marketHandler, logger, cfg)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start the server in a goroutine
	go func() {
		logger.Info("Starting server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited properly")
}

func createLogger(level string) (*zap.Logger, error) {
	var zapLevel zap.AtomicLevel
	switch level {
	case "debug":
		zapLevel = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapLevel = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapLevel = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		zapLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	config := zap.Config{
		Level:            zapLevel,
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	return config.Build()
}

func connectToDB(dbConfig config.DatabaseConfig) (*sqlx.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		dbConfig.Host,
		dbConfig.Port,
		dbConfig.User,
		dbConfig.Password,
		dbConfig.DBName,
		dbConfig.SSLMode,
	)

	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(dbConfig.MaxOpenConns)
	db.SetMaxIdleConns(dbConfig.MaxIdleConns)
	db.SetConnMaxLifetime(dbConfig.ConnMaxLifetime)

	return db, nil
}

// registerValidators adds the custom binding rules the trade handlers use.
// Asset ids are joined into comma-separated batch queries, so a comma or
// whitespace inside one would corrupt the request.
func registerValidators() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterValidation("assetid", func(fl validator.FieldLevel) bool {
			id := fl.Field().String()
			return id != "" && !strings.ContainsAny(id, ", \t\n")
		})
	}
}

func setupRouter(
	portfolioHandler *handler.PortfolioHandler,
	marketHandler *handler.MarketHandler,
	logger *zap.Logger,
	cfg *config.Config,
) *gin.Engine {
	registerValidators()

	router := gin.New()

	// Use middlewares
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	// API routes
	v1 := router.Group("/api/v1")
	v1.Use(middleware.RateLimit(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.BurstSize))
	{
		market := v1.Group("/market")
		{
			market.GET("/trending", marketHandler.GetTrending)
			market.GET("/viral", marketHandler.GetViral)
		}

		portfolios := v1.Group("/portfolios")
		{
			portfolios.POST("", portfolioHandler.CreatePortfolio)
			portfolios.GET("/:id", portfolioHandler.GetPortfolio)
			portfolios.GET("/:id/transactions", portfolioHandler.GetTransactions)
			portfolios.POST("/:id/buy", portfolioHandler.Buy)
			portfolios.POST("/:id/sell", portfolioHandler.Sell)
		}

		v1.GET("/leaderboard", marketHandler.GetLeaderboard)

		// Service-to-service routes (requires service key)
		svc := v1.Group("/service")
		svc.Use(middleware.ServiceAuthMiddleware(cfg.ServiceKey, logger))
		{
			svc.POST("/revalue", marketHandler.TriggerRevaluation)
		}
	}

	return router
}
