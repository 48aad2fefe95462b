// The revaluer runs one batch revaluation pass over every portfolio and
// exits. An external scheduler (cron, hourly) is expected to invoke it.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/yourorg/cryptofolio/internal/client"
	"github.com/yourorg/cryptofolio/internal/config"
	"github.com/yourorg/cryptofolio/internal/kvstore"
	"github.com/yourorg/cryptofolio/internal/ratelimit"
	"github.com/yourorg/cryptofolio/internal/repository"
	"github.com/yourorg/cryptofolio/internal/resolver"
	"github.com/yourorg/cryptofolio/internal/service"
	"github.com/yourorg/cryptofolio/internal/telemetry"

	"github.com/go-redis/redis/v8"
	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.LoadConfig("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.DBName,
		cfg.Database.SSLMode,
	)
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	var sink telemetry.Sink
	if cfg.Kafka.Enabled {
		kafkaSink := telemetry.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic, "cryptofolio-revaluer", logger)
		defer kafkaSink.Close()
		sink = kafkaSink
	} else {
		sink = telemetry.NewLogSink(logger)
	}

	marketClient := client.NewMarketClient(client.MarketClientConfig{
		BaseURL:          cfg.Market.BaseURL,
		Timeout:          cfg.Market.Timeout,
		TrendingCacheTTL: cfg.Market.TrendingCacheTTL,
		PriceCacheTTL:    cfg.Market.PriceCacheTTL,
	}, ratelimit.NewGuard("market", sink, logger), logger)

	discoveryClient := client.NewDiscoveryClient(client.DiscoveryClientConfig{
		BaseURL:          cfg.Discovery.BaseURL,
		Timeout:          cfg.Discovery.Timeout,
		TrendingCacheTTL: cfg.Discovery.TrendingCacheTTL,
		PriceCacheTTL:    cfg.Discovery.PriceCacheTTL,
		OHLCVCacheTTL:    cfg.Discovery.OHLCVCacheTTL,
	}, ratelimit.NewGuard("discovery", sink, logger),
		marketClient, kvstore.NewRedisStore(redisClient, "coin-images"), logger)

	priceResolver := resolver.New(marketClient, discoveryClient, logger)
	portfolioRepo := repository.NewPortfolioRepository(db, logger)
	leaderboardRepo := repository.NewLeaderboardRepository(redisClient, logger)

	revaluation := service.NewRevaluationService(portfolioRepo, leaderboardRepo, priceResolver, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	summary := revaluation.Run(ctx)
	if !summary.Success {
		logger.Error("Revaluation failed", zap.String("error", summary.Error))
		os.Exit(1)
	}
}
