package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the service.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	Market     SourceConfig
	Discovery  SourceConfig
	RateLimit  RateLimitConfig
	Logging    LoggingConfig
	ServiceKey string
}

// ServerConfig holds server specific configuration.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatabaseConfig holds database specific configuration.
type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds redis specific configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// KafkaConfig holds the telemetry broker configuration. When disabled,
// rate-limit events go to the structured log instead.
type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

// SourceConfig holds configuration for one external market-data source.
type SourceConfig struct {
	BaseURL          string
	Timeout          time.Duration
	TrendingCacheTTL time.Duration
	PriceCacheTTL    time.Duration
	OHLCVCacheTTL    time.Duration
}

// RateLimitConfig holds the public API rate limiting knobs.
type RateLimitConfig struct {
	RequestsPerMinute int
	BurstSize         int
}

// LoggingConfig holds logging specific configuration.
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads the configuration from file and environment variables.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for configuration.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.readTimeout", "10s")
	v.SetDefault("server.writeTimeout", "10s")
	v.SetDefault("server.idleTimeout", "120s")

	// Database defaults
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.maxOpenConns", 25)
	v.SetDefault("database.maxIdleConns", 5)
	v.SetDefault("database.connMaxLifetime", "30m")

	// Redis defaults
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.topic", "rate-limit-events")

	// Primary market source defaults
	v.SetDefault("market.baseURL", "https://api.coingecko.com/api/v3")
	v.SetDefault("market.timeout", "30s")
	v.SetDefault("market.trendingCacheTTL", "60s")
	v.SetDefault("market.priceCacheTTL", "5m")

	// Discovery source defaults: its feed churns much faster than the
	// primary source's top-250 ranking.
	v.SetDefault("discovery.baseURL", "https://api.geckoterminal.com/api/v2")
	v.SetDefault("discovery.timeout", "30s")
	v.SetDefault("discovery.trendingCacheTTL", "30s")
	v.SetDefault("discovery.priceCacheTTL", "5m")
	v.SetDefault("discovery.ohlcvCacheTTL", "5m")

	// Public API rate limiting defaults
	v.SetDefault("rateLimit.requestsPerMinute", 120)
	v.SetDefault("rateLimit.burstSize", 30)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("serviceKey", "cryptofolio-service-key")
}
