package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yourorg/cryptofolio/internal/ratelimit"
	"github.com/yourorg/cryptofolio/internal/telemetry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestMarketClient(t *testing.T, handler http.Handler) (*MarketClient, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	guard := ratelimit.NewGuard("market", telemetry.NopSink{}, zap.NewNop())
	c := NewMarketClient(MarketClientConfig{
		BaseURL: server.URL,
		Timeout: 5 * time.Second,
	}, guard, zap.NewNop())

	return c, server
}

func marketsPayload() string {
	return `[
		{"id":"bitcoin","symbol":"btc","name":"Bitcoin","image":"https://img/btc.png",
		 "current_price":50000,"price_change_24h":1200,"price_change_percentage_24h":2.4,
		 "market_cap":1000000000,"sparkline_in_7d":{"price":[49000,49500,50000]}},
		{"id":"ethereum","symbol":"eth","name":"Ethereum","image":"https://img/eth.png",
		 "current_price":3000,"price_change_24h":-60,"price_change_percentage_24h":-2.0,
		 "market_cap":400000000,"sparkline_in_7d":{"price":[3100,3050,3000]}}
	]`
}

func TestMarketClient_FetchTrending(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestMarketClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/coins/markets", r.URL.Path)
		require.Equal(t, "usd", r.URL.Query().Get("vs_currency"))
		require.Equal(t, "market_cap_desc", r.URL.Query().Get("order"))
		require.Equal(t, "true", r.URL.Query().Get("sparkline"))
		calls.Add(1)
		w.Write([]byte(marketsPayload()))
	}))

	coins, err := c.FetchTrending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, coins, 2)

	assert.Equal(t, "bitcoin", coins[0].ID)
	assert.Equal(t, "BTC", coins[0].Symbol)
	assert.Equal(t, 50000.0, coins[0].CurrentPrice)
	assert.Equal(t, []float64{49000, 49500, 50000}, coins[0].Sparkline7d)

	// Second call inside the TTL is served from cache.
	_, err = c.FetchTrending(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestMarketClient_FetchTrendingLimitTruncates(t *testing.T) {
	c, _ := newTestMarketClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(marketsPayload()))
	}))

	coins, err := c.FetchTrending(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, coins, 1)
	assert.Equal(t, "bitcoin", coins[0].ID)
}

func TestMarketClient_FetchPricesBatchesStaleIDs(t *testing.T) {
	var calls atomic.Int32
	var lastIDs atomic.Value
	c, _ := newTestMarketClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/simple/price", r.URL.Path)
		calls.Add(1)
		lastIDs.Store(r.URL.Query().Get("ids"))
		json.NewEncoder(w).Encode(map[string]map[string]float64{
			"bitcoin":  {"usd": 50000},
			"ethereum": {"usd": 3000},
		})
	}))

	prices, err := c.FetchPrices(context.Background(), []string{"bitcoin", "ethereum"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load(), "all stale ids must go in one call")
	assert.ElementsMatch(t, []string{"bitcoin", "ethereum"},
		strings.Split(lastIDs.Load().(string), ","))
	assert.Equal(t, 50000.0, prices["bitcoin"])
	assert.Equal(t, 3000.0, prices["ethereum"])

	// Both ids are now cached: no further outbound call.
	prices, err = c.FetchPrices(context.Background(), []string{"bitcoin", "ethereum"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 50000.0, prices["bitcoin"])
}

func TestMarketClient_FetchPricesOmitsUnknownIDs(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestMarketClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(map[string]map[string]float64{
			"bitcoin": {"usd": 50000},
		})
	}))

	prices, err := c.FetchPrices(context.Background(), []string{"bitcoin", "no-such-coin"})
	require.NoError(t, err)
	assert.Equal(t, 50000.0, prices["bitcoin"])
	_, present := prices["no-such-coin"]
	assert.False(t, present)

	// The unknown id was not negative-cached: it is requested again.
	_, err = c.FetchPrices(context.Background(), []string{"no-such-coin"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestMarketClient_FetchPricesChunksLargeBatches(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestMarketClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		ids := strings.Split(r.URL.Query().Get("ids"), ",")
		assert.LessOrEqual(t, len(ids), MaxPriceBatchSize)
		payload := make(map[string]map[string]float64, len(ids))
		for _, id := range ids {
			payload[id] = map[string]float64{"usd": 1}
		}
		json.NewEncoder(w).Encode(payload)
	}))

	ids := make([]string, 120)
	for i := range ids {
		ids[i] = fmt.Sprintf("coin-%d", i)
	}

	prices, err := c.FetchPrices(context.Background(), ids)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load(), "120 ids should batch into 3 calls of <= 50")
	assert.Len(t, prices, 120)
}

func TestMarketClient_OfflineServesStaleTrending(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(marketsPayload()))
	}))
	t.Cleanup(server.Close)

	guard := ratelimit.NewGuard("market", telemetry.NopSink{}, zap.NewNop())
	c := NewMarketClient(MarketClientConfig{
		BaseURL:          server.URL,
		Timeout:          time.Second,
		TrendingCacheTTL: time.Nanosecond, // everything is instantly stale
	}, guard, zap.NewNop())

	_, err := c.FetchTrending(context.Background(), 10)
	require.NoError(t, err)

	// Take the upstream away: the stale cache still answers.
	server.Close()

	coins, err := c.FetchTrending(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, coins, 2)
}

func TestMarketClient_SearchImage(t *testing.T) {
	c, _ := newTestMarketClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/search", r.URL.Path)
		require.Equal(t, "pepe", r.URL.Query().Get("query"))
		w.Write([]byte(`{"coins":[
			{"id":"pepecoin","symbol":"PEPECOIN","thumb":"t1","large":"l1"},
			{"id":"pepe","symbol":"PEPE","thumb":"t2","large":"l2"}
		]}`))
	}))

	url, err := c.SearchImage(context.Background(), "pepe")
	require.NoError(t, err)
	assert.Equal(t, "l2", url, "must match on symbol, not take the first row")
}
