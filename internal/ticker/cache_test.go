package ticker

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptoflow/go-crypto-etl/internal/models"
)

func priceTicker(symbol string, price int64) models.Ticker {
	return models.Ticker{Symbol: symbol, Price: decimal.NewFromInt(price)}
}

func TestCacheBound(t *testing.T) {
	const n = 5
	cache := NewCache(n)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i <= n; i++ {
		cache.Add("BTC/USDT", priceTicker("BTC/USDT", int64(100+i)), base.Add(time.Duration(i)*time.Minute))
	}

	assert.Equal(t, n, cache.Len("BTC/USDT"))

	// The oldest reading (price 100) must be the one evicted.
	entries := cache.RecentEntries("BTC/USDT", base)
	require.Len(t, entries, n)
	assert.Equal(t, "101", entries[0].Ticker.Price.String())
	assert.Equal(t, fmt.Sprintf("%d", 100+n), entries[n-1].Ticker.Price.String())
}

func TestCacheCurrentPrices(t *testing.T) {
	cache := NewCache(10)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("empty cache yields empty map", func(t *testing.T) {
		assert.Empty(t, cache.CurrentPrices())
	})

	t.Run("latest reading wins per symbol", func(t *testing.T) {
		cache.Add("BTC/USDT", priceTicker("BTC/USDT", 100), base)
		cache.Add("BTC/USDT", priceTicker("BTC/USDT", 105), base.Add(time.Minute))
		cache.Add("ETH/USDT", priceTicker("ETH/USDT", 3000), base)

		prices := cache.CurrentPrices()
		require.Len(t, prices, 2)
		assert.Equal(t, "105", prices["BTC/USDT"].Price.String())
		assert.Equal(t, "3000", prices["ETH/USDT"].Price.String())
	})
}

func TestCacheClearOlderThan(t *testing.T) {
	cache := NewCache(100)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 48; i++ {
		cache.Add("BTC/USDT", priceTicker("BTC/USDT", int64(i)), base.Add(time.Duration(i)*time.Hour))
	}

	cutoff := base.Add(47 * time.Hour).Add(-24 * time.Hour)
	cache.ClearOlderThan(cutoff)

	assert.Equal(t, 25, cache.Len("BTC/USDT"))
	entries := cache.RecentEntries("BTC/USDT", base)
	assert.False(t, entries[0].Timestamp.Before(cutoff))
}
