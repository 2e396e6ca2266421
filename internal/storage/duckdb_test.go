package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptoflow/go-crypto-etl/internal/models"
)

func newTestDuckDB(t *testing.T) *DuckDBStore {
	t.Helper()
	store, err := NewDuckDBStore(context.Background(), ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestDuckDBCandleRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestDuckDB(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	inserted, err := store.InsertCandles(ctx, testCandles(base, 5))
	require.NoError(t, err)
	assert.Equal(t, 5, inserted)

	latest, err := store.LatestCandle(ctx, "BTC/USDT", "1h", "binance")
	require.NoError(t, err)
	assert.Equal(t, "BTC/USDT", latest.Symbol)
	assert.True(t, latest.Timestamp.Equal(base.Add(4*time.Hour)))
	assert.InDelta(t, 98.0, latest.Close.InexactFloat64(), 1e-9)

	candles, err := store.CandlesInRange(ctx, "BTC/USDT", "1h", base, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Len(t, candles, 2)
}

func TestDuckDBDuplicateCandle(t *testing.T) {
	ctx := context.Background()
	store := newTestDuckDB(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := store.InsertCandles(ctx, testCandles(base, 3))
	require.NoError(t, err)

	// Same (symbol, timeframe, timestamp, exchange), fresh ids.
	inserted, err := store.InsertCandles(ctx, testCandles(base, 3))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateKey)
	assert.Zero(t, inserted)

	// The conflicting transaction must have rolled back cleanly.
	candles, err := store.CandlesInRange(ctx, "BTC/USDT", "1h", base, base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, candles, 3)
}

func TestDuckDBTickerSnapshots(t *testing.T) {
	ctx := context.Background()
	store := newTestDuckDB(t)
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	volume := decimal.NewFromFloat(12345.6)
	snaps := []models.TickerSnapshot{
		{
			ID: uuid.NewString(), SnapshotTime: base, Symbol: "BTC/USDT",
			Exchange: "binance", Price: decimal.NewFromInt(50000),
			Volume24h: &volume, CreatedAt: base,
		},
		{
			ID: uuid.NewString(), SnapshotTime: base.Add(time.Minute), Symbol: "BTC/USDT",
			Exchange: "binance", Price: decimal.NewFromInt(50100), CreatedAt: base,
		},
	}
	require.NoError(t, store.InsertTickerSnapshots(ctx, snaps))

	recent, err := store.RecentTickerSnapshots(ctx, "BTC/USDT", 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.InDelta(t, 50100.0, recent[0].Price.InexactFloat64(), 1e-9)
	assert.Nil(t, recent[0].Volume24h)
	require.NotNil(t, recent[1].Volume24h)
	assert.InDelta(t, 12345.6, recent[1].Volume24h.InexactFloat64(), 1e-9)
}

func TestDuckDBMarketSnapshot(t *testing.T) {
	ctx := context.Background()
	store := newTestDuckDB(t)
	now := time.Now().UTC().Truncate(time.Second)

	id := uuid.NewString()
	bundle := &MarketSnapshotBundle{
		Snapshot: models.GlobalMarketSnapshot{
			ID: id, Timestamp: now, ActiveCryptocurrencies: 12000, Markets: 900,
			MarketCapChange24h: decimal.NewFromFloat(1.5), CreatedAt: now,
		},
		MarketCaps: []models.MarketCapEntry{{SnapshotID: id, Currency: "usd", Value: decimal.NewFromInt(2_500_000)}},
		Volumes:    []models.MarketVolumeEntry{{SnapshotID: id, Currency: "usd", Value: decimal.NewFromInt(90_000)}},
		Dominance:  []models.DominanceEntry{{SnapshotID: id, Asset: "btc", Percentage: decimal.NewFromFloat(52.1)}},
		TopCryptos: []models.TopCrypto{{
			SnapshotID: id, Rank: 1, CryptoID: "bitcoin", Symbol: "btc", Name: "Bitcoin",
			MarketCap: decimal.NewFromInt(1_300_000), Price: decimal.NewFromInt(50000),
			Volume24h: decimal.NewFromInt(40_000), PriceChangePct24h: decimal.NewFromFloat(2.4),
		}},
	}
	require.NoError(t, store.InsertMarketSnapshot(ctx, bundle))

	latest, err := store.LatestMarketSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, latest.ID)
	assert.Equal(t, 12000, latest.ActiveCryptocurrencies)
}
