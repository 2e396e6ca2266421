package market

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptoflow/go-crypto-etl/internal/exchange"
	"github.com/cryptoflow/go-crypto-etl/internal/storage"
)

type stubMarketSource struct {
	global     *exchange.GlobalStats
	globalErr  error
	entries    []exchange.MarketEntry
	entriesErr error
	topLimit   int
}

func (s *stubMarketSource) FetchGlobal(ctx context.Context) (*exchange.GlobalStats, error) {
	if s.globalErr != nil {
		return nil, s.globalErr
	}
	return s.global, nil
}

func (s *stubMarketSource) FetchTopCryptos(ctx context.Context, limit int) ([]exchange.MarketEntry, error) {
	s.topLimit = limit
	if s.entriesErr != nil {
		return nil, s.entriesErr
	}
	return s.entries, nil
}

func (s *stubMarketSource) Name() string { return "coingecko" }

func testGlobal() *exchange.GlobalStats {
	return &exchange.GlobalStats{
		ActiveCryptocurrencies: 12000,
		Markets:                900,
		MarketCapChangePct24h:  decimal.NewFromFloat(1.5),
		TotalMarketCap: map[string]decimal.Decimal{
			"usd": decimal.NewFromInt(2500000000000),
			"eur": decimal.NewFromInt(2300000000000),
		},
		TotalVolume: map[string]decimal.Decimal{
			"usd": decimal.NewFromInt(90000000000),
		},
		MarketCapPercentage: map[string]decimal.Decimal{
			"btc": decimal.NewFromFloat(52.1),
			"eth": decimal.NewFromFloat(17.3),
		},
	}
}

func testEntries() []exchange.MarketEntry {
	return []exchange.MarketEntry{
		{ID: "bitcoin", Symbol: "btc", Name: "Bitcoin", MarketCap: decimal.NewFromInt(1300000000000), CurrentPrice: decimal.NewFromInt(65000)},
		{ID: "ethereum", Symbol: "eth", Name: "Ethereum", MarketCap: decimal.NewFromInt(420000000000), CurrentPrice: decimal.NewFromInt(3500)},
	}
}

func TestCollectStoresFullBundle(t *testing.T) {
	source := &stubMarketSource{global: testGlobal(), entries: testEntries()}
	store := storage.NewMemoryStore()

	c := NewCollector(source, store, Config{TopN: 2}, nil)
	result, err := c.Collect(context.Background())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 2, source.topLimit)
	// 2 caps + 1 volume + 2 dominance + 2 top rows.
	assert.Equal(t, 7, result.TransformedRows)
	assert.Equal(t, 8, result.LoadedRows, "loaded rows include the snapshot itself")

	bundle := store.LatestMarketBundle()
	require.NotNil(t, bundle)

	assert.NotEmpty(t, bundle.Snapshot.ID)
	assert.Equal(t, 12000, bundle.Snapshot.ActiveCryptocurrencies)
	assert.Equal(t, "1.5", bundle.Snapshot.MarketCapChange24h.String())

	require.Len(t, bundle.MarketCaps, 2)
	assert.Equal(t, "eur", bundle.MarketCaps[0].Currency, "breakdowns are sorted by key")
	assert.Equal(t, "usd", bundle.MarketCaps[1].Currency)
	assert.Equal(t, bundle.Snapshot.ID, bundle.MarketCaps[0].SnapshotID)

	require.Len(t, bundle.Dominance, 2)
	assert.Equal(t, "btc", bundle.Dominance[0].Asset)
	assert.Equal(t, "52.1", bundle.Dominance[0].Percentage.String())

	require.Len(t, bundle.TopCryptos, 2)
	assert.Equal(t, 1, bundle.TopCryptos[0].Rank)
	assert.Equal(t, "bitcoin", bundle.TopCryptos[0].CryptoID)
	assert.Equal(t, 2, bundle.TopCryptos[1].Rank)
	assert.Equal(t, "ethereum", bundle.TopCryptos[1].CryptoID)
}

func TestCollectGlobalFailure(t *testing.T) {
	source := &stubMarketSource{globalErr: errors.New("rate limited")}
	store := storage.NewMemoryStore()

	c := NewCollector(source, store, Config{}, nil)
	result, err := c.Collect(context.Background())
	require.Error(t, err)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "rate limited")

	_, err = store.LatestMarketSnapshot(context.Background())
	assert.ErrorIs(t, err, storage.ErrNotFound, "nothing may be written on extraction failure")
}

func TestCollectLeaderboardFailureDegrades(t *testing.T) {
	source := &stubMarketSource{global: testGlobal(), entriesErr: errors.New("timeout")}
	store := storage.NewMemoryStore()

	c := NewCollector(source, store, Config{TopN: 5}, nil)
	result, err := c.Collect(context.Background())
	require.NoError(t, err)

	assert.True(t, result.Success)

	bundle := store.LatestMarketBundle()
	require.NotNil(t, bundle)
	assert.Empty(t, bundle.TopCryptos)
	assert.NotEmpty(t, bundle.MarketCaps, "global breakdowns still stored without the leaderboard")
}

func TestCollectDefaultTopN(t *testing.T) {
	source := &stubMarketSource{global: testGlobal()}
	store := storage.NewMemoryStore()

	c := NewCollector(source, store, Config{}, nil)
	_, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, source.topLimit)
}
