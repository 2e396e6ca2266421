// Package market implements the aggregate market-data ETL: fetch
// global statistics and the top-N leaderboard from a provider,
// transform them into the snapshot row family, and load everything in
// one transaction. Structurally the same Extract-Transform-Load shape
// as the candle pipeline, with a much simpler transform.
package market

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/cryptoflow/go-crypto-etl/internal/exchange"
	"github.com/cryptoflow/go-crypto-etl/internal/models"
	"github.com/cryptoflow/go-crypto-etl/internal/storage"
)

// Config carries the market collector parameters.
type Config struct {
	TopN int `json:"top_n"`
}

// Result records one market collection run.
type Result struct {
	Success         bool          `json:"success"`
	ExtractionTime  time.Duration `json:"extraction_time"`
	TransformTime   time.Duration `json:"transformation_time"`
	LoadingTime     time.Duration `json:"loading_time"`
	TransformedRows int           `json:"transformed_rows"`
	LoadedRows      int           `json:"loaded_rows"`
	Error           string        `json:"error,omitempty"`
}

// Collector runs the aggregate market snapshot ETL against a market
// data provider.
type Collector struct {
	provider exchange.MarketDataSource
	store    storage.MarketStore
	topN     int
	logger   *slog.Logger
}

// NewCollector creates a market collector. TopN defaults to 10; a nil
// logger falls back to slog.Default().
func NewCollector(provider exchange.MarketDataSource, store storage.MarketStore, cfg Config, logger *slog.Logger) *Collector {
	if cfg.TopN <= 0 {
		cfg.TopN = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		provider: provider,
		store:    store,
		topN:     cfg.TopN,
		logger:   logger.With("component", "market_collector", "provider", provider.Name()),
	}
}

// Collect performs one full run. A leaderboard fetch failure degrades
// to a snapshot without top rows rather than failing the run; a global
// stats failure or a storage failure fails it.
func (c *Collector) Collect(ctx context.Context) (*Result, error) {
	result := &Result{}

	started := time.Now()
	global, err := c.provider.FetchGlobal(ctx)
	if err != nil {
		result.ExtractionTime = time.Since(started)
		result.Error = err.Error()
		return result, err
	}

	tops, err := c.provider.FetchTopCryptos(ctx, c.topN)
	if err != nil {
		c.logger.Warn("top cryptos fetch failed, storing snapshot without leaderboard", "error", err)
		tops = nil
	}
	result.ExtractionTime = time.Since(started)

	started = time.Now()
	bundle := c.transform(global, tops)
	result.TransformTime = time.Since(started)
	result.TransformedRows = len(bundle.MarketCaps) + len(bundle.Volumes) +
		len(bundle.Dominance) + len(bundle.TopCryptos)

	started = time.Now()
	err = c.store.InsertMarketSnapshot(ctx, bundle)
	result.LoadingTime = time.Since(started)
	if err != nil {
		result.Error = err.Error()
		return result, err
	}
	result.LoadedRows = 1 + result.TransformedRows

	result.Success = true
	c.logger.Info("market snapshot stored",
		"caps", len(bundle.MarketCaps), "volumes", len(bundle.Volumes),
		"dominance", len(bundle.Dominance), "top", len(bundle.TopCryptos))
	return result, nil
}

// transform builds the snapshot bundle from provider payloads. Map
// iteration order is not stable, so breakdown rows are sorted by key
// for deterministic storage.
func (c *Collector) transform(global *exchange.GlobalStats, tops []exchange.MarketEntry) *storage.MarketSnapshotBundle {
	now := time.Now().UTC()
	id := uuid.NewString()

	bundle := &storage.MarketSnapshotBundle{
		Snapshot: models.GlobalMarketSnapshot{
			ID:                     id,
			Timestamp:              now,
			ActiveCryptocurrencies: global.ActiveCryptocurrencies,
			Markets:                global.Markets,
			MarketCapChange24h:     global.MarketCapChangePct24h,
			CreatedAt:              now,
		},
	}

	for _, currency := range sortedKeys(global.TotalMarketCap) {
		bundle.MarketCaps = append(bundle.MarketCaps, models.MarketCapEntry{
			SnapshotID: id, Currency: currency, Value: global.TotalMarketCap[currency],
		})
	}
	for _, currency := range sortedKeys(global.TotalVolume) {
		bundle.Volumes = append(bundle.Volumes, models.MarketVolumeEntry{
			SnapshotID: id, Currency: currency, Value: global.TotalVolume[currency],
		})
	}
	for _, asset := range sortedKeys(global.MarketCapPercentage) {
		bundle.Dominance = append(bundle.Dominance, models.DominanceEntry{
			SnapshotID: id, Asset: asset, Percentage: global.MarketCapPercentage[asset],
		})
	}

	for i, entry := range tops {
		bundle.TopCryptos = append(bundle.TopCryptos, models.TopCrypto{
			SnapshotID:        id,
			Rank:              i + 1,
			CryptoID:          entry.ID,
			Symbol:            entry.Symbol,
			Name:              entry.Name,
			MarketCap:         entry.MarketCap,
			Price:             entry.CurrentPrice,
			Volume24h:         entry.TotalVolume,
			PriceChangePct24h: entry.PriceChangePct24h,
		})
	}

	return bundle
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
