package ticker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/cryptoflow/go-crypto-etl/internal/exchange"
	"github.com/cryptoflow/go-crypto-etl/internal/models"
	"github.com/cryptoflow/go-crypto-etl/internal/storage"
)

// Config carries the collector's timing and sizing parameters. Zero
// fields fall back to the defaults below.
type Config struct {
	Symbols          []string      `json:"symbols"`
	TickInterval     time.Duration `json:"tick_interval"`
	SnapshotInterval time.Duration `json:"snapshot_interval"`
	CleanupInterval  time.Duration `json:"cleanup_interval"`
	Retention        time.Duration `json:"retention"`
	CacheSize        int           `json:"cache_size"`
	ErrorBackoff     time.Duration `json:"error_backoff"`
}

func (c *Config) applyDefaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Minute
	}
	if c.SnapshotInterval <= 0 {
		c.SnapshotInterval = 5 * time.Minute
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = 30 * time.Minute
	}
	if c.Retention <= 0 {
		c.Retention = 24 * time.Hour
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 100
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = 10 * time.Second
	}
}

// stopTimeout bounds how long Stop waits for the loop to exit; the
// loop checks for cancellation once per tick, so a stop can trail one
// in-flight fetch.
const stopTimeout = 5 * time.Second

// Collector runs the background ticker loop for one exchange: fetch
// every monitored symbol each tick, normalize and cache the readings,
// flush periodic snapshots to the store, and prune stale cache entries.
// One collector owns one cache; multiple exchanges mean multiple
// collectors.
type Collector struct {
	source exchange.TickerSource
	store  storage.SnapshotStore
	cache  *Cache
	clock  clock.Clock
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewCollector creates a collector. A nil clock falls back to the real
// clock; a nil logger falls back to slog.Default().
func NewCollector(source exchange.TickerSource, store storage.SnapshotStore, cfg Config, clk clock.Clock, logger *slog.Logger) *Collector {
	cfg.applyDefaults()
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		source: source,
		store:  store,
		cache:  NewCache(cfg.CacheSize),
		clock:  clk,
		cfg:    cfg,
		logger: logger.With("component", "ticker_collector", "exchange", source.Name()),
	}
}

// Start launches the collection loop. Starting an already running
// collector is a no-op warning.
func (c *Collector) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		c.logger.Warn("collection already running")
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true

	go c.loop(loopCtx)
	c.logger.Info("ticker collection started",
		"symbols", len(c.cfg.Symbols), "tick", c.cfg.TickInterval)
}

// Stop signals the loop to exit and waits for it, bounded by
// stopTimeout. Stopping an already stopped collector is a no-op
// warning.
func (c *Collector) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		c.logger.Warn("collection not running")
		return
	}

	c.cancel()
	select {
	case <-c.done:
	case <-c.clock.After(stopTimeout):
		c.logger.Warn("timed out waiting for collection loop to exit")
	}
	c.running = false
	c.logger.Info("ticker collection stopped")
}

// Running reports whether the loop is active.
func (c *Collector) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// GetCurrentPrices returns the most recent cached reading per symbol.
// Safe to call concurrently with the loop.
func (c *Collector) GetCurrentPrices() map[string]models.Ticker {
	return c.cache.CurrentPrices()
}

// RecentTickers returns the cached readings for a symbol within the
// given window.
func (c *Collector) RecentTickers(symbol string, window time.Duration) []Entry {
	return c.cache.RecentEntries(symbol, c.clock.Now().Add(-window))
}

func (c *Collector) loop(ctx context.Context) {
	defer close(c.done)

	nextSnapshot := c.clock.Now().Add(c.cfg.SnapshotInterval)
	nextCleanup := c.clock.Now().Add(c.cfg.CleanupInterval)

	ticker := c.clock.Ticker(c.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		c.fetchAndCache(ctx)

		now := c.clock.Now()
		if !now.Before(nextSnapshot) {
			if err := c.flushSnapshot(ctx); err != nil {
				c.logger.Error("snapshot flush failed", "error", err)
				// Transient store trouble; back off before the next
				// tick rather than hammering it.
				select {
				case <-ctx.Done():
					return
				case <-c.clock.After(c.cfg.ErrorBackoff):
				}
				continue
			}
			nextSnapshot = c.clock.Now().Add(c.cfg.SnapshotInterval)
		}

		if !now.Before(nextCleanup) {
			c.cache.ClearOlderThan(now.Add(-c.cfg.Retention))
			nextCleanup = now.Add(c.cfg.CleanupInterval)
			c.logger.Debug("cache pruned", "retention", c.cfg.Retention)
		}
	}
}

// fetchAndCache pulls the current ticker for every monitored symbol,
// isolating per-symbol failures.
func (c *Collector) fetchAndCache(ctx context.Context) {
	for _, symbol := range c.cfg.Symbols {
		payload, err := c.source.FetchTicker(ctx, symbol)
		if err != nil {
			c.logger.Error("ticker fetch failed", "symbol", symbol, "error", err)
			continue
		}

		normalized, err := Normalize(c.source.Name(), symbol, payload)
		if err != nil {
			c.logger.Error("ticker normalization failed", "symbol", symbol, "error", err)
			continue
		}

		c.cache.Add(symbol, normalized, c.clock.Now())
		c.logger.Debug("ticker cached", "symbol", symbol, "price", normalized.Price)
	}
}

// flushSnapshot persists the most recent cached reading of every symbol
// in one transaction. An empty cache is a no-op warning.
func (c *Collector) flushSnapshot(ctx context.Context) error {
	prices := c.cache.CurrentPrices()
	if len(prices) == 0 {
		c.logger.Warn("no tickers to snapshot")
		return nil
	}

	now := c.clock.Now().UTC()
	snapshots := make([]models.TickerSnapshot, 0, len(prices))
	for symbol, t := range prices {
		snapshots = append(snapshots, models.TickerSnapshot{
			ID:                uuid.NewString(),
			SnapshotTime:      now,
			Symbol:            symbol,
			Exchange:          c.source.Name(),
			Price:             t.Price,
			Volume24h:         t.Volume24h,
			PriceChange24h:    t.PriceChange24h,
			PriceChangePct24h: t.PriceChangePct24h,
			High24h:           t.High24h,
			Low24h:            t.Low24h,
			CreatedAt:         now,
		})
	}

	if err := c.store.InsertTickerSnapshots(ctx, snapshots); err != nil {
		return err
	}
	c.logger.Info("snapshot flushed", "tickers", len(snapshots))
	return nil
}
