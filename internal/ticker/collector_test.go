package ticker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptoflow/go-crypto-etl/internal/storage"
)

// stubTickerSource serves canned payloads per symbol; symbols without a
// payload fail.
type stubTickerSource struct {
	mu       sync.Mutex
	payloads map[string]map[string]any
	calls    map[string]int
}

func newStubSource(payloads map[string]map[string]any) *stubTickerSource {
	return &stubTickerSource{payloads: payloads, calls: make(map[string]int)}
}

func (s *stubTickerSource) FetchTicker(ctx context.Context, symbol string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[symbol]++
	payload, ok := s.payloads[symbol]
	if !ok {
		return nil, errors.New("symbol unavailable")
	}
	return payload, nil
}

func (s *stubTickerSource) Name() string { return "binance" }

func (s *stubTickerSource) callCount(symbol string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[symbol]
}

func testConfig(symbols ...string) Config {
	return Config{
		Symbols:          symbols,
		TickInterval:     time.Second,
		SnapshotInterval: 2 * time.Second,
		CleanupInterval:  time.Hour,
		CacheSize:        10,
	}
}

func TestCollectorTickAndIsolation(t *testing.T) {
	source := newStubSource(map[string]map[string]any{
		"BTC/USDT": {"lastPrice": "50000"},
	})
	store := storage.NewMemoryStore()
	mockClock := clock.NewMock()

	c := NewCollector(source, store, testConfig("BTC/USDT", "ETH/USDT"), mockClock, nil)
	c.Start(context.Background())
	defer c.Stop()

	mockClock.Add(time.Second)

	require.Eventually(t, func() bool {
		return c.cache.Len("BTC/USDT") == 1
	}, time.Second, time.Millisecond, "good symbol must be cached despite the failing sibling")

	assert.Zero(t, c.cache.Len("ETH/USDT"))
	assert.GreaterOrEqual(t, source.callCount("ETH/USDT"), 1, "failing symbol must still be attempted")

	prices := c.GetCurrentPrices()
	require.Contains(t, prices, "BTC/USDT")
	assert.Equal(t, "50000", prices["BTC/USDT"].Price.String())
}

func TestCollectorSnapshotFlush(t *testing.T) {
	source := newStubSource(map[string]map[string]any{
		"BTC/USDT": {"lastPrice": "50000"},
		"ETH/USDT": {"lastPrice": "3000"},
	})
	store := storage.NewMemoryStore()
	mockClock := clock.NewMock()

	c := NewCollector(source, store, testConfig("BTC/USDT", "ETH/USDT"), mockClock, nil)
	c.Start(context.Background())
	defer c.Stop()

	// First tick caches but is before the snapshot deadline.
	mockClock.Add(time.Second)
	require.Eventually(t, func() bool {
		return c.cache.Len("BTC/USDT") == 1
	}, time.Second, time.Millisecond)
	assert.Zero(t, store.TickerSnapshotCount())

	// Second tick crosses the 2s snapshot interval.
	mockClock.Add(time.Second)
	require.Eventually(t, func() bool {
		return store.TickerSnapshotCount() == 2
	}, time.Second, time.Millisecond, "one snapshot row per cached symbol")

	ctx := context.Background()
	snaps, err := store.RecentTickerSnapshots(ctx, "BTC/USDT", 10)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "binance", snaps[0].Exchange)
	assert.Equal(t, "50000", snaps[0].Price.String())
	assert.NotEmpty(t, snaps[0].ID)
}

func TestCollectorStartStopIdempotent(t *testing.T) {
	source := newStubSource(map[string]map[string]any{"BTC/USDT": {"lastPrice": "1"}})
	store := storage.NewMemoryStore()
	mockClock := clock.NewMock()

	c := NewCollector(source, store, testConfig("BTC/USDT"), mockClock, nil)

	assert.False(t, c.Running())
	c.Stop() // not running, must be a warning no-op
	assert.False(t, c.Running())

	c.Start(context.Background())
	assert.True(t, c.Running())
	c.Start(context.Background()) // already running, warning no-op
	assert.True(t, c.Running())

	c.Stop()
	assert.False(t, c.Running())
	c.Stop()
	assert.False(t, c.Running())
}

func TestCollectorCleanup(t *testing.T) {
	source := newStubSource(map[string]map[string]any{"BTC/USDT": {"lastPrice": "1"}})
	store := storage.NewMemoryStore()
	mockClock := clock.NewMock()

	cfg := testConfig("BTC/USDT")
	cfg.CleanupInterval = 10 * time.Second
	cfg.Retention = 5 * time.Second
	cfg.SnapshotInterval = time.Hour
	cfg.CacheSize = 1000

	c := NewCollector(source, store, cfg, mockClock, nil)
	c.Start(context.Background())
	defer c.Stop()

	// Ten one-second ticks: the cleanup pass at t=10s must prune the
	// readings older than five seconds, leaving the 5s..10s window.
	for i := 0; i < 10; i++ {
		mockClock.Add(time.Second)
		require.Eventually(t, func() bool {
			return source.callCount("BTC/USDT") >= i+1
		}, time.Second, time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return c.cache.Len("BTC/USDT") == 6
	}, time.Second, time.Millisecond, "stale cache entries must be pruned")
}
