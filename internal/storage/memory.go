package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cryptoflow/go-crypto-etl/internal/models"
)

// MemoryStore is an in-memory Store used by tests and the mock runtime
// profile. It enforces the same candle uniqueness as the SQL backends.
type MemoryStore struct {
	mu        sync.RWMutex
	candles   []models.Candle
	candleKey map[string]struct{}
	snapshots []models.TickerSnapshot
	markets   []MarketSnapshotBundle
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		candleKey: make(map[string]struct{}),
	}
}

func candleKey(c models.Candle) string {
	return fmt.Sprintf("%s|%s|%d|%s", c.Symbol, c.Timeframe, c.Timestamp.UnixMilli(), c.Exchange)
}

// InsertCandles implements CandleStore. Like the SQL backends the batch
// is all-or-nothing: a duplicate anywhere in it inserts no rows and
// returns ErrDuplicateKey.
func (m *MemoryStore) InsertCandles(ctx context.Context, candles []models.Candle) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range candles {
		if _, exists := m.candleKey[candleKey(c)]; exists {
			return 0, fmt.Errorf("insert candle %s %s: %w", c.Symbol, c.Timestamp, ErrDuplicateKey)
		}
	}

	for _, c := range candles {
		m.candleKey[candleKey(c)] = struct{}{}
		m.candles = append(m.candles, c)
	}
	return len(candles), nil
}

// LatestCandle implements CandleStore.
func (m *MemoryStore) LatestCandle(ctx context.Context, symbol, timeframe, exchange string) (*models.Candle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *models.Candle
	for i := range m.candles {
		c := &m.candles[i]
		if c.Symbol != symbol || c.Timeframe != timeframe || c.Exchange != exchange {
			continue
		}
		if latest == nil || c.Timestamp.After(latest.Timestamp) {
			latest = c
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	out := *latest
	return &out, nil
}

// CandlesInRange implements CandleStore.
func (m *MemoryStore) CandlesInRange(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]models.Candle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Candle
	for _, c := range m.candles {
		if c.Symbol != symbol || c.Timeframe != timeframe {
			continue
		}
		if c.Timestamp.Before(from) || !c.Timestamp.Before(to) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// InsertTickerSnapshots implements SnapshotStore.
func (m *MemoryStore) InsertTickerSnapshots(ctx context.Context, snapshots []models.TickerSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = append(m.snapshots, snapshots...)
	return nil
}

// RecentTickerSnapshots implements SnapshotStore.
func (m *MemoryStore) RecentTickerSnapshots(ctx context.Context, symbol string, limit int) ([]models.TickerSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 10
	}

	var out []models.TickerSnapshot
	for _, snap := range m.snapshots {
		if snap.Symbol == symbol {
			out = append(out, snap)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SnapshotTime.After(out[j].SnapshotTime) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// InsertMarketSnapshot implements MarketStore.
func (m *MemoryStore) InsertMarketSnapshot(ctx context.Context, bundle *MarketSnapshotBundle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markets = append(m.markets, *bundle)
	return nil
}

// LatestMarketSnapshot implements MarketStore.
func (m *MemoryStore) LatestMarketSnapshot(ctx context.Context) (*models.GlobalMarketSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *models.GlobalMarketSnapshot
	for i := range m.markets {
		snap := &m.markets[i].Snapshot
		if latest == nil || snap.Timestamp.After(latest.Timestamp) {
			latest = snap
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	out := *latest
	return &out, nil
}

// LatestMarketBundle returns the most recently inserted market bundle
// with all its breakdown rows, or nil if none exist. Test helper.
func (m *MemoryStore) LatestMarketBundle() *MarketSnapshotBundle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.markets) == 0 {
		return nil
	}
	out := m.markets[len(m.markets)-1]
	return &out
}

// TickerSnapshotCount reports how many snapshots are stored. Test
// helper.
func (m *MemoryStore) TickerSnapshotCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.snapshots)
}

// CandleCount reports how many candles are stored. Test helper.
func (m *MemoryStore) CandleCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.candles)
}

// Ping implements Store.
func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }
