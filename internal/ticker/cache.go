// Package ticker implements the hybrid ticker store: an in-memory
// bounded cache fed by a background collection loop, flushed
// periodically into durable snapshot rows. The cache is the real-time
// read path and is lost on restart by design; durability comes from the
// snapshots.
package ticker

import (
	"sync"
	"time"

	"github.com/cryptoflow/go-crypto-etl/internal/models"
)

// Entry is one cached ticker reading with the instant it was observed.
type Entry struct {
	Timestamp time.Time
	Ticker    models.Ticker
}

// Cache holds a bounded list of recent readings per symbol. When a
// symbol's list is full the oldest entry is evicted. Safe for
// concurrent use.
type Cache struct {
	mu       sync.RWMutex
	entries  map[string][]Entry
	maxItems int
}

// NewCache creates a cache keeping at most maxItemsPerSymbol readings
// per symbol (default 100 when zero or negative).
func NewCache(maxItemsPerSymbol int) *Cache {
	if maxItemsPerSymbol <= 0 {
		maxItemsPerSymbol = 100
	}
	return &Cache{
		entries:  make(map[string][]Entry),
		maxItems: maxItemsPerSymbol,
	}
}

// Add appends a reading for the symbol, evicting the oldest entry when
// the symbol's list is at capacity.
func (c *Cache) Add(symbol string, t models.Ticker, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	list := append(c.entries[symbol], Entry{Timestamp: now, Ticker: t})
	if len(list) > c.maxItems {
		list = list[1:]
	}
	c.entries[symbol] = list
}

// Len returns how many readings are cached for the symbol.
func (c *Cache) Len(symbol string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries[symbol])
}

// RecentEntries returns the symbol's readings at or after the cutoff.
func (c *Cache) RecentEntries(symbol string, cutoff time.Time) []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []Entry
	for _, e := range c.entries[symbol] {
		if !e.Timestamp.Before(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

// CurrentPrices returns the most recent reading for every symbol that
// has at least one, as a point-in-time copy of the cache.
func (c *Cache) CurrentPrices() map[string]models.Ticker {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]models.Ticker, len(c.entries))
	for symbol, list := range c.entries {
		if len(list) > 0 {
			out[symbol] = list[len(list)-1].Ticker
		}
	}
	return out
}

// ClearOlderThan drops every reading observed before the cutoff,
// bounding memory independent of write frequency.
func (c *Cache) ClearOlderThan(cutoff time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for symbol, list := range c.entries {
		kept := list[:0]
		for _, e := range list {
			if !e.Timestamp.Before(cutoff) {
				kept = append(kept, e)
			}
		}
		c.entries[symbol] = kept
	}
}
