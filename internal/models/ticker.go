package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Ticker is a normalized point-in-time price summary for one symbol.
// Exchange adapters return raw payloads with exchange-specific field
// names; the ticker collector normalizes them into this canonical shape
// before caching. Optional fields an exchange does not report stay nil.
type Ticker struct {
	Symbol            string           `json:"symbol"`
	Price             decimal.Decimal  `json:"price"`
	Volume24h         *decimal.Decimal `json:"volume_24h,omitempty"`
	PriceChange24h    *decimal.Decimal `json:"price_change_24h,omitempty"`
	PriceChangePct24h *decimal.Decimal `json:"price_change_pct_24h,omitempty"`
	High24h           *decimal.Decimal `json:"high_24h,omitempty"`
	Low24h            *decimal.Decimal `json:"low_24h,omitempty"`
}

// String returns a short human-readable representation of the ticker.
func (t *Ticker) String() string {
	return fmt.Sprintf("Ticker{Symbol: %s, Price: %s}", t.Symbol, t.Price)
}

// TickerSnapshot is a persisted copy of a cached ticker reading, written
// by the collector's periodic flush. Snapshots are immutable once stored.
type TickerSnapshot struct {
	ID                string           `json:"id" db:"id"`
	SnapshotTime      time.Time        `json:"snapshot_time" db:"snapshot_time"`
	Symbol            string           `json:"symbol" db:"symbol"`
	Exchange          string           `json:"exchange" db:"exchange"`
	Price             decimal.Decimal  `json:"price" db:"price"`
	Volume24h         *decimal.Decimal `json:"volume_24h" db:"volume_24h"`
	PriceChange24h    *decimal.Decimal `json:"price_change_24h" db:"price_change_24h"`
	PriceChangePct24h *decimal.Decimal `json:"price_change_pct_24h" db:"price_change_pct_24h"`
	High24h           *decimal.Decimal `json:"high_24h" db:"high_24h"`
	Low24h            *decimal.Decimal `json:"low_24h" db:"low_24h"`
	CreatedAt         time.Time        `json:"created_at" db:"created_at"`
}
