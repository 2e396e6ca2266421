package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// GlobalMarketSnapshot is one aggregate snapshot of the whole crypto
// market at an instant: counts of active assets and markets plus 24h
// change figures. The per-currency and per-asset breakdowns hang off it
// through SnapshotID.
type GlobalMarketSnapshot struct {
	ID                     string          `json:"id" db:"id"`
	Timestamp              time.Time       `json:"timestamp" db:"timestamp"`
	ActiveCryptocurrencies int             `json:"active_cryptocurrencies" db:"active_cryptocurrencies"`
	Markets                int             `json:"markets" db:"markets"`
	MarketCapChange24h     decimal.Decimal `json:"market_cap_change_24h" db:"market_cap_change_24h"`
	CreatedAt              time.Time       `json:"created_at" db:"created_at"`
}

// MarketCapEntry records the total market capitalization denominated in
// one currency (USD, EUR, BTC, ...) for a global snapshot.
type MarketCapEntry struct {
	SnapshotID string          `json:"snapshot_id" db:"snapshot_id"`
	Currency   string          `json:"currency" db:"currency"`
	Value      decimal.Decimal `json:"value" db:"value"`
}

// MarketVolumeEntry records the total 24h volume denominated in one
// currency for a global snapshot.
type MarketVolumeEntry struct {
	SnapshotID string          `json:"snapshot_id" db:"snapshot_id"`
	Currency   string          `json:"currency" db:"currency"`
	Value      decimal.Decimal `json:"value" db:"value"`
}

// DominanceEntry records one asset's share of the total market cap for a
// global snapshot, as a percentage.
type DominanceEntry struct {
	SnapshotID string          `json:"snapshot_id" db:"snapshot_id"`
	Asset      string          `json:"asset" db:"asset"`
	Percentage decimal.Decimal `json:"percentage" db:"percentage"`
}

// TopCrypto is one row of the top-N leaderboard attached to a global
// snapshot, ranked by market capitalization.
type TopCrypto struct {
	SnapshotID        string          `json:"snapshot_id" db:"snapshot_id"`
	Rank              int             `json:"rank" db:"rank"`
	CryptoID          string          `json:"crypto_id" db:"crypto_id"`
	Symbol            string          `json:"symbol" db:"symbol"`
	Name              string          `json:"name" db:"name"`
	MarketCap         decimal.Decimal `json:"market_cap" db:"market_cap"`
	Price             decimal.Decimal `json:"price" db:"price"`
	Volume24h         decimal.Decimal `json:"volume_24h" db:"volume_24h"`
	PriceChangePct24h decimal.Decimal `json:"price_change_pct_24h" db:"price_change_pct_24h"`
}
