// Package models provides the data structures shared by the ETL pipeline,
// the ticker collector, and the storage backends: OHLCV candle rows,
// ticker snapshots, and the aggregate market snapshot family.
package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Candle is one OHLCV row for a symbol/timeframe/exchange triple.
// The timestamp is the UTC open time of the interval. The enrichment
// columns (PriceRange, PriceChange, PriceChangePct) are derived by the
// transformer before loading; a candle fetched straight from an exchange
// has them zero.
//
// Rows are identified by a generated UUID but deduplicated on the
// (symbol, timeframe, timestamp, exchange) unique key.
type Candle struct {
	ID             string          `json:"id" db:"id"`
	Timestamp      time.Time       `json:"timestamp" db:"timestamp"`
	Symbol         string          `json:"symbol" db:"symbol"`
	Timeframe      string          `json:"timeframe" db:"timeframe"`
	Exchange       string          `json:"exchange" db:"exchange"`
	Open           decimal.Decimal `json:"open" db:"open"`
	High           decimal.Decimal `json:"high" db:"high"`
	Low            decimal.Decimal `json:"low" db:"low"`
	Close          decimal.Decimal `json:"close" db:"close"`
	Volume         decimal.Decimal `json:"volume" db:"volume"`
	PriceRange     decimal.Decimal `json:"price_range" db:"price_range"`
	PriceChange    decimal.Decimal `json:"price_change" db:"price_change"`
	PriceChangePct decimal.Decimal `json:"price_change_pct" db:"price_change_pct"`
	Date           string          `json:"date" db:"date"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

// ValidationError reports a candle field that failed validation.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field %s: %s", e.Field, e.Message)
}

// Validate checks the structural invariants of a single candle: prices
// strictly positive, volume non-negative, high >= low, and non-empty
// identity fields. It returns the first violation found.
func (c *Candle) Validate() error {
	if c.Timestamp.IsZero() {
		return &ValidationError{Field: "timestamp", Message: "timestamp cannot be zero"}
	}

	zero := decimal.Zero
	for _, p := range []struct {
		name  string
		value decimal.Decimal
	}{
		{"open", c.Open},
		{"high", c.High},
		{"low", c.Low},
		{"close", c.Close},
	} {
		if p.value.LessThanOrEqual(zero) {
			return &ValidationError{Field: p.name, Message: fmt.Sprintf("%s price must be greater than 0, got %s", p.name, p.value)}
		}
	}

	if c.Volume.LessThan(zero) {
		return &ValidationError{Field: "volume", Message: fmt.Sprintf("volume must be greater than or equal to 0, got %s", c.Volume)}
	}

	if c.High.LessThan(c.Low) {
		return &ValidationError{
			Field:   "high",
			Message: fmt.Sprintf("high (%s) < low (%s)", c.High, c.Low),
		}
	}

	if c.Symbol == "" {
		return &ValidationError{Field: "symbol", Message: "symbol cannot be empty"}
	}
	if c.Timeframe == "" {
		return &ValidationError{Field: "timeframe", Message: "timeframe cannot be empty"}
	}
	if c.Exchange == "" {
		return &ValidationError{Field: "exchange", Message: "exchange cannot be empty"}
	}

	return nil
}

// Range returns the price amplitude high - low.
func (c *Candle) Range() decimal.Decimal {
	return c.High.Sub(c.Low)
}

// Change returns the price movement close - open.
func (c *Candle) Change() decimal.Decimal {
	return c.Close.Sub(c.Open)
}

// ChangePercent returns the percentage price movement ((close-open)/open)*100.
// Returns an error when the open price is zero.
func (c *Candle) ChangePercent() (decimal.Decimal, error) {
	if c.Open.IsZero() {
		return decimal.Zero, fmt.Errorf("cannot calculate percentage change with zero open price")
	}
	hundred := decimal.NewFromInt(100)
	return c.Change().Div(c.Open).Mul(hundred), nil
}

// IsBullish returns true when the close price is above the open price.
func (c *Candle) IsBullish() bool {
	return c.Close.GreaterThan(c.Open)
}

// String returns a human-readable representation of the candle.
func (c *Candle) String() string {
	return fmt.Sprintf("Candle{Symbol: %s, Timeframe: %s, Exchange: %s, Timestamp: %s, O: %s, H: %s, L: %s, C: %s, V: %s}",
		c.Symbol, c.Timeframe, c.Exchange, c.Timestamp.Format(time.RFC3339), c.Open, c.High, c.Low, c.Close, c.Volume)
}

// RawCandle is the six-column array shape exchanges return from their
// klines endpoints: [timestamp_ms, open, high, low, close, volume].
// The timestamp is a millisecond epoch; numeric columns are parsed into
// decimals by the exchange adapter, never by the core.
type RawCandle struct {
	Timestamp int64           `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// OpenTime converts the raw millisecond epoch into a UTC instant.
func (r RawCandle) OpenTime() time.Time {
	return time.UnixMilli(r.Timestamp).UTC()
}
