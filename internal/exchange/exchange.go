// Package exchange defines the upstream data source interfaces and the
// HTTP adapters implementing them: a Binance REST client for candles and
// tickers, and a CoinGecko-style client for aggregate market data.
//
// Adapters own rate limiting and transient-failure retry. Callers treat
// every fetch as a single blocking call; a returned error means the
// adapter already exhausted its retries.
package exchange

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/cryptoflow/go-crypto-etl/internal/models"
)

// OHLCVSource fetches raw candle arrays for one symbol and timeframe.
type OHLCVSource interface {
	// FetchOHLCV returns up to limit raw candles, oldest first, in the
	// six-column shape [ts_ms, open, high, low, close, volume].
	FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]models.RawCandle, error)

	// Name identifies the exchange ("binance", "kraken", ...).
	Name() string
}

// TickerSource fetches the current ticker for one symbol. Payloads keep
// the exchange-native field names; normalization into the canonical
// shape is the ticker collector's job.
type TickerSource interface {
	FetchTicker(ctx context.Context, symbol string) (map[string]any, error)
	Name() string
}

// Client is a full exchange connection serving both candles and tickers.
type Client interface {
	OHLCVSource
	TickerSource
}

// GlobalStats is the aggregate market payload from a market data
// provider: totals per quote currency plus per-asset dominance.
type GlobalStats struct {
	ActiveCryptocurrencies int
	Markets                int
	MarketCapChangePct24h  decimal.Decimal
	TotalMarketCap         map[string]decimal.Decimal
	TotalVolume            map[string]decimal.Decimal
	MarketCapPercentage    map[string]decimal.Decimal
}

// MarketEntry is one asset row from the provider's markets listing,
// ordered by market capitalization.
type MarketEntry struct {
	ID                string
	Symbol            string
	Name              string
	MarketCap         decimal.Decimal
	CurrentPrice      decimal.Decimal
	TotalVolume       decimal.Decimal
	PriceChangePct24h decimal.Decimal
}

// MarketDataSource fetches market-wide aggregates from a secondary
// provider (CoinGecko style).
type MarketDataSource interface {
	FetchGlobal(ctx context.Context) (*GlobalStats, error)
	FetchTopCryptos(ctx context.Context, limit int) ([]MarketEntry, error)
	Name() string
}

// APIError reports a non-retryable upstream HTTP failure.
type APIError struct {
	Exchange   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error %d: %s", e.Exchange, e.StatusCode, e.Body)
}
