package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/cryptoflow/go-crypto-etl/internal/models"
)

const (
	binanceBaseURL           = "https://api.binance.com"
	binanceKlinesEndpoint    = "/api/v3/klines"
	binanceTicker24hEndpoint = "/api/v3/ticker/24hr"

	binanceRequestsPerSecond = 10
	binanceRateBurst         = 1
	binanceRequestTimeout    = 30 * time.Second
	binanceMaxKlinesLimit    = 1000

	initialRetryDelay = 500 * time.Millisecond
	maxRetryDelay     = 30 * time.Second
	retryMultiplier   = 2.0
	retryJitter       = 0.5
)

// BinanceConfig carries the adapter's network settings. The zero value
// is usable; empty or zero fields fall back to production defaults.
type BinanceConfig struct {
	BaseURL           string        `json:"base_url"`
	Timeout           time.Duration `json:"timeout"`
	RequestsPerSecond float64       `json:"requests_per_second"`
}

// BinanceClient is the Binance REST adapter. It implements Client: spot
// klines for candles and the 24hr ticker endpoint for tickers. Every
// request passes the rate limiter; transient failures (network errors,
// 429, 5xx) are retried with exponential backoff.
type BinanceClient struct {
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	baseURL     string
	logger      *slog.Logger
}

// NewBinanceClient creates a Binance adapter. A nil logger falls back to
// slog.Default().
func NewBinanceClient(cfg BinanceConfig, logger *slog.Logger) *BinanceClient {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = binanceBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = binanceRequestTimeout
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = binanceRequestsPerSecond
	}

	return &BinanceClient{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), binanceRateBurst),
		baseURL:     cfg.BaseURL,
		logger:      logger.With("component", "binance_client"),
	}
}

// Name implements OHLCVSource and TickerSource.
func (b *BinanceClient) Name() string { return "binance" }

// FetchOHLCV implements OHLCVSource using the spot klines endpoint.
func (b *BinanceClient) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]models.RawCandle, error) {
	if limit <= 0 || limit > binanceMaxKlinesLimit {
		limit = binanceMaxKlinesLimit
	}

	params := url.Values{}
	params.Set("symbol", binanceSymbol(symbol))
	params.Set("interval", timeframe)
	params.Set("limit", fmt.Sprintf("%d", limit))

	body, err := b.get(ctx, binanceKlinesEndpoint+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("fetch klines for %s %s: %w", symbol, timeframe, err)
	}

	// Klines rows are 12-column arrays of mixed numbers and strings;
	// only the first six columns matter here.
	var rows [][]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("parse klines response: %w", err)
	}

	candles := make([]models.RawCandle, 0, len(rows))
	for i, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("klines row %d: expected at least 6 columns, got %d", i, len(row))
		}

		var ts int64
		if err := json.Unmarshal(row[0], &ts); err != nil {
			return nil, fmt.Errorf("klines row %d: parse timestamp: %w", i, err)
		}

		raw := models.RawCandle{Timestamp: ts}
		for j, dst := range []*decimal.Decimal{&raw.Open, &raw.High, &raw.Low, &raw.Close, &raw.Volume} {
			var s string
			if err := json.Unmarshal(row[j+1], &s); err != nil {
				return nil, fmt.Errorf("klines row %d column %d: %w", i, j+1, err)
			}
			d, err := decimal.NewFromString(s)
			if err != nil {
				return nil, fmt.Errorf("klines row %d column %d: %w", i, j+1, err)
			}
			*dst = d
		}
		candles = append(candles, raw)
	}

	b.logger.Debug("fetched klines", "symbol", symbol, "timeframe", timeframe, "count", len(candles))
	return candles, nil
}

// FetchTicker implements TickerSource using the 24hr ticker endpoint.
// The payload keeps Binance's field names (lastPrice, quoteVolume,
// priceChangePercent, ...).
func (b *BinanceClient) FetchTicker(ctx context.Context, symbol string) (map[string]any, error) {
	params := url.Values{}
	params.Set("symbol", binanceSymbol(symbol))

	body, err := b.get(ctx, binanceTicker24hEndpoint+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("fetch ticker for %s: %w", symbol, err)
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parse ticker response: %w", err)
	}
	return payload, nil
}

// get performs a rate-limited GET with exponential-backoff retry for
// transient failures. Client errors other than 429 are permanent.
func (b *BinanceClient) get(ctx context.Context, path string) ([]byte, error) {
	if err := b.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialRetryDelay
	bo.MaxInterval = maxRetryDelay
	bo.Multiplier = retryMultiplier
	bo.RandomizationFactor = retryJitter
	bo.MaxElapsedTime = 0

	var result []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+path, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Accept", "application/json")

		resp, err := b.httpClient.Do(req)
		if err != nil {
			b.logger.Warn("request failed, retrying", "path", path, "error", err)
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response body: %w", err)
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			b.logger.Warn("retryable upstream status", "path", path, "status", resp.StatusCode)
			return &APIError{Exchange: "binance", StatusCode: resp.StatusCode, Body: string(body)}
		case resp.StatusCode >= 400:
			return backoff.Permanent(&APIError{Exchange: "binance", StatusCode: resp.StatusCode, Body: string(body)})
		}

		result = body
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return result, nil
}

// binanceSymbol converts the canonical "BTC/USDT" form into Binance's
// concatenated "BTCUSDT" form.
func binanceSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "/", ""))
}
