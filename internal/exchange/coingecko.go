package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	coingeckoBaseURL         = "https://api.coingecko.com"
	coingeckoGlobalEndpoint  = "/api/v3/global"
	coingeckoMarketsEndpoint = "/api/v3/coins/markets"

	// The free tier allows roughly 30 calls/minute.
	coingeckoRequestsPerSecond = 0.5
	coingeckoRequestTimeout    = 30 * time.Second
)

// CoinGeckoConfig carries the provider's network settings.
type CoinGeckoConfig struct {
	BaseURL           string        `json:"base_url"`
	Timeout           time.Duration `json:"timeout"`
	RequestsPerSecond float64       `json:"requests_per_second"`
	VsCurrency        string        `json:"vs_currency"`
}

// CoinGeckoClient implements MarketDataSource against the CoinGecko v3
// API: /global for aggregate stats and /coins/markets for the top-N
// leaderboard.
type CoinGeckoClient struct {
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	baseURL     string
	vsCurrency  string
	logger      *slog.Logger
}

// NewCoinGeckoClient creates a CoinGecko adapter. A nil logger falls
// back to slog.Default().
func NewCoinGeckoClient(cfg CoinGeckoConfig, logger *slog.Logger) *CoinGeckoClient {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = coingeckoBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = coingeckoRequestTimeout
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = coingeckoRequestsPerSecond
	}
	if cfg.VsCurrency == "" {
		cfg.VsCurrency = "usd"
	}

	return &CoinGeckoClient{
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		baseURL:     cfg.BaseURL,
		vsCurrency:  cfg.VsCurrency,
		logger:      logger.With("component", "coingecko_client"),
	}
}

// Name implements MarketDataSource.
func (c *CoinGeckoClient) Name() string { return "coingecko" }

type coingeckoGlobalResponse struct {
	Data struct {
		ActiveCryptocurrencies int                        `json:"active_cryptocurrencies"`
		Markets                int                        `json:"markets"`
		TotalMarketCap         map[string]decimal.Decimal `json:"total_market_cap"`
		TotalVolume            map[string]decimal.Decimal `json:"total_volume"`
		MarketCapPercentage    map[string]decimal.Decimal `json:"market_cap_percentage"`
		MarketCapChangePct24h  decimal.Decimal            `json:"market_cap_change_percentage_24h_usd"`
	} `json:"data"`
}

// FetchGlobal implements MarketDataSource.
func (c *CoinGeckoClient) FetchGlobal(ctx context.Context) (*GlobalStats, error) {
	body, err := c.get(ctx, coingeckoGlobalEndpoint)
	if err != nil {
		return nil, fmt.Errorf("fetch global stats: %w", err)
	}

	var resp coingeckoGlobalResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse global response: %w", err)
	}

	return &GlobalStats{
		ActiveCryptocurrencies: resp.Data.ActiveCryptocurrencies,
		Markets:                resp.Data.Markets,
		MarketCapChangePct24h:  resp.Data.MarketCapChangePct24h,
		TotalMarketCap:         resp.Data.TotalMarketCap,
		TotalVolume:            resp.Data.TotalVolume,
		MarketCapPercentage:    resp.Data.MarketCapPercentage,
	}, nil
}

type coingeckoMarketRow struct {
	ID                string          `json:"id"`
	Symbol            string          `json:"symbol"`
	Name              string          `json:"name"`
	CurrentPrice      decimal.Decimal `json:"current_price"`
	MarketCap         decimal.Decimal `json:"market_cap"`
	TotalVolume       decimal.Decimal `json:"total_volume"`
	PriceChangePct24h decimal.Decimal `json:"price_change_percentage_24h"`
}

// FetchTopCryptos implements MarketDataSource, returning up to limit
// assets ordered by market capitalization descending.
func (c *CoinGeckoClient) FetchTopCryptos(ctx context.Context, limit int) ([]MarketEntry, error) {
	if limit <= 0 {
		limit = 10
	}

	params := url.Values{}
	params.Set("vs_currency", c.vsCurrency)
	params.Set("order", "market_cap_desc")
	params.Set("per_page", fmt.Sprintf("%d", limit))
	params.Set("page", "1")

	body, err := c.get(ctx, coingeckoMarketsEndpoint+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("fetch top cryptos: %w", err)
	}

	var rows []coingeckoMarketRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("parse markets response: %w", err)
	}

	entries := make([]MarketEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, MarketEntry{
			ID:                r.ID,
			Symbol:            r.Symbol,
			Name:              r.Name,
			MarketCap:         r.MarketCap,
			CurrentPrice:      r.CurrentPrice,
			TotalVolume:       r.TotalVolume,
			PriceChangePct24h: r.PriceChangePct24h,
		})
	}
	return entries, nil
}

func (c *CoinGeckoClient) get(ctx context.Context, path string) ([]byte, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialRetryDelay
	bo.MaxInterval = maxRetryDelay
	bo.MaxElapsedTime = 0

	var result []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logger.Warn("request failed, retrying", "path", path, "error", err)
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response body: %w", err)
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			c.logger.Warn("retryable upstream status", "path", path, "status", resp.StatusCode)
			return &APIError{Exchange: "coingecko", StatusCode: resp.StatusCode, Body: string(body)}
		case resp.StatusCode >= 400:
			return backoff.Permanent(&APIError{Exchange: "coingecko", StatusCode: resp.StatusCode, Body: string(body)})
		}

		result = body
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return result, nil
}
