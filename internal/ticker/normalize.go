package ticker

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/cryptoflow/go-crypto-etl/internal/models"
)

// Normalize converts an exchange-native ticker payload into the
// canonical shape. Exchanges disagree on field names for the same
// concept: Binance reports the last trade as "last"/"lastPrice" and the
// 24h quote turnover as "quoteVolume", Kraken nests the last price in
// "c"[0]. A payload with no recognizable price is rejected.
func Normalize(exchangeName string, symbol string, payload map[string]any) (models.Ticker, error) {
	t := models.Ticker{Symbol: symbol}

	switch exchangeName {
	case "binance":
		if price, ok := pickDecimal(payload, "price", "last", "lastPrice"); ok {
			t.Price = price
		}
		t.Volume24h = optDecimal(payload, "volume_24h", "quoteVolume")
		t.PriceChange24h = optDecimal(payload, "price_change_24h", "priceChange")
		t.PriceChangePct24h = optDecimal(payload, "price_change_pct_24h", "percentage", "priceChangePercent")
		t.High24h = optDecimal(payload, "high_24h", "high", "highPrice")
		t.Low24h = optDecimal(payload, "low_24h", "low", "lowPrice")

	case "kraken":
		// Kraken's ticker carries the last trade as the first element
		// of the "c" array.
		if c, ok := payload["c"].([]any); ok && len(c) > 0 {
			if price, err := toDecimal(c[0]); err == nil {
				t.Price = price
			}
		} else if price, ok := pickDecimal(payload, "price", "last"); ok {
			t.Price = price
		}
		t.High24h = optDecimal(payload, "high_24h", "high")
		t.Low24h = optDecimal(payload, "low_24h", "low")

	default:
		// Exchanges like Coinbase already use the canonical names.
		if price, ok := pickDecimal(payload, "price", "last"); ok {
			t.Price = price
		}
		t.Volume24h = optDecimal(payload, "volume_24h")
		t.PriceChange24h = optDecimal(payload, "price_change_24h")
		t.PriceChangePct24h = optDecimal(payload, "price_change_pct_24h")
		t.High24h = optDecimal(payload, "high_24h")
		t.Low24h = optDecimal(payload, "low_24h")
	}

	if t.Price.IsZero() {
		return models.Ticker{}, fmt.Errorf("ticker for %s has no usable price field", symbol)
	}
	return t, nil
}

// pickDecimal returns the first present and parseable key.
func pickDecimal(payload map[string]any, keys ...string) (decimal.Decimal, bool) {
	for _, key := range keys {
		if v, ok := payload[key]; ok {
			if d, err := toDecimal(v); err == nil {
				return d, true
			}
		}
	}
	return decimal.Zero, false
}

func optDecimal(payload map[string]any, keys ...string) *decimal.Decimal {
	if d, ok := pickDecimal(payload, keys...); ok {
		return &d
	}
	return nil
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch x := v.(type) {
	case string:
		return decimal.NewFromString(x)
	case float64:
		return decimal.NewFromFloat(x), nil
	case int:
		return decimal.NewFromInt(int64(x)), nil
	case int64:
		return decimal.NewFromInt(x), nil
	case decimal.Decimal:
		return x, nil
	default:
		return decimal.Zero, fmt.Errorf("unsupported ticker value type %T", v)
	}
}
