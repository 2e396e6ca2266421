package etl

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cryptoflow/go-crypto-etl/internal/exchange"
	"github.com/cryptoflow/go-crypto-etl/internal/models"
)

// Extractor fetches raw candle arrays from an exchange source. Retry
// behavior lives in the source itself; the extractor's job is symbol
// fan-out and per-symbol failure isolation.
type Extractor struct {
	source exchange.OHLCVSource
	logger *slog.Logger
}

// NewExtractor creates an extractor over the given source. A nil logger
// falls back to slog.Default().
func NewExtractor(source exchange.OHLCVSource, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		source: source,
		logger: logger.With("component", "extractor", "exchange", source.Name()),
	}
}

// Exchange returns the name of the underlying source.
func (e *Extractor) Exchange() string { return e.source.Name() }

// Extract fetches raw candles for one symbol and timeframe. An upstream
// failure or an empty result returns an ExtractionError; a successful
// extraction always carries at least one candle.
func (e *Extractor) Extract(ctx context.Context, symbol, timeframe string, limit int) ([]models.RawCandle, error) {
	e.logger.Debug("extracting", "symbol", symbol, "timeframe", timeframe, "limit", limit)

	raw, err := e.source.FetchOHLCV(ctx, symbol, timeframe, limit)
	if err != nil {
		return nil, &ExtractionError{Symbol: symbol, Timeframe: timeframe, Err: err}
	}
	if len(raw) == 0 {
		return nil, &ExtractionError{
			Symbol:    symbol,
			Timeframe: timeframe,
			Err:       fmt.Errorf("no data returned"),
		}
	}

	e.logger.Debug("extracted", "symbol", symbol, "timeframe", timeframe, "count", len(raw))
	return raw, nil
}

// ExtractMany fetches candles for several symbols on one timeframe,
// isolating failures: a symbol whose fetch fails or comes back empty is
// recorded with an empty slice, and the remaining symbols still run.
// The returned map always has one entry per requested symbol.
func (e *Extractor) ExtractMany(ctx context.Context, symbols []string, timeframe string, limit int) map[string][]models.RawCandle {
	results := make(map[string][]models.RawCandle, len(symbols))

	for _, symbol := range symbols {
		raw, err := e.Extract(ctx, symbol, timeframe, limit)
		if err != nil {
			e.logger.Warn("extraction failed, recording empty result",
				"symbol", symbol, "timeframe", timeframe, "error", err)
			results[symbol] = []models.RawCandle{}
			continue
		}
		results[symbol] = raw
	}

	return results
}

// ExtractAll fetches candles for several symbols across several
// timeframes, returning a two-level timeframe to symbol mapping with
// the same isolation guarantees as ExtractMany.
func (e *Extractor) ExtractAll(ctx context.Context, symbols []string, timeframes []string, limit int) map[string]map[string][]models.RawCandle {
	results := make(map[string]map[string][]models.RawCandle, len(timeframes))
	for _, tf := range timeframes {
		results[tf] = e.ExtractMany(ctx, symbols, tf, limit)
	}
	return results
}
