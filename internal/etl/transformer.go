package etl

import (
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/cryptoflow/go-crypto-etl/internal/models"
	"github.com/cryptoflow/go-crypto-etl/internal/validator"
)

// maxErrorExamples bounds how many validation errors a transformation
// failure message carries; the rest are summarized as a count.
const maxErrorExamples = 3

// Transformer converts raw candle arrays into validated, enriched row
// batches ready for loading. The transform is a strict six-step
// sequence: tabulate, attach identity, convert timestamps, validate
// values, enrich, normalize.
type Transformer struct {
	validator *validator.Validator
	exchange  string
	logger    *slog.Logger
}

// NewTransformer creates a transformer stamping rows with the given
// exchange name. A nil logger falls back to slog.Default().
func NewTransformer(v *validator.Validator, exchangeName string, logger *slog.Logger) *Transformer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transformer{
		validator: v,
		exchange:  exchangeName,
		logger:    logger.With("component", "transformer", "exchange", exchangeName),
	}
}

// Transform converts one symbol/timeframe raw payload into a candle
// batch. An empty payload or a validation rejection returns a
// TransformationError; rows come back sorted ascending by timestamp
// with enrichment columns filled.
func (t *Transformer) Transform(raw []models.RawCandle, symbol, timeframe string) ([]models.Candle, error) {
	if len(raw) == 0 {
		return nil, &TransformationError{
			Symbol:    symbol,
			Timeframe: timeframe,
			Err:       errEmptyPayload,
		}
	}

	t.logger.Debug("transforming", "symbol", symbol, "timeframe", timeframe, "rows", len(raw))

	// Steps 1-3: tabulate, attach identity metadata, convert the raw
	// millisecond epochs to UTC instants with a derived calendar date.
	batch := make([]models.Candle, 0, len(raw))
	for _, r := range raw {
		ts := r.OpenTime()
		batch = append(batch, models.Candle{
			ID:        uuid.NewString(),
			Timestamp: ts,
			Date:      ts.Format(time.DateOnly),
			Symbol:    symbol,
			Timeframe: timeframe,
			Exchange:  t.exchange,
			Open:      r.Open,
			High:      r.High,
			Low:       r.Low,
			Close:     r.Close,
			Volume:    r.Volume,
		})
	}

	// Step 4: value validation, all-or-nothing.
	if ok, report := t.validator.ValidateValues(batch); !ok {
		examples := report.Errors
		remaining := 0
		if len(examples) > maxErrorExamples {
			remaining = len(examples) - maxErrorExamples
			examples = examples[:maxErrorExamples]
		}
		return nil, &TransformationError{
			Symbol:    symbol,
			Timeframe: timeframe,
			Examples:  examples,
			Remaining: remaining,
		}
	}

	// Step 5: enrichment.
	for i := range batch {
		c := &batch[i]
		c.PriceRange = c.Range()
		c.PriceChange = c.Change()
		pct, err := c.ChangePercent()
		if err != nil {
			return nil, &TransformationError{Symbol: symbol, Timeframe: timeframe, Err: err}
		}
		c.PriceChangePct = pct
	}

	// Step 6: normalize ordering.
	sort.Slice(batch, func(i, j int) bool {
		return batch[i].Timestamp.Before(batch[j].Timestamp)
	})

	t.logger.Debug("transformed", "symbol", symbol, "timeframe", timeframe, "rows", len(batch))
	return batch, nil
}

// TransformBatch transforms multiple symbols' payloads independently. A
// symbol whose transformation fails maps to nil; other symbols are
// unaffected. The returned map always has one entry per input symbol.
func (t *Transformer) TransformBatch(rawBatch map[string][]models.RawCandle, timeframe string) map[string][]models.Candle {
	results := make(map[string][]models.Candle, len(rawBatch))

	for symbol, raw := range rawBatch {
		batch, err := t.Transform(raw, symbol, timeframe)
		if err != nil {
			t.logger.Warn("transformation failed", "symbol", symbol, "timeframe", timeframe, "error", err)
			results[symbol] = nil
			continue
		}
		results[symbol] = batch
	}

	return results
}
