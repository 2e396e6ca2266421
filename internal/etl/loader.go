package etl

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cryptoflow/go-crypto-etl/internal/models"
	"github.com/cryptoflow/go-crypto-etl/internal/storage"
)

// defaultBatchSize is the sub-batch threshold when none is configured.
const defaultBatchSize = 1000

// Loader persists transformed candle batches. Large batches are split
// into sequential sub-batches; a duplicate-key conflict skips only the
// sub-batch it hit, counting zero rows for it. Rows lost that way are
// re-fetched on the next scheduled run since extraction windows overlap.
type Loader struct {
	store     storage.CandleStore
	batchSize int
	logger    *slog.Logger
}

// NewLoader creates a loader over the given store. A batchSize of zero
// or less falls back to 1000; a nil logger falls back to slog.Default().
func NewLoader(store storage.CandleStore, batchSize int, logger *slog.Logger) *Loader {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		store:     store,
		batchSize: batchSize,
		logger:    logger.With("component", "loader"),
	}
}

// Load persists one candle batch and returns the number of rows
// inserted. An empty batch is a no-op returning zero. Missing
// created_at/updated_at stamps are filled in. Duplicate-key conflicts
// are absorbed per sub-batch; any other storage failure returns a
// LoadingError.
func (l *Loader) Load(ctx context.Context, batch []models.Candle) (int, error) {
	if len(batch) == 0 {
		l.logger.Warn("attempted to load an empty batch")
		return 0, nil
	}

	now := time.Now().UTC()
	for i := range batch {
		if batch[i].CreatedAt.IsZero() {
			batch[i].CreatedAt = now
		}
		if batch[i].UpdatedAt.IsZero() {
			batch[i].UpdatedAt = now
		}
	}

	symbol, timeframe := batch[0].Symbol, batch[0].Timeframe
	total := 0

	for start := 0; start < len(batch); start += l.batchSize {
		end := min(start+l.batchSize, len(batch))
		sub := batch[start:end]

		inserted, err := l.store.InsertCandles(ctx, sub)
		switch {
		case err == nil:
			total += inserted
		case errors.Is(err, storage.ErrDuplicateKey):
			l.logger.Warn("duplicate key conflict, skipping sub-batch",
				"symbol", symbol, "timeframe", timeframe,
				"offset", start, "rows", len(sub))
		default:
			return total, &LoadingError{Symbol: symbol, Timeframe: timeframe, Err: err}
		}
	}

	l.logger.Info("batch loaded", "symbol", symbol, "timeframe", timeframe,
		"rows", len(batch), "inserted", total)
	return total, nil
}

// LoadBatch persists multiple symbols' batches independently, mapping
// each symbol to its inserted-row count. A nil batch or a failed load
// maps to zero; one symbol's failure never aborts the others.
func (l *Loader) LoadBatch(ctx context.Context, batches map[string][]models.Candle) map[string]int {
	results := make(map[string]int, len(batches))

	for symbol, batch := range batches {
		if batch == nil {
			results[symbol] = 0
			continue
		}
		inserted, err := l.Load(ctx, batch)
		if err != nil {
			l.logger.Error("load failed", "symbol", symbol, "error", err)
			results[symbol] = 0
			continue
		}
		results[symbol] = inserted
	}

	return results
}
