// Package storage defines the persistence interfaces for candles, ticker
// snapshots, and the aggregate market snapshot family, plus the backends
// implementing them (DuckDB, Postgres, in-memory).
//
// Duplicate candle rows are an expected condition, not a failure: every
// backend maps its unique-constraint violation onto ErrDuplicateKey so
// callers can absorb it with errors.Is.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cryptoflow/go-crypto-etl/internal/models"
)

// ErrDuplicateKey signals a unique-constraint violation on insert. The
// loader treats it as a skip, never as a pipeline failure.
var ErrDuplicateKey = errors.New("duplicate key")

// ErrNotFound signals that a lookup matched no rows.
var ErrNotFound = errors.New("not found")

// CandleStore handles OHLCV candle persistence and lookups.
type CandleStore interface {
	// InsertCandles persists a batch of candles in one transaction and
	// returns the number of rows written. A unique-key conflict rolls
	// the batch back and returns an error matching ErrDuplicateKey.
	InsertCandles(ctx context.Context, candles []models.Candle) (int, error)

	// LatestCandle returns the most recent candle for the triple, or
	// ErrNotFound when none exists.
	LatestCandle(ctx context.Context, symbol, timeframe, exchange string) (*models.Candle, error)

	// CandlesInRange returns candles with from <= timestamp < to,
	// ordered ascending by timestamp.
	CandlesInRange(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]models.Candle, error)
}

// SnapshotStore handles ticker snapshot persistence.
type SnapshotStore interface {
	// InsertTickerSnapshots persists a flush of snapshots in one
	// transaction.
	InsertTickerSnapshots(ctx context.Context, snapshots []models.TickerSnapshot) error

	// RecentTickerSnapshots returns the newest snapshots for a symbol,
	// most recent first.
	RecentTickerSnapshots(ctx context.Context, symbol string, limit int) ([]models.TickerSnapshot, error)
}

// MarketSnapshotBundle groups one global market snapshot with its
// per-currency and per-asset breakdown rows. Stored atomically.
type MarketSnapshotBundle struct {
	Snapshot   models.GlobalMarketSnapshot
	MarketCaps []models.MarketCapEntry
	Volumes    []models.MarketVolumeEntry
	Dominance  []models.DominanceEntry
	TopCryptos []models.TopCrypto
}

// MarketStore handles the aggregate market snapshot family.
type MarketStore interface {
	// InsertMarketSnapshot persists a bundle in one transaction.
	InsertMarketSnapshot(ctx context.Context, bundle *MarketSnapshotBundle) error

	// LatestMarketSnapshot returns the most recent global snapshot, or
	// ErrNotFound when none exists.
	LatestMarketSnapshot(ctx context.Context) (*models.GlobalMarketSnapshot, error)
}

// Store is the full persistence surface a backend provides.
type Store interface {
	CandleStore
	SnapshotStore
	MarketStore

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error
}

// StorageError wraps a backend failure with the operation and table it
// occurred on.
type StorageError struct {
	Operation string
	Table     string
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s on %s: %v", e.Operation, e.Table, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewInsertError wraps an insert failure.
func NewInsertError(table string, err error) *StorageError {
	return &StorageError{Operation: "insert", Table: table, Err: err}
}

// NewQueryError wraps a query failure.
func NewQueryError(table string, err error) *StorageError {
	return &StorageError{Operation: "query", Table: table, Err: err}
}
