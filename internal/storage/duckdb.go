package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/cryptoflow/go-crypto-etl/internal/models"
)

// DuckDBStore implements Store on DuckDB, the default analytical
// backend. The path can be ":memory:" for an in-memory database.
//
// DuckDB prefers a single writer; the pool is pinned to one connection.
type DuckDBStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// NewDuckDBStore opens a DuckDB database and creates the schema.
func NewDuckDBStore(ctx context.Context, path string, logger *slog.Logger) (*DuckDBStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, &StorageError{Operation: "open", Table: "", Err: err}
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &DuckDBStore{
		db:     db,
		path:   path,
		logger: logger.With("component", "duckdb_store"),
	}
	if err := s.initialize(ctx); err != nil {
		db.Close()
		return nil, err
	}

	s.logger.Info("duckdb store ready", "path", path)
	return s, nil
}

func (s *DuckDBStore) initialize(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS ohlcv (
			id VARCHAR PRIMARY KEY,
			timestamp TIMESTAMPTZ NOT NULL,
			symbol VARCHAR NOT NULL,
			timeframe VARCHAR NOT NULL,
			exchange VARCHAR NOT NULL,
			open DOUBLE NOT NULL CHECK (open > 0),
			high DOUBLE NOT NULL CHECK (high > 0),
			low DOUBLE NOT NULL CHECK (low > 0),
			close DOUBLE NOT NULL CHECK (close > 0),
			volume DOUBLE NOT NULL CHECK (volume >= 0),
			price_range DOUBLE NOT NULL,
			price_change DOUBLE NOT NULL,
			price_change_pct DOUBLE NOT NULL,
			date VARCHAR NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			CONSTRAINT ohlcv_high_low CHECK (high >= low),
			CONSTRAINT ohlcv_unique_candle UNIQUE (symbol, timeframe, timestamp, exchange)
		)`,
		`CREATE TABLE IF NOT EXISTS ticker_snapshots (
			id VARCHAR PRIMARY KEY,
			snapshot_time TIMESTAMPTZ NOT NULL,
			symbol VARCHAR NOT NULL,
			exchange VARCHAR NOT NULL,
			price DOUBLE NOT NULL,
			volume_24h DOUBLE,
			price_change_24h DOUBLE,
			price_change_pct_24h DOUBLE,
			high_24h DOUBLE,
			low_24h DOUBLE,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS global_market_snapshot (
			id VARCHAR PRIMARY KEY,
			timestamp TIMESTAMPTZ NOT NULL,
			active_cryptocurrencies INTEGER NOT NULL,
			markets INTEGER NOT NULL,
			market_cap_change_24h DOUBLE NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS global_market_cap (
			snapshot_id VARCHAR NOT NULL,
			currency VARCHAR NOT NULL,
			value DOUBLE NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS global_market_volume (
			snapshot_id VARCHAR NOT NULL,
			currency VARCHAR NOT NULL,
			value DOUBLE NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS global_market_dominance (
			snapshot_id VARCHAR NOT NULL,
			asset VARCHAR NOT NULL,
			percentage DOUBLE NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS top_cryptos (
			snapshot_id VARCHAR NOT NULL,
			rank INTEGER NOT NULL,
			crypto_id VARCHAR NOT NULL,
			symbol VARCHAR NOT NULL,
			name VARCHAR NOT NULL,
			market_cap DOUBLE NOT NULL,
			price DOUBLE NOT NULL,
			volume_24h DOUBLE NOT NULL,
			price_change_pct_24h DOUBLE NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ohlcv_lookup ON ohlcv (symbol, timeframe, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_ticker_snapshots_lookup ON ticker_snapshots (symbol, snapshot_time)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return &StorageError{Operation: "initialize", Table: "", Err: err}
		}
	}
	return nil
}

// InsertCandles implements CandleStore. The batch is written in one
// transaction; a unique-key conflict rolls it back and surfaces as
// ErrDuplicateKey.
func (s *DuckDBStore) InsertCandles(ctx context.Context, candles []models.Candle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, NewInsertError("ohlcv", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO ohlcv
		(id, timestamp, symbol, timeframe, exchange, open, high, low, close, volume,
		 price_range, price_change, price_change_pct, date, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, NewInsertError("ohlcv", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		_, err := stmt.ExecContext(ctx,
			c.ID, c.Timestamp, c.Symbol, c.Timeframe, c.Exchange,
			c.Open.InexactFloat64(), c.High.InexactFloat64(), c.Low.InexactFloat64(),
			c.Close.InexactFloat64(), c.Volume.InexactFloat64(),
			c.PriceRange.InexactFloat64(), c.PriceChange.InexactFloat64(),
			c.PriceChangePct.InexactFloat64(), c.Date, c.CreatedAt, c.UpdatedAt)
		if err != nil {
			if isDuplicateKey(err) {
				return 0, fmt.Errorf("insert candle %s %s: %w", c.Symbol, c.Timestamp, ErrDuplicateKey)
			}
			return 0, NewInsertError("ohlcv", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, NewInsertError("ohlcv", err)
	}
	return len(candles), nil
}

const candleColumns = `id, timestamp, symbol, timeframe, exchange, open, high, low, close,
	volume, price_range, price_change, price_change_pct, date, created_at, updated_at`

// LatestCandle implements CandleStore.
func (s *DuckDBStore) LatestCandle(ctx context.Context, symbol, timeframe, exchange string) (*models.Candle, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+candleColumns+` FROM ohlcv
		WHERE symbol = ? AND timeframe = ? AND exchange = ?
		ORDER BY timestamp DESC LIMIT 1`, symbol, timeframe, exchange)

	candle, err := scanCandle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, NewQueryError("ohlcv", err)
	}
	return candle, nil
}

// CandlesInRange implements CandleStore.
func (s *DuckDBStore) CandlesInRange(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]models.Candle, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+candleColumns+` FROM ohlcv
		WHERE symbol = ? AND timeframe = ? AND timestamp >= ? AND timestamp < ?
		ORDER BY timestamp ASC`, symbol, timeframe, from, to)
	if err != nil {
		return nil, NewQueryError("ohlcv", err)
	}
	defer rows.Close()

	var candles []models.Candle
	for rows.Next() {
		candle, err := scanCandle(rows)
		if err != nil {
			return nil, NewQueryError("ohlcv", err)
		}
		candles = append(candles, *candle)
	}
	return candles, rows.Err()
}

// InsertTickerSnapshots implements SnapshotStore.
func (s *DuckDBStore) InsertTickerSnapshots(ctx context.Context, snapshots []models.TickerSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return NewInsertError("ticker_snapshots", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO ticker_snapshots
		(id, snapshot_time, symbol, exchange, price, volume_24h, price_change_24h,
		 price_change_pct_24h, high_24h, low_24h, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return NewInsertError("ticker_snapshots", err)
	}
	defer stmt.Close()

	for _, snap := range snapshots {
		_, err := stmt.ExecContext(ctx,
			snap.ID, snap.SnapshotTime, snap.Symbol, snap.Exchange,
			snap.Price.InexactFloat64(),
			optionalFloat(snap.Volume24h), optionalFloat(snap.PriceChange24h),
			optionalFloat(snap.PriceChangePct24h), optionalFloat(snap.High24h),
			optionalFloat(snap.Low24h), snap.CreatedAt)
		if err != nil {
			return NewInsertError("ticker_snapshots", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return NewInsertError("ticker_snapshots", err)
	}
	return nil
}

// RecentTickerSnapshots implements SnapshotStore.
func (s *DuckDBStore) RecentTickerSnapshots(ctx context.Context, symbol string, limit int) ([]models.TickerSnapshot, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, snapshot_time, symbol, exchange, price,
		volume_24h, price_change_24h, price_change_pct_24h, high_24h, low_24h, created_at
		FROM ticker_snapshots WHERE symbol = ?
		ORDER BY snapshot_time DESC LIMIT ?`, symbol, limit)
	if err != nil {
		return nil, NewQueryError("ticker_snapshots", err)
	}
	defer rows.Close()

	var snapshots []models.TickerSnapshot
	for rows.Next() {
		var snap models.TickerSnapshot
		var price float64
		var volume, change, changePct, high, low sql.NullFloat64
		if err := rows.Scan(&snap.ID, &snap.SnapshotTime, &snap.Symbol, &snap.Exchange,
			&price, &volume, &change, &changePct, &high, &low, &snap.CreatedAt); err != nil {
			return nil, NewQueryError("ticker_snapshots", err)
		}
		snap.Price = floatDecimal(price)
		snap.Volume24h = nullableDecimal(volume)
		snap.PriceChange24h = nullableDecimal(change)
		snap.PriceChangePct24h = nullableDecimal(changePct)
		snap.High24h = nullableDecimal(high)
		snap.Low24h = nullableDecimal(low)
		snapshots = append(snapshots, snap)
	}
	return snapshots, rows.Err()
}

// InsertMarketSnapshot implements MarketStore. The whole bundle commits
// or rolls back together.
func (s *DuckDBStore) InsertMarketSnapshot(ctx context.Context, bundle *MarketSnapshotBundle) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return NewInsertError("global_market_snapshot", err)
	}
	defer tx.Rollback()

	snap := bundle.Snapshot
	if _, err := tx.ExecContext(ctx, `INSERT INTO global_market_snapshot
		(id, timestamp, active_cryptocurrencies, markets, market_cap_change_24h, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.Timestamp, snap.ActiveCryptocurrencies, snap.Markets,
		snap.MarketCapChange24h.InexactFloat64(), snap.CreatedAt); err != nil {
		return NewInsertError("global_market_snapshot", err)
	}

	for _, entry := range bundle.MarketCaps {
		if _, err := tx.ExecContext(ctx, `INSERT INTO global_market_cap (snapshot_id, currency, value) VALUES (?, ?, ?)`,
			entry.SnapshotID, entry.Currency, entry.Value.InexactFloat64()); err != nil {
			return NewInsertError("global_market_cap", err)
		}
	}
	for _, entry := range bundle.Volumes {
		if _, err := tx.ExecContext(ctx, `INSERT INTO global_market_volume (snapshot_id, currency, value) VALUES (?, ?, ?)`,
			entry.SnapshotID, entry.Currency, entry.Value.InexactFloat64()); err != nil {
			return NewInsertError("global_market_volume", err)
		}
	}
	for _, entry := range bundle.Dominance {
		if _, err := tx.ExecContext(ctx, `INSERT INTO global_market_dominance (snapshot_id, asset, percentage) VALUES (?, ?, ?)`,
			entry.SnapshotID, entry.Asset, entry.Percentage.InexactFloat64()); err != nil {
			return NewInsertError("global_market_dominance", err)
		}
	}
	for _, top := range bundle.TopCryptos {
		if _, err := tx.ExecContext(ctx, `INSERT INTO top_cryptos
			(snapshot_id, rank, crypto_id, symbol, name, market_cap, price, volume_24h, price_change_pct_24h)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			top.SnapshotID, top.Rank, top.CryptoID, top.Symbol, top.Name,
			top.MarketCap.InexactFloat64(), top.Price.InexactFloat64(),
			top.Volume24h.InexactFloat64(), top.PriceChangePct24h.InexactFloat64()); err != nil {
			return NewInsertError("top_cryptos", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return NewInsertError("global_market_snapshot", err)
	}
	return nil
}

// LatestMarketSnapshot implements MarketStore.
func (s *DuckDBStore) LatestMarketSnapshot(ctx context.Context) (*models.GlobalMarketSnapshot, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, timestamp, active_cryptocurrencies, markets,
		market_cap_change_24h, created_at
		FROM global_market_snapshot ORDER BY timestamp DESC LIMIT 1`)

	var snap models.GlobalMarketSnapshot
	var change float64
	err := row.Scan(&snap.ID, &snap.Timestamp, &snap.ActiveCryptocurrencies,
		&snap.Markets, &change, &snap.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, NewQueryError("global_market_snapshot", err)
	}
	snap.MarketCapChange24h = floatDecimal(change)
	return &snap, nil
}

// Ping implements Store.
func (s *DuckDBStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements Store.
func (s *DuckDBStore) Close() error {
	s.logger.Info("closing duckdb store", "path", s.path)
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCandle(row rowScanner) (*models.Candle, error) {
	var c models.Candle
	var open, high, low, closePrice, volume, priceRange, priceChange, priceChangePct float64
	if err := row.Scan(&c.ID, &c.Timestamp, &c.Symbol, &c.Timeframe, &c.Exchange,
		&open, &high, &low, &closePrice, &volume,
		&priceRange, &priceChange, &priceChangePct,
		&c.Date, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Open = floatDecimal(open)
	c.High = floatDecimal(high)
	c.Low = floatDecimal(low)
	c.Close = floatDecimal(closePrice)
	c.Volume = floatDecimal(volume)
	c.PriceRange = floatDecimal(priceRange)
	c.PriceChange = floatDecimal(priceChange)
	c.PriceChangePct = floatDecimal(priceChangePct)
	return &c, nil
}

// isDuplicateKey classifies driver errors that indicate a unique or
// primary key violation. DuckDB reports these as constraint errors with
// a "duplicate key" message.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "primary key constraint")
}
