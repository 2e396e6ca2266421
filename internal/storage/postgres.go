package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/cryptoflow/go-crypto-etl/internal/models"
)

// PostgresStore implements Store on Postgres via GORM. It serves
// deployments that want a shared relational backend instead of the
// embedded DuckDB file.
type PostgresStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Row types carry the GORM schema mapping; the exported model structs
// stay free of ORM concerns.

type candleRow struct {
	ID             string          `gorm:"primaryKey"`
	Timestamp      time.Time       `gorm:"not null;uniqueIndex:idx_ohlcv_candle,priority:3"`
	Symbol         string          `gorm:"not null;uniqueIndex:idx_ohlcv_candle,priority:1"`
	Timeframe      string          `gorm:"not null;uniqueIndex:idx_ohlcv_candle,priority:2"`
	Exchange       string          `gorm:"not null;uniqueIndex:idx_ohlcv_candle,priority:4"`
	Open           decimal.Decimal `gorm:"type:numeric;not null"`
	High           decimal.Decimal `gorm:"type:numeric;not null"`
	Low            decimal.Decimal `gorm:"type:numeric;not null"`
	Close          decimal.Decimal `gorm:"type:numeric;not null"`
	Volume         decimal.Decimal `gorm:"type:numeric;not null"`
	PriceRange     decimal.Decimal `gorm:"type:numeric;not null"`
	PriceChange    decimal.Decimal `gorm:"type:numeric;not null"`
	PriceChangePct decimal.Decimal `gorm:"type:numeric;not null"`
	Date           string          `gorm:"not null"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (candleRow) TableName() string { return "ohlcv" }

type tickerSnapshotRow struct {
	ID                string           `gorm:"primaryKey"`
	SnapshotTime      time.Time        `gorm:"not null;index:idx_ticker_lookup,priority:2"`
	Symbol            string           `gorm:"not null;index:idx_ticker_lookup,priority:1"`
	Exchange          string           `gorm:"not null"`
	Price             decimal.Decimal  `gorm:"type:numeric;not null"`
	Volume24h         *decimal.Decimal `gorm:"type:numeric"`
	PriceChange24h    *decimal.Decimal `gorm:"type:numeric"`
	PriceChangePct24h *decimal.Decimal `gorm:"type:numeric"`
	High24h           *decimal.Decimal `gorm:"type:numeric"`
	Low24h            *decimal.Decimal `gorm:"type:numeric"`
	CreatedAt         time.Time
}

func (tickerSnapshotRow) TableName() string { return "ticker_snapshots" }

type globalMarketSnapshotRow struct {
	ID                     string          `gorm:"primaryKey"`
	Timestamp              time.Time       `gorm:"not null;index"`
	ActiveCryptocurrencies int             `gorm:"not null"`
	Markets                int             `gorm:"not null"`
	MarketCapChange24h     decimal.Decimal `gorm:"type:numeric;not null"`
	CreatedAt              time.Time
}

func (globalMarketSnapshotRow) TableName() string { return "global_market_snapshot" }

type marketCapRow struct {
	SnapshotID string          `gorm:"not null;index"`
	Currency   string          `gorm:"not null"`
	Value      decimal.Decimal `gorm:"type:numeric;not null"`
}

func (marketCapRow) TableName() string { return "global_market_cap" }

type marketVolumeRow struct {
	SnapshotID string          `gorm:"not null;index"`
	Currency   string          `gorm:"not null"`
	Value      decimal.Decimal `gorm:"type:numeric;not null"`
}

func (marketVolumeRow) TableName() string { return "global_market_volume" }

type dominanceRow struct {
	SnapshotID string          `gorm:"not null;index"`
	Asset      string          `gorm:"not null"`
	Percentage decimal.Decimal `gorm:"type:numeric;not null"`
}

func (dominanceRow) TableName() string { return "global_market_dominance" }

type topCryptoRow struct {
	SnapshotID        string          `gorm:"not null;index"`
	Rank              int             `gorm:"not null"`
	CryptoID          string          `gorm:"not null"`
	Symbol            string          `gorm:"not null"`
	Name              string          `gorm:"not null"`
	MarketCap         decimal.Decimal `gorm:"type:numeric;not null"`
	Price             decimal.Decimal `gorm:"type:numeric;not null"`
	Volume24h         decimal.Decimal `gorm:"type:numeric;not null"`
	PriceChangePct24h decimal.Decimal `gorm:"type:numeric;not null"`
}

func (topCryptoRow) TableName() string { return "top_cryptos" }

// NewPostgresStore connects to Postgres and migrates the schema.
// TranslateError is enabled so unique violations surface uniformly as
// ErrDuplicateKey, keeping the skip-or-fail decision in the loader.
func NewPostgresStore(dsn string, logger *slog.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, &StorageError{Operation: "open", Table: "", Err: err}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, &StorageError{Operation: "open", Table: "", Err: err}
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(25)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := db.AutoMigrate(
		&candleRow{}, &tickerSnapshotRow{}, &globalMarketSnapshotRow{},
		&marketCapRow{}, &marketVolumeRow{}, &dominanceRow{}, &topCryptoRow{},
	); err != nil {
		return nil, &StorageError{Operation: "migrate", Table: "", Err: err}
	}

	s := &PostgresStore{
		db:     db,
		logger: logger.With("component", "postgres_store"),
	}
	s.logger.Info("postgres store ready")
	return s, nil
}

// InsertCandles implements CandleStore.
func (s *PostgresStore) InsertCandles(ctx context.Context, candles []models.Candle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}

	rows := make([]candleRow, 0, len(candles))
	for _, c := range candles {
		rows = append(rows, candleRow{
			ID: c.ID, Timestamp: c.Timestamp, Symbol: c.Symbol,
			Timeframe: c.Timeframe, Exchange: c.Exchange,
			Open: c.Open, High: c.High, Low: c.Low, Close: c.Close,
			Volume: c.Volume, PriceRange: c.PriceRange,
			PriceChange: c.PriceChange, PriceChangePct: c.PriceChangePct,
			Date: c.Date, CreatedAt: c.CreatedAt, UpdatedAt: c.UpdatedAt,
		})
	}

	err := s.db.WithContext(ctx).Create(&rows).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return 0, fmt.Errorf("insert candles: %w", ErrDuplicateKey)
		}
		return 0, NewInsertError("ohlcv", err)
	}
	return len(rows), nil
}

// LatestCandle implements CandleStore.
func (s *PostgresStore) LatestCandle(ctx context.Context, symbol, timeframe, exchange string) (*models.Candle, error) {
	var row candleRow
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND timeframe = ? AND exchange = ?", symbol, timeframe, exchange).
		Order("timestamp DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, NewQueryError("ohlcv", err)
	}
	candle := rowToCandle(row)
	return &candle, nil
}

// CandlesInRange implements CandleStore.
func (s *PostgresStore) CandlesInRange(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]models.Candle, error) {
	var rows []candleRow
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND timeframe = ? AND timestamp >= ? AND timestamp < ?", symbol, timeframe, from, to).
		Order("timestamp ASC").
		Find(&rows).Error
	if err != nil {
		return nil, NewQueryError("ohlcv", err)
	}

	candles := make([]models.Candle, 0, len(rows))
	for _, row := range rows {
		candles = append(candles, rowToCandle(row))
	}
	return candles, nil
}

// InsertTickerSnapshots implements SnapshotStore.
func (s *PostgresStore) InsertTickerSnapshots(ctx context.Context, snapshots []models.TickerSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	rows := make([]tickerSnapshotRow, 0, len(snapshots))
	for _, snap := range snapshots {
		rows = append(rows, tickerSnapshotRow{
			ID: snap.ID, SnapshotTime: snap.SnapshotTime, Symbol: snap.Symbol,
			Exchange: snap.Exchange, Price: snap.Price,
			Volume24h: snap.Volume24h, PriceChange24h: snap.PriceChange24h,
			PriceChangePct24h: snap.PriceChangePct24h,
			High24h:           snap.High24h, Low24h: snap.Low24h,
			CreatedAt: snap.CreatedAt,
		})
	}

	if err := s.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return NewInsertError("ticker_snapshots", err)
	}
	return nil
}

// RecentTickerSnapshots implements SnapshotStore.
func (s *PostgresStore) RecentTickerSnapshots(ctx context.Context, symbol string, limit int) ([]models.TickerSnapshot, error) {
	if limit <= 0 {
		limit = 10
	}

	var rows []tickerSnapshotRow
	err := s.db.WithContext(ctx).
		Where("symbol = ?", symbol).
		Order("snapshot_time DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, NewQueryError("ticker_snapshots", err)
	}

	snapshots := make([]models.TickerSnapshot, 0, len(rows))
	for _, row := range rows {
		snapshots = append(snapshots, models.TickerSnapshot{
			ID: row.ID, SnapshotTime: row.SnapshotTime, Symbol: row.Symbol,
			Exchange: row.Exchange, Price: row.Price,
			Volume24h: row.Volume24h, PriceChange24h: row.PriceChange24h,
			PriceChangePct24h: row.PriceChangePct24h,
			High24h:           row.High24h, Low24h: row.Low24h,
			CreatedAt: row.CreatedAt,
		})
	}
	return snapshots, nil
}

// InsertMarketSnapshot implements MarketStore.
func (s *PostgresStore) InsertMarketSnapshot(ctx context.Context, bundle *MarketSnapshotBundle) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		snap := bundle.Snapshot
		if err := tx.Create(&globalMarketSnapshotRow{
			ID: snap.ID, Timestamp: snap.Timestamp,
			ActiveCryptocurrencies: snap.ActiveCryptocurrencies,
			Markets:                snap.Markets,
			MarketCapChange24h:     snap.MarketCapChange24h,
			CreatedAt:              snap.CreatedAt,
		}).Error; err != nil {
			return NewInsertError("global_market_snapshot", err)
		}

		for _, entry := range bundle.MarketCaps {
			if err := tx.Create(&marketCapRow{SnapshotID: entry.SnapshotID, Currency: entry.Currency, Value: entry.Value}).Error; err != nil {
				return NewInsertError("global_market_cap", err)
			}
		}
		for _, entry := range bundle.Volumes {
			if err := tx.Create(&marketVolumeRow{SnapshotID: entry.SnapshotID, Currency: entry.Currency, Value: entry.Value}).Error; err != nil {
				return NewInsertError("global_market_volume", err)
			}
		}
		for _, entry := range bundle.Dominance {
			if err := tx.Create(&dominanceRow{SnapshotID: entry.SnapshotID, Asset: entry.Asset, Percentage: entry.Percentage}).Error; err != nil {
				return NewInsertError("global_market_dominance", err)
			}
		}
		for _, top := range bundle.TopCryptos {
			if err := tx.Create(&topCryptoRow{
				SnapshotID: top.SnapshotID, Rank: top.Rank, CryptoID: top.CryptoID,
				Symbol: top.Symbol, Name: top.Name, MarketCap: top.MarketCap,
				Price: top.Price, Volume24h: top.Volume24h,
				PriceChangePct24h: top.PriceChangePct24h,
			}).Error; err != nil {
				return NewInsertError("top_cryptos", err)
			}
		}
		return nil
	})
}

// LatestMarketSnapshot implements MarketStore.
func (s *PostgresStore) LatestMarketSnapshot(ctx context.Context) (*models.GlobalMarketSnapshot, error) {
	var row globalMarketSnapshotRow
	err := s.db.WithContext(ctx).Order("timestamp DESC").First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, NewQueryError("global_market_snapshot", err)
	}

	return &models.GlobalMarketSnapshot{
		ID: row.ID, Timestamp: row.Timestamp,
		ActiveCryptocurrencies: row.ActiveCryptocurrencies,
		Markets:                row.Markets,
		MarketCapChange24h:     row.MarketCapChange24h,
		CreatedAt:              row.CreatedAt,
	}, nil
}

// Ping implements Store.
func (s *PostgresStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	s.logger.Info("closing postgres store")
	return sqlDB.Close()
}

func rowToCandle(row candleRow) models.Candle {
	return models.Candle{
		ID: row.ID, Timestamp: row.Timestamp, Symbol: row.Symbol,
		Timeframe: row.Timeframe, Exchange: row.Exchange,
		Open: row.Open, High: row.High, Low: row.Low, Close: row.Close,
		Volume: row.Volume, PriceRange: row.PriceRange,
		PriceChange: row.PriceChange, PriceChangePct: row.PriceChangePct,
		Date: row.Date, CreatedAt: row.CreatedAt, UpdatedAt: row.UpdatedAt,
	}
}
