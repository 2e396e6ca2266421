package etl

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptoflow/go-crypto-etl/internal/models"
	"github.com/cryptoflow/go-crypto-etl/internal/storage"
)

// recordingStore captures InsertCandles calls and lets tests inject a
// failure for specific sub-batches by call index.
type recordingStore struct {
	calls    [][]models.Candle
	failWith map[int]error
}

func (s *recordingStore) InsertCandles(ctx context.Context, candles []models.Candle) (int, error) {
	idx := len(s.calls)
	s.calls = append(s.calls, candles)
	if err, ok := s.failWith[idx]; ok {
		return 0, err
	}
	return len(candles), nil
}

func (s *recordingStore) LatestCandle(ctx context.Context, symbol, timeframe, exchange string) (*models.Candle, error) {
	return nil, storage.ErrNotFound
}

func (s *recordingStore) CandlesInRange(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]models.Candle, error) {
	return nil, nil
}

func candleBatch(n int) []models.Candle {
	tr := newTransformer()
	raw := make([]models.RawCandle, 0, n)
	base := rawCandles(1)[0]
	for i := 0; i < n; i++ {
		c := base
		c.Timestamp = base.Timestamp + int64(i)*3600000
		raw = append(raw, c)
	}
	batch, err := tr.Transform(raw, "BTC/USDT", "1h")
	if err != nil {
		panic(fmt.Sprintf("building test batch: %v", err))
	}
	return batch
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("empty batch is a no-op", func(t *testing.T) {
		store := &recordingStore{}
		l := NewLoader(store, 500, nil)

		inserted, err := l.Load(ctx, nil)
		require.NoError(t, err)
		assert.Zero(t, inserted)
		assert.Empty(t, store.calls)
	})

	t.Run("timestamps are stamped before insert", func(t *testing.T) {
		store := &recordingStore{}
		l := NewLoader(store, 500, nil)

		batch := candleBatch(2)
		_, err := l.Load(ctx, batch)
		require.NoError(t, err)

		for _, c := range store.calls[0] {
			assert.False(t, c.CreatedAt.IsZero())
			assert.False(t, c.UpdatedAt.IsZero())
		}
	})

	t.Run("large batch splits into sub-batches", func(t *testing.T) {
		store := &recordingStore{}
		l := NewLoader(store, 500, nil)

		inserted, err := l.Load(ctx, candleBatch(1200))
		require.NoError(t, err)
		assert.Equal(t, 1200, inserted)
		require.Len(t, store.calls, 3)
		assert.Len(t, store.calls[0], 500)
		assert.Len(t, store.calls[1], 500)
		assert.Len(t, store.calls[2], 200)
	})

	t.Run("duplicate conflict skips only its sub-batch", func(t *testing.T) {
		store := &recordingStore{failWith: map[int]error{
			1: fmt.Errorf("insert: %w", storage.ErrDuplicateKey),
		}}
		l := NewLoader(store, 500, nil)

		inserted, err := l.Load(ctx, candleBatch(1200))
		require.NoError(t, err)
		assert.Equal(t, 700, inserted)
		assert.Len(t, store.calls, 3, "remaining sub-batches must still be attempted")
	})

	t.Run("non-duplicate failure raises LoadingError", func(t *testing.T) {
		store := &recordingStore{failWith: map[int]error{
			0: errors.New("disk full"),
		}}
		l := NewLoader(store, 500, nil)

		_, err := l.Load(ctx, candleBatch(10))
		require.Error(t, err)

		var loadingErr *LoadingError
		require.ErrorAs(t, err, &loadingErr)
		assert.Equal(t, "BTC/USDT", loadingErr.Symbol)
	})

	t.Run("zero batch size falls back to default", func(t *testing.T) {
		store := &recordingStore{}
		l := NewLoader(store, 0, nil)

		inserted, err := l.Load(ctx, candleBatch(1500))
		require.NoError(t, err)
		assert.Equal(t, 1500, inserted)
		require.Len(t, store.calls, 2)
		assert.Len(t, store.calls[0], 1000)
	})
}

func TestLoadBatch(t *testing.T) {
	ctx := context.Background()
	store := &recordingStore{failWith: map[int]error{
		1: errors.New("connection lost"),
	}}
	l := NewLoader(store, 500, nil)

	// Map iteration order is random; load ETH separately so the failure
	// lands on a known symbol.
	okResults := l.LoadBatch(ctx, map[string][]models.Candle{"BTC/USDT": candleBatch(5)})
	failResults := l.LoadBatch(ctx, map[string][]models.Candle{"ETH/USDT": candleBatch(5)})
	nilResults := l.LoadBatch(ctx, map[string][]models.Candle{"SOL/USDT": nil})

	assert.Equal(t, 5, okResults["BTC/USDT"])
	assert.Equal(t, 0, failResults["ETH/USDT"])
	assert.Equal(t, 0, nilResults["SOL/USDT"])
}
