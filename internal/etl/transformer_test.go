package etl

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptoflow/go-crypto-etl/internal/models"
	"github.com/cryptoflow/go-crypto-etl/internal/validator"
)

func newTransformer() *Transformer {
	return NewTransformer(validator.New(validator.DefaultConfig(), nil), "binance", nil)
}

func TestTransform(t *testing.T) {
	tr := newTransformer()

	t.Run("empty payload is rejected", func(t *testing.T) {
		_, err := tr.Transform(nil, "BTC/USDT", "1h")
		require.Error(t, err)

		var transformationErr *TransformationError
		require.ErrorAs(t, err, &transformationErr)
		assert.Contains(t, err.Error(), "no data to transform")
	})

	t.Run("rows get identity metadata and UTC timestamps", func(t *testing.T) {
		batch, err := tr.Transform(rawCandles(2), "BTC/USDT", "1h")
		require.NoError(t, err)
		require.Len(t, batch, 2)

		seen := map[string]bool{}
		for _, c := range batch {
			assert.NotEmpty(t, c.ID)
			assert.False(t, seen[c.ID], "row ids must be unique")
			seen[c.ID] = true

			assert.Equal(t, "BTC/USDT", c.Symbol)
			assert.Equal(t, "1h", c.Timeframe)
			assert.Equal(t, "binance", c.Exchange)
			assert.Equal(t, "2023-11-14", c.Date)
			assert.Equal(t, "UTC", c.Timestamp.Location().String())
		}
	})

	t.Run("enrichment is deterministic", func(t *testing.T) {
		batch, err := tr.Transform(rawCandles(1), "BTC/USDT", "1h")
		require.NoError(t, err)
		require.Len(t, batch, 1)

		c := batch[0]
		assert.Equal(t, "10", c.PriceRange.String())
		assert.Equal(t, "3", c.PriceChange.String())
		assert.InDelta(t, 3.157894736842105, c.PriceChangePct.InexactFloat64(), 1e-9)
	})

	t.Run("rows come back sorted by timestamp", func(t *testing.T) {
		raw := rawCandles(5)
		raw[0], raw[4] = raw[4], raw[0]
		raw[1], raw[3] = raw[3], raw[1]

		batch, err := tr.Transform(raw, "BTC/USDT", "1h")
		require.NoError(t, err)
		for i := 1; i < len(batch); i++ {
			assert.True(t, batch[i].Timestamp.After(batch[i-1].Timestamp))
		}
	})

	t.Run("validation failure carries at most three examples", func(t *testing.T) {
		raw := rawCandles(6)
		for i := range raw {
			raw[i].Open = decimal.NewFromInt(-1)
		}

		_, err := tr.Transform(raw, "BTC/USDT", "1h")
		require.Error(t, err)

		var transformationErr *TransformationError
		require.ErrorAs(t, err, &transformationErr)
		assert.Len(t, transformationErr.Examples, 3)
		assert.Equal(t, 3, transformationErr.Remaining)
		assert.Contains(t, err.Error(), "and 3 more errors")
	})

	t.Run("single invalid row fails the whole payload", func(t *testing.T) {
		raw := rawCandles(4)
		raw[2].High = decimal.NewFromInt(50) // below low of 90

		_, err := tr.Transform(raw, "BTC/USDT", "1h")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "high (50")
	})
}

func TestTransformBatch(t *testing.T) {
	tr := newTransformer()

	good := rawCandles(3)
	bad := rawCandles(2)
	bad[0].Close = decimal.Zero

	results := tr.TransformBatch(map[string][]models.RawCandle{
		"BTC/USDT": good,
		"ETH/USDT": bad,
		"SOL/USDT": {},
	}, "1h")

	require.Len(t, results, 3)
	assert.Len(t, results["BTC/USDT"], 3)
	assert.Nil(t, results["ETH/USDT"])
	assert.Nil(t, results["SOL/USDT"])
}
