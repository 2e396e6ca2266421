package validator

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptoflow/go-crypto-etl/internal/models"
)

func newCandle(ts time.Time, open, high, low, close, volume float64) models.Candle {
	return models.Candle{
		Timestamp: ts,
		Symbol:    "BTC/USDT",
		Timeframe: "1h",
		Exchange:  "binance",
		Open:      decimal.NewFromFloat(open),
		High:      decimal.NewFromFloat(high),
		Low:       decimal.NewFromFloat(low),
		Close:     decimal.NewFromFloat(close),
		Volume:    decimal.NewFromFloat(volume),
	}
}

func hourlyBatch(start time.Time, n int) []models.Candle {
	batch := make([]models.Candle, 0, n)
	for i := 0; i < n; i++ {
		batch = append(batch, newCandle(start.Add(time.Duration(i)*time.Hour), 100, 110, 90, 105, 1000))
	}
	return batch
}

func TestValidateStructure(t *testing.T) {
	v := New(DefaultConfig(), nil)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("empty batch rejected", func(t *testing.T) {
		ok, report := v.ValidateStructure(nil)
		assert.False(t, ok)
		require.Len(t, report.Errors, 1)
		assert.Contains(t, report.Errors[0], "empty batch")
	})

	t.Run("missing identity fields rejected", func(t *testing.T) {
		c := newCandle(base, 100, 110, 90, 105, 1000)
		c.Symbol = ""
		ok, report := v.ValidateStructure([]models.Candle{c})
		assert.False(t, ok)
		assert.Contains(t, report.Errors[0], "missing symbol")
	})

	t.Run("complete batch accepted", func(t *testing.T) {
		ok, report := v.ValidateStructure(hourlyBatch(base, 3))
		assert.True(t, ok)
		assert.Empty(t, report.Errors)
	})
}

func TestValidateValues(t *testing.T) {
	v := New(DefaultConfig(), nil)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("clean batch passes", func(t *testing.T) {
		ok, report := v.ValidateValues(hourlyBatch(base, 5))
		assert.True(t, ok)
		assert.Equal(t, 5, report.TotalRows)
		assert.Equal(t, 5, report.ValidRows)
		assert.Equal(t, 1.0, report.ValidityRate)
		assert.Empty(t, report.Errors)
	})

	t.Run("high below low fails with both values in message", func(t *testing.T) {
		batch := []models.Candle{newCandle(base, 100, 95, 98, 101, 1)}
		ok, report := v.ValidateValues(batch)
		assert.False(t, ok)
		require.Len(t, report.Errors, 1)
		assert.Contains(t, report.Errors[0], "high (95")
		assert.Contains(t, report.Errors[0], "low (98")
	})

	t.Run("one bad row fails the whole batch", func(t *testing.T) {
		batch := hourlyBatch(base, 4)
		batch[2].Open = decimal.NewFromInt(-5)
		ok, report := v.ValidateValues(batch)
		assert.False(t, ok)
		assert.Equal(t, 3, report.ValidRows)
		assert.Equal(t, 4, report.TotalRows)
		assert.NotEmpty(t, report.Errors)
	})

	t.Run("negative volume is an error", func(t *testing.T) {
		batch := hourlyBatch(base, 1)
		batch[0].Volume = decimal.NewFromInt(-1)
		ok, report := v.ValidateValues(batch)
		assert.False(t, ok)
		assert.Contains(t, report.Errors[0], "volume cannot be negative")
	})

	t.Run("tiny price warns but stays valid", func(t *testing.T) {
		batch := []models.Candle{newCandle(base, 0.001, 0.002, 0.0005, 0.0015, 10)}
		ok, report := v.ValidateValues(batch)
		assert.True(t, ok)
		assert.Equal(t, 1, report.ValidRows)
		assert.NotEmpty(t, report.Warnings)
	})

	t.Run("huge volume warns but stays valid", func(t *testing.T) {
		batch := hourlyBatch(base, 1)
		batch[0].Volume = decimal.NewFromFloat(2e12)
		ok, report := v.ValidateValues(batch)
		assert.True(t, ok)
		assert.NotEmpty(t, report.Warnings)
	})

	t.Run("validity invariant holds across mixed batches", func(t *testing.T) {
		for bad := 0; bad <= 3; bad++ {
			batch := hourlyBatch(base, 3)
			for i := 0; i < bad; i++ {
				batch[i].Close = decimal.Zero
			}
			ok, report := v.ValidateValues(batch)
			assert.Equal(t, report.ValidRows == report.TotalRows, ok, "bad=%d", bad)
		}
	})
}

func TestValidateTemporalConsistency(t *testing.T) {
	v := New(DefaultConfig(), nil)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("regular series has no gaps", func(t *testing.T) {
		ok, report := v.ValidateTemporalConsistency(hourlyBatch(base, 10))
		assert.True(t, ok)
		assert.True(t, report.IsSorted)
		assert.False(t, report.HasGaps)
		assert.Equal(t, 9*time.Hour, report.TimeRange)
	})

	t.Run("unsorted series fails", func(t *testing.T) {
		batch := hourlyBatch(base, 3)
		batch[0], batch[2] = batch[2], batch[0]
		ok, report := v.ValidateTemporalConsistency(batch)
		assert.False(t, ok)
		assert.False(t, report.IsSorted)
	})

	t.Run("delta above twice the median flags a gap", func(t *testing.T) {
		batch := hourlyBatch(base, 6)
		// Shift the tail rows three hours later so one delta becomes 4h
		// against a 1h median.
		for i := 3; i < len(batch); i++ {
			batch[i].Timestamp = batch[i].Timestamp.Add(3 * time.Hour)
		}
		ok, report := v.ValidateTemporalConsistency(batch)
		assert.False(t, ok)
		assert.True(t, report.HasGaps)
		assert.Equal(t, 1, report.GapCount)
		require.Len(t, report.Gaps, 1)
		assert.Equal(t, (4 * time.Hour).Seconds(), report.Gaps[0])
	})

	t.Run("empty batch fails", func(t *testing.T) {
		ok, _ := v.ValidateTemporalConsistency(nil)
		assert.False(t, ok)
	})
}

func TestValidateCompleteness(t *testing.T) {
	v := New(DefaultConfig(), nil)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("no expectation means complete", func(t *testing.T) {
		report := v.ValidateCompleteness(hourlyBatch(base, 3), 0)
		assert.Equal(t, 1.0, report.CompletenessRate)
		assert.False(t, report.MissingData)
	})

	t.Run("short batch reports missing rows", func(t *testing.T) {
		report := v.ValidateCompleteness(hourlyBatch(base, 75), 100)
		assert.Equal(t, 0.75, report.CompletenessRate)
		assert.True(t, report.MissingData)
		assert.Equal(t, 25, report.MissingCount)
	})
}

func TestQualityScore(t *testing.T) {
	mkSummary := func(errs, gaps int, completeness float64) *Summary {
		errList := make([]string, errs)
		for i := range errList {
			errList[i] = fmt.Sprintf("error %d", i)
		}
		return &Summary{
			Values:   &ValueReport{Errors: errList},
			Temporal: &ConsistencyReport{HasGaps: gaps > 0, GapCount: gaps},
			Completeness: &CompletenessReport{
				CompletenessRate: completeness,
				MissingData:      completeness < 1.0,
			},
		}
	}

	t.Run("perfect batch scores 1", func(t *testing.T) {
		assert.Equal(t, 1.0, QualityScore(mkSummary(0, 0, 1.0)))
	})

	t.Run("penalties are capped", func(t *testing.T) {
		assert.InDelta(t, 0.5, QualityScore(mkSummary(100, 0, 1.0)), 1e-9)
		assert.InDelta(t, 0.7, QualityScore(mkSummary(0, 100, 1.0)), 1e-9)
		assert.GreaterOrEqual(t, QualityScore(mkSummary(100, 100, 0.0)), 0.0)
	})

	t.Run("more errors never raise the score", func(t *testing.T) {
		prev := 1.1
		for errs := 0; errs <= 80; errs += 5 {
			score := QualityScore(mkSummary(errs, 3, 0.9))
			assert.LessOrEqual(t, score, prev, "errs=%d", errs)
			prev = score
		}
	})

	t.Run("score stays within bounds", func(t *testing.T) {
		for _, s := range []*Summary{
			mkSummary(0, 0, 1.0),
			mkSummary(500, 500, 0.0),
			mkSummary(10, 0, 0.5),
		} {
			score := QualityScore(s)
			assert.GreaterOrEqual(t, score, 0.0)
			assert.LessOrEqual(t, score, 1.0)
		}
	})
}

func TestSummarize(t *testing.T) {
	v := New(DefaultConfig(), nil)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("clean batch is valid with full score", func(t *testing.T) {
		summary := v.Summarize(hourlyBatch(base, 10), 10)
		assert.True(t, summary.IsValid)
		assert.Equal(t, 1.0, summary.QualityScore)
		assert.Equal(t, 10, summary.RowCount)
	})

	t.Run("value errors invalidate and lower the score", func(t *testing.T) {
		batch := hourlyBatch(base, 10)
		batch[4].High = decimal.NewFromInt(-1)
		summary := v.Summarize(batch, 10)
		assert.False(t, summary.IsValid)
		assert.Less(t, summary.QualityScore, 1.0)
	})
}
