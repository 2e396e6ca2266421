// Package validator implements the data-quality rule engine for OHLCV
// candle batches: structural checks, per-row value validation, temporal
// gap detection, completeness accounting, and an aggregate quality score.
//
// Validation never fails on malformed-but-present data; it reports. A
// batch is accepted for loading only when every row is free of errors
// (warnings do not disqualify a row).
package validator

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cryptoflow/go-crypto-etl/internal/models"
)

// Config carries the tunable validation thresholds. Values below
// MinPrice or above MaxVolume produce warnings, not errors. A time
// delta larger than GapFactor times the median delta counts as a gap.
type Config struct {
	MinPrice  decimal.Decimal `json:"min_price"`
	MaxVolume decimal.Decimal `json:"max_volume"`
	GapFactor float64         `json:"gap_factor"`
}

// DefaultConfig returns the standard thresholds: min price 0.01,
// max volume 1e12, gap factor 2.
func DefaultConfig() Config {
	return Config{
		MinPrice:  decimal.NewFromFloat(0.01),
		MaxVolume: decimal.NewFromFloat(1e12),
		GapFactor: 2.0,
	}
}

// StructureReport is the outcome of the structural pre-check.
type StructureReport struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// ValueReport is the outcome of per-row value validation. ValidityRate
// is ValidRows/TotalRows; the batch passes only when they are equal.
type ValueReport struct {
	TotalRows    int      `json:"total_rows"`
	ValidRows    int      `json:"valid_rows"`
	Errors       []string `json:"errors"`
	Warnings     []string `json:"warnings"`
	ValidityRate float64  `json:"validity_rate"`
}

// ConsistencyReport is the outcome of temporal validation. Gaps holds
// the flagged inter-row deltas in seconds.
type ConsistencyReport struct {
	TotalRows int           `json:"total_rows"`
	IsSorted  bool          `json:"is_sorted"`
	HasGaps   bool          `json:"has_gaps"`
	GapCount  int           `json:"gap_count"`
	Gaps      []float64     `json:"gaps"`
	TimeRange time.Duration `json:"time_range"`
}

// CompletenessReport compares the actual row count against an expected
// count, when one is known.
type CompletenessReport struct {
	ActualCount      int     `json:"actual_count"`
	ExpectedCount    int     `json:"expected_count"`
	CompletenessRate float64 `json:"completeness_rate"`
	MissingData      bool    `json:"missing_data"`
	MissingCount     int     `json:"missing_count"`
}

// Summary aggregates the individual reports for one batch and carries
// the overall quality score in [0, 1].
type Summary struct {
	Timestamp    time.Time           `json:"timestamp"`
	RowCount     int                 `json:"row_count"`
	Values       *ValueReport        `json:"value_validation"`
	Temporal     *ConsistencyReport  `json:"temporal_validation"`
	Completeness *CompletenessReport `json:"completeness_validation"`
	IsValid      bool                `json:"is_valid"`
	QualityScore float64             `json:"quality_score"`
}

// Validator is the stateless rule engine. Safe for concurrent use.
type Validator struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a validator with the given thresholds. A nil logger falls
// back to slog.Default().
func New(cfg Config, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		cfg:    cfg,
		logger: logger.With("component", "validator"),
	}
}

// ValidateStructure checks that the batch is non-empty and that every
// row carries the required identity fields and a usable timestamp. An
// incomplete batch is rejected whole.
func (v *Validator) ValidateStructure(batch []models.Candle) (bool, *StructureReport) {
	report := &StructureReport{Errors: []string{}, Warnings: []string{}}

	if len(batch) == 0 {
		report.Errors = append(report.Errors, "empty batch")
		return false, report
	}

	for i, c := range batch {
		if c.Timestamp.IsZero() {
			report.Errors = append(report.Errors, fmt.Sprintf("row %d: missing timestamp", i))
		}
		if c.Symbol == "" {
			report.Errors = append(report.Errors, fmt.Sprintf("row %d: missing symbol", i))
		}
		if c.Timeframe == "" {
			report.Errors = append(report.Errors, fmt.Sprintf("row %d: missing timeframe", i))
		}
	}

	return len(report.Errors) == 0, report
}

// ValidateValues runs the per-row value checks: price fields strictly
// positive (below MinPrice warns), volume non-negative (above MaxVolume
// warns), high >= low, and non-empty symbol/timeframe. A row is valid
// only when it produced zero errors; the batch passes only when every
// row is valid.
func (v *Validator) ValidateValues(batch []models.Candle) (bool, *ValueReport) {
	report := &ValueReport{
		TotalRows: len(batch),
		Errors:    []string{},
		Warnings:  []string{},
	}

	if ok, structure := v.ValidateStructure(batch); !ok {
		report.Errors = append(report.Errors, structure.Errors...)
		return false, report
	}

	for _, c := range batch {
		rowErrors, rowWarnings := v.validateRow(c)
		if len(rowErrors) == 0 {
			report.ValidRows++
			report.Warnings = append(report.Warnings, rowWarnings...)
		} else {
			report.Errors = append(report.Errors, rowErrors...)
		}
	}

	report.ValidityRate = float64(report.ValidRows) / float64(report.TotalRows)
	return report.ValidRows == report.TotalRows, report
}

func (v *Validator) validateRow(c models.Candle) (errs, warns []string) {
	for _, p := range []struct {
		name  string
		value decimal.Decimal
	}{
		{"open", c.Open},
		{"high", c.High},
		{"low", c.Low},
		{"close", c.Close},
	} {
		switch {
		case p.value.LessThanOrEqual(decimal.Zero):
			errs = append(errs, fmt.Sprintf("%s must be positive: %s", p.name, p.value))
		case p.value.LessThan(v.cfg.MinPrice):
			warns = append(warns, fmt.Sprintf("%s very low: %s", p.name, p.value))
		}
	}

	switch {
	case c.Volume.LessThan(decimal.Zero):
		errs = append(errs, fmt.Sprintf("volume cannot be negative: %s", c.Volume))
	case c.Volume.GreaterThan(v.cfg.MaxVolume):
		warns = append(warns, fmt.Sprintf("volume very high: %s", c.Volume))
	}

	// Cross-field and metadata checks only apply to rows whose
	// individual fields already passed.
	if len(errs) == 0 {
		if c.High.LessThan(c.Low) {
			errs = append(errs, fmt.Sprintf("high (%s) < low (%s)", c.High, c.Low))
		}
		if c.Symbol == "" {
			errs = append(errs, "invalid symbol")
		}
		if c.Timeframe == "" {
			errs = append(errs, "invalid timeframe")
		}
	}

	return errs, warns
}

// ValidateTemporalConsistency checks that timestamps are sorted
// ascending and flags inter-row deltas exceeding GapFactor times the
// median delta. Gaps make the temporal check fail but are informational
// only; they feed the quality score, never block loading on their own.
func (v *Validator) ValidateTemporalConsistency(batch []models.Candle) (bool, *ConsistencyReport) {
	report := &ConsistencyReport{
		TotalRows: len(batch),
		IsSorted:  true,
		Gaps:      []float64{},
	}

	if len(batch) == 0 {
		return false, report
	}

	for i := 1; i < len(batch); i++ {
		if batch[i].Timestamp.Before(batch[i-1].Timestamp) {
			report.IsSorted = false
			return false, report
		}
	}

	report.TimeRange = batch[len(batch)-1].Timestamp.Sub(batch[0].Timestamp)

	if len(batch) > 1 {
		deltas := make([]float64, 0, len(batch)-1)
		for i := 1; i < len(batch); i++ {
			deltas = append(deltas, batch[i].Timestamp.Sub(batch[i-1].Timestamp).Seconds())
		}
		if median := medianOf(deltas); median > 0 {
			threshold := median * v.cfg.GapFactor
			for _, d := range deltas {
				if d > threshold {
					report.Gaps = append(report.Gaps, d)
				}
			}
			if len(report.Gaps) > 0 {
				report.HasGaps = true
				report.GapCount = len(report.Gaps)
			}
		}
	}

	return !report.HasGaps, report
}

// ValidateCompleteness compares the batch size against an expected row
// count. An expectedCount of zero or less means no expectation; the
// batch is then trivially complete.
func (v *Validator) ValidateCompleteness(batch []models.Candle, expectedCount int) *CompletenessReport {
	report := &CompletenessReport{
		ActualCount:      len(batch),
		ExpectedCount:    expectedCount,
		CompletenessRate: 1.0,
	}

	if expectedCount > 0 {
		report.CompletenessRate = float64(len(batch)) / float64(expectedCount)
		report.MissingData = len(batch) < expectedCount
		if report.MissingData {
			report.MissingCount = expectedCount - len(batch)
		}
	}

	return report
}

// Summarize runs every check on the batch and computes the aggregate
// quality score. The batch is valid when values and temporal checks
// both pass.
func (v *Validator) Summarize(batch []models.Candle, expectedCount int) *Summary {
	valuesOK, valueReport := v.ValidateValues(batch)
	temporalOK, temporalReport := v.ValidateTemporalConsistency(batch)
	completeness := v.ValidateCompleteness(batch, expectedCount)

	summary := &Summary{
		Timestamp:    time.Now().UTC(),
		RowCount:     len(batch),
		Values:       valueReport,
		Temporal:     temporalReport,
		Completeness: completeness,
		IsValid:      valuesOK && temporalOK,
	}
	summary.QualityScore = QualityScore(summary)

	v.logger.Debug("validation summary",
		"rows", summary.RowCount,
		"valid", summary.IsValid,
		"errors", len(valueReport.Errors),
		"gaps", temporalReport.GapCount,
		"quality_score", summary.QualityScore)

	return summary
}

// QualityScore computes the [0, 1] quality heuristic for a summary:
// start from 1.0, subtract up to 0.5 for value errors (0.01 each), up
// to 0.3 for temporal gaps (0.01 each), and up to 0.2 for the missing
// data ratio, then clamp.
func QualityScore(summary *Summary) float64 {
	score := 1.0

	if n := len(summary.Values.Errors); n > 0 {
		score -= min(0.5, float64(n)*0.01)
	}
	if summary.Temporal.HasGaps {
		score -= min(0.3, float64(summary.Temporal.GapCount)*0.01)
	}
	if summary.Completeness.MissingData {
		score -= min(0.2, 1.0-summary.Completeness.CompletenessRate)
	}

	return max(0.0, min(1.0, score))
}

func medianOf(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
