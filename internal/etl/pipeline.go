package etl

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Phase names recorded on a failed pipeline result.
const (
	PhaseExtraction     = "extraction"
	PhaseTransformation = "transformation"
	PhaseLoading        = "loading"
	PhaseUnknown        = "unknown"
)

// Result is the execution record of one (symbol, timeframe) pipeline
// run: per-phase wall times and row counts, plus failure classification
// when a phase failed. It is a runtime artifact, never persisted.
type Result struct {
	Symbol          string        `json:"symbol"`
	Timeframe       string        `json:"timeframe"`
	Success         bool          `json:"success"`
	ExtractionTime  time.Duration `json:"extraction_time"`
	TransformTime   time.Duration `json:"transformation_time"`
	LoadingTime     time.Duration `json:"loading_time"`
	RawRows         int           `json:"raw_rows"`
	TransformedRows int           `json:"transformed_rows"`
	LoadedRows      int           `json:"loaded_rows"`
	Error           string        `json:"error,omitempty"`
	FailedPhase     string        `json:"failed_phase,omitempty"`
}

// TotalTime returns the summed wall time across all phases.
func (r *Result) TotalTime() time.Duration {
	return r.ExtractionTime + r.TransformTime + r.LoadingTime
}

func (r *Result) fail(phase string, err error) {
	r.Success = false
	r.FailedPhase = phase
	r.Error = err.Error()
}

// Summary aggregates a batch of pipeline results.
type Summary struct {
	TotalSymbols         int           `json:"total_symbols"`
	Successful           int           `json:"successful"`
	Failed               int           `json:"failed"`
	SuccessRate          float64       `json:"success_rate"`
	TotalRawRows         int           `json:"total_raw_rows"`
	TotalTransformedRows int           `json:"total_transformed_rows"`
	TotalLoadedRows      int           `json:"total_loaded_rows"`
	TotalTime            time.Duration `json:"total_time"`
	AverageTime          time.Duration `json:"average_time"`
	Timestamp            time.Time     `json:"timestamp"`
}

// Pipeline orchestrates Extract, Transform, Load per symbol and
// timeframe, strictly sequential with no mid-run retry. Retries belong
// to the exchange client; the pipeline only classifies and records
// failures.
type Pipeline struct {
	extractor   *Extractor
	transformer *Transformer
	loader      *Loader
	logger      *slog.Logger
}

// NewPipeline wires the three stages together. A nil logger falls back
// to slog.Default().
func NewPipeline(extractor *Extractor, transformer *Transformer, loader *Loader, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		extractor:   extractor,
		transformer: transformer,
		loader:      loader,
		logger:      logger.With("component", "pipeline"),
	}
}

// Run executes one full pipeline pass for a symbol and timeframe. The
// returned Result always carries whatever phase timings completed; on
// failure the error is returned as well, classified on the result by
// its failing phase.
func (p *Pipeline) Run(ctx context.Context, symbol, timeframe string, limit int) (*Result, error) {
	result := &Result{Symbol: symbol, Timeframe: timeframe}

	started := time.Now()
	raw, err := p.extractor.Extract(ctx, symbol, timeframe, limit)
	result.ExtractionTime = time.Since(started)
	if err != nil {
		result.fail(classifyPhase(err), err)
		return result, err
	}
	result.RawRows = len(raw)

	started = time.Now()
	batch, err := p.transformer.Transform(raw, symbol, timeframe)
	result.TransformTime = time.Since(started)
	if err != nil {
		result.fail(classifyPhase(err), err)
		return result, err
	}
	result.TransformedRows = len(batch)

	started = time.Now()
	inserted, err := p.loader.Load(ctx, batch)
	result.LoadingTime = time.Since(started)
	result.LoadedRows = inserted
	if err != nil {
		result.fail(classifyPhase(err), err)
		return result, err
	}

	result.Success = true
	p.logger.Info("pipeline run complete",
		"symbol", symbol, "timeframe", timeframe,
		"raw", result.RawRows, "loaded", result.LoadedRows,
		"elapsed", result.TotalTime())
	return result, nil
}

// RunBatch executes the pipeline once per symbol, continuing through
// failures so one symbol's crash cannot stop the batch. The returned
// map always has one entry per requested symbol; failed runs are marked
// on their result instead of surfacing an error.
func (p *Pipeline) RunBatch(ctx context.Context, symbols []string, timeframe string, limit int) map[string]*Result {
	results := make(map[string]*Result, len(symbols))

	for _, symbol := range symbols {
		result, err := p.Run(ctx, symbol, timeframe, limit)
		if err != nil {
			p.logger.Error("pipeline run failed",
				"symbol", symbol, "timeframe", timeframe,
				"phase", result.FailedPhase, "error", err)
		}
		results[symbol] = result
	}

	return results
}

// Summarize aggregates per-symbol results into batch-level counts,
// success rate, and timing totals.
func Summarize(results map[string]*Result) *Summary {
	summary := &Summary{
		TotalSymbols: len(results),
		Timestamp:    time.Now().UTC(),
	}

	for _, r := range results {
		if r.Success {
			summary.Successful++
		} else {
			summary.Failed++
		}
		summary.TotalRawRows += r.RawRows
		summary.TotalTransformedRows += r.TransformedRows
		summary.TotalLoadedRows += r.LoadedRows
		summary.TotalTime += r.TotalTime()
	}

	if summary.TotalSymbols > 0 {
		summary.SuccessRate = float64(summary.Successful) / float64(summary.TotalSymbols)
		summary.AverageTime = summary.TotalTime / time.Duration(summary.TotalSymbols)
	}

	return summary
}

// classifyPhase maps a pipeline error onto the phase that produced it.
func classifyPhase(err error) string {
	var (
		extractionErr     *ExtractionError
		transformationErr *TransformationError
		loadingErr        *LoadingError
	)
	switch {
	case errors.As(err, &extractionErr):
		return PhaseExtraction
	case errors.As(err, &transformationErr):
		return PhaseTransformation
	case errors.As(err, &loadingErr):
		return PhaseLoading
	default:
		return PhaseUnknown
	}
}
