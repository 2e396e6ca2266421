// Package etl implements the candle pipeline: extraction from an
// exchange source, transformation into validated and enriched rows, and
// loading into a candle store, orchestrated per (symbol, timeframe).
package etl

import (
	"errors"
	"fmt"
)

// errEmptyPayload is the cause carried by a TransformationError when the
// raw payload has no rows.
var errEmptyPayload = errors.New("no data to transform")

// ExtractionError reports that fetching raw candles for one symbol and
// timeframe failed after the source's own retries were exhausted.
type ExtractionError struct {
	Symbol    string
	Timeframe string
	Err       error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed for %s %s: %v", e.Symbol, e.Timeframe, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// TransformationError reports a structural or validation failure while
// transforming one raw payload. When validation rejected the batch,
// Examples holds up to three of the row errors and Remaining counts the
// rest.
type TransformationError struct {
	Symbol    string
	Timeframe string
	Examples  []string
	Remaining int
	Err       error
}

func (e *TransformationError) Error() string {
	msg := fmt.Sprintf("transformation failed for %s %s", e.Symbol, e.Timeframe)
	if len(e.Examples) > 0 {
		msg += ": " + joinExamples(e.Examples)
		if e.Remaining > 0 {
			msg += fmt.Sprintf(", and %d more errors", e.Remaining)
		}
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransformationError) Unwrap() error { return e.Err }

// LoadingError reports a persistence failure other than a duplicate-key
// conflict.
type LoadingError struct {
	Symbol    string
	Timeframe string
	Err       error
}

func (e *LoadingError) Error() string {
	return fmt.Sprintf("loading failed for %s %s: %v", e.Symbol, e.Timeframe, e.Err)
}

func (e *LoadingError) Unwrap() error { return e.Err }

func joinExamples(examples []string) string {
	out := ""
	for i, ex := range examples {
		if i > 0 {
			out += ", "
		}
		out += ex
	}
	return out
}
