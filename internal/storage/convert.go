package storage

import (
	"database/sql"

	"github.com/shopspring/decimal"
)

func floatDecimal(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

// optionalFloat converts an optional decimal into a driver value,
// mapping nil onto SQL NULL.
func optionalFloat(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.InexactFloat64()
}

func nullableDecimal(v sql.NullFloat64) *decimal.Decimal {
	if !v.Valid {
		return nil
	}
	d := decimal.NewFromFloat(v.Float64)
	return &d
}
