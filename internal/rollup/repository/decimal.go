package repository

import "github.com/shopspring/decimal"

// decimalColumn scans NULL as zero.
type decimalColumn struct {
	decimal.Decimal
}

func (d *decimalColumn) Scan(value any) error {
	if value == nil {
		d.Decimal = decimal.Zero
		return nil
	}
	return d.Decimal.Scan(value)
}
