package service

import "github.com/shopspring/decimal"

func decimalFromUnits(units int64) decimal.Decimal {
	return decimal.NewFromInt(units)
}
