package domain

import "github.com/shopspring/decimal"

// DefaultMoneyScale is the number of decimal places kept on amounts.
const DefaultMoneyScale = 2

var hundred = decimal.NewFromInt(100)

// Percent returns amount * pct / 100 rounded to scale.
func Percent(amount, pct decimal.Decimal, scale int32) decimal.Decimal {
	return amount.Mul(pct).Div(hundred).Round(scale)
}
