package utils

import (
	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// INR converts a rupee amount to an exact paise-denominated value.
func INR(amount float64) *money.Money {
	paise := decimal.NewFromFloat(amount).Shift(2).Round(0).IntPart()
	return money.New(paise, money.INR)
}

// OrderValue is price * quantity in exact paise.
func OrderValue(price float64, quantity int) *money.Money {
	return INR(price).Multiply(int64(quantity))
}

// SumINR adds rupee values without float drift.
func SumINR(values ...*money.Money) *money.Money {
	total := money.New(0, money.INR)
	for _, v := range values {
		if v == nil {
			continue
		}
		sum, err := total.Add(v)
		if err != nil {
			// Only a currency mismatch fails, and every value here is INR.
			continue
		}
		total = sum
	}
	return total
}

// Rupees returns the major-unit value of m.
func Rupees(m *money.Money) float64 {
	if m == nil {
		return 0
	}
	return float64(m.Amount()) / 100
}
