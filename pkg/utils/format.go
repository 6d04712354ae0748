// Package utils provides shared utility functions.
package utils

import (
	"fmt"
	"strconv"

	"github.com/Rhymond/go-money"
)

// FormatIndianCurrency formats a number in Indian currency format (lakhs, crores).
func FormatIndianCurrency(amount float64) string {
	return FormatMoney(INR(amount))
}

// FormatMoney formats an INR amount with Indian digit grouping.
func FormatMoney(m *money.Money) string {
	if m == nil {
		return "₹0.00"
	}
	paise := m.Amount()
	negative := paise < 0
	if negative {
		paise = -paise
	}

	result := fmt.Sprintf("₹%s.%02d", formatIndianNumber(strconv.FormatInt(paise/100, 10)), paise%100)
	if negative {
		result = "-" + result
	}
	return result
}

// formatIndianNumber groups digits as 12,34,567.
func formatIndianNumber(s string) string {
	n := len(s)
	if n <= 3 {
		return s
	}

	// First group of 3 from right
	result := s[n-3:]
	s = s[:n-3]

	// Then groups of 2
	for len(s) > 0 {
		if len(s) >= 2 {
			result = s[len(s)-2:] + "," + result
			s = s[:len(s)-2]
		} else {
			result = s + "," + result
			s = ""
		}
	}

	return result
}

// FormatPercent formats a percentage with sign.
func FormatPercent(value float64) string {
	sign := ""
	if value > 0 {
		sign = "+"
	}
	return fmt.Sprintf("%s%.2f%%", sign, value)
}

// FormatPnL formats a profit or loss with an explicit sign.
func FormatPnL(pnl float64) string {
	formatted := FormatIndianCurrency(pnl)
	if pnl > 0 {
		return "+" + formatted
	}
	return formatted
}

// FormatQuantity formats a quantity with Indian grouping.
func FormatQuantity(qty int64) string {
	if qty < 0 {
		return "-" + formatIndianNumber(strconv.FormatInt(-qty, 10))
	}
	return formatIndianNumber(strconv.FormatInt(qty, 10))
}

// FormatCompact formats large amounts in lakhs (L) or crores (Cr).
func FormatCompact(amount float64) string {
	abs := amount
	if abs < 0 {
		abs = -abs
	}

	switch {
	case abs >= 1e7:
		return fmt.Sprintf("%.2f Cr", amount/1e7)
	case abs >= 1e5:
		return fmt.Sprintf("%.2f L", amount/1e5)
	}
	return FormatIndianCurrency(amount)
}
