// Package utils provides shared utility functions.
package utils

import (
	"fmt"
	"strings"
)

// FormatIndianCurrency formats a number in Indian currency format (lakhs, crores).
func FormatIndianCurrency(amount float64) string {
	negative := amount < 0
	if negative {
		amount = -amount
	}

	str := fmt.Sprintf("%.2f", amount)
	parts := strings.Split(str, ".")

	result := "₹" + formatIndianNumber(parts[0]) + "." + parts[1]
	if negative {
		result = "-" + result
	}
	return result
}

// formatIndianNumber formats an integer string in Indian numbering system.
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

// FormatQuantity formats a quantity with Indian grouping.
func FormatQuantity(qty int64) string {
	if qty < 0 {
		return "-" + formatIndianNumber(fmt.Sprintf("%d", -qty))
	}
	return formatIndianNumber(fmt.Sprintf("%d", qty))
}

// FormatCompactQuantity renders large counts such as open interest in L/Cr.
func FormatCompactQuantity(qty int64) string {
	abs := qty
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs >= 10000000:
		return fmt.Sprintf("%.2f Cr", float64(qty)/10000000)
	case abs >= 100000:
		return fmt.Sprintf("%.2f L", float64(qty)/100000)
	}
	return FormatQuantity(qty)
}
