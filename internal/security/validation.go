package security

import (
	"regexp"
	"strings"

	apperrors "fno-chain/internal/errors"
)

// Ticker pattern: NSE symbols are uppercase alphanumerics plus & and -
// (M&M, BAJAJ-AUTO).
var tickerPattern = regexp.MustCompile(`^[A-Z0-9&-]{1,20}$`)

// NormalizeTicker trims and uppercases a user-supplied ticker and drops the
// cash-segment "-EQ" suffix.
func NormalizeTicker(raw string) (string, error) {
	ticker := strings.ToUpper(strings.TrimSpace(raw))
	ticker = strings.TrimSuffix(ticker, "-EQ")

	if ticker == "" {
		return "", apperrors.NewValidationError("ticker", raw, "ticker cannot be empty")
	}
	if !tickerPattern.MatchString(ticker) {
		return "", apperrors.NewValidationError("ticker", raw, "invalid ticker format")
	}
	return ticker, nil
}

// MaskCredential masks a credential value for logging.
func MaskCredential(value string) string {
	if len(value) == 0 {
		return ""
	}
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	if len(value) <= 8 {
		return value[:2] + strings.Repeat("*", len(value)-2)
	}
	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}
