package utils

import (
	"strings"
	"time"

	"fno-chain/internal/models"
)

// IndiaLocation is the timezone for Indian markets.
var IndiaLocation *time.Location

func init() {
	var err error
	IndiaLocation, err = time.LoadLocation("Asia/Kolkata")
	if err != nil {
		// Fallback to UTC+5:30
		IndiaLocation = time.FixedZone("IST", 5*60*60+30*60)
	}
}

// ExpiryLayout is the DDMONYYYY layout used by scrip masters ("28MAR2024").
const ExpiryLayout = "02Jan2006"

// DaysPerYear is the calendar-day convention for time to expiry.
const DaysPerYear = 365.0

// GetMarketStatus returns the market status at t.
func GetMarketStatus(t time.Time) models.MarketStatus {
	now := t.In(IndiaLocation)

	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return models.MarketClosed
	}

	timeMinutes := now.Hour()*60 + now.Minute()

	// Pre-open: 9:00 - 9:15
	if timeMinutes >= 540 && timeMinutes < 555 {
		return models.MarketPreOpen
	}
	// Market open: 9:15 - 15:30
	if timeMinutes >= 555 && timeMinutes < 930 {
		return models.MarketOpen
	}
	return models.MarketClosed
}

// ParseExpiry parses a scrip-master expiry such as "28MAR2024" into a date in IST.
func ParseExpiry(s string) (time.Time, error) {
	return time.ParseInLocation(ExpiryLayout, strings.TrimSpace(s), IndiaLocation)
}

// FormatExpiry renders an expiry in the scrip-master layout ("28MAR2024").
func FormatExpiry(t time.Time) string {
	return strings.ToUpper(t.In(IndiaLocation).Format(ExpiryLayout))
}

// TradingDay truncates t to its calendar date in IST.
func TradingDay(t time.Time) time.Time {
	y, m, d := t.In(IndiaLocation).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, IndiaLocation)
}

// DaysToExpiry counts calendar days from now's date to the expiry date (IST).
func DaysToExpiry(expiry, now time.Time) int {
	return int(TradingDay(expiry).Sub(TradingDay(now)).Hours() / 24)
}

// TimeToExpiry returns the year fraction from now to expiry using calendar
// days / 365. On or after expiry day it is floored at one day.
func TimeToExpiry(expiry, now time.Time) float64 {
	days := DaysToExpiry(expiry, now)
	if days <= 0 {
		return 1.0 / DaysPerYear
	}
	return float64(days) / DaysPerYear
}
