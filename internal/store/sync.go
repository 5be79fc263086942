package store

import (
	"fmt"
	"time"
)

// InstrumentSyncKey is the sync_status key for a provider's instrument master.
func InstrumentSyncKey(provider string) string {
	return "instruments:" + provider
}

// DataFreshness represents the freshness of cached data.
type DataFreshness struct {
	DataType    string        `json:"data_type"`
	LastUpdated time.Time     `json:"last_updated"`
	IsFresh     bool          `json:"is_fresh"`
	Age         time.Duration `json:"age"`
}

// Freshness reports how old the stored data of dataType is at now.
// Data never synced is stale.
func Freshness(s InstrumentStore, dataType string, now time.Time, maxAge time.Duration) *DataFreshness {
	lastSync := s.GetLastSync(dataType)
	if lastSync.IsZero() {
		return &DataFreshness{DataType: dataType}
	}
	age := now.Sub(lastSync)
	return &DataFreshness{
		DataType:    dataType,
		LastUpdated: lastSync,
		IsFresh:     age < maxAge,
		Age:         age,
	}
}

// FormatFreshness returns a human-readable freshness string.
func FormatFreshness(freshness *DataFreshness) string {
	if freshness.LastUpdated.IsZero() {
		return "Never synced"
	}

	age := freshness.Age
	var ageStr string

	switch {
	case age < time.Minute:
		ageStr = "just now"
	case age < time.Hour:
		mins := int(age.Minutes())
		if mins == 1 {
			ageStr = "1 minute ago"
		} else {
			ageStr = fmt.Sprintf("%d minutes ago", mins)
		}
	case age < 24*time.Hour:
		hours := int(age.Hours())
		if hours == 1 {
			ageStr = "1 hour ago"
		} else {
			ageStr = fmt.Sprintf("%d hours ago", hours)
		}
	default:
		days := int(age.Hours() / 24)
		if days == 1 {
			ageStr = "1 day ago"
		} else {
			ageStr = fmt.Sprintf("%d days ago", days)
		}
	}

	if !freshness.IsFresh {
		return fmt.Sprintf("%s (stale)", ageStr)
	}
	return ageStr
}
