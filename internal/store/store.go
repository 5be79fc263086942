// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"fno-chain/internal/models"
)

// InstrumentStore persists the instrument master between runs.
type InstrumentStore interface {
	// SaveInstruments replaces the stored catalog of provider.
	SaveInstruments(ctx context.Context, provider string, instruments []models.Instrument) error
	LoadInstruments(ctx context.Context, provider string) ([]models.Instrument, error)
	CountInstruments(ctx context.Context, provider string) (int, error)

	// Sync
	GetLastSync(dataType string) time.Time
	SetLastSync(dataType string, t time.Time) error

	// Lifecycle
	Close() error
}
