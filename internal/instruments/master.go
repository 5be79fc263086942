package instruments

import (
	"sync/atomic"
	"time"

	"fno-chain/internal/metrics"
)

// Master holds the current catalog. Readers take a snapshot and keep using
// it for the whole request; a refresh swaps in a new one.
type Master struct {
	current atomic.Pointer[Catalog]
}

// NewMaster creates a Master holding an empty catalog.
func NewMaster() *Master {
	m := &Master{}
	m.current.Store(NewCatalog(nil, time.Time{}))
	return m
}

// Snapshot returns the current catalog.
func (m *Master) Snapshot() *Catalog {
	return m.current.Load()
}

// Swap installs c and returns the catalog it replaced.
func (m *Master) Swap(c *Catalog) *Catalog {
	prev := m.current.Swap(c)
	metrics.SetInstrumentsLoaded(c.Len())
	return prev
}
