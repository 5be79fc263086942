package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func fixed(s Status) Check {
	return func(ctx context.Context) ComponentHealth {
		return ComponentHealth{Status: s}
	}
}

func TestWorstStatusWins(t *testing.T) {
	m := NewMonitor(time.Second, zerolog.Nop())
	m.Register("b", fixed(StatusHealthy))
	m.Register("a", fixed(StatusDegraded))

	h := m.Check(context.Background())
	require.Equal(t, StatusDegraded, h.Status)
	require.Len(t, h.Components, 2)
	require.Equal(t, "a", h.Components[0].Name)
	require.False(t, h.Components[0].LastCheck.IsZero())

	m.Register("c", fixed(StatusUnhealthy))
	require.Equal(t, StatusUnhealthy, m.Check(context.Background()).Status)
}

func TestPanickingCheckIsUnhealthy(t *testing.T) {
	m := NewMonitor(time.Second, zerolog.Nop())
	m.Register("boom", func(ctx context.Context) ComponentHealth { panic("nil map") })

	h := m.Check(context.Background())
	require.Equal(t, StatusUnhealthy, h.Status)
	require.Equal(t, "boom", h.Components[0].Name)
	require.Contains(t, h.Components[0].Message, "nil map")
}

func TestDatabaseCheck(t *testing.T) {
	ok := DatabaseCheck(func(ctx context.Context) error { return nil })(context.Background())
	require.Equal(t, StatusHealthy, ok.Status)

	bad := DatabaseCheck(func(ctx context.Context) error { return errors.New("database is locked") })(context.Background())
	require.Equal(t, StatusUnhealthy, bad.Status)
	require.Contains(t, bad.Message, "locked")
}

func TestEmptyMonitorIsHealthy(t *testing.T) {
	h := NewMonitor(0, zerolog.Nop()).Check(context.Background())
	require.Equal(t, StatusHealthy, h.Status)
	require.Empty(t, h.Components)
}
