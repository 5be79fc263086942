package api

import (
	"context"
	"fmt"
	"time"

	"fno-chain/internal/health"
	"fno-chain/internal/session"
)

// instrumentsCheck is unhealthy without a catalog and degraded when the
// stored copy is older than its max age.
func instrumentsCheck(r InstrumentRefresher) health.Check {
	return func(ctx context.Context) health.ComponentHealth {
		st := r.Status()
		h := health.ComponentHealth{
			Status:  health.StatusHealthy,
			Details: map[string]interface{}{"provider": st.Provider, "loaded": st.Loaded},
		}
		switch {
		case st.Loaded == 0:
			h.Status = health.StatusUnhealthy
			h.Message = "instrument master not loaded"
		case st.Freshness != nil && !st.Freshness.IsFresh:
			h.Status = health.StatusDegraded
			h.Message = fmt.Sprintf("instrument master is %s old", st.Freshness.Age.Round(time.Second))
		}
		return h
	}
}

// sessionCheck is degraded after a revoke; other states log in on demand.
func sessionCheck(s SessionReporter) health.Check {
	return func(ctx context.Context) health.ComponentHealth {
		info := s.Snapshot()
		h := health.ComponentHealth{
			Status:  health.StatusHealthy,
			Message: info.State,
			Details: map[string]interface{}{"provider": info.Provider},
		}
		if info.State == session.Revoked.String() {
			h.Status = health.StatusDegraded
		}
		return h
	}
}
