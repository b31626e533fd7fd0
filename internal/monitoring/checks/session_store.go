package checks

import (
	"context"
	"time"

	"github.com/charlesng35/animehub/internal/monitoring"
)

const defaultStoreTimeout = 2 * time.Second

// Pinger is implemented by both session store backends.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SessionStore returns a readiness probe for the key-value store holding refresh sessions.
// backend names the implementation in the probe details ("redis" or "database").
func SessionStore(store Pinger, backend string, timeout time.Duration) monitoring.Check {
	return monitoring.NewCheck("session_store", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if store == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusDown, Details: "session store not configured"}
		}

		probeCtx, cancel := context.WithTimeout(ctx, chooseTimeout(timeout, defaultStoreTimeout))
		defer cancel()

		result := monitoring.ResultFromError("session_store", store.Ping(probeCtx), time.Since(start))
		if result.Details == "" {
			result.Details = backend
		} else if backend != "" {
			result.Details = backend + ": " + result.Details
		}
		return result
	})
}
