package checks

import (
	"context"
	"time"

	"github.com/charlesng35/animehub/internal/monitoring"
)

const defaultMaintenanceMaxAge = 6 * time.Hour

// RunReporter exposes the outcome of the most recent maintenance run.
type RunReporter interface {
	LastRun() (time.Time, error)
}

// Maintenance reports degraded when the cleanup job failed last time or has not completed
// within maxAge. It never reports down: stale tokens do not stop the service.
func Maintenance(reporter RunReporter, maxAge time.Duration, now func() time.Time) monitoring.Check {
	if maxAge <= 0 {
		maxAge = defaultMaintenanceMaxAge
	}
	if now == nil {
		now = time.Now
	}

	return monitoring.NewCheck("maintenance", func(context.Context) monitoring.ProbeResult {
		if reporter == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: "maintenance disabled"}
		}

		at, err := reporter.LastRun()
		switch {
		case at.IsZero():
			return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: "pending first run"}
		case err != nil:
			return monitoring.ProbeResult{Status: monitoring.StatusDegraded, Details: err.Error()}
		case now().Sub(at) > maxAge:
			return monitoring.ProbeResult{
				Status:  monitoring.StatusDegraded,
				Details: "stale run " + at.UTC().Format(time.RFC3339),
			}
		default:
			return monitoring.ProbeResult{Status: monitoring.StatusUp}
		}
	})
}
