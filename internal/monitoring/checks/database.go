package checks

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/animehub/internal/database"
	"github.com/charlesng35/animehub/internal/monitoring"
)

const defaultDatabaseTimeout = 2 * time.Second

// Database returns a readiness probe that pings the user database. A reachable database whose
// connection pool is fully checked out reports degraded.
func Database(db *gorm.DB, timeout time.Duration) monitoring.Check {
	return monitoring.NewCheck("database", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if db == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusDown, Details: "database not configured"}
		}

		probeCtx, cancel := context.WithTimeout(ctx, chooseTimeout(timeout, defaultDatabaseTimeout))
		defer cancel()

		result := monitoring.ResultFromError("database", database.Ping(probeCtx, db), time.Since(start))
		if result.Status != monitoring.StatusUp {
			return result
		}

		sqlDB, err := db.DB()
		if err != nil {
			return result
		}
		stats := sqlDB.Stats()
		result.Details = fmt.Sprintf("%s open=%d in_use=%d", db.Dialector.Name(), stats.OpenConnections, stats.InUse)
		if stats.MaxOpenConnections > 0 && stats.InUse >= stats.MaxOpenConnections {
			result.Status = monitoring.StatusDegraded
			result.Details += " pool exhausted"
		}
		return result
	})
}

func chooseTimeout(provided, fallback time.Duration) time.Duration {
	if provided <= 0 {
		return fallback
	}
	return provided
}
