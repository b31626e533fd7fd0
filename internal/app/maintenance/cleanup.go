package maintenance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/animehub/internal/models"
	"github.com/charlesng35/animehub/pkg/logger"
	"github.com/charlesng35/animehub/pkg/metrics"
)

const (
	defaultSchedule  = "@hourly"
	defaultBatchSize = 200

	jobSessionIndex = "session_index"
)

// Purger removes expired rows and reports how many were deleted.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// IndexPruner drops index entries whose session record has expired.
type IndexPruner interface {
	PruneIndex(ctx context.Context, userID string) (int, error)
}

// Stats captures the number of entries removed per job during one run.
type Stats map[string]int64

// Cleaner coordinates background maintenance: purging expired confirmation and reset
// tokens, expired SQL cache entries and stale per-user session index entries.
type Cleaner struct {
	db       *gorm.DB
	purgers  map[string]Purger
	order    []string
	sessions IndexPruner
	cron     *cron.Cron
	log      *zap.Logger
	schedule string
	batch    int
	now      func() time.Time

	mu      sync.Mutex
	lastRun time.Time
	lastErr error
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithSchedule overrides the cron specification of the cleanup run.
func WithSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.schedule = spec
		}
	}
}

// WithPurger registers a named purge job. Nil purgers are ignored.
func WithPurger(name string, p Purger) Option {
	return func(cleaner *Cleaner) {
		if p == nil || name == "" {
			return
		}
		if _, exists := cleaner.purgers[name]; !exists {
			cleaner.order = append(cleaner.order, name)
		}
		cleaner.purgers[name] = p
	}
}

// WithSessionIndex enables pruning of the per-user session indexes. User identifiers are
// read from db in batches.
func WithSessionIndex(db *gorm.DB, sessions IndexPruner) Option {
	return func(cleaner *Cleaner) {
		if db != nil && sessions != nil {
			cleaner.db = db
			cleaner.sessions = sessions
		}
	}
}

// WithNow overrides the clock used to stamp completed runs.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithBatchSize sets how many user ids are loaded per query while pruning indexes.
func WithBatchSize(size int) Option {
	return func(cleaner *Cleaner) {
		if size > 0 {
			cleaner.batch = size
		}
	}
}

// NewCleaner constructs a Cleaner. Jobs without a dependency are skipped.
func NewCleaner(opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		purgers:  make(map[string]Purger),
		schedule: defaultSchedule,
		batch:    defaultBatchSize,
		now:      time.Now,
		log:      logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return cleaner
}

func (c *Cleaner) enabled() bool {
	return len(c.purgers) > 0 || c.sessions != nil
}

// Start registers the cleanup run with the cron scheduler and launches it.
func (c *Cleaner) Start() error {
	if !c.enabled() {
		return nil
	}

	if _, err := c.cron.AddFunc(c.schedule, func() {
		if _, err := c.RunOnce(context.Background()); err != nil {
			c.log.Warn("maintenance run failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("maintenance: schedule %q: %w", c.schedule, err)
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes every configured job sequentially. A failing job does not stop the
// others; their errors are combined.
func (c *Cleaner) RunOnce(ctx context.Context) (Stats, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	stats := make(Stats)
	var errs error

	for _, name := range c.order {
		removed, err := c.purgers[name].PurgeExpired(ctx)
		c.record(name, err)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		stats[name] = removed
		if removed > 0 {
			c.log.Debug("purged expired entries", zap.String("job", name), zap.Int64("removed", removed))
		}
	}

	if c.sessions != nil {
		removed, err := c.pruneSessionIndexes(ctx)
		c.record(jobSessionIndex, err)
		stats[jobSessionIndex] = removed
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", jobSessionIndex, err))
		}
	}

	c.mu.Lock()
	c.lastRun = c.now()
	c.lastErr = errs
	c.mu.Unlock()

	return stats, errs
}

// LastRun returns when RunOnce last completed and its combined error. The time is zero
// before the first run.
func (c *Cleaner) LastRun() (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRun, c.lastErr
}

func (c *Cleaner) pruneSessionIndexes(ctx context.Context) (int64, error) {
	var (
		total  int64
		errs   error
		lastID string
	)

	for {
		var ids []string
		err := c.db.WithContext(ctx).
			Model(&models.User{}).
			Where("id > ?", lastID).
			Order("id ASC").
			Limit(c.batch).
			Pluck("id", &ids).Error
		if err != nil {
			return total, multierr.Append(errs, fmt.Errorf("list users: %w", err))
		}
		if len(ids) == 0 {
			return total, errs
		}

		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return total, multierr.Append(errs, err)
			}
			pruned, err := c.sessions.PruneIndex(ctx, id)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("user %s: %w", id, err))
				continue
			}
			total += int64(pruned)
		}

		lastID = ids[len(ids)-1]
		if len(ids) < c.batch {
			return total, errs
		}
	}
}

func (c *Cleaner) record(job string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	metrics.MaintenanceRuns.WithLabelValues(job, result).Inc()
}

// RunWithTimeout runs RunOnce bounded by timeout, used during graceful shutdown.
func (c *Cleaner) RunWithTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		return errors.New("maintenance: timeout must be positive")
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	_, err := c.RunOnce(ctx)
	return err
}
