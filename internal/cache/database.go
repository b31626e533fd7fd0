package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/animehub/internal/models"
)

// DatabaseStore implements SortedSetStore using the primary SQL database. It is the
// fallback when Redis is not configured.
type DatabaseStore struct {
	db  *gorm.DB
	now func() time.Time
}

// DatabaseOption customises a DatabaseStore.
type DatabaseOption func(*DatabaseStore)

// WithDatabaseClock overrides the time source used for expiry bookkeeping.
func WithDatabaseClock(clock func() time.Time) DatabaseOption {
	return func(s *DatabaseStore) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewDatabaseStore constructs a database-backed Store.
func NewDatabaseStore(db *gorm.DB, opts ...DatabaseOption) *DatabaseStore {
	if db == nil {
		return nil
	}
	store := &DatabaseStore{db: db, now: time.Now}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

var errDatabaseStoreNil = errors.New("cache: database store not initialised")

// keyColumn is quoted by the dialector; "key" is reserved in MySQL.
var keyColumn = clause.Column{Name: "key"}

func keyIs(key string) clause.Expression { return clause.Eq{Column: keyColumn, Value: key} }

func keyIn(keys []string) clause.Expression {
	values := make([]any, len(keys))
	for i, k := range keys {
		values[i] = k
	}
	return clause.IN{Column: keyColumn, Values: values}
}

// Ping verifies the database connection.
func (s *DatabaseStore) Ping(ctx context.Context) error {
	if s == nil {
		return errDatabaseStoreNil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ensureContext(ctx))
}

// IncrementWithTTL atomically increments a counter for the supplied key.
func (s *DatabaseStore) IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if s == nil {
		return 0, 0, errDatabaseStoreNil
	}
	ctx = ensureContext(ctx)
	if window <= 0 {
		window = time.Minute
	}

	now := s.now()
	var (
		count  int64
		expiry time.Time
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entry models.CacheEntry
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where(keyIs(key)).Take(&entry).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			count = 1
			expiry = now.Add(window)
			entry = models.CacheEntry{
				Key:       key,
				Value:     []byte("1"),
				ExpiresAt: expiry,
			}
			return tx.Create(&entry).Error
		}
		if err != nil {
			return err
		}

		if !entry.ExpiresAt.After(now) {
			count = 1
			entry.ExpiresAt = now.Add(window)
		} else {
			current, _ := strconv.ParseInt(string(entry.Value), 10, 64)
			count = current + 1
		}
		entry.Value = []byte(strconv.FormatInt(count, 10))
		expiry = entry.ExpiresAt

		return tx.Save(&entry).Error
	})
	if err != nil {
		return 0, 0, err
	}

	return count, expiry.Sub(now), nil
}

// Set upserts the value for a given key with expiry.
func (s *DatabaseStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if s == nil {
		return errDatabaseStoreNil
	}
	ctx = ensureContext(ctx)

	expiry := time.Time{}
	if ttl > 0 {
		expiry = s.now().Add(ttl)
	}

	entry := models.CacheEntry{
		Key:       key,
		Value:     value,
		ExpiresAt: expiry,
	}

	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{keyColumn},
			DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at", "updated_at"}),
		}).Create(&entry).Error
}

// Get retrieves a value by key, respecting expiry.
func (s *DatabaseStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s == nil {
		return nil, false, errDatabaseStoreNil
	}
	ctx = ensureContext(ctx)

	var entry models.CacheEntry
	err := s.db.WithContext(ctx).Where(keyIs(key)).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if !entry.ExpiresAt.IsZero() && !s.now().Before(entry.ExpiresAt) {
		_ = s.db.WithContext(ctx).Where(keyIs(key)).Delete(&models.CacheEntry{}).Error
		return nil, false, nil
	}

	return entry.Value, true, nil
}

// Delete removes keys, including any sorted sets stored under them, in one transaction.
func (s *DatabaseStore) Delete(ctx context.Context, keys ...string) error {
	if s == nil {
		return errDatabaseStoreNil
	}
	if len(keys) == 0 {
		return nil
	}
	ctx = ensureContext(ctx)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where(keyIn(keys)).Delete(&models.CacheEntry{}).Error; err != nil {
			return err
		}
		return tx.Where(keyIn(keys)).Delete(&models.CacheSetMember{}).Error
	})
}

// ZAdd inserts or re-scores member in the sorted set at key.
func (s *DatabaseStore) ZAdd(ctx context.Context, key string, score float64, member string) error {
	if s == nil {
		return errDatabaseStoreNil
	}
	ctx = ensureContext(ctx)

	row := models.CacheSetMember{Key: key, Member: member, Score: score}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{keyColumn, {Name: "member"}},
			DoUpdates: clause.AssignmentColumns([]string{"score", "updated_at"}),
		}).Create(&row).Error
}

// ZRange lists every member of the sorted set, highest score first when desc is set.
func (s *DatabaseStore) ZRange(ctx context.Context, key string, desc bool) ([]string, error) {
	if s == nil {
		return nil, errDatabaseStoreNil
	}
	ctx = ensureContext(ctx)

	order := "score ASC, member ASC"
	if desc {
		order = "score DESC, member DESC"
	}

	var members []string
	err := s.db.WithContext(ctx).
		Model(&models.CacheSetMember{}).
		Where(keyIs(key)).
		Order(order).
		Pluck("member", &members).Error
	if err != nil {
		return nil, err
	}
	return members, nil
}

// ZRem removes members from the sorted set at key.
func (s *DatabaseStore) ZRem(ctx context.Context, key string, members ...string) error {
	if s == nil {
		return errDatabaseStoreNil
	}
	if len(members) == 0 {
		return nil
	}
	ctx = ensureContext(ctx)

	return s.db.WithContext(ctx).
		Where(keyIs(key)).
		Where("member IN ?", members).
		Delete(&models.CacheSetMember{}).Error
}

// PurgeExpired deletes entries whose expiry has passed and returns how many were removed.
func (s *DatabaseStore) PurgeExpired(ctx context.Context) (int64, error) {
	if s == nil {
		return 0, errDatabaseStoreNil
	}
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).
		Where("expires_at > ? AND expires_at <= ?", time.Time{}, s.now()).
		Delete(&models.CacheEntry{})
	return result.RowsAffected, result.Error
}

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
