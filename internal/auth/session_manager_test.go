package auth

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/charlesng35/animehub/internal/cache"
	"github.com/charlesng35/animehub/internal/database/testutil"
	"github.com/charlesng35/animehub/internal/models"
)

type testClock struct {
	mu      sync.Mutex
	current time.Time
}

func newTestClock() *testClock {
	return &testClock{current: time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

type fakeUsers struct {
	mu    sync.Mutex
	users map[string]*models.User
	err   error
}

func newFakeUsers(ids ...string) *fakeUsers {
	f := &fakeUsers{users: make(map[string]*models.User)}
	for _, id := range ids {
		f.add(id)
	}
	return f
}

func (f *fakeUsers) add(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[id] = &models.User{
		BaseModel: models.BaseModel{ID: id},
		Email:     id + "@example.com",
		Name:      "user " + id,
		Role:      models.RoleUser,
	}
}

func (f *fakeUsers) remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.users, id)
}

func (f *fakeUsers) FindUserByID(_ context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.users[id], nil
}

type sessionFixture struct {
	manager *SessionManager
	store   SessionStore
	clock   *testClock
	users   *fakeUsers
	redis   *miniredis.Miniredis
}

type storeFactory func(t *testing.T, clock *testClock) (SessionStore, *miniredis.Miniredis)

func redisFactory(t *testing.T, _ *testClock) (SessionStore, *miniredis.Miniredis) {
	t.Helper()
	server, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: server.Addr(), MaxRetries: -1})
	t.Cleanup(func() {
		_ = client.Close()
		server.Close()
	})
	return cache.NewRedisStoreFromClient(client, "anime"), server
}

func databaseFactory(t *testing.T, clock *testClock) (SessionStore, *miniredis.Miniredis) {
	t.Helper()
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	return cache.NewDatabaseStore(db, cache.WithDatabaseClock(clock.Now)), nil
}

var storeFactories = map[string]storeFactory{
	"redis":    redisFactory,
	"database": databaseFactory,
}

func setupSessionManager(t *testing.T, factory storeFactory, cfg SessionConfig) *sessionFixture {
	t.Helper()

	clock := newTestClock()
	store, server := factory(t, clock)
	users := newFakeUsers("u1", "u2")

	if cfg.Hasher == nil {
		cfg.Hasher = NewBcryptHasher(bcrypt.MinCost)
	}
	cfg.Clock = clock.Now

	manager, err := NewSessionManager(store, users, cfg)
	require.NoError(t, err)

	return &sessionFixture{manager: manager, store: store, clock: clock, users: users, redis: server}
}

func forEachStore(t *testing.T, cfg SessionConfig, fn func(t *testing.T, fx *sessionFixture)) {
	for name, factory := range storeFactories {
		t.Run(name, func(t *testing.T) {
			fn(t, setupSessionManager(t, factory, cfg))
		})
	}
}

func readRecord(t *testing.T, fx *sessionFixture, sessionID string) *models.Session {
	t.Helper()
	raw, found, err := fx.store.Get(context.Background(), sessionKey(sessionID))
	require.NoError(t, err)
	if !found {
		return nil
	}
	var record models.Session
	require.NoError(t, json.Unmarshal(raw, &record))
	return &record
}

func indexMembers(t *testing.T, fx *sessionFixture, userID string) []string {
	t.Helper()
	ids, err := fx.store.ZRange(context.Background(), userSessionsKey(userID), true)
	require.NoError(t, err)
	return ids
}

func TestCreateSessionPersistsRecordAndIndex(t *testing.T) {
	forEachStore(t, SessionConfig{}, func(t *testing.T, fx *sessionFixture) {
		ctx := context.Background()

		cred, err := fx.manager.CreateSession(ctx, "u1", " firefox ", "10.0.0.1")
		require.NoError(t, err)
		require.NotEmpty(t, cred.SessionID)
		require.True(t, strings.HasPrefix(cred.RefreshToken, cred.SessionID+"."))

		record := readRecord(t, fx, cred.SessionID)
		require.NotNil(t, record)
		require.Equal(t, "u1", record.UserID)
		require.Equal(t, "firefox", record.UserAgent)
		require.Equal(t, "10.0.0.1", record.IPAddress)

		now := fx.clock.Now().UnixMilli()
		require.Equal(t, now, record.CreatedAt)
		require.Equal(t, now, record.LastSeenAt)
		require.Equal(t, now+DefaultAbsoluteTTL.Milliseconds(), record.AbsoluteExpiresAt)
		require.Equal(t, now+DefaultIdleTTL.Milliseconds(), record.IdleExpiresAt)
		require.Nil(t, record.RevokedAt)

		_, secret, err := ParseRefreshToken(cred.RefreshToken)
		require.NoError(t, err)
		require.NotContains(t, record.RefreshHash, secret)
		require.Len(t, secret, 64)

		require.Equal(t, []string{cred.SessionID}, indexMembers(t, fx, "u1"))
	})
}

func TestCreateSessionStoreTTLMatchesIdleWindow(t *testing.T) {
	fx := setupSessionManager(t, redisFactory, SessionConfig{IdleTTL: time.Hour, AbsoluteTTL: 90 * time.Minute})
	ctx := context.Background()

	cred, err := fx.manager.CreateSession(ctx, "u1", "ua", "")
	require.NoError(t, err)
	require.Equal(t, time.Hour, fx.redis.TTL("anime:session:"+cred.SessionID))
	require.True(t, fx.redis.Exists("anime:user_sessions:u1"))

	fx.clock.Advance(50 * time.Minute)
	result, err := fx.manager.RotateSession(ctx, cred.RefreshToken, "", "")
	require.NoError(t, err)
	// The idle window is capped by the absolute expiry 40 minutes away.
	require.Equal(t, 40*time.Minute, fx.redis.TTL("anime:session:"+result.SessionID))
}

func TestIdleNeverExceedsAbsolute(t *testing.T) {
	forEachStore(t, SessionConfig{IdleTTL: 2 * time.Hour, AbsoluteTTL: 3 * time.Hour}, func(t *testing.T, fx *sessionFixture) {
		ctx := context.Background()

		cred, err := fx.manager.CreateSession(ctx, "u1", "ua", "ip")
		require.NoError(t, err)
		record := readRecord(t, fx, cred.SessionID)
		require.LessOrEqual(t, record.IdleExpiresAt, record.AbsoluteExpiresAt)

		token := cred.RefreshToken
		for i := 0; i < 5; i++ {
			fx.clock.Advance(35 * time.Minute)
			result, err := fx.manager.RotateSession(ctx, token, "", "")
			require.NoError(t, err)
			token = result.RefreshToken

			record = readRecord(t, fx, cred.SessionID)
			require.NotNil(t, record)
			require.LessOrEqual(t, record.IdleExpiresAt, record.AbsoluteExpiresAt)
		}

		created := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC).UnixMilli()
		require.Equal(t, created+3*time.Hour.Milliseconds(), record.AbsoluteExpiresAt)
		require.Equal(t, record.AbsoluteExpiresAt, record.IdleExpiresAt)

		fx.clock.Advance(6 * time.Minute)
		_, err = fx.manager.RotateSession(ctx, token, "", "")
		require.ErrorIs(t, err, ErrUnauthorized)
	})
}

func TestRotateThenValidateScenario(t *testing.T) {
	forEachStore(t, SessionConfig{}, func(t *testing.T, fx *sessionFixture) {
		ctx := context.Background()

		cred1, err := fx.manager.CreateSession(ctx, "u1", "ua", "ip")
		require.NoError(t, err)

		fx.clock.Advance(time.Minute)
		rotated, err := fx.manager.RotateSession(ctx, cred1.RefreshToken, "", "")
		require.NoError(t, err)
		require.Equal(t, cred1.SessionID, rotated.SessionID)
		require.NotEqual(t, cred1.RefreshToken, rotated.RefreshToken)
		require.Equal(t, "u1", rotated.User.ID)

		_, _, err = fx.manager.ValidateRefreshToken(ctx, cred1.RefreshToken)
		require.ErrorIs(t, err, ErrUnauthorized)

		user, sessionID, err := fx.manager.ValidateRefreshToken(ctx, rotated.RefreshToken)
		require.NoError(t, err)
		require.Equal(t, "u1", user.ID)
		require.Equal(t, cred1.SessionID, sessionID)
	})
}

func TestRotateWithStaleSecretRevokesSession(t *testing.T) {
	forEachStore(t, SessionConfig{}, func(t *testing.T, fx *sessionFixture) {
		ctx := context.Background()

		cred, err := fx.manager.CreateSession(ctx, "u1", "ua", "ip")
		require.NoError(t, err)

		first, err := fx.manager.RotateSession(ctx, cred.RefreshToken, "", "")
		require.NoError(t, err)

		_, err = fx.manager.RotateSession(ctx, cred.RefreshToken, "", "")
		require.ErrorIs(t, err, ErrUnauthorized)

		_, _, err = fx.manager.ValidateRefreshToken(ctx, first.RefreshToken)
		require.ErrorIs(t, err, ErrUnauthorized)

		require.Nil(t, readRecord(t, fx, cred.SessionID))
		require.Empty(t, indexMembers(t, fx, "u1"))

		sessions, err := fx.manager.ListSessions(ctx, "u1", "")
		require.NoError(t, err)
		require.Empty(t, sessions)
	})
}

func TestRotateUpdatesMetadataOnlyWhenSupplied(t *testing.T) {
	forEachStore(t, SessionConfig{}, func(t *testing.T, fx *sessionFixture) {
		ctx := context.Background()

		cred, err := fx.manager.CreateSession(ctx, "u1", "old-agent", "1.1.1.1")
		require.NoError(t, err)

		result, err := fx.manager.RotateSession(ctx, cred.RefreshToken, "", "")
		require.NoError(t, err)
		record := readRecord(t, fx, cred.SessionID)
		require.Equal(t, "old-agent", record.UserAgent)
		require.Equal(t, "1.1.1.1", record.IPAddress)

		_, err = fx.manager.RotateSession(ctx, result.RefreshToken, "new-agent", "2.2.2.2")
		require.NoError(t, err)
		record = readRecord(t, fx, cred.SessionID)
		require.Equal(t, "new-agent", record.UserAgent)
		require.Equal(t, "2.2.2.2", record.IPAddress)
	})
}

func TestRotateRevokesSessionOfDeletedUser(t *testing.T) {
	forEachStore(t, SessionConfig{}, func(t *testing.T, fx *sessionFixture) {
		ctx := context.Background()

		cred, err := fx.manager.CreateSession(ctx, "u2", "ua", "ip")
		require.NoError(t, err)

		fx.users.remove("u2")
		_, err = fx.manager.RotateSession(ctx, cred.RefreshToken, "", "")
		require.ErrorIs(t, err, ErrUnauthorized)

		active, err := fx.manager.EnsureSessionActive(ctx, cred.SessionID)
		require.NoError(t, err)
		require.False(t, active)
	})
}

func TestUserLookupFailureIsNotUnauthorized(t *testing.T) {
	fx := setupSessionManager(t, redisFactory, SessionConfig{})
	ctx := context.Background()

	cred, err := fx.manager.CreateSession(ctx, "u1", "ua", "ip")
	require.NoError(t, err)

	fx.users.err = errors.New("db down")
	_, _, err = fx.manager.ValidateRefreshToken(ctx, cred.RefreshToken)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrUnauthorized)

	fx.users.err = nil
	_, _, err = fx.manager.ValidateRefreshToken(ctx, cred.RefreshToken)
	require.NoError(t, err)
}

func TestValidateRefreshTokenSlidesIdleWindow(t *testing.T) {
	forEachStore(t, SessionConfig{IdleTTL: time.Hour}, func(t *testing.T, fx *sessionFixture) {
		ctx := context.Background()

		cred, err := fx.manager.CreateSession(ctx, "u1", "ua", "ip")
		require.NoError(t, err)

		fx.clock.Advance(45 * time.Minute)
		_, _, err = fx.manager.ValidateRefreshToken(ctx, cred.RefreshToken)
		require.NoError(t, err)

		record := readRecord(t, fx, cred.SessionID)
		require.Equal(t, fx.clock.Now().UnixMilli(), record.LastSeenAt)
		require.Equal(t, fx.clock.Now().Add(time.Hour).UnixMilli(), record.IdleExpiresAt)

		// Still valid 45 minutes later thanks to the slide.
		fx.clock.Advance(45 * time.Minute)
		_, _, err = fx.manager.ValidateRefreshToken(ctx, cred.RefreshToken)
		require.NoError(t, err)
	})
}

func TestIdleSessionExpiresInStore(t *testing.T) {
	fx := setupSessionManager(t, redisFactory, SessionConfig{IdleTTL: time.Hour})
	ctx := context.Background()

	cred, err := fx.manager.CreateSession(ctx, "u1", "ua", "ip")
	require.NoError(t, err)

	fx.redis.FastForward(time.Hour + time.Millisecond)
	_, err = fx.manager.RotateSession(ctx, cred.RefreshToken, "", "")
	require.ErrorIs(t, err, ErrUnauthorized)

	sessions, err := fx.manager.ListSessions(ctx, "u1", cred.SessionID)
	require.NoError(t, err)
	require.Empty(t, sessions)
	require.Empty(t, indexMembers(t, fx, "u1"))
}

func TestRevokeAllForUserInvalidatesEveryCredential(t *testing.T) {
	forEachStore(t, SessionConfig{}, func(t *testing.T, fx *sessionFixture) {
		ctx := context.Background()

		var tokens []string
		for i := 0; i < 3; i++ {
			cred, err := fx.manager.CreateSession(ctx, "u1", "ua", "ip")
			require.NoError(t, err)
			tokens = append(tokens, cred.RefreshToken)
		}
		other, err := fx.manager.CreateSession(ctx, "u2", "ua", "ip")
		require.NoError(t, err)

		require.NoError(t, fx.manager.RevokeAllForUser(ctx, "u1"))

		for _, token := range tokens {
			_, _, err := fx.manager.ValidateRefreshToken(ctx, token)
			require.ErrorIs(t, err, ErrUnauthorized)
		}
		require.Empty(t, indexMembers(t, fx, "u1"))

		_, _, err = fx.manager.ValidateRefreshToken(ctx, other.RefreshToken)
		require.NoError(t, err)

		// Revoking a user without sessions is a no-op.
		require.NoError(t, fx.manager.RevokeAllForUser(ctx, "nobody"))
	})
}

func TestEnsureSessionActivePastAbsoluteExpiry(t *testing.T) {
	forEachStore(t, SessionConfig{IdleTTL: 2 * time.Hour, AbsoluteTTL: time.Hour}, func(t *testing.T, fx *sessionFixture) {
		ctx := context.Background()

		cred, err := fx.manager.CreateSession(ctx, "u1", "ua", "ip")
		require.NoError(t, err)

		active, err := fx.manager.EnsureSessionActive(ctx, cred.SessionID)
		require.NoError(t, err)
		require.True(t, active)

		fx.clock.Advance(time.Hour + time.Second)
		active, err = fx.manager.EnsureSessionActive(ctx, cred.SessionID)
		require.NoError(t, err)
		require.False(t, active)

		require.Nil(t, readRecord(t, fx, cred.SessionID))
		sessions, err := fx.manager.ListSessions(ctx, "u1", "")
		require.NoError(t, err)
		require.Empty(t, sessions)
		require.Empty(t, indexMembers(t, fx, "u1"))
	})
}

func TestEnsureSessionActiveUnknownSession(t *testing.T) {
	fx := setupSessionManager(t, redisFactory, SessionConfig{})

	active, err := fx.manager.EnsureSessionActive(context.Background(), "missing")
	require.NoError(t, err)
	require.False(t, active)

	active, err = fx.manager.EnsureSessionActive(context.Background(), "")
	require.NoError(t, err)
	require.False(t, active)
}

func TestRevokeSessionScenario(t *testing.T) {
	forEachStore(t, SessionConfig{}, func(t *testing.T, fx *sessionFixture) {
		ctx := context.Background()

		s1, err := fx.manager.CreateSession(ctx, "u1", "ua", "ip")
		require.NoError(t, err)
		s2, err := fx.manager.CreateSession(ctx, "u1", "ua", "ip")
		require.NoError(t, err)

		revoked, err := fx.manager.RevokeSession(ctx, s1.SessionID, "u1")
		require.NoError(t, err)
		require.True(t, revoked)

		active, err := fx.manager.EnsureSessionActive(ctx, s1.SessionID)
		require.NoError(t, err)
		require.False(t, active)

		active, err = fx.manager.EnsureSessionActive(ctx, s2.SessionID)
		require.NoError(t, err)
		require.True(t, active)

		// Revoking again reports false instead of failing.
		revoked, err = fx.manager.RevokeSession(ctx, s1.SessionID, "u1")
		require.NoError(t, err)
		require.False(t, revoked)
	})
}

func TestRevokeSessionRequiresOwnership(t *testing.T) {
	forEachStore(t, SessionConfig{}, func(t *testing.T, fx *sessionFixture) {
		ctx := context.Background()

		s1, err := fx.manager.CreateSession(ctx, "u1", "ua", "ip")
		require.NoError(t, err)

		revoked, err := fx.manager.RevokeSession(ctx, s1.SessionID, "other-user")
		require.NoError(t, err)
		require.False(t, revoked)

		active, err := fx.manager.EnsureSessionActive(ctx, s1.SessionID)
		require.NoError(t, err)
		require.True(t, active)

		revoked, err = fx.manager.RevokeSession(ctx, s1.SessionID, "")
		require.NoError(t, err)
		require.True(t, revoked)
	})
}

func TestRevokeByTokenIsIdempotent(t *testing.T) {
	forEachStore(t, SessionConfig{}, func(t *testing.T, fx *sessionFixture) {
		ctx := context.Background()

		cred, err := fx.manager.CreateSession(ctx, "u1", "ua", "ip")
		require.NoError(t, err)

		require.NoError(t, fx.manager.RevokeByToken(ctx, cred.RefreshToken))
		require.NoError(t, fx.manager.RevokeByToken(ctx, cred.RefreshToken))
		require.NoError(t, fx.manager.RevokeByToken(ctx, "garbage"))
		require.NoError(t, fx.manager.RevokeByToken(ctx, ""))

		active, err := fx.manager.EnsureSessionActive(ctx, cred.SessionID)
		require.NoError(t, err)
		require.False(t, active)
	})
}

func TestListSessionsPrunesAndMarksCurrent(t *testing.T) {
	forEachStore(t, SessionConfig{}, func(t *testing.T, fx *sessionFixture) {
		ctx := context.Background()

		s1, err := fx.manager.CreateSession(ctx, "u1", "laptop", "1.1.1.1")
		require.NoError(t, err)
		fx.clock.Advance(time.Minute)
		s2, err := fx.manager.CreateSession(ctx, "u1", "phone", "")
		require.NoError(t, err)
		fx.clock.Advance(time.Minute)
		s3, err := fx.manager.CreateSession(ctx, "u1", "tablet", "3.3.3.3")
		require.NoError(t, err)

		// Simulate the store expiring a record while its index entry lingers.
		require.NoError(t, fx.store.Delete(ctx, sessionKey(s2.SessionID)))

		sessions, err := fx.manager.ListSessions(ctx, "u1", s1.SessionID)
		require.NoError(t, err)
		require.Len(t, sessions, 2)
		require.Equal(t, s3.SessionID, sessions[0].ID)
		require.Equal(t, s1.SessionID, sessions[1].ID)

		current := 0
		for _, session := range sessions {
			if session.IsCurrent {
				current++
				require.Equal(t, s1.SessionID, session.ID)
			}
		}
		require.Equal(t, 1, current)

		require.Equal(t, "laptop", sessions[1].UserAgent)
		require.NotNil(t, sessions[1].IPAddress)
		require.Equal(t, "1.1.1.1", *sessions[1].IPAddress)
		require.True(t, sessions[0].ExpiresAt.After(sessions[0].LastActivity))

		require.ElementsMatch(t, []string{s1.SessionID, s3.SessionID}, indexMembers(t, fx, "u1"))
	})
}

func TestPruneIndexCountsRemovedEntries(t *testing.T) {
	forEachStore(t, SessionConfig{}, func(t *testing.T, fx *sessionFixture) {
		ctx := context.Background()

		s1, err := fx.manager.CreateSession(ctx, "u1", "ua", "ip")
		require.NoError(t, err)
		s2, err := fx.manager.CreateSession(ctx, "u1", "ua", "ip")
		require.NoError(t, err)
		require.NoError(t, fx.store.Delete(ctx, sessionKey(s1.SessionID)))

		pruned, err := fx.manager.PruneIndex(ctx, "u1")
		require.NoError(t, err)
		require.Equal(t, 1, pruned)
		require.Equal(t, []string{s2.SessionID}, indexMembers(t, fx, "u1"))

		pruned, err = fx.manager.PruneIndex(ctx, "u1")
		require.NoError(t, err)
		require.Zero(t, pruned)
	})
}

func TestMalformedCredentialsAreUnauthorized(t *testing.T) {
	fx := setupSessionManager(t, redisFactory, SessionConfig{})
	ctx := context.Background()

	for _, token := range []string{"", "no-separator", ".secret", "sid.", "unknown.secret"} {
		_, err := fx.manager.RotateSession(ctx, token, "", "")
		require.ErrorIs(t, err, ErrUnauthorized, token)

		_, _, err = fx.manager.ValidateRefreshToken(ctx, token)
		require.ErrorIs(t, err, ErrUnauthorized, token)
	}
}

func TestCorruptRecordIsDiscarded(t *testing.T) {
	fx := setupSessionManager(t, redisFactory, SessionConfig{})
	ctx := context.Background()

	cred, err := fx.manager.CreateSession(ctx, "u1", "ua", "ip")
	require.NoError(t, err)
	require.NoError(t, fx.store.Set(ctx, sessionKey(cred.SessionID), []byte("{not json"), time.Minute))

	_, err = fx.manager.RotateSession(ctx, cred.RefreshToken, "", "")
	require.ErrorIs(t, err, ErrUnauthorized)
	require.False(t, fx.redis.Exists("anime:session:"+cred.SessionID))
}

func TestStoreFailuresAreTransient(t *testing.T) {
	fx := setupSessionManager(t, redisFactory, SessionConfig{StoreTimeout: 200 * time.Millisecond})
	ctx := context.Background()

	cred, err := fx.manager.CreateSession(ctx, "u1", "ua", "ip")
	require.NoError(t, err)

	fx.redis.Close()

	_, err = fx.manager.RotateSession(ctx, cred.RefreshToken, "", "")
	require.ErrorIs(t, err, ErrStoreUnavailable)
	require.NotErrorIs(t, err, ErrUnauthorized)

	_, err = fx.manager.EnsureSessionActive(ctx, cred.SessionID)
	require.ErrorIs(t, err, ErrStoreUnavailable)

	_, err = fx.manager.CreateSession(ctx, "u1", "ua", "ip")
	require.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestNewSessionManagerRequiresDependencies(t *testing.T) {
	_, err := NewSessionManager(nil, newFakeUsers(), SessionConfig{})
	require.Error(t, err)

	store, _ := redisFactory(t, nil)
	_, err = NewSessionManager(store, nil, SessionConfig{})
	require.Error(t, err)
}

func TestConcurrentRotationWithSameSecretRevokes(t *testing.T) {
	fx := setupSessionManager(t, redisFactory, SessionConfig{})
	ctx := context.Background()

	cred, err := fx.manager.CreateSession(ctx, "u1", "ua", "ip")
	require.NoError(t, err)

	first, err := fx.manager.RotateSession(ctx, cred.RefreshToken, "", "")
	require.NoError(t, err)

	// A racing client replaying the pre-rotation secret kills the session for everyone.
	_, err = fx.manager.RotateSession(ctx, cred.RefreshToken, "", "")
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = fx.manager.RotateSession(ctx, first.RefreshToken, "", "")
	require.ErrorIs(t, err, ErrUnauthorized)
}
