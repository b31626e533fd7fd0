package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/charlesng35/animehub/internal/models"
	"github.com/charlesng35/animehub/pkg/crypto"
	"github.com/charlesng35/animehub/pkg/logger"
	"github.com/charlesng35/animehub/pkg/metrics"
)

const (
	// DefaultIdleTTL is the sliding inactivity window of a session.
	DefaultIdleTTL = 7 * 24 * time.Hour
	// DefaultAbsoluteTTL caps the lifetime of a session regardless of activity.
	DefaultAbsoluteTTL = 30 * 24 * time.Hour
	// DefaultStoreTimeout bounds a single round-trip to the session store.
	DefaultStoreTimeout = 3 * time.Second

	secretBytes = 32

	sessionKeyPrefix      = "session:"
	userSessionsKeyPrefix = "user_sessions:"
)

var (
	// ErrUnauthorized covers every refresh credential failure: malformed, missing,
	// expired, revoked, secret mismatch or a deleted owner. Callers cannot tell them apart.
	ErrUnauthorized = errors.New("session: unauthorized")
	// ErrStoreUnavailable wraps transport failures of the session store. It is transient
	// and never means the credential is bad.
	ErrStoreUnavailable = errors.New("session: store unavailable")
)

// SessionStore is the key-value substrate holding session records and per-user indexes.
// Keys passed in are relative; the store applies its own namespace prefix.
type SessionStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes every key in one batched round-trip.
	Delete(ctx context.Context, keys ...string) error
	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRange(ctx context.Context, key string, desc bool) ([]string, error)
	ZRem(ctx context.Context, key string, members ...string) error
}

// UserFinder loads the owner of a session. It returns (nil, nil) when the user does not exist.
type UserFinder interface {
	FindUserByID(ctx context.Context, id string) (*models.User, error)
}

// SessionConfig describes tunable behaviour for the SessionManager.
type SessionConfig struct {
	IdleTTL      time.Duration
	AbsoluteTTL  time.Duration
	StoreTimeout time.Duration
	Hasher       SecretHasher
	Clock        func() time.Time
}

// Credential is returned when a session is opened.
type Credential struct {
	RefreshToken string
	SessionID    string
}

// RotateResult is returned by a successful rotation.
type RotateResult struct {
	RefreshToken string
	SessionID    string
	User         *models.User
}

// SessionView is the public description of a live session.
type SessionView struct {
	ID           string    `json:"id"`
	UserAgent    string    `json:"user_agent"`
	IPAddress    *string   `json:"ip_address"`
	LastActivity time.Time `json:"last_activity"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	IsCurrent    bool      `json:"is_current"`
}

// SessionManager owns session lifecycle on top of a SessionStore. It keeps no mutable
// state of its own, so any number of instances may share one store.
type SessionManager struct {
	store        SessionStore
	users        UserFinder
	hasher       SecretHasher
	idleTTL      time.Duration
	absoluteTTL  time.Duration
	storeTimeout time.Duration
	now          func() time.Time
	log          *zap.Logger
}

// NewSessionManager wires a SessionManager. Zero config values fall back to the defaults.
func NewSessionManager(store SessionStore, users UserFinder, cfg SessionConfig) (*SessionManager, error) {
	if store == nil {
		return nil, errors.New("session manager: store is required")
	}
	if users == nil {
		return nil, errors.New("session manager: user finder is required")
	}

	idle := cfg.IdleTTL
	if idle <= 0 {
		idle = DefaultIdleTTL
	}
	absolute := cfg.AbsoluteTTL
	if absolute <= 0 {
		absolute = DefaultAbsoluteTTL
	}
	timeout := cfg.StoreTimeout
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}
	hasher := cfg.Hasher
	if hasher == nil {
		hasher = NewBcryptHasher(DefaultSecretCost)
	}
	now := time.Now
	if cfg.Clock != nil {
		now = cfg.Clock
	}

	return &SessionManager{
		store:        store,
		users:        users,
		hasher:       hasher,
		idleTTL:      idle,
		absoluteTTL:  absolute,
		storeTimeout: timeout,
		now:          now,
		log:          logger.WithModule("session"),
	}, nil
}

// CreateSession opens a session for userID and returns the refresh credential.
func (m *SessionManager) CreateSession(ctx context.Context, userID, userAgent, ipAddress string) (Credential, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Credential{}, errors.New("session manager: user id is required")
	}

	sessionID := uuid.NewString()
	secret, hash, err := m.newSecret()
	if err != nil {
		return Credential{}, err
	}

	now := m.now()
	nowMs := now.UnixMilli()
	absolute := now.Add(m.absoluteTTL).UnixMilli()
	record := &models.Session{
		UserID:            userID,
		UserAgent:         strings.TrimSpace(userAgent),
		IPAddress:         strings.TrimSpace(ipAddress),
		CreatedAt:         nowMs,
		LastSeenAt:        nowMs,
		AbsoluteExpiresAt: absolute,
		IdleExpiresAt:     min(now.Add(m.idleTTL).UnixMilli(), absolute),
		RefreshHash:       hash,
	}

	if err := m.save(ctx, sessionID, record, nowMs); err != nil {
		return Credential{}, err
	}
	if err := m.index(ctx, userID, sessionID, nowMs); err != nil {
		if delErr := m.deleteKeys(ctx, sessionKey(sessionID)); delErr != nil {
			m.log.Warn("failed to roll back unindexed session", zap.String("session_id", sessionID), zap.Error(delErr))
		}
		return Credential{}, err
	}

	metrics.SessionsCreated.Inc()
	return Credential{RefreshToken: composeRefreshToken(sessionID, secret), SessionID: sessionID}, nil
}

// RotateSession verifies refreshToken and replaces its secret. A secret mismatch is treated
// as replay of a stolen credential and revokes the session. Callers must not retry a rotation.
func (m *SessionManager) RotateSession(ctx context.Context, refreshToken, userAgent, ipAddress string) (RotateResult, error) {
	sessionID, record, user, err := m.verify(ctx, refreshToken, true)
	if err != nil {
		m.recordRotation(err)
		return RotateResult{}, err
	}

	secret, hash, err := m.newSecret()
	if err != nil {
		return RotateResult{}, err
	}

	now := m.now()
	nowMs := now.UnixMilli()
	record.RefreshHash = hash
	record.LastSeenAt = nowMs
	record.IdleExpiresAt = min(now.Add(m.idleTTL).UnixMilli(), record.AbsoluteExpiresAt)
	if ua := strings.TrimSpace(userAgent); ua != "" {
		record.UserAgent = ua
	}
	if ip := strings.TrimSpace(ipAddress); ip != "" {
		record.IPAddress = ip
	}

	if err := m.save(ctx, sessionID, record, nowMs); err != nil {
		m.recordRotation(err)
		return RotateResult{}, err
	}
	if err := m.index(ctx, record.UserID, sessionID, nowMs); err != nil {
		m.recordRotation(err)
		return RotateResult{}, err
	}

	metrics.SessionRotations.WithLabelValues("success").Inc()
	return RotateResult{
		RefreshToken: composeRefreshToken(sessionID, secret),
		SessionID:    sessionID,
		User:         user,
	}, nil
}

// ValidateRefreshToken runs the rotation checks without issuing a new secret. The session's
// idle window slides forward on success. A stale secret is rejected but, unlike rotation,
// does not revoke the session.
func (m *SessionManager) ValidateRefreshToken(ctx context.Context, refreshToken string) (*models.User, string, error) {
	sessionID, record, user, err := m.verify(ctx, refreshToken, false)
	if err != nil {
		return nil, "", err
	}

	now := m.now()
	nowMs := now.UnixMilli()
	record.LastSeenAt = nowMs
	record.IdleExpiresAt = min(now.Add(m.idleTTL).UnixMilli(), record.AbsoluteExpiresAt)

	if err := m.save(ctx, sessionID, record, nowMs); err != nil {
		return nil, "", err
	}
	if err := m.index(ctx, record.UserID, sessionID, nowMs); err != nil {
		return nil, "", err
	}
	return user, sessionID, nil
}

// EnsureSessionActive is the per-request liveness check for the session id carried in an
// access token. A session past its absolute expiry is revoked on the spot.
func (m *SessionManager) EnsureSessionActive(ctx context.Context, sessionID string) (bool, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return false, nil
	}

	record, err := m.load(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if record == nil || record.Revoked() {
		return false, nil
	}

	nowMs := m.now().UnixMilli()
	if record.AbsoluteExpiresAt <= nowMs {
		if _, err := m.revoke(ctx, sessionID, record, "absolute_expiry"); err != nil {
			m.log.Warn("failed to revoke expired session", zap.String("session_id", sessionID), zap.Error(err))
		}
		return false, nil
	}
	if record.IdleExpiresAt <= nowMs {
		return false, nil
	}
	return true, nil
}

// RevokeSession deletes a session and its index entry. When userID is not empty the session
// is only revoked if it belongs to that user. It reports false when nothing was revoked.
func (m *SessionManager) RevokeSession(ctx context.Context, sessionID, userID string) (bool, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return false, nil
	}

	record, err := m.load(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if record == nil {
		return false, nil
	}
	if userID = strings.TrimSpace(userID); userID != "" && record.UserID != userID {
		return false, nil
	}
	return m.revoke(ctx, sessionID, record, "terminated")
}

// RevokeByToken revokes the session named by refreshToken without verifying its secret.
// Malformed or unknown credentials are ignored so that logout stays idempotent.
func (m *SessionManager) RevokeByToken(ctx context.Context, refreshToken string) error {
	sessionID, _, err := ParseRefreshToken(refreshToken)
	if err != nil {
		return nil
	}

	record, err := m.load(ctx, sessionID)
	if err != nil {
		return err
	}
	if record == nil {
		return nil
	}
	_, err = m.revoke(ctx, sessionID, record, "logout")
	return err
}

// RevokeAllForUser deletes every indexed session of userID together with the index itself.
func (m *SessionManager) RevokeAllForUser(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("session manager: user id is required")
	}

	ids, err := m.members(ctx, userID, false)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, sessionKey(id))
	}
	keys = append(keys, userSessionsKey(userID))

	if err := m.deleteKeys(ctx, keys...); err != nil {
		return err
	}

	if len(ids) > 0 {
		metrics.SessionRevocations.WithLabelValues("logout_all").Add(float64(len(ids)))
		m.log.Info("revoked all sessions", zap.String("user_id", userID), zap.Int("count", len(ids)))
	}
	return nil
}

// ListSessions returns the live sessions of userID, most recently active first. Index entries
// whose record has gone are dropped from the index as a side effect.
func (m *SessionManager) ListSessions(ctx context.Context, userID, currentSessionID string) ([]SessionView, error) {
	live, _, err := m.liveSessions(ctx, userID)
	if err != nil {
		return nil, err
	}

	views := make([]SessionView, 0, len(live))
	for _, entry := range live {
		view := SessionView{
			ID:           entry.id,
			UserAgent:    entry.record.UserAgent,
			LastActivity: time.UnixMilli(entry.record.LastSeenAt).UTC(),
			CreatedAt:    time.UnixMilli(entry.record.CreatedAt).UTC(),
			ExpiresAt:    time.UnixMilli(entry.record.IdleExpiresAt).UTC(),
			IsCurrent:    currentSessionID != "" && entry.id == currentSessionID,
		}
		if ip := entry.record.IPAddress; ip != "" {
			view.IPAddress = &ip
		}
		views = append(views, view)
	}
	return views, nil
}

// PruneIndex removes index entries of userID whose record has expired and returns how many
// were removed.
func (m *SessionManager) PruneIndex(ctx context.Context, userID string) (int, error) {
	_, pruned, err := m.liveSessions(ctx, userID)
	return pruned, err
}

type liveSession struct {
	id     string
	record *models.Session
}

func (m *SessionManager) liveSessions(ctx context.Context, userID string) ([]liveSession, int, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, 0, errors.New("session manager: user id is required")
	}

	ids, err := m.members(ctx, userID, true)
	if err != nil {
		return nil, 0, err
	}

	nowMs := m.now().UnixMilli()
	live := make([]liveSession, 0, len(ids))
	var stale []string
	for _, id := range ids {
		record, err := m.load(ctx, id)
		if err != nil {
			return nil, 0, err
		}
		if record == nil || record.Revoked() || record.UserID != userID ||
			record.AbsoluteExpiresAt <= nowMs || record.IdleExpiresAt <= nowMs {
			stale = append(stale, id)
			continue
		}
		live = append(live, liveSession{id: id, record: record})
	}

	if len(stale) > 0 {
		if err := m.unindex(ctx, userID, stale...); err != nil {
			return nil, 0, err
		}
	}
	return live, len(stale), nil
}

// verify runs the checks shared by rotation and validation and returns the loaded record and owner.
func (m *SessionManager) verify(ctx context.Context, refreshToken string, revokeOnMismatch bool) (string, *models.Session, *models.User, error) {
	sessionID, secret, err := ParseRefreshToken(refreshToken)
	if err != nil {
		return "", nil, nil, err
	}

	record, err := m.load(ctx, sessionID)
	if err != nil {
		return "", nil, nil, err
	}
	if record == nil || record.Revoked() {
		return "", nil, nil, ErrUnauthorized
	}

	nowMs := m.now().UnixMilli()
	if record.AbsoluteExpiresAt <= nowMs || record.IdleExpiresAt <= nowMs {
		return "", nil, nil, ErrUnauthorized
	}

	if !m.hasher.Compare(record.RefreshHash, secret) {
		if !revokeOnMismatch {
			return "", nil, nil, ErrUnauthorized
		}
		m.log.Warn("refresh secret mismatch, revoking session",
			zap.String("session_id", sessionID),
			zap.String("user_id", record.UserID),
		)
		if _, err := m.revoke(ctx, sessionID, record, "secret_mismatch"); err != nil {
			m.log.Error("failed to revoke session after secret mismatch", zap.String("session_id", sessionID), zap.Error(err))
		}
		return "", nil, nil, ErrUnauthorized
	}

	user, err := m.users.FindUserByID(ctx, record.UserID)
	if err != nil {
		return "", nil, nil, fmt.Errorf("session manager: load user: %w", err)
	}
	if user == nil {
		if _, err := m.revoke(ctx, sessionID, record, "user_missing"); err != nil {
			m.log.Error("failed to revoke orphaned session", zap.String("session_id", sessionID), zap.Error(err))
		}
		return "", nil, nil, ErrUnauthorized
	}

	return sessionID, record, user, nil
}

func (m *SessionManager) revoke(ctx context.Context, sessionID string, record *models.Session, reason string) (bool, error) {
	if err := m.deleteKeys(ctx, sessionKey(sessionID)); err != nil {
		return false, err
	}
	if err := m.unindex(ctx, record.UserID, sessionID); err != nil {
		return false, err
	}
	metrics.SessionRevocations.WithLabelValues(reason).Inc()
	return true, nil
}

func (m *SessionManager) newSecret() (string, string, error) {
	secret, err := crypto.GenerateHexSecret(secretBytes)
	if err != nil {
		return "", "", fmt.Errorf("session manager: generate secret: %w", err)
	}
	hash, err := m.hasher.Hash(secret)
	if err != nil {
		return "", "", fmt.Errorf("session manager: hash secret: %w", err)
	}
	return secret, hash, nil
}

func (m *SessionManager) recordRotation(err error) {
	switch {
	case errors.Is(err, ErrUnauthorized):
		metrics.SessionRotations.WithLabelValues("rejected").Inc()
	default:
		metrics.SessionRotations.WithLabelValues("error").Inc()
	}
}

// load returns nil when the record is absent. Undecodable records are deleted and reported absent.
func (m *SessionManager) load(ctx context.Context, sessionID string) (*models.Session, error) {
	callCtx, cancel := context.WithTimeout(ctx, m.storeTimeout)
	defer cancel()

	raw, found, err := m.store.Get(callCtx, sessionKey(sessionID))
	if err != nil {
		return nil, storeError("get", err)
	}
	if !found {
		return nil, nil
	}

	var record models.Session
	if err := json.Unmarshal(raw, &record); err != nil {
		m.log.Warn("discarding undecodable session record", zap.String("session_id", sessionID), zap.Error(err))
		if delErr := m.deleteKeys(ctx, sessionKey(sessionID)); delErr != nil {
			return nil, delErr
		}
		return nil, nil
	}
	return &record, nil
}

// save persists record with a TTL matching its remaining idle window (at least 1ms).
func (m *SessionManager) save(ctx context.Context, sessionID string, record *models.Session, nowMs int64) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("session manager: encode session: %w", err)
	}
	ttl := time.Duration(max(record.IdleExpiresAt-nowMs, 1)) * time.Millisecond

	callCtx, cancel := context.WithTimeout(ctx, m.storeTimeout)
	defer cancel()
	if err := m.store.Set(callCtx, sessionKey(sessionID), payload, ttl); err != nil {
		return storeError("set", err)
	}
	return nil
}

func (m *SessionManager) index(ctx context.Context, userID, sessionID string, nowMs int64) error {
	callCtx, cancel := context.WithTimeout(ctx, m.storeTimeout)
	defer cancel()
	if err := m.store.ZAdd(callCtx, userSessionsKey(userID), float64(nowMs), sessionID); err != nil {
		return storeError("zadd", err)
	}
	return nil
}

func (m *SessionManager) unindex(ctx context.Context, userID string, sessionIDs ...string) error {
	callCtx, cancel := context.WithTimeout(ctx, m.storeTimeout)
	defer cancel()
	if err := m.store.ZRem(callCtx, userSessionsKey(userID), sessionIDs...); err != nil {
		return storeError("zrem", err)
	}
	return nil
}

func (m *SessionManager) members(ctx context.Context, userID string, desc bool) ([]string, error) {
	callCtx, cancel := context.WithTimeout(ctx, m.storeTimeout)
	defer cancel()
	ids, err := m.store.ZRange(callCtx, userSessionsKey(userID), desc)
	if err != nil {
		return nil, storeError("zrange", err)
	}
	return ids, nil
}

func (m *SessionManager) deleteKeys(ctx context.Context, keys ...string) error {
	callCtx, cancel := context.WithTimeout(ctx, m.storeTimeout)
	defer cancel()
	if err := m.store.Delete(callCtx, keys...); err != nil {
		return storeError("delete", err)
	}
	return nil
}

func storeError(op string, err error) error {
	metrics.SessionStoreErrors.WithLabelValues(op).Inc()
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}

func sessionKey(sessionID string) string {
	return sessionKeyPrefix + sessionID
}

func userSessionsKey(userID string) string {
	return userSessionsKeyPrefix + userID
}
