package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestNewJWTServiceRequiresSecret(t *testing.T) {
	_, err := NewJWTService(JWTConfig{Secret: "  "})
	require.EqualError(t, err, "jwt: secret must be provided")

	svc, err := NewJWTService(JWTConfig{Secret: "s"})
	require.NoError(t, err)
	require.Equal(t, DefaultAccessTokenTTL, svc.AccessTokenTTL())
}

func TestIssueAndVerify(t *testing.T) {
	current := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	svc, err := NewJWTService(JWTConfig{
		Secret:         "super-secret",
		Issuer:         "animehub",
		AccessTokenTTL: time.Hour,
		Clock:          fixedClock(current),
	})
	require.NoError(t, err)

	token, err := svc.Issue("user-123", "sakura@example.com", "MODERATOR", "session-456")
	require.NoError(t, err)

	claims, err := svc.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "user-123", claims.UserID())
	require.Equal(t, "sakura@example.com", claims.Email)
	require.Equal(t, "MODERATOR", claims.Role)
	require.Equal(t, "session-456", claims.SessionID)
	require.Equal(t, "animehub", claims.Issuer)
	require.NotEmpty(t, claims.ID)
	require.True(t, claims.ExpiresAt.Time.Equal(current.Add(time.Hour)))

	raw := jwt.MapClaims{}
	_, _, err = jwt.NewParser().ParseUnverified(token, raw)
	require.NoError(t, err)
	require.Equal(t, "sakura@example.com", raw["email"])
	require.Equal(t, "session-456", raw["sid"])
	require.Equal(t, "user-123", raw["sub"])

	again, err := svc.Issue("user-123", "sakura@example.com", "MODERATOR", "session-456")
	require.NoError(t, err)
	require.NotEqual(t, token, again)
}

func TestIssueRequiresIdentifiers(t *testing.T) {
	svc, err := NewJWTService(JWTConfig{Secret: "s"})
	require.NoError(t, err)

	_, err = svc.Issue("", "a@example.com", "USER", "sid")
	require.ErrorContains(t, err, "user id is required")
	_, err = svc.Issue("uid", "a@example.com", "USER", "")
	require.ErrorContains(t, err, "session id is required")
}

func TestVerifyExpired(t *testing.T) {
	current := time.Date(2024, 1, 1, 14, 0, 0, 0, time.UTC)
	clock := func() time.Time { return current }
	svc, err := NewJWTService(JWTConfig{Secret: "s", AccessTokenTTL: time.Minute, Clock: clock})
	require.NoError(t, err)

	token, err := svc.Issue("uid", "a@example.com", "USER", "sid")
	require.NoError(t, err)

	current = current.Add(2 * time.Minute)
	_, err = svc.Verify(token)
	require.ErrorIs(t, err, ErrAccessTokenExpired)
	require.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestVerifyRejectsForeignTokens(t *testing.T) {
	now := fixedClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	verifier, err := NewJWTService(JWTConfig{Secret: "shared", Issuer: "animehub", Clock: now})
	require.NoError(t, err)

	t.Run("issuer", func(t *testing.T) {
		other, err := NewJWTService(JWTConfig{Secret: "shared", Issuer: "elsewhere", Clock: now})
		require.NoError(t, err)
		token, err := other.Issue("uid", "a@example.com", "USER", "sid")
		require.NoError(t, err)

		_, err = verifier.Verify(token)
		require.ErrorIs(t, err, ErrAccessTokenInvalid)
		require.ErrorIs(t, err, jwt.ErrTokenInvalidIssuer)
	})

	t.Run("signature", func(t *testing.T) {
		other, err := NewJWTService(JWTConfig{Secret: "other", Issuer: "animehub", Clock: now})
		require.NoError(t, err)
		token, err := other.Issue("uid", "a@example.com", "USER", "sid")
		require.NoError(t, err)

		_, err = verifier.Verify(token)
		require.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)
	})

	t.Run("algorithm", func(t *testing.T) {
		claims := &Claims{SessionID: "sid", Type: accessTokenType, RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "uid",
			Issuer:    "animehub",
			ExpiresAt: jwt.NewNumericDate(now().Add(time.Hour)),
		}}
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("shared"))
		require.NoError(t, err)

		_, err = verifier.Verify(signed)
		require.ErrorIs(t, err, ErrAccessTokenInvalid)
	})

	t.Run("type", func(t *testing.T) {
		claims := &Claims{SessionID: "sid", Type: "refresh", RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "uid",
			Issuer:    "animehub",
			ExpiresAt: jwt.NewNumericDate(now().Add(time.Hour)),
		}}
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("shared"))
		require.NoError(t, err)

		_, err = verifier.Verify(signed)
		require.ErrorContains(t, err, "unexpected token type")
	})

	t.Run("empty", func(t *testing.T) {
		_, err := verifier.Verify(" ")
		require.ErrorIs(t, err, ErrAccessTokenInvalid)
	})
}
