package handlers_test

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	iauth "github.com/charlesng35/animehub/internal/auth"
	"github.com/charlesng35/animehub/internal/handlers/testutil"
	"github.com/charlesng35/animehub/internal/models"
)

const password = "Secret123!"

func TestAuthRegisterConfirmLoginFlow(t *testing.T) {
	env := testutil.NewEnv(t)

	w := env.Request(http.MethodPost, "/api/auth/register", map[string]string{
		"email":    "Fan@Example.com",
		"password": password,
		"name":     "Anime Fan",
	}, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.Equal(t, 1, env.Mailbox.Count())

	mail := env.Mailbox.Last(t)
	require.Equal(t, "fan@example.com", strings.ToLower(mail.To[0]))
	require.Contains(t, mail.Body, "http://app.test/confirm-email?token=")

	// Unconfirmed accounts cannot sign in.
	w = env.Request(http.MethodPost, "/api/auth/login", map[string]string{
		"email":    "fan@example.com",
		"password": password,
	}, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	resp := testutil.DecodeResponse(t, w)
	require.Equal(t, "EMAIL_NOT_CONFIRMED", resp.Error.Code)

	token := env.Mailbox.LastToken(t)
	w = env.Request(http.MethodGet, "/api/auth/confirm-email?token="+token, nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.Request(http.MethodGet, "/api/auth/confirm-email?token="+token, nil, "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "EMAIL_ALREADY_CONFIRMED", testutil.DecodeResponse(t, w).Error.Code)

	login := env.Login("fan@example.com", password)
	require.Equal(t, "fan@example.com", login.User.Email)
	require.Equal(t, models.RoleUser, login.User.Role)
	require.True(t, login.User.IsEmailConfirmed)
	require.Equal(t, int((15 * time.Minute).Seconds()), login.ExpiresIn)

	cookie := login.RefreshCookie
	require.True(t, cookie.HttpOnly)
	require.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
	require.Equal(t, "/api/auth", cookie.Path)
	sessionID, _, err := iauth.ParseRefreshToken(cookie.Value)
	require.NoError(t, err)
	require.Equal(t, login.SessionID, sessionID)

	w = env.Request(http.MethodGet, "/api/auth/profile", nil, login.AccessToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var profile testutil.UserPayload
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &profile)
	require.Equal(t, login.User.ID, profile.ID)
	require.Equal(t, "Anime Fan", profile.Name)
}

func TestAuthRegisterRejectsDuplicatesAndInvalidInput(t *testing.T) {
	env := testutil.NewEnv(t)
	env.Register("dup@example.com", password)

	w := env.Request(http.MethodPost, "/api/auth/register", map[string]string{
		"email":    "dup@example.com",
		"password": password,
		"name":     "Someone Else",
	}, "")
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())

	w = env.Request(http.MethodPost, "/api/auth/register", map[string]string{
		"email":    "not-an-email",
		"password": "123",
		"name":     "ab",
	}, "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "BAD_REQUEST", testutil.DecodeResponse(t, w).Error.Code)
	require.Contains(t, w.Body.String(), `"field":"email"`)
	require.Contains(t, w.Body.String(), "password must be at least 6 characters")
	require.Contains(t, w.Body.String(), "name must be at least 4 characters")

	w = env.Request(http.MethodGet, "/api/auth/confirm-email?token=bogus", nil, "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "CONFIRMATION_TOKEN_INVALID", testutil.DecodeResponse(t, w).Error.Code)
}

func TestAuthLoginFailures(t *testing.T) {
	env := testutil.NewEnv(t)
	env.CreateUser("login@example.com", password, models.RoleUser)

	w := env.Request(http.MethodPost, "/api/auth/login", map[string]string{"email": "login@example.com"}, "")
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = env.Request(http.MethodPost, "/api/auth/login", map[string]string{
		"email":    "login@example.com",
		"password": "wrong-password",
	}, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "INVALID_CREDENTIALS", testutil.DecodeResponse(t, w).Error.Code)

	w = env.Request(http.MethodPost, "/api/auth/login", map[string]string{
		"email":    "missing@example.com",
		"password": password,
	}, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "INVALID_CREDENTIALS", testutil.DecodeResponse(t, w).Error.Code)
}

func TestAuthRefreshRotatesCredential(t *testing.T) {
	env := testutil.NewEnv(t)
	env.CreateUser("refresh@example.com", password, models.RoleUser)
	login := env.Login("refresh@example.com", password)

	w := env.Request(http.MethodPost, "/api/auth/refresh", nil, "", login.RefreshCookie)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var refreshed testutil.LoginResult
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &refreshed)
	require.Equal(t, login.SessionID, refreshed.SessionID)
	require.NotEmpty(t, refreshed.AccessToken)
	require.Empty(t, refreshed.RefreshToken, "cookie clients only get the credential as a cookie")

	rotated := env.RefreshCookie(w)
	require.NotNil(t, rotated)
	require.NotEqual(t, login.RefreshCookie.Value, rotated.Value)

	// The JSON body is accepted when no cookie is present.
	w = env.Request(http.MethodPost, "/api/auth/refresh", map[string]string{"refresh_token": rotated.Value}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	latest := env.RefreshCookie(w)
	require.NotNil(t, latest)

	// Replaying a superseded credential revokes the whole session.
	w = env.Request(http.MethodPost, "/api/auth/refresh", nil, "", login.RefreshCookie)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "SESSION_INVALID", testutil.DecodeResponse(t, w).Error.Code)
	cleared := env.RefreshCookie(w)
	require.NotNil(t, cleared)
	require.Empty(t, cleared.Value)

	w = env.Request(http.MethodPost, "/api/auth/refresh", nil, "", latest)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.Request(http.MethodGet, "/api/auth/profile", nil, refreshed.AccessToken)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthRefreshChainsBodyCredentials(t *testing.T) {
	env := testutil.NewEnv(t)
	env.CreateUser("mobile@example.com", password, models.RoleUser)
	login := env.Login("mobile@example.com", password)

	current := login.RefreshCookie.Value
	for i := 0; i < 3; i++ {
		w := env.Request(http.MethodPost, "/api/auth/refresh", map[string]string{"refresh_token": current}, "")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var refreshed testutil.LoginResult
		testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &refreshed)
		require.Equal(t, login.SessionID, refreshed.SessionID)
		require.NotEmpty(t, refreshed.RefreshToken)
		require.NotEqual(t, current, refreshed.RefreshToken)
		current = refreshed.RefreshToken
	}

	w := env.Request(http.MethodPost, "/api/auth/refresh", map[string]string{"refresh_token": login.RefreshCookie.Value}, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthCheckSessionKeepsCredential(t *testing.T) {
	env := testutil.NewEnv(t)
	env.CreateUser("check@example.com", password, models.RoleUser)
	login := env.Login("check@example.com", password)

	w := env.Request(http.MethodPost, "/api/auth/session", nil, "", login.RefreshCookie)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var status struct {
		SessionID string               `json:"session_id"`
		User      testutil.UserPayload `json:"user"`
	}
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &status)
	require.Equal(t, login.SessionID, status.SessionID)
	require.Equal(t, "check@example.com", status.User.Email)
	require.Nil(t, env.RefreshCookie(w))

	w = env.Request(http.MethodPost, "/api/auth/refresh", nil, "", login.RefreshCookie)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// The checked credential was rotated away by the refresh above.
	w = env.Request(http.MethodPost, "/api/auth/session", map[string]string{"refresh_token": login.RefreshCookie.Value}, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthRefreshRequiresCredential(t *testing.T) {
	env := testutil.NewEnv(t)

	w := env.Request(http.MethodPost, "/api/auth/refresh", nil, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "SESSION_INVALID", testutil.DecodeResponse(t, w).Error.Code)

	w = env.Request(http.MethodPost, "/api/auth/refresh", nil, "",
		&http.Cookie{Name: "refreshToken", Value: "garbage"})
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthSessionsListAndTerminate(t *testing.T) {
	env := testutil.NewEnv(t)
	env.CreateUser("multi@example.com", password, models.RoleUser)

	first := env.Login("multi@example.com", password)
	second := env.Login("multi@example.com", password)

	w := env.Request(http.MethodGet, "/api/auth/sessions", nil, second.AccessToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var sessions []iauth.SessionView
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &sessions)
	require.Len(t, sessions, 2)

	current := map[string]bool{}
	for _, s := range sessions {
		current[s.ID] = s.IsCurrent
	}
	require.True(t, current[second.SessionID])
	require.False(t, current[first.SessionID])

	w = env.Request(http.MethodDelete, "/api/auth/sessions/"+first.SessionID, nil, second.AccessToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.Request(http.MethodGet, "/api/auth/profile", nil, first.AccessToken)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.Request(http.MethodDelete, "/api/auth/sessions/"+first.SessionID, nil, second.AccessToken)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "SESSION_NOT_FOUND", testutil.DecodeResponse(t, w).Error.Code)
}

func TestAuthCannotTerminateForeignSession(t *testing.T) {
	env := testutil.NewEnv(t)
	env.CreateUser("owner@example.com", password, models.RoleUser)
	env.CreateUser("intruder@example.com", password, models.RoleUser)

	owner := env.Login("owner@example.com", password)
	intruder := env.Login("intruder@example.com", password)

	w := env.Request(http.MethodDelete, "/api/auth/sessions/"+owner.SessionID, nil, intruder.AccessToken)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = env.Request(http.MethodGet, "/api/auth/profile", nil, owner.AccessToken)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestAuthLogout(t *testing.T) {
	env := testutil.NewEnv(t)
	env.CreateUser("logout@example.com", password, models.RoleUser)

	t.Run("with cookie", func(t *testing.T) {
		login := env.Login("logout@example.com", password)
		w := env.Request(http.MethodPost, "/api/auth/logout", nil, login.AccessToken, login.RefreshCookie)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		cleared := env.RefreshCookie(w)
		require.NotNil(t, cleared)
		require.Empty(t, cleared.Value)

		w = env.Request(http.MethodGet, "/api/auth/profile", nil, login.AccessToken)
		require.Equal(t, http.StatusUnauthorized, w.Code)
		w = env.Request(http.MethodPost, "/api/auth/refresh", nil, "", login.RefreshCookie)
		require.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("access token only", func(t *testing.T) {
		login := env.Login("logout@example.com", password)
		w := env.Request(http.MethodPost, "/api/auth/logout", nil, login.AccessToken)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		w = env.Request(http.MethodGet, "/api/auth/profile", nil, login.AccessToken)
		require.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("requires authentication", func(t *testing.T) {
		w := env.Request(http.MethodPost, "/api/auth/logout", nil, "")
		require.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestAuthLogoutAll(t *testing.T) {
	env := testutil.NewEnv(t)
	env.CreateUser("everywhere@example.com", password, models.RoleUser)

	first := env.Login("everywhere@example.com", password)
	second := env.Login("everywhere@example.com", password)

	w := env.Request(http.MethodPost, "/api/auth/logout-all", nil, second.AccessToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	for _, login := range []testutil.LoginResult{first, second} {
		w = env.Request(http.MethodGet, "/api/auth/profile", nil, login.AccessToken)
		require.Equal(t, http.StatusUnauthorized, w.Code)
	}

	views, err := env.Sessions.ListSessions(context.Background(), first.User.ID, "")
	require.NoError(t, err)
	require.Empty(t, views)
}

func TestAuthPasswordReset(t *testing.T) {
	env := testutil.NewEnv(t)
	env.CreateUser("reset@example.com", password, models.RoleUser)
	login := env.Login("reset@example.com", password)

	w := env.Request(http.MethodPost, "/api/auth/forgot-password", map[string]string{"email": "unknown@example.com"}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	unknownBody := w.Body.String()
	require.Equal(t, 0, env.Mailbox.Count())

	w = env.Request(http.MethodPost, "/api/auth/forgot-password", map[string]string{"email": "reset@example.com"}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, unknownBody, w.Body.String())
	require.Equal(t, 1, env.Mailbox.Count())
	require.Contains(t, env.Mailbox.Last(t).Body, "http://app.test/reset-password?token=")

	token := env.Mailbox.LastToken(t)

	w = env.Request(http.MethodPost, "/api/auth/reset-password", map[string]string{
		"token":        token,
		"new_password": "BrandNew456!",
	}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.Request(http.MethodGet, "/api/auth/profile", nil, login.AccessToken)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.Request(http.MethodPost, "/api/auth/reset-password", map[string]string{
		"token":        token,
		"new_password": "Another789!",
	}, "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "RESET_TOKEN_INVALID", testutil.DecodeResponse(t, w).Error.Code)

	w = env.Request(http.MethodPost, "/api/auth/login", map[string]string{
		"email":    "reset@example.com",
		"password": password,
	}, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	env.Login("reset@example.com", "BrandNew456!")
}

func TestAuthRateLimit(t *testing.T) {
	env := testutil.NewEnv(t, testutil.WithRateLimit(2, time.Minute))

	body := map[string]string{"email": "nobody@example.com", "password": password}
	for i := 0; i < 2; i++ {
		w := env.Request(http.MethodPost, "/api/auth/login", body, "")
		require.Equal(t, http.StatusUnauthorized, w.Code)
	}

	w := env.Request(http.MethodPost, "/api/auth/login", body, "")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Contains(t, w.Body.String(), "RATE_LIMIT_EXCEEDED")
}

func TestAuthStoreOutage(t *testing.T) {
	env := testutil.NewEnv(t)
	env.CreateUser("outage@example.com", password, models.RoleUser)
	login := env.Login("outage@example.com", password)

	env.Redis.Close()

	w := env.Request(http.MethodPost, "/api/auth/login", map[string]string{
		"email":    "outage@example.com",
		"password": password,
	}, "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.Equal(t, "SERVICE_UNAVAILABLE", testutil.DecodeResponse(t, w).Error.Code)

	w = env.Request(http.MethodGet, "/api/auth/profile", nil, login.AccessToken)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = env.Request(http.MethodGet, "/health/ready", nil, "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = env.Request(http.MethodGet, "/health/live", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	env := testutil.NewEnv(t)

	w := env.Request(http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Contains(t, w.Body.String(), `"session_store"`)

	w = env.Request(http.MethodGet, "/health/ready", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	w = env.Request(http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "animehub_")

	w = env.Request(http.MethodGet, "/api/does-not-exist", nil, "")
	require.Equal(t, http.StatusNotFound, w.Code)
}
