package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/charlesng35/animehub/internal/api"
	"github.com/charlesng35/animehub/internal/app"
	iauth "github.com/charlesng35/animehub/internal/auth"
	"github.com/charlesng35/animehub/internal/cache"
	sharedtestutil "github.com/charlesng35/animehub/internal/database/testutil"
	"github.com/charlesng35/animehub/internal/middleware"
	"github.com/charlesng35/animehub/internal/models"
	"github.com/charlesng35/animehub/internal/monitoring"
	"github.com/charlesng35/animehub/internal/monitoring/checks"
	"github.com/charlesng35/animehub/internal/services"
	"github.com/charlesng35/animehub/pkg/mail"
	"github.com/charlesng35/animehub/pkg/response"
)

var tokenPattern = regexp.MustCompile(`token=([A-Za-z0-9_-]+)`)

// Mailbox records outgoing mail instead of delivering it.
type Mailbox struct {
	mu       sync.Mutex
	messages []mail.Message
}

// Send implements mail.Mailer.
func (m *Mailbox) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return nil
}

// Last returns the most recent message.
func (m *Mailbox) Last(t *testing.T) mail.Message {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.messages, "no mail was sent")
	return m.messages[len(m.messages)-1]
}

// LastToken extracts the token query parameter from the link in the latest message.
func (m *Mailbox) LastToken(t *testing.T) string {
	t.Helper()
	match := tokenPattern.FindStringSubmatch(m.Last(t).Body)
	require.Len(t, match, 2, "mail body carries no token link")
	return match[1]
}

// Count returns how many messages were sent.
func (m *Mailbox) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

// Env encapsulates a fully-wired API instance backed by in-memory SQLite and miniredis.
type Env struct {
	T        *testing.T
	DB       *gorm.DB
	Redis    *miniredis.Miniredis
	Router   *gin.Engine
	Config   *app.Config
	Mailbox  *Mailbox
	Users    *services.UserService
	Sessions *iauth.SessionManager
}

// EnvOption adjusts the configuration before the router is built.
type EnvOption func(*app.Config)

// WithRateLimit enables the auth rate limiter with the given budget.
func WithRateLimit(requests int, window time.Duration) EnvOption {
	return func(cfg *app.Config) {
		cfg.Server.RateLimit = app.RateLimitConfig{Enabled: true, Requests: requests, Window: window}
	}
}

// NewEnv provisions a fresh handler test environment.
func NewEnv(t *testing.T, opts ...EnvOption) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithAutoMigrate())

	server, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: server.Addr(), MaxRetries: -1})
	t.Cleanup(func() {
		_ = client.Close()
		server.Close()
	})
	store := cache.NewRedisStoreFromClient(client, "test:")

	cfg := &app.Config{
		Server: app.ServerConfig{FrontendURL: "http://app.test"},
		Monitoring: app.MonitoringConfig{
			Prometheus: app.PrometheusConfig{Enabled: true, Endpoint: "/metrics"},
			Health:     app.HealthConfig{Enabled: true},
		},
		Auth: app.AuthConfig{
			JWT: app.JWTSettings{
				Secret: "handler-test-secret-0123456789abcdef",
				Issuer: "animehub-test",
				TTL:    15 * time.Minute,
			},
			Session: app.SessionSettings{
				IdleTTL:      7 * 24 * time.Hour,
				AbsoluteTTL:  30 * 24 * time.Hour,
				SecretCost:   bcrypt.MinCost,
				StoreTimeout: time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	users, err := services.NewUserService(db)
	require.NoError(t, err)
	settings, err := services.NewUserSettingsService(db)
	require.NoError(t, err)

	sessions, err := iauth.NewSessionManager(store, users, cfg.Auth.SessionManagerConfig())
	require.NoError(t, err)
	jwt, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	require.NoError(t, err)

	mailbox := &Mailbox{}
	verifications, err := services.NewEmailVerificationService(db, mailbox,
		services.WithVerificationBaseURL(cfg.Server.FrontendLink("confirm-email")))
	require.NoError(t, err)
	resets, err := services.NewPasswordResetService(db, mailbox,
		services.WithResetBaseURL(cfg.Server.FrontendLink("reset-password")))
	require.NoError(t, err)

	authSvc, err := services.NewAuthService(services.AuthServiceDeps{
		Users:         users,
		Sessions:      sessions,
		JWT:           jwt,
		Verifications: verifications,
		Resets:        resets,
	})
	require.NoError(t, err)

	health := monitoring.NewHealthManager()
	health.RegisterReadiness(checks.Database(db, time.Second))
	health.RegisterReadiness(checks.SessionStore(store, "redis", time.Second))

	router, err := api.NewRouter(api.Deps{
		Config:    cfg,
		Auth:      authSvc,
		Users:     users,
		Settings:  settings,
		RateStore: middleware.NewMemoryRateStore(),
		Health:    health,
	})
	require.NoError(t, err)

	return &Env{
		T:        t,
		DB:       db,
		Redis:    server,
		Router:   router,
		Config:   cfg,
		Mailbox:  mailbox,
		Users:    users,
		Sessions: sessions,
	}
}

// CreateUser inserts a confirmed account directly through the user service.
func (e *Env) CreateUser(email, password, role string) *models.User {
	e.T.Helper()

	user, err := e.Users.Create(context.Background(), services.CreateUserInput{
		Email:            email,
		Name:             "Test User",
		Password:         password,
		Role:             role,
		IsEmailConfirmed: true,
	})
	require.NoError(e.T, err)
	return user
}

// Register signs up through the API and confirms the address using the mailed link.
func (e *Env) Register(email, password string) {
	e.T.Helper()

	w := e.Request(http.MethodPost, "/api/auth/register", map[string]string{
		"email":    email,
		"password": password,
		"name":     "Anime Fan",
	}, "")
	require.Equal(e.T, http.StatusCreated, w.Code, w.Body.String())

	w = e.Request(http.MethodGet, "/api/auth/confirm-email?token="+e.Mailbox.LastToken(e.T), nil, "")
	require.Equal(e.T, http.StatusOK, w.Code, w.Body.String())
}

// UserPayload captures the profile fields returned from auth endpoints.
type UserPayload struct {
	ID               string `json:"id"`
	Email            string `json:"email"`
	Name             string `json:"name"`
	Role             string `json:"role"`
	IsEmailConfirmed bool   `json:"is_email_confirmed"`
}

// LoginResult bundles the JSON response from POST /api/auth/login together with the
// refresh cookie set alongside it.
type LoginResult struct {
	AccessToken   string      `json:"access_token"`
	RefreshToken  string      `json:"refresh_token"`
	SessionID     string      `json:"session_id"`
	ExpiresIn     int         `json:"expires_in"`
	User          UserPayload `json:"user"`
	RefreshCookie *http.Cookie
}

// Login authenticates and returns the issued access token and refresh cookie.
func (e *Env) Login(email, password string) LoginResult {
	e.T.Helper()

	w := e.Request(http.MethodPost, "/api/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, "")
	require.Equal(e.T, http.StatusOK, w.Code, w.Body.String())

	resp := DecodeResponse(e.T, w)
	require.True(e.T, resp.Success, w.Body.String())

	var result LoginResult
	DecodeInto(e.T, resp.Data, &result)
	require.NotEmpty(e.T, result.AccessToken)
	require.NotEmpty(e.T, result.SessionID)
	require.Greater(e.T, result.ExpiresIn, 0)

	result.RefreshCookie = e.RefreshCookie(w)
	require.NotNil(e.T, result.RefreshCookie, "login did not set the refresh cookie")
	return result
}

// RefreshCookie returns the refresh cookie written by a response, or nil.
func (e *Env) RefreshCookie(w *httptest.ResponseRecorder) *http.Cookie {
	name := e.Config.Auth.RefreshCookie().Name
	if name == "" {
		name = "refreshToken"
	}
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
	Meta    *response.Meta      `json:"meta"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request against the test router, applying JSON encoding,
// the bearer token and any cookies.
func (e *Env) Request(method, path string, body any, token string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	e.T.Helper()

	var buf *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	} else {
		buf = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, path, buf)
	require.NoError(e.T, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for _, c := range cookies {
		if c != nil {
			req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
		}
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}
