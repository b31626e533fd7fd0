package services

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	iauth "github.com/charlesng35/animehub/internal/auth"
	"github.com/charlesng35/animehub/internal/cache"
	"github.com/charlesng35/animehub/internal/database/testutil"
	"github.com/charlesng35/animehub/pkg/mail"
)

var tokenPattern = regexp.MustCompile(`token=([A-Za-z0-9_-]+)`)

type recordingMailer struct {
	mu       sync.Mutex
	messages []mail.Message
	err      error
}

func (m *recordingMailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, msg)
	return nil
}

func (m *recordingMailer) last(t *testing.T) mail.Message {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.messages, "no mail was sent")
	return m.messages[len(m.messages)-1]
}

func (m *recordingMailer) lastToken(t *testing.T) string {
	t.Helper()
	match := tokenPattern.FindStringSubmatch(m.last(t).Body)
	require.Len(t, match, 2, "mail body carries no token link")
	return match[1]
}

type authFixture struct {
	db       *gorm.DB
	redis    *miniredis.Miniredis
	mailer   *recordingMailer
	users    *UserService
	sessions *iauth.SessionManager
	auth     *AuthService
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	server, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: server.Addr(), MaxRetries: -1})
	t.Cleanup(func() {
		_ = client.Close()
		server.Close()
	})

	users, err := NewUserService(db)
	require.NoError(t, err)

	sessions, err := iauth.NewSessionManager(cache.NewRedisStoreFromClient(client, "test:"), users, iauth.SessionConfig{
		Hasher:       iauth.NewBcryptHasher(bcrypt.MinCost),
		StoreTimeout: time.Second,
	})
	require.NoError(t, err)

	jwt, err := iauth.NewJWTService(iauth.JWTConfig{Secret: "services-test-secret-0123456789abcdef", Issuer: "animehub-test"})
	require.NoError(t, err)

	mailer := &recordingMailer{}
	verifications, err := NewEmailVerificationService(db, mailer, WithVerificationBaseURL("http://app.test/confirm"))
	require.NoError(t, err)
	resets, err := NewPasswordResetService(db, mailer, WithResetBaseURL("http://app.test/reset"))
	require.NoError(t, err)

	svc, err := NewAuthService(AuthServiceDeps{
		Users:         users,
		Sessions:      sessions,
		JWT:           jwt,
		Verifications: verifications,
		Resets:        resets,
	})
	require.NoError(t, err)

	return &authFixture{db: db, redis: server, mailer: mailer, users: users, sessions: sessions, auth: svc}
}

// registerConfirmed registers an account and follows the confirmation link.
func (f *authFixture) registerConfirmed(t *testing.T, email, password string) string {
	t.Helper()
	user, err := f.auth.Register(context.Background(), RegisterInput{Email: email, Password: password, Name: "Test User"})
	require.NoError(t, err)
	require.NoError(t, f.auth.ConfirmEmail(context.Background(), f.mailer.lastToken(t)))
	return user.ID
}

var errMailDown = errors.New("smtp: connection refused")
