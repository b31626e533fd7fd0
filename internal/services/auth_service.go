package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	iauth "github.com/charlesng35/animehub/internal/auth"
	"github.com/charlesng35/animehub/internal/models"
	apperrors "github.com/charlesng35/animehub/pkg/errors"
	"github.com/charlesng35/animehub/pkg/logger"
	"github.com/charlesng35/animehub/pkg/metrics"
)

const forgotPasswordMessage = "If an account with this email exists, a password reset link has been sent"

var (
	// ErrConfirmationTokenInvalid is returned for unknown or expired confirmation tokens.
	ErrConfirmationTokenInvalid = apperrors.New("CONFIRMATION_TOKEN_INVALID", "Invalid or expired confirmation token", http.StatusBadRequest)
	// ErrEmailAlreadyConfirmed is returned when a confirmation token was already used.
	ErrEmailAlreadyConfirmed = apperrors.New("EMAIL_ALREADY_CONFIRMED", "Email already confirmed", http.StatusBadRequest)
	// ErrResetTokenRejected is returned for unknown, used or expired reset tokens.
	ErrResetTokenRejected = apperrors.New("RESET_TOKEN_INVALID", "Invalid or expired password reset token", http.StatusBadRequest)
	// ErrSessionNotFound is returned when a session cannot be terminated.
	ErrSessionNotFound = apperrors.New("SESSION_NOT_FOUND", "Session not found", http.StatusBadRequest)
	// ErrConfirmationDelivery is returned when the confirmation mail could not be sent.
	ErrConfirmationDelivery = apperrors.New("EMAIL_DELIVERY_FAILED", "Could not send the confirmation email, please try again later", http.StatusServiceUnavailable)
)

// RegisterInput carries the fields of a sign-up request.
type RegisterInput struct {
	Email    string
	Password string
	Name     string
}

// LoginInput carries credentials of a login request.
type LoginInput struct {
	Email    string
	Password string
}

// ClientMeta describes the client a session is opened or rotated for.
type ClientMeta struct {
	UserAgent string
	IPAddress string
}

// AuthResult is returned by login and refresh.
type AuthResult struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token,omitempty"`
	SessionID    string       `json:"session_id"`
	User         *models.User `json:"user"`
}

// Principal is the identity resolved from a valid access token.
type Principal struct {
	User      *models.User
	SessionID string
	Claims    *iauth.Claims
}

// AccessTokenIssuer signs and verifies short-lived access tokens.
type AccessTokenIssuer interface {
	Issue(userID, email, role, sessionID string) (string, error)
	Verify(token string) (*iauth.Claims, error)
}

// AuthService orchestrates registration, login, refresh and session management on top of
// the session manager and token issuer.
type AuthService struct {
	users         *UserService
	sessions      *iauth.SessionManager
	jwt           AccessTokenIssuer
	verifications *EmailVerificationService
	resets        *PasswordResetService
	log           *zap.Logger
}

// AuthServiceDeps bundles the collaborators of an AuthService.
type AuthServiceDeps struct {
	Users         *UserService
	Sessions      *iauth.SessionManager
	JWT           AccessTokenIssuer
	Verifications *EmailVerificationService
	Resets        *PasswordResetService
}

// NewAuthService constructs an AuthService.
func NewAuthService(deps AuthServiceDeps) (*AuthService, error) {
	switch {
	case deps.Users == nil:
		return nil, errors.New("auth service: user service is required")
	case deps.Sessions == nil:
		return nil, errors.New("auth service: session manager is required")
	case deps.JWT == nil:
		return nil, errors.New("auth service: jwt service is required")
	case deps.Verifications == nil:
		return nil, errors.New("auth service: email verification service is required")
	case deps.Resets == nil:
		return nil, errors.New("auth service: password reset service is required")
	}
	return &AuthService{
		users:         deps.Users,
		sessions:      deps.Sessions,
		jwt:           deps.JWT,
		verifications: deps.Verifications,
		resets:        deps.Resets,
		log:           logger.WithModule("auth"),
	}, nil
}

// Register creates an unconfirmed account and mails a confirmation link. The account is
// removed again when the mail cannot be delivered.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*models.User, error) {
	ctx = ensureContext(ctx)

	user, err := s.users.Create(ctx, CreateUserInput{
		Email:    input.Email,
		Name:     input.Name,
		Password: input.Password,
	})
	if err != nil {
		return nil, err
	}

	if _, _, err := s.verifications.CreateToken(ctx, user, ""); err != nil {
		s.log.Warn("confirmation delivery failed, rolling back registration",
			zap.String("user_id", user.ID), zap.Error(err))
		if delErr := s.users.Delete(ctx, user.ID); delErr != nil {
			s.log.Error("rollback registration", zap.String("user_id", user.ID), zap.Error(delErr))
		}
		return nil, ErrConfirmationDelivery.WithInternal(err)
	}

	return user, nil
}

// ConfirmEmail consumes a confirmation token and marks the address as confirmed.
func (s *AuthService) ConfirmEmail(ctx context.Context, token string) error {
	ctx = ensureContext(ctx)
	if strings.TrimSpace(token) == "" {
		return ErrConfirmationTokenInvalid
	}

	verification, err := s.verifications.VerifyToken(ctx, token)
	switch {
	case errors.Is(err, ErrVerificationUsed):
		return ErrEmailAlreadyConfirmed
	case errors.Is(err, ErrVerificationNotFound), errors.Is(err, ErrVerificationExpired):
		return ErrConfirmationTokenInvalid
	case err != nil:
		return err
	}

	return s.users.ConfirmEmail(ctx, verification.UserID, verification.NewEmail)
}

// Login checks credentials and opens a new session.
func (s *AuthService) Login(ctx context.Context, input LoginInput, meta ClientMeta) (*AuthResult, error) {
	ctx = ensureContext(ctx)

	user, err := s.users.GetByEmail(ctx, input.Email)
	if err != nil {
		return nil, err
	}
	if !s.users.CheckPassword(user, input.Password) {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		return nil, apperrors.ErrInvalidCredentials
	}
	if !user.IsEmailConfirmed {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		return nil, apperrors.ErrEmailNotConfirmed
	}

	credential, err := s.sessions.CreateSession(ctx, user.ID, meta.UserAgent, meta.IPAddress)
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		return nil, translateSessionError(err)
	}

	accessToken, err := s.issueAccessToken(user, credential.SessionID)
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		if _, revokeErr := s.sessions.RevokeSession(ctx, credential.SessionID, user.ID); revokeErr != nil {
			s.log.Error("revoke session after token failure",
				zap.String("user_id", user.ID), zap.String("session_id", credential.SessionID), zap.Error(revokeErr))
		}
		return nil, err
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID, meta.IPAddress); err != nil {
		s.log.Warn("record last login", zap.String("user_id", user.ID), zap.Error(err))
	}

	metrics.AuthAttempts.WithLabelValues("success").Inc()
	return &AuthResult{
		AccessToken:  accessToken,
		RefreshToken: credential.RefreshToken,
		SessionID:    credential.SessionID,
		User:         user,
	}, nil
}

// Refresh rotates the refresh credential and issues a new access token.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, meta ClientMeta) (*AuthResult, error) {
	ctx = ensureContext(ctx)

	rotated, err := s.sessions.RotateSession(ctx, refreshToken, meta.UserAgent, meta.IPAddress)
	if err != nil {
		return nil, translateSessionError(err)
	}

	accessToken, err := s.issueAccessToken(rotated.User, rotated.SessionID)
	if err != nil {
		return nil, err
	}

	return &AuthResult{
		AccessToken:  accessToken,
		RefreshToken: rotated.RefreshToken,
		SessionID:    rotated.SessionID,
		User:         rotated.User,
	}, nil
}

// CheckSession verifies refreshToken without rotating it and returns the session owner.
// The idle window of the session slides as with any other use.
func (s *AuthService) CheckSession(ctx context.Context, refreshToken string) (*models.User, string, error) {
	ctx = ensureContext(ctx)
	if strings.TrimSpace(refreshToken) == "" {
		return nil, "", apperrors.ErrSessionInvalid
	}

	user, sessionID, err := s.sessions.ValidateRefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, "", translateSessionError(err)
	}
	return user, sessionID, nil
}

// Logout revokes the session behind refreshToken. Missing or invalid tokens are ignored.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	ctx = ensureContext(ctx)
	if strings.TrimSpace(refreshToken) == "" {
		return nil
	}
	return translateSessionError(s.sessions.RevokeByToken(ctx, refreshToken))
}

// LogoutSession revokes a session by id on behalf of its owner.
func (s *AuthService) LogoutSession(ctx context.Context, sessionID, userID string) error {
	ctx = ensureContext(ctx)
	if strings.TrimSpace(sessionID) == "" {
		return nil
	}
	_, err := s.sessions.RevokeSession(ctx, sessionID, userID)
	return translateSessionError(err)
}

// LogoutAll revokes every session of userID.
func (s *AuthService) LogoutAll(ctx context.Context, userID string) error {
	ctx = ensureContext(ctx)
	return translateSessionError(s.sessions.RevokeAllForUser(ctx, userID))
}

// ListSessions returns the live sessions of userID, most recent first.
func (s *AuthService) ListSessions(ctx context.Context, userID, currentSessionID string) ([]iauth.SessionView, error) {
	ctx = ensureContext(ctx)
	views, err := s.sessions.ListSessions(ctx, userID, currentSessionID)
	if err != nil {
		return nil, translateSessionError(err)
	}
	return views, nil
}

// TerminateSession revokes one session owned by userID.
func (s *AuthService) TerminateSession(ctx context.Context, sessionID, userID string) error {
	ctx = ensureContext(ctx)
	revoked, err := s.sessions.RevokeSession(ctx, sessionID, userID)
	if err != nil {
		return translateSessionError(err)
	}
	if !revoked {
		return ErrSessionNotFound
	}
	return nil
}

// ForgotPassword mails a reset link when the account exists. The returned message never
// reveals whether it does.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) (string, error) {
	ctx = ensureContext(ctx)

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	if user == nil {
		return forgotPasswordMessage, nil
	}

	if _, err := s.resets.CreateToken(ctx, user); err != nil {
		s.log.Error("issue password reset", zap.String("user_id", user.ID), zap.Error(err))
		return "", apperrors.ErrServiceUnavailable.WithInternal(err)
	}
	return forgotPasswordMessage, nil
}

// ResetPassword consumes a reset token, stores the new password and revokes every session.
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) error {
	ctx = ensureContext(ctx)

	if strings.TrimSpace(newPassword) == "" {
		return apperrors.NewBadRequest("new password is required")
	}

	userID, err := s.resets.Consume(ctx, token)
	if errors.Is(err, ErrResetTokenInvalid) {
		return ErrResetTokenRejected
	}
	if err != nil {
		return err
	}

	if err := s.users.SetPassword(ctx, userID, newPassword); err != nil {
		return err
	}
	return translateSessionError(s.sessions.RevokeAllForUser(ctx, userID))
}

// ChangePassword verifies the current password, stores the new one and revokes every session.
func (s *AuthService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	ctx = ensureContext(ctx)

	if err := s.users.ChangePassword(ctx, userID, currentPassword, newPassword); err != nil {
		return err
	}
	return translateSessionError(s.sessions.RevokeAllForUser(ctx, userID))
}

// ChangeEmail checks the password and mails a confirmation link to newEmail. The address
// switches once the link is followed.
func (s *AuthService) ChangeEmail(ctx context.Context, userID, password, newEmail string) error {
	ctx = ensureContext(ctx)

	user, err := s.users.CheckEmailAvailable(ctx, userID, password, newEmail)
	if err != nil {
		return err
	}
	if _, _, err := s.verifications.CreateToken(ctx, user, newEmail); err != nil {
		return ErrConfirmationDelivery.WithInternal(err)
	}
	return nil
}

// AuthenticateAccessToken resolves an access token to its user after checking that the
// session it was issued for is still live.
func (s *AuthService) AuthenticateAccessToken(ctx context.Context, token string) (*Principal, error) {
	ctx = ensureContext(ctx)

	claims, err := s.jwt.Verify(token)
	if err != nil {
		return nil, apperrors.ErrUnauthorized
	}

	active, err := s.sessions.EnsureSessionActive(ctx, claims.SessionID)
	if err != nil {
		return nil, translateSessionError(err)
	}
	if !active {
		return nil, apperrors.ErrSessionInvalid
	}

	user, err := s.users.FindUserByID(ctx, claims.UserID())
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperrors.ErrUnauthorized
	}

	return &Principal{User: user, SessionID: claims.SessionID, Claims: claims}, nil
}

func (s *AuthService) issueAccessToken(user *models.User, sessionID string) (string, error) {
	token, err := s.jwt.Issue(user.ID, user.Email, user.Role, sessionID)
	if err != nil {
		return "", fmt.Errorf("auth service: issue access token: %w", err)
	}
	return token, nil
}

// translateSessionError maps session manager failures onto API errors.
func translateSessionError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, iauth.ErrUnauthorized):
		return apperrors.ErrSessionInvalid
	case errors.Is(err, iauth.ErrStoreUnavailable):
		return apperrors.ErrServiceUnavailable.WithInternal(err)
	default:
		return err
	}
}
