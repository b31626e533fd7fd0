package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/animehub/internal/services"
	apperrors "github.com/charlesng35/animehub/pkg/errors"
	"github.com/charlesng35/animehub/pkg/response"
)

// DefaultRefreshCookieName is the cookie carrying the refresh credential.
const DefaultRefreshCookieName = "refreshToken"

// CookieSettings controls how the refresh credential cookie is written.
type CookieSettings struct {
	Name   string
	Path   string
	Domain string
	Secure bool
	MaxAge time.Duration
}

func (s CookieSettings) withDefaults() CookieSettings {
	if strings.TrimSpace(s.Name) == "" {
		s.Name = DefaultRefreshCookieName
	}
	if s.Path == "" {
		s.Path = "/"
	}
	if s.MaxAge <= 0 {
		s.MaxAge = 7 * 24 * time.Hour
	}
	return s
}

// AuthHandler manages authentication flows (register/login/refresh/logout/sessions).
type AuthHandler struct {
	auth      *services.AuthService
	cookie    CookieSettings
	accessTTL time.Duration
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(auth *services.AuthService, cookie CookieSettings, accessTTL time.Duration) (*AuthHandler, error) {
	if auth == nil {
		return nil, errors.New("auth handler: auth service is required")
	}
	return &AuthHandler{auth: auth, cookie: cookie.withDefaults(), accessTTL: accessTTL}, nil
}

type registerRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=50"`
	Name     string `json:"name" validate:"required,notblank,min=4,max=50"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type forgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type resetPasswordRequest struct {
	Token       string `json:"token" validate:"required,notblank"`
	NewPassword string `json:"new_password" validate:"required,min=6,max=50"`
}

type authResponse struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token,omitempty"`
	SessionID    string      `json:"session_id"`
	ExpiresIn    int         `json:"expires_in"`
	User         profileView `json:"user"`
}

type sessionStatusResponse struct {
	SessionID string      `json:"session_id"`
	User      profileView `json:"user"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// POST /api/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.auth.Register(requestContext(c), services.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{
		"message": "Registration successful. Check your email to confirm the account.",
		"user":    newProfileView(user),
	})
}

// GET /api/auth/confirm-email?token=
func (h *AuthHandler) ConfirmEmail(c *gin.Context) {
	if err := h.auth.ConfirmEmail(requestContext(c), c.Query("token")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, messageResponse{Message: "Email confirmed"})
}

// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.auth.Login(requestContext(c), services.LoginInput{
		Email:    req.Email,
		Password: req.Password,
	}, clientMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	h.setRefreshCookie(c, result.RefreshToken)
	response.Success(c, http.StatusOK, h.authResponse(result))
}

// POST /api/auth/refresh
func (h *AuthHandler) Refresh(c *gin.Context) {
	token, fromBody := h.refreshTokenFromRequest(c)
	if token == "" {
		response.Error(c, apperrors.ErrSessionInvalid)
		return
	}

	result, err := h.auth.Refresh(requestContext(c), token, clientMeta(c))
	if err != nil {
		if errors.Is(err, apperrors.ErrSessionInvalid) {
			h.clearRefreshCookie(c)
		}
		response.Error(c, err)
		return
	}

	h.setRefreshCookie(c, result.RefreshToken)
	body := h.authResponse(result)
	if fromBody {
		// Body clients cannot read the HttpOnly cookie, so they get the rotated credential here.
		body.RefreshToken = result.RefreshToken
	}
	response.Success(c, http.StatusOK, body)
}

// POST /api/auth/session
func (h *AuthHandler) CheckSession(c *gin.Context) {
	token, _ := h.refreshTokenFromRequest(c)
	user, sessionID, err := h.auth.CheckSession(requestContext(c), token)
	if err != nil {
		if errors.Is(err, apperrors.ErrSessionInvalid) {
			h.clearRefreshCookie(c)
		}
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, sessionStatusResponse{SessionID: sessionID, User: newProfileView(user)})
}

// POST /api/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	ctx := requestContext(c)

	var err error
	if token, _ := h.refreshTokenFromRequest(c); token != "" {
		err = h.auth.Logout(ctx, token)
	} else {
		err = h.auth.LogoutSession(ctx, currentSessionID(c), currentUserID(c))
	}
	if err != nil {
		response.Error(c, err)
		return
	}

	h.clearRefreshCookie(c)
	response.Success(c, http.StatusOK, messageResponse{Message: "Logged out"})
}

// POST /api/auth/logout-all
func (h *AuthHandler) LogoutAll(c *gin.Context) {
	if err := h.auth.LogoutAll(requestContext(c), currentUserID(c)); err != nil {
		response.Error(c, err)
		return
	}

	h.clearRefreshCookie(c)
	response.Success(c, http.StatusOK, messageResponse{Message: "Logged out from all devices"})
}

// GET /api/auth/profile
func (h *AuthHandler) Profile(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}
	response.Success(c, http.StatusOK, newProfileView(user))
}

// GET /api/auth/sessions
func (h *AuthHandler) ListSessions(c *gin.Context) {
	views, err := h.auth.ListSessions(requestContext(c), currentUserID(c), currentSessionID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, views)
}

// DELETE /api/auth/sessions/:id
func (h *AuthHandler) TerminateSession(c *gin.Context) {
	if err := h.auth.TerminateSession(requestContext(c), c.Param("id"), currentUserID(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, messageResponse{Message: "Session terminated"})
}

// POST /api/auth/forgot-password
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req forgotPasswordRequest
	if !bindAndValidate(c, &req) {
		return
	}

	message, err := h.auth.ForgotPassword(requestContext(c), req.Email)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, messageResponse{Message: message})
}

// POST /api/auth/reset-password
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.auth.ResetPassword(requestContext(c), req.Token, req.NewPassword); err != nil {
		response.Error(c, err)
		return
	}
	h.clearRefreshCookie(c)
	response.Success(c, http.StatusOK, messageResponse{Message: "Password changed"})
}

func (h *AuthHandler) authResponse(result *services.AuthResult) authResponse {
	return authResponse{
		AccessToken: result.AccessToken,
		SessionID:   result.SessionID,
		ExpiresIn:   int(h.accessTTL.Seconds()),
		User:        newProfileView(result.User),
	}
}

// refreshTokenFromRequest prefers the cookie and falls back to a JSON body. The flag
// reports whether the token came from the body.
func (h *AuthHandler) refreshTokenFromRequest(c *gin.Context) (string, bool) {
	if value, err := c.Cookie(h.cookie.Name); err == nil && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value), false
	}
	if c.Request.ContentLength == 0 {
		return "", false
	}
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return "", false
	}
	token := strings.TrimSpace(req.RefreshToken)
	return token, token != ""
}

func (h *AuthHandler) setRefreshCookie(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookie.Name, token, int(h.cookie.MaxAge.Seconds()), h.cookie.Path, h.cookie.Domain, h.cookie.Secure, true)
}

func (h *AuthHandler) clearRefreshCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookie.Name, "", -1, h.cookie.Path, h.cookie.Domain, h.cookie.Secure, true)
}

func clientMeta(c *gin.Context) services.ClientMeta {
	return services.ClientMeta{
		UserAgent: c.Request.UserAgent(),
		IPAddress: c.ClientIP(),
	}
}
