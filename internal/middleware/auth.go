package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/animehub/internal/services"
	"github.com/charlesng35/animehub/pkg/errors"
	"github.com/charlesng35/animehub/pkg/response"
)

const (
	CtxClaimsKey    = "authClaims"
	CtxUserIDKey    = "userID"
	CtxSessionIDKey = "sessionID"
	CtxUserKey      = "authUser"
)

// AccessTokenAuthenticator resolves a bearer token to the principal behind it.
type AccessTokenAuthenticator interface {
	AuthenticateAccessToken(ctx context.Context, token string) (*services.Principal, error)
}

// Auth requires a valid access token whose session is still live.
func Auth(authenticator AccessTokenAuthenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		principal, err := authenticator.AuthenticateAccessToken(c.Request.Context(), token)
		if err != nil {
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, err)
			c.Abort()
			return
		}

		setPrincipal(c, principal)
		c.Next()
	}
}

// OptionalAuth attaches the principal when a valid token is presented and lets anonymous
// or invalid requests through untouched.
func OptionalAuth(authenticator AccessTokenAuthenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token, ok := bearerToken(c); ok {
			if principal, err := authenticator.AuthenticateAccessToken(c.Request.Context(), token); err == nil {
				setPrincipal(c, principal)
			}
		}
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	authz := c.GetHeader("Authorization")
	if len(authz) < 8 || !strings.EqualFold(authz[:7], "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(authz[7:])
	return token, token != ""
}

func setPrincipal(c *gin.Context, principal *services.Principal) {
	c.Set(CtxClaimsKey, principal.Claims)
	c.Set(CtxUserKey, principal.User)
	c.Set(CtxUserIDKey, principal.User.ID)
	if principal.SessionID != "" {
		c.Set(CtxSessionIDKey, principal.SessionID)
	}
}
