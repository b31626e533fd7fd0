package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/animehub/internal/models"
	"github.com/charlesng35/animehub/pkg/errors"
	"github.com/charlesng35/animehub/pkg/response"
)

// RequireRole allows the request only when the authenticated user holds one of roles.
// It must run after Auth.
func RequireRole(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		allowed[strings.ToUpper(role)] = struct{}{}
	}

	return func(c *gin.Context) {
		v, ok := c.Get(CtxUserKey)
		user, _ := v.(*models.User)
		if !ok || user == nil {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}
		if _, ok := allowed[strings.ToUpper(user.Role)]; !ok {
			response.Error(c, errors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}
