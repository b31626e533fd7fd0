package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/animehub/internal/middleware"
	"github.com/charlesng35/animehub/internal/models"
)

// requestContext returns the request's context, or Background for bare test contexts.
func requestContext(c *gin.Context) context.Context {
	if c != nil && c.Request != nil {
		return c.Request.Context()
	}
	return context.Background()
}

// Values below are set by middleware.Auth.

func currentUserID(c *gin.Context) string    { return c.GetString(middleware.CtxUserIDKey) }
func currentSessionID(c *gin.Context) string { return c.GetString(middleware.CtxSessionIDKey) }

func currentUser(c *gin.Context) *models.User {
	if v, ok := c.Get(middleware.CtxUserKey); ok {
		if user, ok := v.(*models.User); ok {
			return user
		}
	}
	return nil
}
