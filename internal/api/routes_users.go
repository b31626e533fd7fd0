package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/animehub/internal/handlers"
	"github.com/charlesng35/animehub/internal/middleware"
	"github.com/charlesng35/animehub/internal/models"
)

func registerUserRoutes(r *gin.Engine, handler *handlers.UserHandler, requireAuth, optionalAuth gin.HandlerFunc) {
	users := r.Group("/api/users")
	{
		users.GET("", requireAuth, middleware.RequireRole(models.RoleAdmin, models.RoleModerator), handler.List)
		users.GET("/:id", optionalAuth, handler.Get)
	}

	me := r.Group("/api/users/me", requireAuth)
	{
		me.PATCH("/password", handler.ChangePassword)
		me.PATCH("/email", handler.ChangeEmail)
		me.GET("/settings", handler.GetSettings)
		me.PATCH("/settings", handler.UpdateSettings)
	}
}
