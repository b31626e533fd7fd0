package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/animehub/internal/handlers"
)

func registerAuthRoutes(r *gin.Engine, handler *handlers.AuthHandler, requireAuth, limiter gin.HandlerFunc) {
	public := r.Group("/api/auth")
	if limiter != nil {
		public.Use(limiter)
	}
	{
		public.POST("/register", handler.Register)
		public.GET("/confirm-email", handler.ConfirmEmail)
		public.POST("/login", handler.Login)
		public.POST("/refresh", handler.Refresh)
		public.POST("/session", handler.CheckSession)
		public.POST("/forgot-password", handler.ForgotPassword)
		public.POST("/reset-password", handler.ResetPassword)
	}

	protected := r.Group("/api/auth", requireAuth)
	{
		protected.POST("/logout", handler.Logout)
		protected.POST("/logout-all", handler.LogoutAll)
		protected.GET("/profile", handler.Profile)
		protected.GET("/sessions", handler.ListSessions)
		protected.DELETE("/sessions/:id", handler.TerminateSession)
	}
}
