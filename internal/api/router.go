package api

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/animehub/internal/app"
	"github.com/charlesng35/animehub/internal/handlers"
	"github.com/charlesng35/animehub/internal/middleware"
	"github.com/charlesng35/animehub/internal/monitoring"
	"github.com/charlesng35/animehub/internal/services"
)

// Deps carries everything the HTTP layer needs. Clients are built by the caller.
type Deps struct {
	Config    *app.Config
	Auth      *services.AuthService
	Users     *services.UserService
	Settings  *services.UserSettingsService
	RateStore middleware.RateStore
	Health    *monitoring.HealthManager
}

func (d Deps) validate() error {
	switch {
	case d.Config == nil:
		return errors.New("config must be provided")
	case d.Auth == nil:
		return errors.New("auth service must be provided")
	case d.Users == nil:
		return errors.New("user service must be provided")
	case d.Settings == nil:
		return errors.New("user settings service must be provided")
	}
	return nil
}

// NewRouter builds the Gin engine, wires middleware and registers every route.
func NewRouter(deps Deps) (*gin.Engine, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	cfg := deps.Config

	r := gin.New()
	r.HandleMethodNotAllowed = true

	// Observe sits outside Recovery so recovered panics are still logged as 500s.
	r.Use(middleware.RequestID())
	r.Use(middleware.Observe())
	r.Use(middleware.Recovery())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.Server.CORSOrigins...))

	registerHealthRoutes(r, cfg, deps.Health)
	registerMetricsRoutes(r, cfg)

	cookie := cfg.Auth.RefreshCookie()
	authHandler, err := handlers.NewAuthHandler(deps.Auth, cookie, cfg.Auth.JWTServiceConfig().AccessTokenTTL)
	if err != nil {
		return nil, err
	}
	userHandler, err := handlers.NewUserHandler(deps.Users, deps.Settings, deps.Auth, cookie)
	if err != nil {
		return nil, err
	}

	var limiter gin.HandlerFunc
	if cfg.Server.RateLimit.Enabled {
		limiter = middleware.RateLimit(deps.RateStore, cfg.Server.RateLimit.Requests, cfg.Server.RateLimit.Window)
	}

	requireAuth := middleware.Auth(deps.Auth)
	optionalAuth := middleware.OptionalAuth(deps.Auth)

	registerAuthRoutes(r, authHandler, requireAuth, limiter)
	registerUserRoutes(r, userHandler, requireAuth, optionalAuth)

	r.NoRoute(middleware.NotFoundHandler)
	r.NoMethod(middleware.MethodNotAllowedHandler)

	return r, nil
}
