package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/animehub/internal/api"
	"github.com/charlesng35/animehub/internal/app"
	"github.com/charlesng35/animehub/internal/app/maintenance"
	iauth "github.com/charlesng35/animehub/internal/auth"
	"github.com/charlesng35/animehub/internal/cache"
	"github.com/charlesng35/animehub/internal/database"
	"github.com/charlesng35/animehub/internal/middleware"
	"github.com/charlesng35/animehub/internal/monitoring"
	"github.com/charlesng35/animehub/internal/monitoring/checks"
	"github.com/charlesng35/animehub/internal/services"
	"github.com/charlesng35/animehub/pkg/logger"
	"github.com/charlesng35/animehub/pkg/mail"
)

const (
	shutdownCleanupTimeout = 10 * time.Second
	healthProbeTimeout     = 2 * time.Second
	maxRedisBackoff        = 10 * time.Second
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB       *gorm.DB
	DBStore  *cache.DatabaseStore
	Redis    *cache.RedisStore
	Sessions *iauth.SessionManager
	Auth     *services.AuthService
	Cleaner  *maintenance.Cleaner
	Health   *monitoring.HealthManager
	Router   *gin.Engine
}

// bootstrapRuntime initialises the database, the session store, services and the HTTP router.
// generated lists the secrets ApplyRuntimeDefaults produced for this process.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, generated map[string]bool, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			if shutdownErr := stack.Shutdown(context.Background()); shutdownErr != nil {
				log.Warn("release partially initialised runtime", zap.Error(shutdownErr))
			}
		}
	}()

	// enable gin debug mode
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	if generated["auth.jwt.secret"] {
		secret, secretErr := database.EnsureJWTSecret(ctx, stack.DB, cfg.Auth.JWT.Secret)
		if secretErr != nil {
			return nil, fmt.Errorf("persist jwt secret: %w", secretErr)
		}
		cfg.Auth.JWT.Secret = secret
	}

	stack.DBStore = cache.NewDatabaseStore(stack.DB)

	var store cache.SortedSetStore = stack.DBStore
	backendName := "database"
	if cfg.Cache.Redis.Enabled {
		stack.Redis, err = connectRedis(ctx, cfg.Cache, log)
		if err != nil {
			return nil, err
		}
		store = stack.Redis
		backendName = "redis"
		log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
	}

	users, err := services.NewUserService(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise user service: %w", err)
	}
	settings, err := services.NewUserSettingsService(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise user settings service: %w", err)
	}

	stack.Sessions, err = iauth.NewSessionManager(store, users, cfg.Auth.SessionManagerConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise session manager: %w", err)
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	mailer, err := newMailer(cfg, log)
	if err != nil {
		return nil, err
	}

	verifications, err := services.NewEmailVerificationService(stack.DB, mailer,
		services.WithVerificationBaseURL(cfg.Server.FrontendLink("confirm-email")),
		services.WithVerificationExpiry(cfg.Auth.Tokens.ConfirmationTTL),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise email verification service: %w", err)
	}
	resets, err := services.NewPasswordResetService(stack.DB, mailer,
		services.WithResetBaseURL(cfg.Server.FrontendLink("reset-password")),
		services.WithResetExpiry(cfg.Auth.Tokens.ResetTTL),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise password reset service: %w", err)
	}

	stack.Auth, err = services.NewAuthService(services.AuthServiceDeps{
		Users:         users,
		Sessions:      stack.Sessions,
		JWT:           jwtSvc,
		Verifications: verifications,
		Resets:        resets,
	})
	if err != nil {
		return nil, fmt.Errorf("initialise auth service: %w", err)
	}

	if cfg.Monitoring.Maintenance.Enabled {
		stack.Cleaner = maintenance.NewCleaner(
			maintenance.WithSchedule(cfg.Monitoring.Maintenance.Schedule),
			maintenance.WithPurger("email_verifications", verifications),
			maintenance.WithPurger("password_resets", resets),
			maintenance.WithPurger("cache_entries", stack.DBStore),
			maintenance.WithSessionIndex(stack.DB, stack.Sessions),
		)
		if err := stack.Cleaner.Start(); err != nil {
			return nil, fmt.Errorf("start maintenance jobs: %w", err)
		}
	}

	stack.Health = monitoring.NewHealthManager()
	stack.Health.RegisterReadiness(checks.Database(stack.DB, healthProbeTimeout))
	stack.Health.RegisterReadiness(checks.SessionStore(store, backendName, healthProbeTimeout))
	if stack.Cleaner != nil {
		stack.Health.RegisterReadiness(checks.Maintenance(stack.Cleaner, maintenanceMaxAge(cfg.Monitoring.Maintenance.Schedule), nil))
	}

	stack.Router, err = api.NewRouter(api.Deps{
		Config:    cfg,
		Auth:      stack.Auth,
		Users:     users,
		Settings:  settings,
		RateStore: middleware.NewCacheRateStore(store),
		Health:    stack.Health,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// Shutdown stops background jobs, runs a final cleanup and releases connections.
func (s *runtimeStack) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}

	var errs error

	if s.Cleaner != nil {
		select {
		case <-s.Cleaner.Stop().Done():
		case <-ctx.Done():
		}
		if err := s.Cleaner.RunWithTimeout(shutdownCleanupTimeout); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("maintenance: %w", err))
		}
	}

	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("redis: %w", err))
		}
	}

	if s.DB != nil {
		errs = multierr.Append(errs, closeDatabase(s.DB))
	}

	return errs
}

// connectRedis pings Redis with exponential backoff. Once Redis is enabled it is the only home
// of live sessions, so exhausting the attempts aborts startup instead of switching stores.
func connectRedis(ctx context.Context, cfg app.CacheConfig, log *zap.Logger) (*cache.RedisStore, error) {
	attempts := cfg.Redis.ConnectAttempts
	if attempts <= 0 {
		attempts = 1
	}
	backoff := cfg.Redis.ConnectBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		store, err := cache.NewRedisStore(cfg.RedisClientConfig())
		if err == nil {
			return store, nil
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		log.Warn("redis not reachable, retrying",
			zap.Int("attempt", attempt), zap.Duration("backoff", backoff), zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("connect redis: %w", ctx.Err())
		case <-time.After(backoff):
		}
		backoff = min(2*backoff, maxRedisBackoff)
	}
	return nil, fmt.Errorf("connect redis after %d attempts: %w", attempts, lastErr)
}

func newMailer(cfg *app.Config, log *zap.Logger) (mail.Mailer, error) {
	if !cfg.Email.SMTP.Enabled {
		log.Info("smtp disabled; outgoing mail is written to the log")
		return mail.NewLogMailer(logger.WithModule("mail")), nil
	}
	mailer, err := mail.NewSMTPMailer(cfg.Email.SMTPSettings())
	if err != nil {
		return nil, fmt.Errorf("initialise smtp mailer: %w", err)
	}
	return mailer, nil
}

// maintenanceMaxAge allows three missed runs before the maintenance probe degrades.
func maintenanceMaxAge(schedule string) time.Duration {
	if strings.TrimSpace(schedule) == "" {
		return 0
	}
	parsed, err := cron.ParseStandard(schedule)
	if err != nil {
		return 0
	}
	first := parsed.Next(time.Now())
	interval := parsed.Next(first).Sub(first)
	if interval <= 0 {
		return 0
	}
	return 3 * interval
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := convertDatabaseConfig(cfg)
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrateAndSeed(db, database.SeedOptions{
		AdminEmail:    cfg.Seed.AdminEmail,
		AdminName:     cfg.Seed.AdminName,
		AdminPassword: cfg.Seed.AdminPassword,
	}); err != nil {
		_ = closeDatabase(db)
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", dbCfg.Driver))

	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:   strings.TrimSpace(cfg.Database.Path),
		DSN:    strings.TrimSpace(cfg.Database.DSN),
	}

	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		dbCfg.Host = strings.TrimSpace(cfg.Database.Postgres.Host)
		dbCfg.Port = cfg.Database.Postgres.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.Postgres.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.Postgres.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.Postgres.Password)
	case "mysql", "mariadb":
		dbCfg.Driver = "mysql"
		dbCfg.Host = strings.TrimSpace(cfg.Database.MySQL.Host)
		dbCfg.Port = cfg.Database.MySQL.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.MySQL.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.MySQL.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.MySQL.Password)
	default:
		// Leave driver as-is to surface unsupported driver error during open.
	}

	return dbCfg
}

func closeDatabase(db *gorm.DB) error {
	if db == nil {
		return nil
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("obtain sql handle: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
