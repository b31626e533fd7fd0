package app

import (
	"strings"
	"time"

	"github.com/charlesng35/animehub/internal/auth"
	"github.com/charlesng35/animehub/internal/cache"
	"github.com/charlesng35/animehub/internal/handlers"
	"github.com/charlesng35/animehub/pkg/mail"
)

// FrontendLink joins path onto the configured frontend origin, used for links sent by email.
func (c ServerConfig) FrontendLink(path string) string {
	base := strings.TrimRight(strings.TrimSpace(c.FrontendURL), "/")
	return base + "/" + strings.TrimLeft(path, "/")
}

// JWTServiceConfig converts AuthConfig into the parameters expected by the JWT service.
func (c AuthConfig) JWTServiceConfig() auth.JWTConfig {
	return auth.JWTConfig{
		Secret:         c.JWT.Secret,
		Issuer:         c.JWT.Issuer,
		AccessTokenTTL: orDefault(c.JWT.TTL, auth.DefaultAccessTokenTTL),
	}
}

// SessionManagerConfig converts AuthConfig into SessionManager parameters.
func (c AuthConfig) SessionManagerConfig() auth.SessionConfig {
	return auth.SessionConfig{
		IdleTTL:      orDefault(c.Session.IdleTTL, auth.DefaultIdleTTL),
		AbsoluteTTL:  orDefault(c.Session.AbsoluteTTL, auth.DefaultAbsoluteTTL),
		StoreTimeout: orDefault(c.Session.StoreTimeout, auth.DefaultStoreTimeout),
		Hasher:       auth.NewBcryptHasher(c.Session.SecretCost),
	}
}

// RefreshCookie describes the cookie carrying the refresh credential. It lives as long as the
// idle window of the session it carries.
func (c AuthConfig) RefreshCookie() handlers.CookieSettings {
	return handlers.CookieSettings{
		Name:   strings.TrimSpace(c.Session.CookieName),
		Path:   "/api/auth",
		Domain: strings.TrimSpace(c.Session.CookieDomain),
		Secure: c.Session.CookieSecure,
		MaxAge: orDefault(c.Session.IdleTTL, auth.DefaultIdleTTL),
	}
}

// RedisClientConfig converts the Redis section into cache client options.
func (c CacheConfig) RedisClientConfig() cache.RedisConfig {
	r := c.Redis
	return cache.RedisConfig{
		Address:   strings.TrimSpace(r.Address),
		Username:  strings.TrimSpace(r.Username),
		Password:  r.Password,
		DB:        r.DB,
		TLS:       r.TLS,
		Timeout:   r.Timeout,
		KeyPrefix: strings.TrimSpace(r.KeyPrefix),
	}
}

// SMTPSettings converts the SMTP section into mailer options.
func (c EmailConfig) SMTPSettings() mail.SMTPSettings {
	s := c.SMTP
	return mail.SMTPSettings{
		Enabled:  s.Enabled,
		Host:     strings.TrimSpace(s.Host),
		Port:     s.Port,
		Username: strings.TrimSpace(s.Username),
		Password: s.Password,
		From:     strings.TrimSpace(s.From),
		UseTLS:   s.UseTLS,
		Timeout:  s.Timeout,
	}
}

func orDefault(value, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}
	return value
}
