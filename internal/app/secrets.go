package app

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"strings"
)

// MinJWTSecretBytes is the shortest HMAC key accepted for signing access tokens.
const MinJWTSecretBytes = 32

const generatedSecretBytes = 48

// ApplyRuntimeDefaults fills in values that cannot have static defaults. The returned map names
// every key that was generated so callers can log the event without exposing values. A generated
// JWT secret is persisted by the bootstrap so access tokens survive a restart.
func ApplyRuntimeDefaults(cfg *Config) (map[string]bool, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	generated := make(map[string]bool)
	if strings.TrimSpace(cfg.Auth.JWT.Secret) == "" {
		secret, err := generateSecret(generatedSecretBytes)
		if err != nil {
			return nil, fmt.Errorf("generate jwt secret: %w", err)
		}
		cfg.Auth.JWT.Secret = secret
		generated["auth.jwt.secret"] = true
	}

	cfg.Server.FrontendURL = strings.TrimRight(strings.TrimSpace(cfg.Server.FrontendURL), "/")
	cfg.Database.Driver = strings.ToLower(strings.TrimSpace(cfg.Database.Driver))
	if strings.TrimSpace(cfg.Auth.Session.CookieName) == "" {
		cfg.Auth.Session.CookieName = "refreshToken"
	}

	return generated, nil
}

// ValidateSecrets rejects configurations the server cannot run safely with: a signing secret
// too short for HS256, SMTP enabled without a usable sender, or a half-specified seed admin.
func ValidateSecrets(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	if length := secretByteLength(cfg.Auth.JWT.Secret); length < MinJWTSecretBytes {
		return fmt.Errorf("auth.jwt.secret must be at least %d bytes, got %d", MinJWTSecretBytes, length)
	}

	if smtp := cfg.Email.SMTP; smtp.Enabled {
		if _, err := mail.ParseAddress(strings.TrimSpace(smtp.From)); err != nil {
			return fmt.Errorf("email.smtp.from: %w", err)
		}
	}

	seed := cfg.Seed
	if strings.TrimSpace(seed.AdminEmail) != "" && len(seed.AdminPassword) < 8 {
		return errors.New("seed.admin_password must be at least 8 characters when seed.admin_email is set")
	}

	return nil
}

// secretByteLength reports the decoded length of a hex or base64 secret, falling back to the raw
// string length for passphrases.
func secretByteLength(value string) int {
	v := strings.TrimSpace(value)
	if v == "" {
		return 0
	}
	if len(v)%2 == 0 {
		if decoded, err := hex.DecodeString(v); err == nil {
			return len(decoded)
		}
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.RawURLEncoding, base64.URLEncoding} {
		if decoded, err := enc.DecodeString(v); err == nil {
			return len(decoded)
		}
	}
	return len(v)
}

func generateSecret(length int) (string, error) {
	if length <= 0 {
		return "", errors.New("length must be positive")
	}
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
