package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/animehub/internal/models"
	"github.com/charlesng35/animehub/pkg/mail"
)

const defaultResetExpiry = time.Hour

// ErrResetTokenInvalid covers unknown, expired and consumed reset tokens.
var ErrResetTokenInvalid = errors.New("password reset: invalid or expired token")

// ResetOption customises the PasswordResetService.
type ResetOption func(*PasswordResetService)

// WithResetBaseURL sets the page that reset links point at.
func WithResetBaseURL(url string) ResetOption {
	return func(s *PasswordResetService) {
		s.delivery.baseURL = strings.TrimRight(strings.TrimSpace(url), "/")
	}
}

// WithResetExpiry overrides the token lifetime.
func WithResetExpiry(d time.Duration) ResetOption {
	return func(s *PasswordResetService) {
		if d > 0 {
			s.expiry = d
		}
	}
}

// WithResetClock injects a custom time source.
func WithResetClock(clock func() time.Time) ResetOption {
	return func(s *PasswordResetService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// PasswordResetService issues and consumes single-use password reset tokens.
type PasswordResetService struct {
	db       *gorm.DB
	delivery tokenDelivery
	expiry   time.Duration
	now      func() time.Time
}

// NewPasswordResetService constructs a PasswordResetService. mailer may be nil in tests.
func NewPasswordResetService(db *gorm.DB, mailer mail.Mailer, opts ...ResetOption) (*PasswordResetService, error) {
	if db == nil {
		return nil, errors.New("password reset service: db is required")
	}
	service := &PasswordResetService{
		db:       db,
		delivery: tokenDelivery{mailer: mailer},
		expiry:   defaultResetExpiry,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// CreateToken replaces any pending token of user and mails a reset link.
func (s *PasswordResetService) CreateToken(ctx context.Context, user *models.User) (string, error) {
	ctx = ensureContext(ctx)
	if user == nil || strings.TrimSpace(user.ID) == "" {
		return "", errors.New("password reset service: user is required")
	}

	token, digest, err := newSingleUseToken()
	if err != nil {
		return "", fmt.Errorf("password reset service: %w", err)
	}

	record := models.PasswordResetToken{
		UserID:    user.ID,
		TokenHash: digest,
		ExpiresAt: s.now().Add(s.expiry),
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", user.ID).Delete(&models.PasswordResetToken{}).Error; err != nil {
			return err
		}
		return tx.Create(&record).Error
	})
	if err != nil {
		return "", fmt.Errorf("password reset service: store token: %w", err)
	}

	err = s.delivery.send(ctx, func() (mail.Message, error) {
		return mail.PasswordResetMessage(user.Email, user.Name, s.delivery.link(token))
	})
	if err != nil {
		return "", fmt.Errorf("password reset service: %w", err)
	}
	return token, nil
}

// Consume marks token as used and returns the owning user id.
func (s *PasswordResetService) Consume(ctx context.Context, token string) (string, error) {
	ctx = ensureContext(ctx)
	if strings.TrimSpace(token) == "" {
		return "", ErrResetTokenInvalid
	}

	var record models.PasswordResetToken
	err := s.db.WithContext(ctx).Where("token_hash = ?", hashToken(token)).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrResetTokenInvalid
	}
	if err != nil {
		return "", fmt.Errorf("password reset service: find token: %w", err)
	}

	now := s.now()
	if !record.Usable(now) {
		return "", ErrResetTokenInvalid
	}

	result := s.db.WithContext(ctx).Model(&models.PasswordResetToken{}).
		Where("id = ? AND used_at IS NULL", record.ID).
		Update("used_at", now)
	if result.Error != nil {
		return "", fmt.Errorf("password reset service: mark used: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return "", ErrResetTokenInvalid
	}
	return record.UserID, nil
}

// PurgeExpired deletes reset tokens that expired or were consumed.
func (s *PasswordResetService) PurgeExpired(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ensureContext(ctx)).
		Where("expires_at < ? OR used_at IS NOT NULL", s.now()).
		Delete(&models.PasswordResetToken{})
	if result.Error != nil {
		return 0, fmt.Errorf("password reset service: purge expired: %w", result.Error)
	}
	return result.RowsAffected, nil
}
