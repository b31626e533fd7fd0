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

const defaultVerificationExpiry = 24 * time.Hour

var (
	// ErrVerificationNotFound indicates the token does not exist.
	ErrVerificationNotFound = errors.New("email verification: not found")
	// ErrVerificationExpired indicates the verification token has expired.
	ErrVerificationExpired = errors.New("email verification: expired")
	// ErrVerificationUsed signals that the verification token has already been consumed.
	ErrVerificationUsed = errors.New("email verification: already used")
)

// VerificationOption customises the EmailVerificationService.
type VerificationOption func(*EmailVerificationService)

// WithVerificationBaseURL sets the page that confirmation links point at.
func WithVerificationBaseURL(url string) VerificationOption {
	return func(s *EmailVerificationService) {
		s.delivery.baseURL = strings.TrimRight(strings.TrimSpace(url), "/")
	}
}

// WithVerificationExpiry overrides the token lifetime.
func WithVerificationExpiry(d time.Duration) VerificationOption {
	return func(s *EmailVerificationService) {
		if d > 0 {
			s.expiry = d
		}
	}
}

// WithVerificationClock injects a custom time source.
func WithVerificationClock(clock func() time.Time) VerificationOption {
	return func(s *EmailVerificationService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// EmailVerificationService manages confirmation tokens for registrations and email changes.
// A user holds at most one pending token; issuing a new one replaces it.
type EmailVerificationService struct {
	db       *gorm.DB
	delivery tokenDelivery
	expiry   time.Duration
	now      func() time.Time
}

// NewEmailVerificationService constructs a verification service. mailer may be nil in tests.
func NewEmailVerificationService(db *gorm.DB, mailer mail.Mailer, opts ...VerificationOption) (*EmailVerificationService, error) {
	if db == nil {
		return nil, errors.New("email verification service: db is required")
	}

	service := &EmailVerificationService{
		db:       db,
		delivery: tokenDelivery{mailer: mailer},
		expiry:   defaultVerificationExpiry,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// CreateToken issues a verification token for user and mails the confirmation link. When
// newEmail is set the token confirms a change of address and the mail goes to newEmail.
// It returns the plain token and the link that was sent.
func (s *EmailVerificationService) CreateToken(ctx context.Context, user *models.User, newEmail string) (string, string, error) {
	ctx = ensureContext(ctx)
	if user == nil || strings.TrimSpace(user.ID) == "" {
		return "", "", errors.New("email verification service: user is required")
	}
	newEmail = normaliseEmail(newEmail)
	recipient := user.Email
	if newEmail != "" {
		recipient = newEmail
	}
	if recipient == "" {
		return "", "", errors.New("email verification service: email is required")
	}

	token, digest, err := newSingleUseToken()
	if err != nil {
		return "", "", fmt.Errorf("email verification service: %w", err)
	}

	record := models.EmailVerification{
		UserID:    user.ID,
		TokenHash: digest,
		NewEmail:  newEmail,
		ExpiresAt: s.now().Add(s.expiry),
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", user.ID).Delete(&models.EmailVerification{}).Error; err != nil {
			return err
		}
		return tx.Create(&record).Error
	})
	if err != nil {
		return "", "", fmt.Errorf("email verification service: store token: %w", err)
	}

	link := s.delivery.link(token)
	err = s.delivery.send(ctx, func() (mail.Message, error) {
		return mail.ConfirmationMessage(recipient, user.Name, link)
	})
	if err != nil {
		return "", "", fmt.Errorf("email verification service: %w", err)
	}
	return token, link, nil
}

// VerifyToken consumes a verification token. Concurrent calls with the same token see exactly
// one success.
func (s *EmailVerificationService) VerifyToken(ctx context.Context, token string) (*models.EmailVerification, error) {
	ctx = ensureContext(ctx)
	if strings.TrimSpace(token) == "" {
		return nil, ErrVerificationNotFound
	}

	var record models.EmailVerification
	err := s.db.WithContext(ctx).Where("token_hash = ?", hashToken(token)).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrVerificationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("email verification service: find token: %w", err)
	}

	now := s.now()
	if record.VerifiedAt != nil {
		return nil, ErrVerificationUsed
	}
	if !record.ExpiresAt.After(now) {
		return nil, ErrVerificationExpired
	}

	result := s.db.WithContext(ctx).Model(&models.EmailVerification{}).
		Where("id = ? AND verified_at IS NULL", record.ID).
		Update("verified_at", now)
	if result.Error != nil {
		return nil, fmt.Errorf("email verification service: mark verified: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrVerificationUsed
	}

	record.VerifiedAt = &now
	return &record, nil
}

// PurgeExpired deletes verification tokens past their expiry.
func (s *EmailVerificationService) PurgeExpired(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ensureContext(ctx)).
		Where("expires_at < ?", s.now()).
		Delete(&models.EmailVerification{})
	if result.Error != nil {
		return 0, fmt.Errorf("email verification service: purge expired: %w", result.Error)
	}
	return result.RowsAffected, nil
}
