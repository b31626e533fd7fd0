package models

import "time"

// Single-use tokens are stored only as a SHA-256 digest; the plain value exists solely in the
// email that carries it.

// EmailVerification confirms ownership of an address. NewEmail is set when the token confirms
// an address change rather than a registration.
type EmailVerification struct {
	BaseModel

	UserID     string     `gorm:"type:uuid;not null;index" json:"user_id"`
	TokenHash  string     `gorm:"size:64;uniqueIndex;not null" json:"-"`
	NewEmail   string     `json:"new_email,omitempty"`
	ExpiresAt  time.Time  `gorm:"index" json:"expires_at"`
	VerifiedAt *time.Time `json:"verified_at"`
}

// PasswordResetToken authorises one password change.
type PasswordResetToken struct {
	BaseModel

	UserID    string     `gorm:"type:uuid;not null;index" json:"user_id"`
	TokenHash string     `gorm:"size:64;uniqueIndex;not null" json:"-"`
	ExpiresAt time.Time  `gorm:"index" json:"expires_at"`
	UsedAt    *time.Time `json:"used_at"`
}

// Usable reports whether the reset token is neither spent nor past its expiry at now.
func (t *PasswordResetToken) Usable(now time.Time) bool {
	return t != nil && t.UsedAt == nil && now.Before(t.ExpiresAt)
}
