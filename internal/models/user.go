package models

import (
	"time"

	"gorm.io/datatypes"
)

// Role names accepted for User.Role.
const (
	RoleUser      = "USER"
	RoleModerator = "MODERATOR"
	RoleAdmin     = "ADMIN"
)

// User describes a platform account. Sessions live in the key-value store, not here.
type User struct {
	BaseModel

	Email    string `gorm:"uniqueIndex;not null" json:"email"`
	Name     string `gorm:"not null" json:"name"`
	Password string `gorm:"not null" json:"-"`
	Role     string `gorm:"size:32;not null;default:USER" json:"role"`

	AvatarURL string `json:"avatar_url"`
	Bio       string `json:"bio"`

	IsEmailConfirmed bool `gorm:"default:false" json:"is_email_confirmed"`

	Preferences datatypes.JSONMap `json:"-"`

	LastLoginAt *time.Time `json:"last_login_at"`
	LastLoginIP string     `json:"-"`
}

// IsValidRole reports whether role is one of the known role names.
func IsValidRole(role string) bool {
	switch role {
	case RoleUser, RoleModerator, RoleAdmin:
		return true
	default:
		return false
	}
}
