package database

import (
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/charlesng35/animehub/internal/models"
	"github.com/charlesng35/animehub/pkg/crypto"
)

// SeedOptions describes the optional bootstrap administrator.
type SeedOptions struct {
	AdminEmail    string
	AdminName     string
	AdminPassword string
}

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.EmailVerification{},
		&models.PasswordResetToken{},
		&models.CacheEntry{},
		&models.CacheSetMember{},
		&models.SystemSetting{},
	)
}

// SeedData creates the bootstrap administrator when one is configured. Existing accounts are left untouched.
func SeedData(db *gorm.DB, opts SeedOptions) error {
	email := strings.ToLower(strings.TrimSpace(opts.AdminEmail))
	if email == "" {
		return nil
	}
	if strings.TrimSpace(opts.AdminPassword) == "" {
		return errors.New("admin password is required when admin email is set")
	}

	hash, err := crypto.HashPassword(opts.AdminPassword)
	if err != nil {
		return err
	}

	name := strings.TrimSpace(opts.AdminName)
	if name == "" {
		name = "Administrator"
	}

	admin := models.User{
		Email:            email,
		Name:             name,
		Password:         hash,
		Role:             models.RoleAdmin,
		IsEmailConfirmed: true,
	}
	return db.Where(models.User{Email: email}).Attrs(admin).FirstOrCreate(&models.User{}).Error
}
