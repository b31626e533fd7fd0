package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/animehub/internal/models"
)

// JWTSecretSetting holds the access token signing secret generated on first boot.
const JWTSecretSetting = "auth.jwt.secret"

var errNilDB = errors.New("system settings: db is nil")

// keyColumn is quoted by the dialector; "key" is reserved in MySQL.
var keyColumn = clause.Column{Name: "key"}

// GetSystemSetting returns the stored value for key, or "" when it was never set.
func GetSystemSetting(ctx context.Context, db *gorm.DB, key string) (string, error) {
	if db == nil {
		return "", errNilDB
	}

	var setting models.SystemSetting
	err := db.WithContext(ctx).Where(clause.Eq{Column: keyColumn, Value: key}).Take(&setting).Error
	switch {
	case err == nil:
		return setting.Value, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return "", nil
	default:
		return "", fmt.Errorf("system settings: get %q: %w", key, err)
	}
}

// UpsertSystemSetting stores value under key, replacing any previous value.
func UpsertSystemSetting(ctx context.Context, db *gorm.DB, key, value string) error {
	return putSystemSetting(ctx, db, key, value, clause.OnConflict{
		Columns:   []clause.Column{keyColumn},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	})
}

// EnsureJWTSecret returns the persisted signing secret, storing candidate when none exists
// yet. Concurrent first boots converge on whichever instance inserted first.
func EnsureJWTSecret(ctx context.Context, db *gorm.DB, candidate string) (string, error) {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return "", errors.New("system settings: jwt secret is empty")
	}

	if err := putSystemSetting(ctx, db, JWTSecretSetting, candidate, clause.OnConflict{
		Columns:   []clause.Column{keyColumn},
		DoNothing: true,
	}); err != nil {
		return "", err
	}

	current, err := GetSystemSetting(ctx, db, JWTSecretSetting)
	if err != nil {
		return "", err
	}
	if current = strings.TrimSpace(current); current == "" {
		return "", errors.New("system settings: stored jwt secret is empty")
	}
	return current, nil
}

func putSystemSetting(ctx context.Context, db *gorm.DB, key, value string, onConflict clause.OnConflict) error {
	if db == nil {
		return errNilDB
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("system settings: key is required")
	}

	record := models.SystemSetting{Key: key, Value: value}
	if err := db.WithContext(ctx).Clauses(onConflict).Create(&record).Error; err != nil {
		return fmt.Errorf("system settings: put %q: %w", key, err)
	}
	return nil
}
