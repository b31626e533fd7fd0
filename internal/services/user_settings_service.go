package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	apperrors "github.com/charlesng35/animehub/pkg/errors"
)

const settingsNode = "settings"

// UserSettings controls the visibility of a user's lists and ratings.
type UserSettings struct {
	ListsArePublic      bool `json:"lists_are_public"`
	ShowRatingsPublicly bool `json:"show_ratings_publicly"`
}

// UpdateUserSettingsInput carries a partial settings update. Nil fields are left unchanged.
type UpdateUserSettingsInput struct {
	ListsArePublic      *bool `json:"lists_are_public"`
	ShowRatingsPublicly *bool `json:"show_ratings_publicly"`
}

// UserSettingsService reads and writes the settings kept in users.preferences.
type UserSettingsService struct {
	db *gorm.DB
}

// NewUserSettingsService constructs a UserSettingsService.
func NewUserSettingsService(db *gorm.DB) (*UserSettingsService, error) {
	if db == nil {
		return nil, fmt.Errorf("user settings service: db is required")
	}
	return &UserSettingsService{db: db}, nil
}

// Get returns the effective settings of userID.
func (s *UserSettingsService) Get(ctx context.Context, userID string) (UserSettings, error) {
	ctx = ensureContext(ctx)
	raw, err := s.load(ctx, userID)
	if err != nil {
		return DefaultUserSettings(), err
	}
	return NormaliseUserSettings(raw), nil
}

// Update applies a partial update and returns the resulting settings.
func (s *UserSettingsService) Update(ctx context.Context, userID string, input UpdateUserSettingsInput) (UserSettings, error) {
	ctx = ensureContext(ctx)
	raw, err := s.load(ctx, userID)
	if err != nil {
		return DefaultUserSettings(), err
	}

	settings := NormaliseUserSettings(raw)
	if input.ListsArePublic != nil {
		settings.ListsArePublic = *input.ListsArePublic
	}
	if input.ShowRatingsPublicly != nil {
		settings.ShowRatingsPublicly = *input.ShowRatingsPublicly
	}

	if raw == nil {
		raw = datatypes.JSONMap{}
	}
	raw[settingsNode] = map[string]any{
		"lists_are_public":      settings.ListsArePublic,
		"show_ratings_publicly": settings.ShowRatingsPublicly,
	}

	err = s.db.WithContext(ctx).
		Table("users").
		Where("id = ?", strings.TrimSpace(userID)).
		Update("preferences", raw).Error
	if err != nil {
		return DefaultUserSettings(), fmt.Errorf("user settings service: update settings: %w", err)
	}
	return settings, nil
}

// AreListsPublic reports whether other users may see the lists of userID.
func (s *UserSettingsService) AreListsPublic(ctx context.Context, userID string) (bool, error) {
	settings, err := s.Get(ctx, userID)
	return settings.ListsArePublic, err
}

// AreRatingsPublic reports whether other users may see the ratings of userID.
func (s *UserSettingsService) AreRatingsPublic(ctx context.Context, userID string) (bool, error) {
	settings, err := s.Get(ctx, userID)
	return settings.ShowRatingsPublicly, err
}

func (s *UserSettingsService) load(ctx context.Context, userID string) (datatypes.JSONMap, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperrors.NewBadRequest("user id is required")
	}

	var user struct {
		ID          string
		Preferences datatypes.JSONMap
	}
	err := s.db.WithContext(ctx).
		Table("users").
		Select("id", "preferences").
		Where("id = ?", userID).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("user settings service: load settings: %w", err)
	}
	return user.Preferences, nil
}

// DefaultUserSettings returns the settings applied when none were stored.
func DefaultUserSettings() UserSettings {
	return UserSettings{ListsArePublic: true, ShowRatingsPublicly: true}
}

// NormaliseUserSettings coerces the raw preferences map into UserSettings with defaults applied.
func NormaliseUserSettings(raw datatypes.JSONMap) UserSettings {
	settings := DefaultUserSettings()
	node, ok := toMap(raw[settingsNode])
	if !ok {
		return settings
	}
	if value, ok := asBool(node["lists_are_public"]); ok {
		settings.ListsArePublic = value
	}
	if value, ok := asBool(node["show_ratings_publicly"]); ok {
		settings.ShowRatingsPublicly = value
	}
	return settings
}

func toMap(value any) (map[string]any, bool) {
	switch typed := value.(type) {
	case map[string]any:
		return typed, true
	case datatypes.JSONMap:
		return map[string]any(typed), true
	default:
		return nil, false
	}
}

func asBool(value any) (bool, bool) {
	switch v := value.(type) {
	case bool:
		return v, true
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, false
		}
		return parsed, true
	default:
		return false, false
	}
}
