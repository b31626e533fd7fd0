package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/animehub/internal/models"
	"github.com/charlesng35/animehub/pkg/crypto"
	apperrors "github.com/charlesng35/animehub/pkg/errors"
)

var (
	// ErrUserNotFound indicates the requested user does not exist.
	ErrUserNotFound = apperrors.New("USER_NOT_FOUND", "User not found", http.StatusNotFound)
	// ErrEmailTaken indicates another account already uses the address.
	ErrEmailTaken = apperrors.New("EMAIL_TAKEN", "A user with this email already exists", http.StatusConflict)
	// ErrWrongPassword indicates the supplied current password did not match.
	ErrWrongPassword = apperrors.New("WRONG_PASSWORD", "Current password is incorrect", http.StatusUnauthorized)
)

// CreateUserInput captures the fields required to create a user.
type CreateUserInput struct {
	Email            string
	Name             string
	Password         string
	Role             string
	IsEmailConfirmed bool
}

// ListUsersInput is the typed query accepted by List.
type ListUsersInput struct {
	Page     int
	PageSize int
	Query    string
	Role     string
}

// PublicProfile is the view of a user shown to other accounts.
type PublicProfile struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	Email               string    `json:"email,omitempty"`
	Role                string    `json:"role"`
	AvatarURL           string    `json:"avatar_url"`
	Bio                 string    `json:"bio"`
	CreatedAt           time.Time `json:"created_at"`
	ListsArePublic      bool      `json:"lists_are_public"`
	ShowRatingsPublicly bool      `json:"show_ratings_publicly"`
}

// UserService exposes account CRUD on top of GORM. It satisfies auth.UserFinder.
type UserService struct {
	db  *gorm.DB
	now func() time.Time
}

// NewUserService constructs a UserService.
func NewUserService(db *gorm.DB) (*UserService, error) {
	if db == nil {
		return nil, errors.New("user service: db is required")
	}
	return &UserService{db: db, now: time.Now}, nil
}

// Create inserts a new user with a hashed password.
func (s *UserService) Create(ctx context.Context, input CreateUserInput) (*models.User, error) {
	ctx = ensureContext(ctx)

	email := normaliseEmail(input.Email)
	if email == "" {
		return nil, apperrors.NewBadRequest("email is required")
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, apperrors.NewBadRequest("name is required")
	}
	if strings.TrimSpace(input.Password) == "" {
		return nil, apperrors.NewBadRequest("password is required")
	}

	role := strings.ToUpper(strings.TrimSpace(input.Role))
	if role == "" {
		role = models.RoleUser
	}
	if !models.IsValidRole(role) {
		return nil, apperrors.NewBadRequest("unknown role")
	}

	taken, err := s.emailTaken(ctx, email, "")
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrEmailTaken
	}

	hashed, err := crypto.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("user service: hash password: %w", err)
	}

	user := &models.User{
		Email:            email,
		Name:             name,
		Password:         hashed,
		Role:             role,
		IsEmailConfirmed: input.IsEmailConfirmed,
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("user service: create user: %w", err)
	}
	return user, nil
}

// FindUserByID returns (nil, nil) when no user has the identifier.
func (s *UserService) FindUserByID(ctx context.Context, id string) (*models.User, error) {
	ctx = ensureContext(ctx)

	var user models.User
	err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("user service: find user: %w", err)
	}
	return &user, nil
}

// GetByID loads a user by identifier.
func (s *UserService) GetByID(ctx context.Context, id string) (*models.User, error) {
	user, err := s.FindUserByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// GetByEmail loads a user by email address. It returns (nil, nil) when absent.
func (s *UserService) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	ctx = ensureContext(ctx)

	var user models.User
	err := s.db.WithContext(ctx).First(&user, "email = ?", normaliseEmail(email)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("user service: find user by email: %w", err)
	}
	return &user, nil
}

// List retrieves users matching the supplied filters with pagination.
func (s *UserService) List(ctx context.Context, input ListUsersInput) ([]models.User, int64, error) {
	ctx = ensureContext(ctx)

	page := input.Page
	if page <= 0 {
		page = 1
	}
	perPage := input.PageSize
	if perPage <= 0 || perPage > 200 {
		perPage = 50
	}

	query := s.db.WithContext(ctx).Model(&models.User{})
	if role := strings.ToUpper(strings.TrimSpace(input.Role)); role != "" {
		query = query.Where("role = ?", role)
	}
	if q := strings.TrimSpace(input.Query); q != "" {
		pattern := "%" + strings.ToLower(q) + "%"
		query = query.Where("LOWER(name) LIKE ? OR LOWER(email) LIKE ?", pattern, pattern)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("user service: count users: %w", err)
	}

	var users []models.User
	if err := query.
		Order("created_at DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&users).Error; err != nil {
		return nil, 0, fmt.Errorf("user service: list users: %w", err)
	}

	return users, total, nil
}

// Delete removes a user permanently.
func (s *UserService) Delete(ctx context.Context, id string) error {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).Delete(&models.User{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("user service: delete user: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// verifyPassword is swapped in tests to observe comparisons.
var verifyPassword = crypto.VerifyPassword

// dummyPasswordHash is compared against when no user matched so unknown accounts cost
// the same bcrypt work as known ones.
var dummyPasswordHash = sync.OnceValue(func() string {
	hash, err := crypto.HashPassword("animehub-dummy-password")
	if err != nil {
		return ""
	}
	return hash
})

// CheckPassword reports whether password matches the stored hash of the user. A nil user
// still runs a comparison and always reports false.
func (s *UserService) CheckPassword(user *models.User, password string) bool {
	if user == nil {
		verifyPassword(dummyPasswordHash(), password)
		return false
	}
	return verifyPassword(user.Password, password)
}

// ChangePassword verifies the current password and stores a new hash.
func (s *UserService) ChangePassword(ctx context.Context, id, currentPassword, newPassword string) error {
	user, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !s.CheckPassword(user, currentPassword) {
		return ErrWrongPassword
	}
	return s.SetPassword(ctx, id, newPassword)
}

// SetPassword hashes and stores newPassword without checking the previous one.
func (s *UserService) SetPassword(ctx context.Context, id, newPassword string) error {
	ctx = ensureContext(ctx)

	if strings.TrimSpace(newPassword) == "" {
		return apperrors.NewBadRequest("new password is required")
	}

	hashed, err := crypto.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("user service: hash new password: %w", err)
	}

	result := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", id).
		Update("password", hashed)
	if result.Error != nil {
		return fmt.Errorf("user service: change password: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// CheckEmailAvailable verifies the password of the user and that newEmail is free.
func (s *UserService) CheckEmailAvailable(ctx context.Context, id, password, newEmail string) (*models.User, error) {
	ctx = ensureContext(ctx)

	user, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.CheckPassword(user, password) {
		return nil, ErrWrongPassword
	}

	email := normaliseEmail(newEmail)
	if email == "" {
		return nil, apperrors.NewBadRequest("new email is required")
	}
	if email == user.Email {
		return nil, apperrors.NewBadRequest("new email matches the current one")
	}
	taken, err := s.emailTaken(ctx, email, user.ID)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrEmailTaken
	}
	return user, nil
}

// ConfirmEmail marks the address of the user as confirmed. When newEmail is set the
// address is switched first.
func (s *UserService) ConfirmEmail(ctx context.Context, id, newEmail string) error {
	ctx = ensureContext(ctx)

	updates := map[string]any{"is_email_confirmed": true}
	if email := normaliseEmail(newEmail); email != "" {
		updates["email"] = email
	}

	result := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		if isUniqueConstraintError(result.Error) {
			return ErrEmailTaken
		}
		return fmt.Errorf("user service: confirm email: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// UpdateLastLogin records the time and address of the latest successful login.
func (s *UserService) UpdateLastLogin(ctx context.Context, id, ipAddress string) error {
	ctx = ensureContext(ctx)

	now := s.now()
	err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", id).
		Updates(map[string]any{"last_login_at": now, "last_login_ip": strings.TrimSpace(ipAddress)}).Error
	if err != nil {
		return fmt.Errorf("user service: update last login: %w", err)
	}
	return nil
}

// GetPublicProfile returns the profile of id as seen by viewerID. The email is only
// exposed to the owner.
func (s *UserService) GetPublicProfile(ctx context.Context, id, viewerID string) (*PublicProfile, error) {
	user, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	settings := NormaliseUserSettings(user.Preferences)
	profile := &PublicProfile{
		ID:                  user.ID,
		Name:                user.Name,
		Role:                user.Role,
		AvatarURL:           user.AvatarURL,
		Bio:                 user.Bio,
		CreatedAt:           user.CreatedAt,
		ListsArePublic:      settings.ListsArePublic,
		ShowRatingsPublicly: settings.ShowRatingsPublicly,
	}
	if viewerID != "" && viewerID == user.ID {
		profile.Email = user.Email
	}
	return profile, nil
}

func (s *UserService) emailTaken(ctx context.Context, email, excludeID string) (bool, error) {
	query := s.db.WithContext(ctx).Model(&models.User{}).Where("email = ?", email)
	if excludeID != "" {
		query = query.Where("id <> ?", excludeID)
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return false, fmt.Errorf("user service: check email: %w", err)
	}
	return count > 0, nil
}
