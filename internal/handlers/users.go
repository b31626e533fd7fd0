package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/animehub/internal/models"
	"github.com/charlesng35/animehub/internal/services"
	"github.com/charlesng35/animehub/pkg/response"
)

// profileView is the account payload returned to its owner.
type profileView struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	Name             string     `json:"name"`
	Role             string     `json:"role"`
	AvatarURL        string     `json:"avatar_url"`
	Bio              string     `json:"bio"`
	IsEmailConfirmed bool       `json:"is_email_confirmed"`
	LastLoginAt      *time.Time `json:"last_login_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

func newProfileView(user *models.User) profileView {
	if user == nil {
		return profileView{}
	}
	return profileView{
		ID:               user.ID,
		Email:            user.Email,
		Name:             user.Name,
		Role:             user.Role,
		AvatarURL:        user.AvatarURL,
		Bio:              user.Bio,
		IsEmailConfirmed: user.IsEmailConfirmed,
		LastLoginAt:      user.LastLoginAt,
		CreatedAt:        user.CreatedAt,
	}
}

// UserHandler serves account endpoints.
type UserHandler struct {
	users    *services.UserService
	settings *services.UserSettingsService
	auth     *services.AuthService
	cookie   CookieSettings
}

// NewUserHandler constructs a UserHandler.
func NewUserHandler(users *services.UserService, settings *services.UserSettingsService, auth *services.AuthService, cookie CookieSettings) (*UserHandler, error) {
	if users == nil || settings == nil || auth == nil {
		return nil, errors.New("user handler: services are required")
	}
	return &UserHandler{users: users, settings: settings, auth: auth, cookie: cookie.withDefaults()}, nil
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=6,max=50"`
}

type changeEmailRequest struct {
	NewEmail string `json:"new_email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type updateSettingsRequest struct {
	ListsArePublic      *bool `json:"lists_are_public"`
	ShowRatingsPublicly *bool `json:"show_ratings_publicly"`
}

// GET /api/users
func (h *UserHandler) List(c *gin.Context) {
	page := parseIntQuery(c, "page", 1)
	perPage := parseIntQuery(c, "per_page", 50)

	users, total, err := h.users.List(requestContext(c), services.ListUsersInput{
		Page:     page,
		PageSize: perPage,
		Query:    c.Query("q"),
		Role:     c.Query("role"),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	views := make([]profileView, 0, len(users))
	for i := range users {
		views = append(views, newProfileView(&users[i]))
	}

	if perPage <= 0 || perPage > 200 {
		perPage = 50
	}
	response.SuccessWithMeta(c, http.StatusOK, views, response.NewMeta(page, perPage, total))
}

// GET /api/users/:id
func (h *UserHandler) Get(c *gin.Context) {
	profile, err := h.users.GetPublicProfile(requestContext(c), c.Param("id"), currentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, profile)
}

// PATCH /api/users/me/password
func (h *UserHandler) ChangePassword(c *gin.Context) {
	var req changePasswordRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.auth.ChangePassword(requestContext(c), currentUserID(c), req.CurrentPassword, req.NewPassword); err != nil {
		response.Error(c, err)
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookie.Name, "", -1, h.cookie.Path, h.cookie.Domain, h.cookie.Secure, true)
	response.Success(c, http.StatusOK, messageResponse{Message: "Password changed, please sign in again"})
}

// PATCH /api/users/me/email
func (h *UserHandler) ChangeEmail(c *gin.Context) {
	var req changeEmailRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.auth.ChangeEmail(requestContext(c), currentUserID(c), req.Password, req.NewEmail); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, messageResponse{Message: "Check the new address to confirm the change"})
}

// GET /api/users/me/settings
func (h *UserHandler) GetSettings(c *gin.Context) {
	settings, err := h.settings.Get(requestContext(c), currentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, settings)
}

// PATCH /api/users/me/settings
func (h *UserHandler) UpdateSettings(c *gin.Context) {
	var req updateSettingsRequest
	if !bindAndValidate(c, &req) {
		return
	}

	settings, err := h.settings.Update(requestContext(c), currentUserID(c), services.UpdateUserSettingsInput{
		ListsArePublic:      req.ListsArePublic,
		ShowRatingsPublicly: req.ShowRatingsPublicly,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, settings)
}
