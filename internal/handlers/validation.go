package handlers

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	appErrors "github.com/charlesng35/animehub/pkg/errors"
	"github.com/charlesng35/animehub/pkg/response"
	appValidator "github.com/charlesng35/animehub/pkg/validator"
)

// bindAndValidate binds the JSON payload into dest and runs struct validation rules.
// On failure a 400 carrying one message per rejected field is written and false is returned.
func bindAndValidate[T any](c *gin.Context, dest *T) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, appErrors.NewBadRequest("invalid JSON payload"))
		return false
	}

	err := appValidator.ValidateStruct(dest)
	if err == nil {
		return true
	}

	var failures appValidator.ValidationErrors
	if errors.As(err, &failures) && len(failures) > 0 {
		response.Error(c, appErrors.NewBadRequest(failures.Error()).WithDetails(failures))
	} else {
		response.Error(c, appErrors.NewBadRequest("invalid request payload"))
	}
	return false
}

func parseIntQuery(c *gin.Context, key string, fallback int) int {
	value := strings.TrimSpace(c.Query(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
