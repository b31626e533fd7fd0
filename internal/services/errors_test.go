package services

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/animehub/internal/database/testutil"
	"github.com/charlesng35/animehub/internal/models"
)

func TestIsUniqueConstraintError(t *testing.T) {
	require.False(t, isUniqueConstraintError(nil))
	require.False(t, isUniqueConstraintError(errors.New("unique-ish but not a driver error")))

	require.True(t, isUniqueConstraintError(fmt.Errorf("create: %w", gorm.ErrDuplicatedKey)))
	require.True(t, isUniqueConstraintError(&pgconn.PgError{Code: "23505"}))
	require.False(t, isUniqueConstraintError(&pgconn.PgError{Code: "23503"}))
	require.True(t, isUniqueConstraintError(&mysql.MySQLError{Number: 1062}))
	require.False(t, isUniqueConstraintError(&mysql.MySQLError{Number: 1452}))
}

func TestIsUniqueConstraintErrorSQLite(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	require.NoError(t, db.Create(&models.User{Email: "dup@example.com", Name: "First", Password: "x"}).Error)
	err := db.Create(&models.User{Email: "dup@example.com", Name: "Second", Password: "x"}).Error
	require.Error(t, err)
	require.True(t, isUniqueConstraintError(err))
}
