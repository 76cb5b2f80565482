package logic

import (
	"fmt"
	"testing"
	"time"

	"github.com/TheOnlyBaddy/Blocklance/internal/errs"
	"github.com/TheOnlyBaddy/Blocklance/internal/model"
	"github.com/TheOnlyBaddy/Blocklance/internal/repository"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormLogger.Default.LogMode(gormLogger.Silent),
		TranslateError: true,
		NamingStrategy: &schema.NamingStrategy{SingularTable: true},
	})
	require.NoError(t, err)
	require.NoError(t, repository.Migrate(db))
	return db
}

func TestNonceIssueAndConsume(t *testing.T) {
	db := setupTestDB(t)
	logic := NewNonceLogic(db, 10)

	nonce, err := logic.Issue("0xwallet")
	require.NoError(t, err)
	require.NotEmpty(t, nonce.Nonce)
	require.False(t, nonce.Used)
	require.True(t, nonce.ExpiresAt.After(time.Now()))

	require.NoError(t, logic.Consume("0xwallet", nonce.Nonce))

	// 一次性：第二次消费被拒
	err = logic.Consume("0xwallet", nonce.Nonce)
	require.True(t, errs.Is(err, errs.KindValidation))
}

func TestNonceConsumeUnknown(t *testing.T) {
	db := setupTestDB(t)
	logic := NewNonceLogic(db, 10)

	err := logic.Consume("0xwallet", "no-such-nonce")
	require.True(t, errs.Is(err, errs.KindValidation))
}

func TestNonceConsumeExpired(t *testing.T) {
	db := setupTestDB(t)
	logic := NewNonceLogic(db, 10)

	nonce, err := logic.Issue("0xwallet")
	require.NoError(t, err)
	require.NoError(t, db.Model(&model.NonceModel{}).
		Where("id = ?", nonce.Id).
		Update("expires_at", time.Now().Add(-time.Minute)).Error)

	err = logic.Consume("0xwallet", nonce.Nonce)
	require.True(t, errs.Is(err, errs.KindValidation))
}

func TestNonceCleanupExpired(t *testing.T) {
	db := setupTestDB(t)
	logic := NewNonceLogic(db, 10)

	used, err := logic.Issue("0xwallet")
	require.NoError(t, err)
	require.NoError(t, logic.Consume("0xwallet", used.Nonce))

	expired, err := logic.Issue("0xwallet")
	require.NoError(t, err)
	require.NoError(t, db.Model(&model.NonceModel{}).
		Where("id = ?", expired.Id).
		Update("expires_at", time.Now().Add(-time.Minute)).Error)

	fresh, err := logic.Issue("0xwallet")
	require.NoError(t, err)

	deleted, err := logic.CleanupExpired()
	require.NoError(t, err)
	require.Equal(t, int64(2), deleted)

	// 有效nonce不受影响
	var remaining []model.NonceModel
	require.NoError(t, db.Find(&remaining).Error)
	require.Len(t, remaining, 1)
	require.Equal(t, fresh.Id, remaining[0].Id)
}
