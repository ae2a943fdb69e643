package service

import (
	"context"
	"testing"
	"time"

	"github.com/composeforge/composeforge/internal/model"
	"github.com/composeforge/composeforge/internal/settings"
	"github.com/pquerna/otp/totp"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTOTPTestDB(t *testing.T) (*gorm.DB, *settings.Store, uint) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, _ := db.DB()
	t.Cleanup(func() { sqlDB.Close() })
	if err := db.AutoMigrate(&model.User{}, &model.Setting{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	store := settings.New(db, nil)
	if err := store.Set(context.Background(), settings.PasswordEncryptionKey, "test-encryption-key-value", model.SettingTypeString); err != nil {
		t.Fatalf("seed encryption key: %v", err)
	}

	user := model.User{Username: "testuser", Password: "irrelevant-for-this-test", Active: true}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}

	return db, store, user.ID
}

func TestGenerateSecretAndVerifyAndEnable(t *testing.T) {
	db, store, userID := setupTOTPTestDB(t)
	svc := NewTOTPService(db, store)
	ctx := context.Background()

	url, err := svc.GenerateSecret(ctx, userID)
	if err != nil {
		t.Fatalf("GenerateSecret: %v", err)
	}
	if url == "" {
		t.Fatal("expected a non-empty otpauth URL")
	}

	_, secret, err := svc.loadDecryptedSecret(ctx, userID)
	if err != nil {
		t.Fatalf("loadDecryptedSecret: %v", err)
	}

	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}

	if err := svc.VerifyAndEnable(ctx, userID, code); err != nil {
		t.Fatalf("VerifyAndEnable: %v", err)
	}

	var user model.User
	if err := db.First(&user, userID).Error; err != nil {
		t.Fatalf("reload user: %v", err)
	}
	if !user.TwoFAStatus {
		t.Fatal("expected TwoFAStatus to be true after VerifyAndEnable")
	}
}

func TestValidateLoginRejectsReplayedToken(t *testing.T) {
	db, store, userID := setupTOTPTestDB(t)
	svc := NewTOTPService(db, store)
	ctx := context.Background()

	if _, err := svc.GenerateSecret(ctx, userID); err != nil {
		t.Fatalf("GenerateSecret: %v", err)
	}
	_, secret, err := svc.loadDecryptedSecret(ctx, userID)
	if err != nil {
		t.Fatalf("loadDecryptedSecret: %v", err)
	}
	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}
	if err := svc.VerifyAndEnable(ctx, userID, code); err != nil {
		t.Fatalf("VerifyAndEnable: %v", err)
	}

	// The code that enabled 2FA is now the last-seen token; presenting it
	// again at login must be rejected even though it is time-window valid.
	ok, err := svc.ValidateLogin(ctx, userID, code)
	if err == nil || ok {
		t.Fatalf("got (%v, %v), want a replay rejection", ok, err)
	}
}

func TestValidateLoginRejectsWhenNotEnabled(t *testing.T) {
	db, store, userID := setupTOTPTestDB(t)
	svc := NewTOTPService(db, store)

	if _, err := svc.ValidateLogin(context.Background(), userID, "123456"); err != ErrTwoFANotEnabled {
		t.Fatalf("got %v, want ErrTwoFANotEnabled", err)
	}
}

func TestDisable(t *testing.T) {
	db, store, userID := setupTOTPTestDB(t)
	svc := NewTOTPService(db, store)
	ctx := context.Background()

	if _, err := svc.GenerateSecret(ctx, userID); err != nil {
		t.Fatalf("GenerateSecret: %v", err)
	}
	_, secret, err := svc.loadDecryptedSecret(ctx, userID)
	if err != nil {
		t.Fatalf("loadDecryptedSecret: %v", err)
	}
	code, _ := totp.GenerateCode(secret, time.Now())
	if err := svc.VerifyAndEnable(ctx, userID, code); err != nil {
		t.Fatalf("VerifyAndEnable: %v", err)
	}

	// Recompute at the next time step so it differs from the token already
	// recorded as last-seen by VerifyAndEnable.
	code2, _ := totp.GenerateCode(secret, time.Now().Add(30*time.Second))
	if err := svc.Disable(ctx, userID, code2); err != nil {
		t.Fatalf("Disable: %v", err)
	}

	var user model.User
	if err := db.First(&user, userID).Error; err != nil {
		t.Fatalf("reload user: %v", err)
	}
	if user.TwoFAStatus || user.TwoFASecret != "" {
		t.Fatal("expected 2FA to be fully disabled and the secret cleared")
	}
}
