// Package service holds cross-cutting business logic that sits above the
// raw model/database layer — currently just two-factor authentication.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/composeforge/composeforge/internal/crypto"
	"github.com/composeforge/composeforge/internal/model"
	"github.com/composeforge/composeforge/internal/settings"
	"github.com/pquerna/otp/totp"
	"gorm.io/gorm"
)

var (
	ErrTwoFANotSetup   = errors.New("2fa not set up")
	ErrTwoFANotEnabled = errors.New("2fa not enabled")
	ErrInvalidTOTPCode = errors.New("invalid totp code")
	ErrTOTPCodeReused  = errors.New("totp code already used")
)

// TOTPService manages per-user TOTP secrets, grounded on the teacher's
// internal/service/totp.go (bcrypt-adjacent AES-GCM secret-at-rest
// pattern), but reuses internal/crypto's AES-256-GCM wrapper instead of a
// second hand-rolled AES implementation, and adds the last-seen-token
// replay protection spec.md's User model requires (which
// original_source/src/socket_handlers/auth.rs stubs as always-fail).
type TOTPService struct {
	db       *gorm.DB
	settings *settings.Store
}

// NewTOTPService constructs a TOTPService. Secrets are wrapped using the
// passwordEncryptionKey setting, the same key that protects agent
// passwords (component L) — one process-wide secret-at-rest mechanism.
func NewTOTPService(db *gorm.DB, store *settings.Store) *TOTPService {
	return &TOTPService{db: db, settings: store}
}

func (s *TOTPService) encryptionKey(ctx context.Context) (string, error) {
	key, ok, err := s.settings.Get(ctx, settings.PasswordEncryptionKey)
	if err != nil {
		return "", fmt.Errorf("load encryption key: %w", err)
	}
	if !ok {
		return "", errors.New("passwordEncryptionKey setting is missing")
	}
	return key, nil
}

// GenerateSecret creates a fresh TOTP secret for userID, stores it
// encrypted (but not yet enabled), and returns the otpauth:// URL for QR
// rendering.
func (s *TOTPService) GenerateSecret(ctx context.Context, userID uint) (string, error) {
	var user model.User
	if err := s.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		return "", fmt.Errorf("load user: %w", err)
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      "composeforge",
		AccountName: user.Username,
	})
	if err != nil {
		return "", fmt.Errorf("generate totp key: %w", err)
	}

	encKey, err := s.encryptionKey(ctx)
	if err != nil {
		return "", err
	}
	encrypted, err := crypto.Encrypt(key.Secret(), encKey)
	if err != nil {
		return "", fmt.Errorf("encrypt totp secret: %w", err)
	}

	if err := s.db.WithContext(ctx).Model(&user).Update("two_fa_secret", encrypted).Error; err != nil {
		return "", fmt.Errorf("save totp secret: %w", err)
	}
	return key.URL(), nil
}

// VerifyAndEnable checks code against the pending secret and, on success,
// turns 2FA on for the user.
func (s *TOTPService) VerifyAndEnable(ctx context.Context, userID uint, code string) error {
	user, secret, err := s.loadDecryptedSecret(ctx, userID)
	if err != nil {
		return err
	}
	if secret == "" {
		return ErrTwoFANotSetup
	}
	if !totp.Validate(code, secret) {
		return ErrInvalidTOTPCode
	}

	return s.db.WithContext(ctx).Model(&user).Updates(map[string]interface{}{
		"two_fa_status":     true,
		"two_fa_last_token": code,
	}).Error
}

// Disable verifies code and turns 2FA off, clearing the stored secret.
func (s *TOTPService) Disable(ctx context.Context, userID uint, code string) error {
	user, secret, err := s.loadDecryptedSecret(ctx, userID)
	if err != nil {
		return err
	}
	if !user.TwoFAStatus {
		return ErrTwoFANotEnabled
	}
	if !totp.Validate(code, secret) {
		return ErrInvalidTOTPCode
	}

	return s.db.WithContext(ctx).Model(&user).Updates(map[string]interface{}{
		"two_fa_status":     false,
		"two_fa_secret":     "",
		"two_fa_last_token": "",
	}).Error
}

// ValidateLogin checks a TOTP code presented at login. It rejects a code
// equal to the user's last accepted token even if it is otherwise within
// the valid time window, per spec.md's "last-seen 2FA token (replay
// protection)" — a captured code cannot be replayed within its own
// validity window.
func (s *TOTPService) ValidateLogin(ctx context.Context, userID uint, code string) (bool, error) {
	user, secret, err := s.loadDecryptedSecret(ctx, userID)
	if err != nil {
		return false, err
	}
	if !user.TwoFAStatus {
		return false, ErrTwoFANotEnabled
	}

	if code != "" && code == user.TwoFALastToken {
		return false, ErrTOTPCodeReused
	}

	if !totp.Validate(code, secret) {
		return false, nil
	}

	if err := s.db.WithContext(ctx).Model(&user).Update("two_fa_last_token", code).Error; err != nil {
		return false, fmt.Errorf("record last-seen totp token: %w", err)
	}
	return true, nil
}

func (s *TOTPService) loadDecryptedSecret(ctx context.Context, userID uint) (model.User, string, error) {
	var user model.User
	if err := s.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		return model.User{}, "", fmt.Errorf("load user: %w", err)
	}
	if user.TwoFASecret == "" {
		return user, "", nil
	}

	encKey, err := s.encryptionKey(ctx)
	if err != nil {
		return model.User{}, "", err
	}
	secret, err := crypto.Decrypt(user.TwoFASecret, encKey)
	if err != nil {
		return model.User{}, "", fmt.Errorf("decrypt totp secret: %w", err)
	}
	return user, secret, nil
}
