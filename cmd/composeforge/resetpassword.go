package main

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/composeforge/composeforge/internal/auth"
	"github.com/composeforge/composeforge/internal/config"
	"github.com/composeforge/composeforge/internal/crypto"
	"github.com/composeforge/composeforge/internal/database"
	"github.com/composeforge/composeforge/internal/model"
)

// runResetPassword implements the `composeforge reset-password <username>
// <new-password>` recovery subcommand (SPEC_FULL supplement, grounded on
// original_source/src/bin/reset_password.rs). It shares the server's
// config/db wiring rather than its own, so it always targets the same
// data directory a running instance would use.
func runResetPassword(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: composeforge reset-password <username> <new-password>")
	}
	username, newPassword := args[0], args[1]

	cfg, err := config.Load(nil)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	db, err := database.Init(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}

	var user model.User
	if err := db.Where("username = ? COLLATE NOCASE", username).First(&user).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return fmt.Errorf("no user named %q", username)
		}
		return err
	}

	hashed, err := auth.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := db.Model(&user).Update("password", hashed).Error; err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	secret, err := crypto.GenerateSecret(64)
	if err != nil {
		return fmt.Errorf("generate jwtSecret: %w", err)
	}
	secretHash, err := auth.HashPassword(secret)
	if err != nil {
		return fmt.Errorf("hash jwtSecret: %w", err)
	}
	if err := db.Model(&model.Setting{}).Where("key = ?", "jwtSecret").Update("value", secretHash).Error; err != nil {
		return fmt.Errorf("rotate jwtSecret: %w", err)
	}

	fmt.Printf("password reset for %s\n", username)
	return nil
}
