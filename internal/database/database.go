// Package database bootstraps composeforge's SQLite store: schema
// migration and first-boot secret seeding.
package database

import (
	"fmt"
	"log/slog"

	"github.com/composeforge/composeforge/internal/crypto"
	"github.com/composeforge/composeforge/internal/model"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	secretLength = 64
)

// Init opens the SQLite database at dbPath, migrates the schema, and seeds
// the long-lived secrets a fresh install needs (jwtSecret,
// passwordEncryptionKey) if they aren't already present.
func Init(dbPath string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("unwrap sql.DB: %w", err)
	}
	sqlDB.Exec("PRAGMA journal_mode=WAL")
	sqlDB.Exec("PRAGMA foreign_keys=ON")

	if err := db.AutoMigrate(
		&model.User{},
		&model.Setting{},
		&model.Agent{},
	); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	if err := seedSecrets(db); err != nil {
		return nil, fmt.Errorf("seed secrets: %w", err)
	}

	slog.Info("database initialized", "path", dbPath)
	return db, nil
}

// seedSecrets generates the jwtSecret and passwordEncryptionKey settings on
// first boot. jwtSecret is stored as bcrypt(random secret) rather than the
// raw secret itself, and that stored hash string is the HMAC key bearer
// tokens are signed and verified with (see internal/auth).
func seedSecrets(db *gorm.DB) error {
	for _, key := range []string{"jwtSecret", "passwordEncryptionKey"} {
		var existing model.Setting
		err := db.Where("key = ?", key).First(&existing).Error
		if err == nil {
			continue
		}
		if err != gorm.ErrRecordNotFound {
			return err
		}

		secret, err := crypto.GenerateSecret(secretLength)
		if err != nil {
			return fmt.Errorf("generate %s: %w", key, err)
		}

		value := secret
		if key == "jwtSecret" {
			hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
			if err != nil {
				return fmt.Errorf("hash jwtSecret: %w", err)
			}
			value = string(hash)
		}

		if err := db.Create(&model.Setting{Key: key, Value: value, Type: model.SettingTypeString}).Error; err != nil {
			return fmt.Errorf("persist %s: %w", key, err)
		}
		slog.Info("seeded secret on first boot", "key", key)
	}
	return nil
}
