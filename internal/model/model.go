// Package model holds the GORM row definitions that back composeforge's
// SQLite database: accounts, typed settings, and federation peers. Stacks
// and terminals are runtime objects (see internal/stack, internal/terminal)
// and are never persisted as rows.
package model

import "time"

// User is an identity record. Username is unique, case-insensitive.
// TwoFASecret is AES-GCM-wrapped the same way an Agent's Password is (see
// internal/crypto); TwoFALastToken holds the most recently accepted TOTP
// code so it can be rejected on replay.
type User struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Username       string    `gorm:"uniqueIndex:idx_users_username_nocase,collate:nocase;not null;size:64" json:"username"`
	Password       string    `gorm:"not null" json:"-"`
	Active         bool      `gorm:"default:true" json:"active"`
	Timezone       string    `gorm:"size:64" json:"timezone"`
	TwoFASecret    string    `json:"-"`
	TwoFAStatus    bool      `gorm:"default:false" json:"twofa_status"`
	TwoFALastToken string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// SettingType classifies how a Setting's Value should be interpreted.
type SettingType string

const (
	SettingTypeString SettingType = "string"
	SettingTypeBool   SettingType = "bool"
	SettingTypeInt    SettingType = "int"
)

// Setting is a typed key/value row. See internal/settings for the
// read-through TTL cache layered on top of this table and for the list of
// recognised keys.
type Setting struct {
	ID    uint        `gorm:"primaryKey" json:"id"`
	Key   string      `gorm:"uniqueIndex:idx_settings_key_nocase,collate:nocase;not null;size:128" json:"key"`
	Value string      `gorm:"type:text" json:"value"`
	Type  SettingType `gorm:"size:20;default:string" json:"type"`
}

// Agent is a persisted federation peer. Password is always stored
// AES-GCM-wrapped (internal/crypto's "enc:" prefix) — it is never written
// to the database in plaintext.
type Agent struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	URL       string    `gorm:"uniqueIndex;not null;size:255" json:"url"`
	Username  string    `gorm:"size:64" json:"username"`
	Password  string    `json:"-"`
	Active    bool      `gorm:"default:true" json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
