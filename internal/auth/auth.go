// Package auth implements password hashing and opaque bearer tokens for
// composeforge. Tokens are not classic expiring JWTs: they carry
// {username, h} where h is a SHAKE256 fingerprint of the user's current
// bcrypt password hash, so a password change silently invalidates every
// token issued before it, with no revocation list to maintain.
package auth

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/sha3"
)

// BcryptCost matches the reference implementation's saltRounds = 10.
const BcryptCost = 10

// Shake256Length is the SHAKE256 output length embedded in a token, in
// bytes (16 bytes = 32 hex characters).
const Shake256Length = 16

// Claims is the JWT payload. It intentionally carries no exp claim —
// tokens don't expire on a timer, they expire when the referenced
// password hash no longer matches.
type Claims struct {
	Username string `json:"username"`
	H        string `json:"h"`
	jwt.RegisteredClaims
}

var ErrInvalidToken = errors.New("invalid or stale token")

// HashPassword bcrypt-hashes a plaintext password at BcryptCost.
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hashed), nil
}

// CheckPassword reports whether password matches the bcrypt hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// NeedsRehash reports whether hash was produced at a cost other than
// BcryptCost (or isn't a recognisable bcrypt hash at all), so a login path
// can transparently upgrade it.
func NeedsRehash(hash string) bool {
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return true
	}
	return cost != BcryptCost
}

// Shake256 returns the hex-encoded SHAKE256 digest of data, truncated to
// length bytes. An empty input returns an empty string.
func Shake256(data string, length int) string {
	if data == "" {
		return ""
	}
	h := sha3.NewShake256()
	h.Write([]byte(data))
	out := make([]byte, length)
	h.Read(out)
	return hex.EncodeToString(out)
}

// CreateToken signs a bearer token binding username to passwordHash (the
// user's bcrypt hash, not their plaintext password) under jwtSecret.
func CreateToken(username, passwordHash, jwtSecret string) (string, error) {
	claims := Claims{
		Username: username,
		H:        Shake256(passwordHash, Shake256Length),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(jwtSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken parses token under jwtSecret and checks its embedded
// fingerprint against currentPasswordHash. Returns the username on
// success; ErrInvalidToken if the signature is bad or the fingerprint no
// longer matches (password changed since the token was issued).
func VerifyToken(token, jwtSecret string, currentPasswordHash func(username string) (string, error)) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return []byte(jwtSecret), nil
	}, jwt.WithoutClaimsValidation())
	if err != nil || !parsed.Valid {
		return "", ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return "", ErrInvalidToken
	}

	hash, err := currentPasswordHash(claims.Username)
	if err != nil {
		return "", ErrInvalidToken
	}
	if Shake256(hash, Shake256Length) != claims.H {
		return "", ErrInvalidToken
	}
	return claims.Username, nil
}
