package auth

import "testing"

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("test_password_123")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !CheckPassword(hash, "test_password_123") {
		t.Fatal("expected the correct password to verify")
	}
	if CheckPassword(hash, "wrong_password") {
		t.Fatal("expected the wrong password to fail verification")
	}
}

func TestShake256(t *testing.T) {
	h := Shake256("test_data", 16)
	if len(h) != 32 {
		t.Fatalf("len = %d, want 32 (16 bytes hex-encoded)", len(h))
	}
	if Shake256("test_data", 16) != h {
		t.Fatal("expected a deterministic digest")
	}
	if Shake256("other_data", 16) == h {
		t.Fatal("expected different input to produce a different digest")
	}
	if Shake256("", 16) != "" {
		t.Fatal("expected an empty input to produce an empty digest")
	}
}

func TestCreateAndVerifyToken(t *testing.T) {
	username := "testuser"
	passwordHash, err := HashPassword("password123")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	secret := "test_secret"

	token, err := CreateToken(username, passwordHash, secret)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	lookup := func(u string) (string, error) { return passwordHash, nil }

	got, err := VerifyToken(token, secret, lookup)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if got != username {
		t.Fatalf("got %q, want %q", got, username)
	}

	if _, err := VerifyToken(token, "wrong_secret", lookup); err == nil {
		t.Fatal("expected verification to fail under the wrong secret")
	}

	if _, err := VerifyToken("invalid.token.here", secret, lookup); err == nil {
		t.Fatal("expected verification to fail for a malformed token")
	}
}

func TestTokenInvalidatedByPasswordChange(t *testing.T) {
	oldHash, _ := HashPassword("password123")
	newHash, _ := HashPassword("different_password")

	token, err := CreateToken("testuser", oldHash, "secret")
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	// Once the stored hash has changed, the same token must stop verifying,
	// even though the signature is still valid — no revocation list needed.
	lookup := func(u string) (string, error) { return newHash, nil }
	if _, err := VerifyToken(token, "secret", lookup); err == nil {
		t.Fatal("expected the token to be rejected after a password change")
	}
}

func TestNeedsRehash(t *testing.T) {
	current, err := HashPassword("whatever")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if NeedsRehash(current) {
		t.Fatal("a hash produced at BcryptCost should not need rehashing")
	}
	if !NeedsRehash("not-a-bcrypt-hash") {
		t.Fatal("an unparsable hash should be treated as needing rehash")
	}
}
