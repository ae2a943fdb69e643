package auth

import (
	"fmt"

	altcha "github.com/altcha-org/altcha-lib-go"
)

// GenerateAltchaChallenge produces a proof-of-work challenge for the
// setup/login form, HMAC-signed with hmacKey (the jwtSecret setting) so no
// server-side challenge store is needed.
func GenerateAltchaChallenge(hmacKey string) (*altcha.Challenge, error) {
	challenge, err := altcha.CreateChallenge(altcha.ChallengeOptions{
		HMACKey: hmacKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create altcha challenge: %w", err)
	}
	return &challenge, nil
}

// VerifyAltchaSolution checks a solved challenge payload against hmacKey.
func VerifyAltchaSolution(payload, hmacKey string) (bool, error) {
	ok, err := altcha.VerifySolution(payload, hmacKey, true)
	if err != nil {
		return false, fmt.Errorf("verify altcha solution: %w", err)
	}
	return ok, nil
}
