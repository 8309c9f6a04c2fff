package testutil

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claim values the client expects on access tokens.
const (
	Issuer         = "campfire"
	AccessAudience = "access"

	signingKey = "campfire-test-signing-key"
)

// TokenClaims describes a token to mint. Zero times are left out of the payload.
// Timestamps are written in Unix milliseconds.
type TokenClaims struct {
	Subject   string
	Issuer    string
	Audience  string
	IssuedAt  time.Time
	ExpiresAt time.Time
	// Extra claims are merged in last and may override the fields above.
	Extra map[string]interface{}
}

// MintToken signs claims with a test key. The client never verifies signatures,
// only decodes the payload.
func MintToken(t testing.TB, c TokenClaims) string {
	t.Helper()

	claims := jwt.MapClaims{}
	if c.Subject != "" {
		claims["sub"] = c.Subject
	}
	if c.Issuer != "" {
		claims["iss"] = c.Issuer
	}
	if c.Audience != "" {
		claims["aud"] = c.Audience
	}
	if !c.IssuedAt.IsZero() {
		claims["iat"] = c.IssuedAt.UnixMilli()
	}
	if !c.ExpiresAt.IsZero() {
		claims["exp"] = c.ExpiresAt.UnixMilli()
	}
	for k, v := range c.Extra {
		claims[k] = v
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(signingKey))
	if err != nil {
		t.Fatalf("failed to mint token: %v", err)
	}
	return token
}

// AccessToken mints a well-formed access token for subject expiring at exp.
func AccessToken(t testing.TB, subject string, exp time.Time) string {
	t.Helper()
	return MintToken(t, TokenClaims{
		Subject:   subject,
		Issuer:    Issuer,
		Audience:  AccessAudience,
		IssuedAt:  exp.Add(-time.Hour),
		ExpiresAt: exp,
	})
}

// TokenPair returns an access token valid for an hour and an opaque refresh token.
func TokenPair(t testing.TB, subject string) (access, refresh string) {
	t.Helper()
	return AccessToken(t, subject, time.Now().Add(time.Hour)), "refresh-" + subject + "-" + RandomString(12)
}
