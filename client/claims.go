package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dan-strohschein/campfire-go/mapper"
)

// Fixed claim values of every access token.
const (
	TokenIssuer    = "campfire"
	AccessAudience = "access"
)

// MillisDate is a claim timestamp in Unix milliseconds.
type MillisDate struct {
	time.Time
}

// UnmarshalJSON rejects fractional and out-of-range timestamps.
func (d *MillisDate) UnmarshalJSON(b []byte) error {
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("claim timestamp must be a number: %w", err)
	}
	ms, err := strconv.ParseInt(n.String(), 10, 64)
	if err != nil {
		return fmt.Errorf("claim timestamp %s is not an integer millisecond value", n)
	}
	t, err := mapper.TimeFromMillis(ms)
	if err != nil {
		return err
	}
	d.Time = t
	return nil
}

// MarshalJSON encodes the timestamp in milliseconds.
func (d MillisDate) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatInt(d.UnixMilli(), 10)), nil
}

// Claims is the unverified payload of an access token.
type Claims struct {
	Subject   string           `json:"sub,omitempty"`
	Issuer    string           `json:"iss,omitempty"`
	Audience  jwt.ClaimStrings `json:"aud,omitempty"`
	IssuedAt  *MillisDate      `json:"iat,omitempty"`
	ExpiresAt *MillisDate      `json:"exp,omitempty"`
}

func (c *Claims) GetExpirationTime() (*jwt.NumericDate, error) { return numericDate(c.ExpiresAt), nil }
func (c *Claims) GetIssuedAt() (*jwt.NumericDate, error)       { return numericDate(c.IssuedAt), nil }
func (c *Claims) GetNotBefore() (*jwt.NumericDate, error)      { return nil, nil }
func (c *Claims) GetIssuer() (string, error)                   { return c.Issuer, nil }
func (c *Claims) GetSubject() (string, error)                  { return c.Subject, nil }
func (c *Claims) GetAudience() (jwt.ClaimStrings, error)       { return c.Audience, nil }

// numericDate keeps millisecond precision, jwt.NewNumericDate would truncate to seconds.
func numericDate(d *MillisDate) *jwt.NumericDate {
	if d == nil {
		return nil
	}
	return &jwt.NumericDate{Time: d.Time}
}

var claimsParser = jwt.NewParser()

// ParseClaims decodes an access token without checking its signature.
func ParseClaims(token string) (*Claims, error) {
	var claims Claims
	if _, _, err := claimsParser.ParseUnverified(token, &claims); err != nil {
		return nil, newTokenError(TokenInvalid, "access token could not be decoded", err)
	}
	return &claims, nil
}

// claimsChecker validates audience, issuer and expiry against a clock.
type claimsChecker struct {
	validator *jwt.Validator
}

// newClaimsChecker treats tokens expiring within skew of now as already expired.
func newClaimsChecker(now func() time.Time, skew time.Duration) *claimsChecker {
	return &claimsChecker{
		validator: jwt.NewValidator(
			jwt.WithAudience(AccessAudience),
			jwt.WithIssuer(TokenIssuer),
			jwt.WithExpirationRequired(),
			jwt.WithTimeFunc(func() time.Time { return now().Add(skew) }),
		),
	}
}

// check decodes token and reports whether it has expired. Tokens with the wrong
// audience or issuer, or no expiry, are invalid.
func (cc *claimsChecker) check(token string) (claims *Claims, expired bool, err error) {
	claims, err = ParseClaims(token)
	if err != nil {
		return nil, false, err
	}

	err = cc.validator.Validate(claims)
	switch {
	case err == nil:
		return claims, false, nil
	case errors.Is(err, jwt.ErrTokenInvalidAudience),
		errors.Is(err, jwt.ErrTokenInvalidIssuer),
		errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return nil, false, newTokenError(TokenInvalid, "access token claims are not valid", err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return claims, true, nil
	default:
		return nil, false, newTokenError(TokenInvalid, "access token claims are not valid", err)
	}
}
