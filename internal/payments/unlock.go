package payments

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const unlockIssuer = "storyweaver-storefront"

// ErrInvalidUnlockToken is returned for malformed, expired or mismatched unlock tokens.
var ErrInvalidUnlockToken = errors.New("payments: invalid unlock token")

// UnlockClaims bind a verified payment to one order.
type UnlockClaims struct {
	OrderID   string `json:"oid"`
	SessionID string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// UnlockTokens issues and verifies HS256 tokens proving an order was paid.
type UnlockTokens struct {
	key   []byte
	ttl   time.Duration
	clock func() time.Time
}

// NewUnlockTokens builds an issuer. The signing key must be non-empty.
func NewUnlockTokens(signingKey string, ttl time.Duration, clock func() time.Time) (*UnlockTokens, error) {
	if strings.TrimSpace(signingKey) == "" {
		return nil, errors.New("payments: unlock signing key is required")
	}
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	if clock == nil {
		clock = time.Now
	}
	return &UnlockTokens{key: []byte(signingKey), ttl: ttl, clock: clock}, nil
}

// Issue signs a token for orderID.
func (u *UnlockTokens) Issue(orderID, sessionID string) (string, time.Time, error) {
	now := u.clock().UTC()
	expires := now.Add(u.ttl)
	claims := UnlockClaims{
		OrderID:   orderID,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    unlockIssuer,
			Subject:   orderID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(u.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("payments: sign unlock token: %w", err)
	}
	return signed, expires, nil
}

// Verify parses token and checks that it unlocks orderID.
func (u *UnlockTokens) Verify(token, orderID string) (UnlockClaims, error) {
	var claims UnlockClaims
	// Expiry is checked below against the injected clock.
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithoutClaimsValidation())
	parsed, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return u.key, nil
	})
	if err != nil || !parsed.Valid {
		return UnlockClaims{}, fmt.Errorf("%w: %v", ErrInvalidUnlockToken, err)
	}
	if claims.ExpiresAt == nil || !claims.ExpiresAt.After(u.clock()) {
		return UnlockClaims{}, fmt.Errorf("%w: expired", ErrInvalidUnlockToken)
	}
	if claims.Issuer != unlockIssuer || claims.OrderID != orderID {
		return UnlockClaims{}, fmt.Errorf("%w: order mismatch", ErrInvalidUnlockToken)
	}
	return claims, nil
}
