// Package token inspects the session tokens handed out by the application
// gateway. The client never holds the signing secret, so claims are peeked
// without verification; the voice server is the one that validates.
package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/imtaco/voice-client-exp/internal/errors"
)

const (
	ErrNoToken      errors.Code = "no token"
	ErrInvalidToken errors.Code = "invalid token"
)

// Claims is the payload of a voice session token.
type Claims struct {
	UserID    string `json:"userId"`
	ChannelID string `json:"channelId"`
	jwt.RegisteredClaims
}

// Expired reports whether the token's expiry has passed. Tokens without an
// expiry never expire.
func (c *Claims) Expired(now time.Time) bool {
	if c.ExpiresAt == nil {
		return false
	}
	return now.After(c.ExpiresAt.Time)
}

// Peek decodes the claims without verifying the signature.
func Peek(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, errors.New(ErrNoToken, "empty token")
	}

	claims := &Claims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tokenString, claims); err != nil {
		return nil, errors.Wrap(ErrInvalidToken, err, "decode token")
	}
	return claims, nil
}
