package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imtaco/voice-client-exp/internal/errors"
)

func signToken(t *testing.T, claims *Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("server-side-secret"))
	require.NoError(t, err)
	return signed
}

func TestPeek_decodesClaimsWithoutSecret(t *testing.T) {
	signed := signToken(t, &Claims{
		UserID:    "u1",
		ChannelID: "ch-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	claims, err := Peek(signed)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "ch-1", claims.ChannelID)
	assert.False(t, claims.Expired(time.Now()))
}

func TestPeek_rejectsEmptyAndGarbage(t *testing.T) {
	_, err := Peek("")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoToken))

	_, err = Peek("not-a-jwt")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidToken))
}

func TestClaims_expiry(t *testing.T) {
	now := time.Now()

	past := &Claims{RegisteredClaims: jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(-time.Minute)),
	}}
	assert.True(t, past.Expired(now))

	noExpiry := &Claims{}
	assert.False(t, noExpiry.Expired(now))
}
