package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndParse(t *testing.T) {
	token, err := GenerateToken(7, 3, "hamlet@x.com", "s3cret", time.Hour)
	require.NoError(t, err)

	claims, err := ParseToken(token, "s3cret")
	require.NoError(t, err)
	assert.EqualValues(t, 7, claims.UserID)
	assert.EqualValues(t, 3, claims.RealmID)
	assert.Equal(t, "hamlet@x.com", claims.Email)
	assert.NotEmpty(t, claims.ID)
}

func TestParseToken_Rejects(t *testing.T) {
	good, err := GenerateToken(7, 3, "a@x.com", "s3cret", time.Hour)
	require.NoError(t, err)

	_, err = ParseToken(good, "other")
	assert.Error(t, err, "wrong secret")

	expired, err := GenerateToken(7, 3, "a@x.com", "s3cret", -time.Minute)
	require.NoError(t, err)
	_, err = ParseToken(expired, "s3cret")
	assert.Error(t, err, "expired")

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: 7})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = ParseToken(unsigned, "s3cret")
	assert.Error(t, err, "alg none")
}
