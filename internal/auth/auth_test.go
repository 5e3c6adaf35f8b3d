package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidate(t *testing.T) {
	k, err := NewKeys("secret")
	require.NoError(t, err)

	tkn, err := k.GenerateToken("sess-1", "+919876543210", time.Hour)
	require.NoError(t, err)

	claims, err := k.ValidateToken(tkn)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", claims.Subject)
	assert.Equal(t, "+919876543210", claims.Phone)
}

func TestValidate_Expired(t *testing.T) {
	k, _ := NewKeys("secret")
	tkn, err := k.GenerateToken("sess-1", "", -time.Minute)
	require.NoError(t, err)

	_, err = k.ValidateToken(tkn)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestValidate_WrongSecret(t *testing.T) {
	k1, _ := NewKeys("one")
	k2, _ := NewKeys("two")
	tkn, _ := k1.GenerateToken("sess-1", "", time.Hour)

	_, err := k2.ValidateToken(tkn)
	assert.Error(t, err)
}

func TestNewKeys_Empty(t *testing.T) {
	_, err := NewKeys("")
	assert.Error(t, err)
}
