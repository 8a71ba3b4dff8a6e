package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidateToken(t *testing.T) {
	service := NewService("test-secret")
	service.RegisterAPICredentials(TestAPIKey, TestAPISecret)

	token, err := service.GenerateToken(Credentials{
		APIKey:    TestAPIKey,
		APISecret: TestAPISecret,
	})
	require.NoError(t, err)
	require.NotEmpty(t, token.Token)

	claims, err := service.ValidateToken(token.Token)
	require.NoError(t, err)
	assert.Equal(t, TestAPIKey, claims.ClientID)
	assert.Contains(t, claims.Permissions, "split-orders")
}

func TestGenerateTokenInvalidCredentials(t *testing.T) {
	service := NewService("test-secret")
	service.RegisterAPICredentials(TestAPIKey, TestAPISecret)

	_, err := service.GenerateToken(Credentials{
		APIKey:    TestAPIKey,
		APISecret: "wrong-secret",
	})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestValidateTokenWrongSecret(t *testing.T) {
	issuer := NewService("secret-one")
	issuer.RegisterAPICredentials(TestAPIKey, TestAPISecret)

	token, err := issuer.GenerateToken(Credentials{
		APIKey:    TestAPIKey,
		APISecret: TestAPISecret,
	})
	require.NoError(t, err)

	verifier := NewService("secret-two")
	_, err = verifier.ValidateToken(token.Token)
	assert.Error(t, err)
}
