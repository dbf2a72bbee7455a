package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenCipherRoundTrip(t *testing.T) {
	c, err := NewTokenCipher([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	sealed, err := c.Encrypt("ya29.access-token")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "ya29")

	again, err := c.Encrypt("ya29.access-token")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonce must differ per encryption")

	plain, err := c.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "ya29.access-token", plain)

	empty, err := c.Encrypt("")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestTokenCipherRejectsTampering(t *testing.T) {
	c, err := NewTokenCipher([]byte("0123456789abcdef"))
	require.NoError(t, err)

	_, err = c.Decrypt("c2hvcnQ=")
	assert.ErrorIs(t, err, ErrCiphertextTooShort)

	other, err := NewTokenCipher([]byte("fedcba9876543210"))
	require.NoError(t, err)
	sealed, err := other.Encrypt("secret")
	require.NoError(t, err)
	_, err = c.Decrypt(sealed)
	assert.Error(t, err)

	_, err = NewTokenCipher([]byte("short"))
	assert.Error(t, err)
}

func TestIdentityToken(t *testing.T) {
	token, err := GenerateToken("identity-secret", "videoblade", "user_123", time.Minute)
	require.NoError(t, err)

	claims, err := ValidateToken("identity-secret", "videoblade", token)
	require.NoError(t, err)
	assert.Equal(t, "user_123", claims.Subject)

	_, err = ValidateToken("other-secret", "videoblade", token)
	assert.Error(t, err)

	_, err = ValidateToken("identity-secret", "someone-else", token)
	assert.Error(t, err)

	expired, err := GenerateToken("identity-secret", "videoblade", "user_123", -time.Minute)
	require.NoError(t, err)
	_, err = ValidateToken("identity-secret", "videoblade", expired)
	assert.Error(t, err)
}

func TestGenerateRandomKey(t *testing.T) {
	a, err := GenerateRandomKey(24)
	require.NoError(t, err)
	b, err := GenerateRandomKey(24)
	require.NoError(t, err)
	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
}
