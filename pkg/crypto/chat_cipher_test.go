package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCipher_SealOpen(t *testing.T) {
	c, err := NewCipher([]byte("short secret"))
	require.NoError(t, err)

	sealed, err := c.Seal([]byte(`{"access_token":"abc"}`))
	require.NoError(t, err)
	assert.True(t, IsSealed(sealed))
	assert.NotContains(t, sealed, "abc")

	again, err := c.Seal([]byte(`{"access_token":"abc"}`))
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonce is random")

	plain, err := c.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, `{"access_token":"abc"}`, string(plain))
}

func TestCipher_OpenErrors(t *testing.T) {
	c, err := NewCipher([]byte(strings.Repeat("k", 32)))
	require.NoError(t, err)
	other, err := NewCipher([]byte("another key"))
	require.NoError(t, err)

	sealed, err := c.Seal([]byte("token"))
	require.NoError(t, err)

	_, err = other.Open(sealed)
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	_, err = c.Open(`{"plain":"json"}`)
	assert.ErrorIs(t, err, ErrInvalidCiphertext)

	_, err = c.Open(sealedPrefix + "AAAA")
	assert.ErrorIs(t, err, ErrInvalidCiphertext)

	_, err = c.Open(sealedPrefix + "***")
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestNewCipher_EmptyKey(t *testing.T) {
	_, err := NewCipher(nil)
	assert.Error(t, err)
}
