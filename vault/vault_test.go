package vault

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("rejects empty material", func(t *testing.T) {
		_, err := New("   ")
		assert.Error(t, err)
	})

	t.Run("base64 marker is stripped before key derivation", func(t *testing.T) {
		plain, err := New("material")
		require.NoError(t, err)
		marked, err := New("base64:material")
		require.NoError(t, err)

		sealed, err := marked.Encrypt("secret")
		require.NoError(t, err)
		opened, err := plain.Decrypt(sealed)
		require.NoError(t, err)
		assert.Equal(t, "secret", opened)
	})
}

func TestEncryptDecrypt(t *testing.T) {
	v, err := New("test-key-material")
	require.NoError(t, err)

	t.Run("round trip", func(t *testing.T) {
		sealed, err := v.Encrypt("5Kb8kLf9zgWQnogidDA76MzPL6TsZZY36hWXMssSzNydYXYB9KF")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(sealed, "enc::"))
		assert.NotContains(t, sealed, "5Kb8kLf9")

		opened, err := v.Decrypt(sealed)
		require.NoError(t, err)
		assert.Equal(t, "5Kb8kLf9zgWQnogidDA76MzPL6TsZZY36hWXMssSzNydYXYB9KF", opened)
	})

	t.Run("fresh nonce per seal", func(t *testing.T) {
		a, err := v.Encrypt("same-secret")
		require.NoError(t, err)
		b, err := v.Encrypt("same-secret")
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
	})

	t.Run("already sealed value passes through", func(t *testing.T) {
		sealed, err := v.Encrypt("secret")
		require.NoError(t, err)
		again, err := v.Encrypt(sealed)
		require.NoError(t, err)
		assert.Equal(t, sealed, again)
	})

	t.Run("empty plaintext is rejected", func(t *testing.T) {
		_, err := v.Encrypt("")
		assert.Error(t, err)
	})

	t.Run("legacy plaintext passes through decrypt", func(t *testing.T) {
		opened, err := v.Decrypt("legacy-plaintext-secret")
		require.NoError(t, err)
		assert.Equal(t, "legacy-plaintext-secret", opened)
	})

	t.Run("wrong key fails", func(t *testing.T) {
		other, err := New("different-material")
		require.NoError(t, err)
		sealed, err := v.Encrypt("secret")
		require.NoError(t, err)

		_, err = other.Decrypt(sealed)
		assert.ErrorIs(t, err, ErrDecryptFailed)
	})

	t.Run("corrupted ciphertext fails", func(t *testing.T) {
		sealed, err := v.Encrypt("secret")
		require.NoError(t, err)
		_, err = v.Decrypt(sealed[:len(sealed)-4] + "AAAA")
		assert.ErrorIs(t, err, ErrDecryptFailed)
	})
}
