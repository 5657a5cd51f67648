package crypto

import (
	"strings"
	"sync"
	"testing"

	"github.com/erp/provisioner/internal/domain/provisioning"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCipher(t *testing.T) *SecretCipher {
	t.Helper()
	c, err := NewSecretCipher("test-passphrase-0123456789")
	require.NoError(t, err)
	return c
}

func TestNewSecretCipher_RequiresPassphrase(t *testing.T) {
	_, err := NewSecretCipher("")
	assert.ErrorIs(t, err, ErrEmptyPassphrase)
}

func TestSecretCipher_RoundTrip(t *testing.T) {
	c := newTestCipher(t)

	for _, plaintext := range []string{"k", "api-key-123", strings.Repeat("s", 512), "ñandú ✓"} {
		ciphertext, err := c.Encrypt(plaintext)
		require.NoError(t, err)
		assert.NotEqual(t, plaintext, ciphertext)
		if len(plaintext) >= 8 {
			assert.NotContains(t, ciphertext, plaintext)
		}

		decrypted, err := c.Decrypt(ciphertext)
		require.NoError(t, err)
		assert.Equal(t, plaintext, decrypted)
	}
}

func TestSecretCipher_EmptyPassesThrough(t *testing.T) {
	c := newTestCipher(t)

	out, err := c.Encrypt("")
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = c.Decrypt("")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestSecretCipher_NonceIsRandom(t *testing.T) {
	c := newTestCipher(t)

	a, err := c.Encrypt("same")
	require.NoError(t, err)
	b, err := c.Encrypt("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestSecretCipher_SameKeyAcrossInstances(t *testing.T) {
	a := newTestCipher(t)
	b := newTestCipher(t)

	ciphertext, err := a.Encrypt("shared")
	require.NoError(t, err)

	plaintext, err := b.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "shared", plaintext)
}

func TestSecretCipher_WrongPassphrase(t *testing.T) {
	a := newTestCipher(t)
	other, err := NewSecretCipher("another-passphrase-98765")
	require.NoError(t, err)

	ciphertext, err := a.Encrypt("secret")
	require.NoError(t, err)

	_, err = other.Decrypt(ciphertext)
	assert.Error(t, err)
}

func TestSecretCipher_Malformed(t *testing.T) {
	c := newTestCipher(t)

	_, err := c.Decrypt("not base64 !!")
	assert.ErrorIs(t, err, ErrMalformedCiphertext)

	_, err = c.Decrypt("c2hvcnQ=")
	assert.ErrorIs(t, err, ErrMalformedCiphertext)
}

func TestSecretCipher_Secrets(t *testing.T) {
	c := newTestCipher(t)

	enc, err := c.EncryptSecrets(provisioning.Secrets{APIKey: "api", SecretKey: "secret"})
	require.NoError(t, err)
	assert.True(t, enc.Encrypted)
	assert.NotEqual(t, "api", enc.APIKey)
	assert.NotEqual(t, "secret", enc.SecretKey)

	again, err := c.EncryptSecrets(enc)
	require.NoError(t, err)
	assert.Equal(t, enc, again)

	dec, err := c.DecryptSecrets(enc)
	require.NoError(t, err)
	assert.Equal(t, provisioning.Secrets{APIKey: "api", SecretKey: "secret"}, dec)
}

func TestSecretCipher_Concurrent(t *testing.T) {
	c := newTestCipher(t)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ct, err := c.Encrypt("parallel")
			assert.NoError(t, err)
			pt, err := c.Decrypt(ct)
			assert.NoError(t, err)
			assert.Equal(t, "parallel", pt)
		}()
	}
	wg.Wait()
}
