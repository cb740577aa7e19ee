package tokens

import (
	"bytes"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCipher(t *testing.T) *XChaCha {
	t.Helper()
	c, err := NewXChaCha(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)
	return c
}

func TestXChaCha_RoundTrip(t *testing.T) {
	c := testCipher(t)

	enc, err := c.Encrypt("secret-token")
	require.NoError(t, err)
	assert.NotContains(t, enc, "secret-token")

	again, err := c.Encrypt("secret-token")
	require.NoError(t, err)
	assert.NotEqual(t, enc, again, "nonce must differ per encryption")

	plain, err := c.Decrypt(enc)
	require.NoError(t, err)
	assert.Equal(t, "secret-token", plain)
}

func TestXChaCha_RejectsTampering(t *testing.T) {
	c := testCipher(t)
	enc, err := c.Encrypt("secret-token")
	require.NoError(t, err)

	raw, _ := base64.StdEncoding.DecodeString(enc)
	raw[len(raw)-1] ^= 0xff
	_, err = c.Decrypt(base64.StdEncoding.EncodeToString(raw))
	assert.ErrorIs(t, err, ErrCiphertext)

	_, err = c.Decrypt("not base64!")
	assert.ErrorIs(t, err, ErrCiphertext)

	_, err = c.Decrypt(base64.StdEncoding.EncodeToString([]byte("short")))
	assert.ErrorIs(t, err, ErrCiphertext)

	other, err := NewXChaCha(bytes.Repeat([]byte{8}, 32))
	require.NoError(t, err)
	_, err = other.Decrypt(enc)
	assert.ErrorIs(t, err, ErrCiphertext)
}

func TestNewXChaCha_KeyLength(t *testing.T) {
	_, err := NewXChaCha([]byte("short"))
	assert.Error(t, err)

	_, err = NewXChaChaFromBase64(base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{1}, 32)))
	assert.NoError(t, err)

	_, err = NewXChaChaFromBase64("%%%")
	assert.Error(t, err)
}
