package vault

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func TestEncryptDecryptRoundTrip(t *testing.T) {
	v, err := New(testKey)
	require.NoError(t, err)

	creds := map[string]string{
		"access_token": "tok-123",
		"account_id":   "acct-9",
	}

	blob, err := v.Encrypt(creds)
	require.NoError(t, err)
	assert.NotEmpty(t, blob.Ciphertext)
	assert.NotEmpty(t, blob.IV)
	assert.NotEmpty(t, blob.AuthTag)

	got, err := v.Decrypt(blob)
	require.NoError(t, err)
	assert.Equal(t, creds, got)
}

func TestEncryptProducesFreshNonce(t *testing.T) {
	v, err := New(testKey)
	require.NoError(t, err)

	creds := map[string]string{"access_token": "tok"}

	first, err := v.Encrypt(creds)
	require.NoError(t, err)
	second, err := v.Encrypt(creds)
	require.NoError(t, err)

	assert.NotEqual(t, first.IV, second.IV)
	assert.NotEqual(t, first.Ciphertext, second.Ciphertext)
}

func TestDecryptDetectsTampering(t *testing.T) {
	v, err := New(testKey)
	require.NoError(t, err)

	blob, err := v.Encrypt(map[string]string{"access_token": "tok"})
	require.NoError(t, err)

	tag, err := base64.StdEncoding.DecodeString(blob.AuthTag)
	require.NoError(t, err)
	tag[0] ^= 0xff
	blob.AuthTag = base64.StdEncoding.EncodeToString(tag)

	_, err = v.Decrypt(blob)
	assert.ErrorIs(t, err, ErrDecryptFailed)
}

func TestDecryptRejectsCorruptedCiphertext(t *testing.T) {
	v, err := New(testKey)
	require.NoError(t, err)

	blob, err := v.Encrypt(map[string]string{"access_token": "tok"})
	require.NoError(t, err)

	blob.Ciphertext = "not base64!!"
	_, err = v.Decrypt(blob)
	assert.ErrorIs(t, err, ErrDecryptFailed)
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	v, err := New(testKey)
	require.NoError(t, err)

	blob, err := v.Encrypt(map[string]string{"access_token": "tok"})
	require.NoError(t, err)

	other, err := New([]byte("ffffffffffffffffffffffffffffffff"))
	require.NoError(t, err)

	_, err = other.Decrypt(blob)
	assert.ErrorIs(t, err, ErrDecryptFailed)
}

func TestNewRejectsShortKey(t *testing.T) {
	_, err := New([]byte("too-short"))
	assert.Error(t, err)
}
