package credentials

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc, err := NewEncryptor("a-master-key-of-sufficient-length")
	require.NoError(t, err)

	plaintext := []byte(`{"api_key":"vultr-abc123","region":"ewr"}`)
	sealed, err := enc.Encrypt(plaintext)
	require.NoError(t, err)
	assert.NotContains(t, sealed, "vultr-abc123")

	opened, err := enc.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestEncryptProducesFreshCiphertext(t *testing.T) {
	enc, err := NewEncryptor("a-master-key-of-sufficient-length")
	require.NoError(t, err)

	first, err := enc.Encrypt([]byte("same payload"))
	require.NoError(t, err)
	second, err := enc.Encrypt([]byte("same payload"))
	require.NoError(t, err)

	// Random salt and nonce per call.
	assert.NotEqual(t, first, second)
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	enc, err := NewEncryptor("a-master-key-of-sufficient-length")
	require.NoError(t, err)
	sealed, err := enc.Encrypt([]byte("secret"))
	require.NoError(t, err)

	other, err := NewEncryptor("a-different-master-key-entirely")
	require.NoError(t, err)
	_, err = other.Decrypt(sealed)
	assert.Error(t, err)
}

func TestDecryptRejectsGarbage(t *testing.T) {
	enc, err := NewEncryptor("a-master-key-of-sufficient-length")
	require.NoError(t, err)

	_, err = enc.Decrypt("not-base64!!!")
	assert.Error(t, err)

	_, err = enc.Decrypt("c2hvcnQ=")
	assert.Error(t, err)
}

func TestNewEncryptorRejectsShortKey(t *testing.T) {
	_, err := NewEncryptor("too-short")
	assert.Error(t, err)
}
