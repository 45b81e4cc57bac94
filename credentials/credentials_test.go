package credentials

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapSecrets map[string]string

func (m mapSecrets) GetSecret(key string) (string, error) {
	if v, ok := m[key]; ok {
		return v, nil
	}
	return "", errors.New("not found: " + key)
}

func TestDecrypter_RoundTrip(t *testing.T) {
	d := NewDecrypter(mapSecrets{"master_key": "correct horse battery staple"}, "")

	sealed, err := d.Encrypt("abuseipdb-api-key")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sealed, EncryptedPrefix))
	assert.True(t, IsReference(sealed))

	plain, err := d.Decrypt(context.Background(), sealed)
	require.NoError(t, err)
	assert.Equal(t, "abuseipdb-api-key", plain)
}

func TestDecrypter_NonceIsRandom(t *testing.T) {
	d := NewDecrypterWithKey([]byte("k"), nil)

	a, err := d.Encrypt("same")
	require.NoError(t, err)
	b, err := d.Encrypt("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDecrypter_WrongKey(t *testing.T) {
	sealed, err := NewDecrypterWithKey([]byte("key-one"), nil).Encrypt("secret")
	require.NoError(t, err)

	_, err = NewDecrypterWithKey([]byte("key-two"), nil).Decrypt(context.Background(), sealed)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecrypter_Malformed(t *testing.T) {
	d := NewDecrypterWithKey([]byte("k"), nil)

	_, err := d.Decrypt(context.Background(), EncryptedPrefix+"!!!not-base64")
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = d.Decrypt(context.Background(), EncryptedPrefix+"AAAA")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecrypter_Passthrough(t *testing.T) {
	d := NewDecrypter(nil, "")

	plain, err := d.Decrypt(context.Background(), "plain-key")
	require.NoError(t, err)
	assert.Equal(t, "plain-key", plain)
	assert.False(t, IsReference("plain-key"))

	empty, err := d.Decrypt(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "", empty)
}

func TestDecrypter_SecretReference(t *testing.T) {
	d := NewDecrypter(mapSecrets{"otx_api_key": "otx-123"}, "")

	plain, err := d.Decrypt(context.Background(), "secret:otx_api_key")
	require.NoError(t, err)
	assert.Equal(t, "otx-123", plain)

	_, err = d.Decrypt(context.Background(), "secret:missing")
	assert.Error(t, err)
}

func TestDecrypter_NoMasterKey(t *testing.T) {
	d := NewDecrypter(mapSecrets{}, "master_key")

	_, err := d.Decrypt(context.Background(), EncryptedPrefix+"AAAA")
	assert.ErrorIs(t, err, ErrNoMasterKey)

	_, err = NewDecrypter(nil, "").Encrypt("x")
	assert.ErrorIs(t, err, ErrNoMasterKey)
}

func TestDecrypter_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewDecrypter(nil, "").Decrypt(ctx, "plain")
	assert.ErrorIs(t, err, context.Canceled)
}
