package credentials

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvKeyProvider(t *testing.T) {
	t.Setenv("TEST_LEXEXT_KEY", testKeyHex)

	p := NewEnvKeyProvider("TEST_LEXEXT_KEY")
	key, err := p.GetKey()
	require.NoError(t, err)
	assert.Len(t, key, keyLength)
	assert.Equal(t, testKeyHex, hex.EncodeToString(key))
	assert.Contains(t, p.Description(), "TEST_LEXEXT_KEY")
}

func TestEnvKeyProviderNotSet(t *testing.T) {
	t.Setenv("TEST_LEXEXT_KEY", "")
	p := NewEnvKeyProvider("TEST_LEXEXT_KEY")
	_, err := p.GetKey()
	assert.Error(t, err)
}

func TestEnvKeyProviderBadKey(t *testing.T) {
	t.Setenv("TEST_LEXEXT_KEY", "not-hex")
	p := NewEnvKeyProvider("TEST_LEXEXT_KEY")
	_, err := p.GetKey()
	assert.Error(t, err)

	t.Setenv("TEST_LEXEXT_KEY", "abcd") // valid hex, wrong length
	_, err = p.GetKey()
	assert.Error(t, err)
}

func TestPassphraseKeyProvider(t *testing.T) {
	salt, err := GenerateSalt()
	require.NoError(t, err)
	require.Len(t, salt, 16)

	p := NewPassphraseKeyProvider("correct horse battery staple", salt)
	key1, err := p.GetKey()
	require.NoError(t, err)
	assert.Len(t, key1, keyLength)

	// Same passphrase and salt derive the same key.
	key2, err := NewPassphraseKeyProvider("correct horse battery staple", salt).GetKey()
	require.NoError(t, err)
	assert.Equal(t, key1, key2)

	// A different salt derives a different key.
	otherSalt, err := GenerateSalt()
	require.NoError(t, err)
	key3, err := NewPassphraseKeyProvider("correct horse battery staple", otherSalt).GetKey()
	require.NoError(t, err)
	assert.NotEqual(t, key1, key3)
}

func TestPassphraseKeyProviderValidation(t *testing.T) {
	_, err := NewPassphraseKeyProvider("", []byte("salt")).GetKey()
	assert.Error(t, err)

	_, err = NewPassphraseKeyProvider("pass", nil).GetKey()
	assert.Error(t, err)
}

func TestGetDefaultKeyProviderPrefersEnv(t *testing.T) {
	t.Setenv("LEXEXT_ENCRYPTION_KEY", testKeyHex)

	p, err := GetDefaultKeyProvider()
	require.NoError(t, err)
	_, ok := p.(*EnvKeyProvider)
	assert.True(t, ok, "env var must take precedence over the keyring")
}
