package credentials

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// testKeyHex is a fixed 32-byte key for tests.
const testKeyHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func newTestStore(t *testing.T) *Store {
	t.Helper()
	t.Setenv("LEXEXT_CONFIG_DIR", t.TempDir())
	t.Setenv("LEXEXT_ENCRYPTION_KEY", testKeyHex)

	store, err := NewStoreWithKeyProvider(NewEnvKeyProvider("LEXEXT_ENCRYPTION_KEY"))
	require.NoError(t, err)
	return store
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)

	err := store.Save(&Credentials{
		APIKey:  "sk-test-abcdef123456",
		BaseURL: "http://localhost:8000",
	})
	require.NoError(t, err)

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "sk-test-abcdef123456", loaded.APIKey)
	assert.Equal(t, "http://localhost:8000", loaded.BaseURL)
	assert.False(t, loaded.LastUpdated.IsZero())
}

func TestAPIKeyEncryptedAtRest(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Save(&Credentials{APIKey: "sk-secret-value"}))

	path, err := CredentialsPath()
	require.NoError(t, err)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.NotContains(t, string(raw), "sk-secret-value", "plaintext key must not hit disk")

	var onDisk Credentials
	require.NoError(t, yaml.Unmarshal(raw, &onDisk))
	assert.NotEmpty(t, onDisk.APIKey)
	assert.NotEqual(t, "sk-secret-value", onDisk.APIKey)
}

func TestLoadMissingFile(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Load()
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestLoadWrongKeyFails(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Save(&Credentials{APIKey: "sk-secret-value"}))

	other := make([]byte, keyLength)
	other[0] = 0xff
	t.Setenv("LEXEXT_ENCRYPTION_KEY", hex.EncodeToString(other))

	wrong, err := NewStoreWithKeyProvider(NewEnvKeyProvider("LEXEXT_ENCRYPTION_KEY"))
	require.NoError(t, err)

	_, err = wrong.Load()
	assert.ErrorIs(t, err, ErrEncryptionFailed)
}

func TestDeleteAndExists(t *testing.T) {
	store := newTestStore(t)
	assert.False(t, store.Exists())

	require.NoError(t, store.Save(&Credentials{APIKey: "sk-test"}))
	assert.True(t, store.Exists())

	require.NoError(t, store.Delete())
	assert.False(t, store.Exists())

	// Deleting again is not an error.
	require.NoError(t, store.Delete())
}

func TestGetActiveAPIKeyEnvPrecedence(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Save(&Credentials{APIKey: "sk-stored"}))

	t.Setenv("LEXEXT_API_KEY", "sk-from-env")
	key, err := store.GetActiveAPIKey()
	require.NoError(t, err)
	assert.Equal(t, "sk-from-env", key)

	t.Setenv("LEXEXT_API_KEY", "")
	key, err = store.GetActiveAPIKey()
	require.NoError(t, err)
	assert.Equal(t, "sk-stored", key)
}

func TestGetActiveAPIKeyNoCredentials(t *testing.T) {
	store := newTestStore(t)

	key, err := store.GetActiveAPIKey()
	require.NoError(t, err)
	assert.Empty(t, key, "missing credentials means no key, not an error")
}

func TestCredentialsDirOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("LEXEXT_CONFIG_DIR", dir)

	got, err := CredentialsDir()
	require.NoError(t, err)
	assert.Equal(t, dir, got)

	path, err := CredentialsPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, DefaultCredentialsFile), path)
}

func TestMaskAPIKey(t *testing.T) {
	assert.Equal(t, "********", MaskAPIKey("sk-short"))
	masked := MaskAPIKey("sk-test-abcdef123456")
	assert.True(t, strings.HasPrefix(masked, "sk-t"))
	assert.True(t, strings.HasSuffix(masked, "3456"))
	assert.Contains(t, masked, "****")
	assert.NotContains(t, masked, "abcdef")
}
