package executor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundtrip(t *testing.T) {
	salt, err := NewSalt()
	require.NoError(t, err)
	key := DeriveKey("test-master-secret", salt)
	require.Len(t, key, 32)

	enc := NewEncryptor()
	plaintext := []byte("CREATE TABLE accounts (id INT PRIMARY KEY);")

	sealed, err := enc.Encrypt(plaintext, key)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, sealed)

	opened, err := enc.Decrypt(sealed, key)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	saltA, _ := NewSalt()
	saltB, _ := NewSalt()
	keyA := DeriveKey("secret", saltA)
	keyB := DeriveKey("secret", saltB)

	enc := NewEncryptor()
	sealed, err := enc.Encrypt([]byte("sensitive"), keyA)
	require.NoError(t, err)

	_, err = enc.Decrypt(sealed, keyB)
	assert.Error(t, err)
}

func TestDecryptTruncatedData(t *testing.T) {
	salt, _ := NewSalt()
	key := DeriveKey("secret", salt)

	_, err := NewEncryptor().Decrypt([]byte("short"), key)
	assert.Error(t, err)
}

func TestEncryptFileRoundtrip(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "plain")
	sealedPath := filepath.Join(dir, "sealed")
	openedPath := filepath.Join(dir, "opened")

	content := []byte("dump contents")
	require.NoError(t, os.WriteFile(srcPath, content, 0o600))

	salt, _ := NewSalt()
	key := DeriveKey("secret", salt)
	enc := NewEncryptor()

	require.NoError(t, enc.EncryptFile(srcPath, sealedPath, key))
	require.NoError(t, enc.DecryptFile(sealedPath, openedPath, key))

	opened, err := os.ReadFile(openedPath)
	require.NoError(t, err)
	assert.Equal(t, content, opened)
}

func TestKeyStoreLifecycle(t *testing.T) {
	ks, err := NewKeyStore(t.TempDir(), "master-secret")
	require.NoError(t, err)

	key, salt, err := ks.CreateKey("full-20260101-010101-abcd")
	require.NoError(t, err)
	require.Len(t, key, 32)
	assert.NotEmpty(t, salt)
	assert.True(t, ks.HasKey("full-20260101-010101-abcd"))

	rederived, err := ks.Key("full-20260101-010101-abcd")
	require.NoError(t, err)
	assert.Equal(t, key, rederived)
}

func TestKeyStoreShredDestroysKey(t *testing.T) {
	ks, err := NewKeyStore(t.TempDir(), "master-secret")
	require.NoError(t, err)

	key, _, err := ks.CreateKey("backup-x")
	require.NoError(t, err)

	enc := NewEncryptor()
	sealed, err := enc.Encrypt([]byte("evidence"), key)
	require.NoError(t, err)

	require.NoError(t, ks.Shred("backup-x"))
	assert.False(t, ks.HasKey("backup-x"))

	_, err = ks.Key("backup-x")
	assert.Error(t, err)

	// The ciphertext survives but is unrecoverable without the salt
	_, err = enc.Decrypt(sealed, DeriveKey("master-secret", make([]byte, 32)))
	assert.Error(t, err)
}

func TestKeyStoreShredIsIdempotent(t *testing.T) {
	ks, err := NewKeyStore(t.TempDir(), "master-secret")
	require.NoError(t, err)

	assert.NoError(t, ks.Shred("never-existed"))
}

func TestKeyStoreRequiresSecret(t *testing.T) {
	_, err := NewKeyStore(t.TempDir(), "")
	assert.Error(t, err)
}
