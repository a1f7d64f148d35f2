package executor

import (
	"context"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "drguard/internal/errors"
	"drguard/internal/record"
	"drguard/internal/statestore"
)

func readObject(t *testing.T, fx *executorFixture, region, key string) []byte {
	t.Helper()
	body, err := fx.stores[region].Get(context.Background(), key)
	require.NoError(t, err)
	defer body.Close()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	return data
}

func TestRotateKeyReEncryptsEverywhere(t *testing.T) {
	fx := newExecutorFixture(t)
	ctx := context.Background()

	rec, err := fx.executor.Run(ctx, record.BackupTypeFull)
	require.NoError(t, err)
	oldSalt := rec.KeySalt
	oldKey, err := fx.executor.keys.Key(rec.ID)
	require.NoError(t, err)

	objectKey := "backups/" + rec.ID + "/" + rec.Artifacts[0].Name
	before := readObject(t, fx, "us-east-1", objectKey)

	require.NoError(t, fx.executor.RotateKey(ctx, rec.ID))

	var registry record.BackupRegistry
	require.NoError(t, fx.state.Load(ctx, statestore.KeyBackupRegistry, &registry))
	stored := registry.Get(rec.ID)
	require.NotNil(t, stored)
	assert.NotEqual(t, oldSalt, stored.KeySalt)
	assert.NotEqual(t, rec.Artifacts[0].Checksum, stored.Artifacts[0].Checksum)

	after := readObject(t, fx, "us-east-1", objectKey)
	assert.NotEqual(t, before, after)

	// replicas carry the rotated ciphertext too
	assert.Equal(t, after, readObject(t, fx, "us-west-2", objectKey))

	newKey, err := fx.executor.keys.Key(rec.ID)
	require.NoError(t, err)
	_, err = fx.executor.encryptor.Decrypt(after, oldKey)
	assert.Error(t, err)
	plaintext, err := fx.executor.encryptor.Decrypt(after, newKey)
	require.NoError(t, err)
	assert.NotEmpty(t, plaintext)

	// the staged local copy was rewritten as well
	local, err := os.ReadFile(stored.Artifacts[0].LocalPath)
	require.NoError(t, err)
	_, err = fx.executor.encryptor.Decrypt(local, newKey)
	assert.NoError(t, err)
}

func TestRotateKeyUnknownBackup(t *testing.T) {
	fx := newExecutorFixture(t)

	err := fx.executor.RotateKey(context.Background(), "no-such-backup")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorTypeNotFound, apperrors.GetType(err))
}
