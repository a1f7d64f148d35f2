package storage

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "drguard/internal/errors"
)

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestLocalStorePutGetRoundtrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	content := []byte("mysql dump contents")

	err := store.Put(ctx, "backups/full-001/mysql.sql.gz", bytes.NewReader(content), PutOptions{
		Tags:         map[string]string{"backup-id": "full-001"},
		StorageClass: ClassStandard,
	})
	require.NoError(t, err)

	r, err := store.Get(ctx, "backups/full-001/mysql.sql.gz")
	require.NoError(t, err)
	defer r.Close()

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestLocalStoreGetMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "backups/missing")
	require.Error(t, err)

	var drErr *apperrors.DRError
	require.ErrorAs(t, err, &drErr)
	assert.Equal(t, apperrors.ErrorTypeNotFound, drErr.Type)
}

func TestLocalStoreListByPrefix(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "backups/a/one", bytes.NewReader([]byte("1")), PutOptions{}))
	require.NoError(t, store.Put(ctx, "backups/b/two", bytes.NewReader([]byte("22")), PutOptions{}))
	require.NoError(t, store.Put(ctx, "metadata/marker", bytes.NewReader([]byte("m")), PutOptions{}))

	objects, err := store.List(ctx, "backups/")
	require.NoError(t, err)
	require.Len(t, objects, 2)
	assert.Equal(t, "backups/a/one", objects[0].Key)
	assert.Equal(t, int64(2), objects[1].SizeBytes)

	all, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestLocalStoreDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "backups/doomed", bytes.NewReader([]byte("x")), PutOptions{}))
	require.NoError(t, store.Delete(ctx, "backups/doomed"))

	_, err := store.Get(ctx, "backups/doomed")
	assert.Error(t, err)
}

func TestLocalStoreCopyChangesStorageClass(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "backups/src", bytes.NewReader([]byte("data")), PutOptions{StorageClass: ClassStandard}))
	require.NoError(t, store.Copy(ctx, "backups/src", "archive/dst", ClassArchive))

	objects, err := store.List(ctx, "archive/")
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Equal(t, ClassArchive, objects[0].StorageClass)

	r, err := store.Get(ctx, "archive/dst")
	require.NoError(t, err)
	defer r.Close()
	got, _ := io.ReadAll(r)
	assert.Equal(t, []byte("data"), got)
}

func TestLocalStoreHealthCheck(t *testing.T) {
	store := newTestStore(t)
	assert.NoError(t, store.HealthCheck(context.Background()))
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"valid local", Config{Provider: ProviderLocal, Local: &LocalConfig{BaseDir: "/tmp/x"}}, false},
		{"local missing dir", Config{Provider: ProviderLocal, Local: &LocalConfig{}}, true},
		{"valid s3", Config{Provider: ProviderS3, S3: &S3Config{Bucket: "b", Region: "us-east-1"}}, false},
		{"s3 missing region", Config{Provider: ProviderS3, S3: &S3Config{Bucket: "b"}}, true},
		{"valid gcs", Config{Provider: ProviderGCS, GCS: &GCSConfig{Bucket: "b"}}, false},
		{"azure missing key", Config{Provider: ProviderAzure, Azure: &AzureConfig{AccountName: "a", ContainerName: "c"}}, true},
		{"unknown provider", Config{Provider: "ftp"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
