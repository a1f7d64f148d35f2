package storage

import (
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	apperrors "drguard/internal/errors"
)

// GCSStore implements ObjectStore on Google Cloud Storage
type GCSStore struct {
	client *storage.Client
	bucket string
}

// NewGCSStore creates a GCS-backed object store
func NewGCSStore(ctx context.Context, config *GCSConfig) (*GCSStore, error) {
	if config == nil {
		return nil, apperrors.NewConfigurationError("GCS storage configuration is required", nil)
	}

	var client *storage.Client
	var err error
	if config.CredentialsPath != "" {
		client, err = storage.NewClient(ctx, option.WithCredentialsFile(config.CredentialsPath))
	} else {
		client, err = storage.NewClient(ctx)
	}
	if err != nil {
		return nil, apperrors.NewConnectivityError("failed to create GCS client", err)
	}

	return &GCSStore{client: client, bucket: config.Bucket}, nil
}

func gcsStorageClass(class StorageClass) string {
	switch class {
	case ClassCold:
		return "NEARLINE"
	case ClassArchive:
		return "ARCHIVE"
	default:
		return "STANDARD"
	}
}

func fromGCSStorageClass(class string) StorageClass {
	switch class {
	case "NEARLINE", "COLDLINE":
		return ClassCold
	case "ARCHIVE":
		return ClassArchive
	default:
		return ClassStandard
	}
}

// Put uploads body under key
func (g *GCSStore) Put(ctx context.Context, key string, body io.Reader, opts PutOptions) error {
	w := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	w.Metadata = opts.Tags
	if opts.StorageClass != "" {
		w.StorageClass = gcsStorageClass(opts.StorageClass)
	}
	if opts.ContentType != "" {
		w.ContentType = opts.ContentType
	}

	if _, err := io.Copy(w, body); err != nil {
		w.Close()
		return apperrors.NewUploadError(fmt.Sprintf("failed to upload %s to GCS", key), err)
	}
	if err := w.Close(); err != nil {
		return apperrors.NewUploadError(fmt.Sprintf("failed to finalize upload of %s to GCS", key), err)
	}
	return nil
}

// Get opens the object at key for reading
func (g *GCSStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := g.client.Bucket(g.bucket).Object(key).NewReader(ctx)
	if err != nil {
		if err == storage.ErrObjectNotExist {
			return nil, apperrors.NewNotFoundError("object not found: "+key, err)
		}
		return nil, apperrors.NewConnectivityError("failed to download "+key+" from GCS", err)
	}
	return r, nil
}

// List returns objects whose keys start with prefix
func (g *GCSStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	it := g.client.Bucket(g.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, apperrors.NewConnectivityError("failed to list objects in GCS", err)
		}
		objects = append(objects, ObjectInfo{
			Key:          attrs.Name,
			SizeBytes:    attrs.Size,
			LastModified: attrs.Updated,
			StorageClass: fromGCSStorageClass(attrs.StorageClass),
		})
	}
	return objects, nil
}

// Delete removes the object at key
func (g *GCSStore) Delete(ctx context.Context, key string) error {
	if err := g.client.Bucket(g.bucket).Object(key).Delete(ctx); err != nil {
		if err == storage.ErrObjectNotExist {
			return apperrors.NewNotFoundError("object not found: "+key, err)
		}
		return apperrors.NewConnectivityError("failed to delete "+key+" from GCS", err)
	}
	return nil
}

// Copy duplicates srcKey to dstKey, optionally changing storage class
func (g *GCSStore) Copy(ctx context.Context, srcKey, dstKey string, class StorageClass) error {
	src := g.client.Bucket(g.bucket).Object(srcKey)
	copier := g.client.Bucket(g.bucket).Object(dstKey).CopierFrom(src)
	if class != "" {
		copier.StorageClass = gcsStorageClass(class)
	}
	if _, err := copier.Run(ctx); err != nil {
		return apperrors.NewUploadError(fmt.Sprintf("failed to copy %s to %s in GCS", srcKey, dstKey), err)
	}
	return nil
}

// HealthCheck verifies the bucket is reachable
func (g *GCSStore) HealthCheck(ctx context.Context) error {
	if _, err := g.client.Bucket(g.bucket).Attrs(ctx); err != nil {
		return apperrors.NewConnectivityError("GCS bucket "+g.bucket+" is unreachable", err)
	}
	return nil
}

// Provider identifies the backing implementation
func (g *GCSStore) Provider() ProviderType { return ProviderGCS }

// URI returns the canonical address of an object at key
func (g *GCSStore) URI(key string) string {
	return fmt.Sprintf("gs://%s/%s", g.bucket, key)
}
