package storage

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	apperrors "drguard/internal/errors"
)

const metaSuffix = ".objmeta"

// LocalStore is a filesystem-backed ObjectStore used for development,
// tests, and the local staging area before cloud upload
type LocalStore struct {
	baseDir string
}

type localObjectMeta struct {
	Tags         map[string]string `json:"tags,omitempty"`
	StorageClass StorageClass      `json:"storage_class,omitempty"`
	ContentType  string            `json:"content_type,omitempty"`
}

// NewLocalStore creates a filesystem store rooted at baseDir
func NewLocalStore(baseDir string) (*LocalStore, error) {
	if baseDir == "" {
		return nil, apperrors.NewConfigurationError("local storage base directory is required", nil)
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, apperrors.NewConfigurationError("failed to create local storage directory", err)
	}
	return &LocalStore{baseDir: baseDir}, nil
}

func (ls *LocalStore) objectPath(key string) string {
	return filepath.Join(ls.baseDir, filepath.FromSlash(key))
}

// Put uploads body under key
func (ls *LocalStore) Put(ctx context.Context, key string, body io.Reader, opts PutOptions) error {
	if key == "" {
		return apperrors.NewValidationError("object key cannot be empty", nil)
	}
	path := ls.objectPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apperrors.NewUploadError("failed to create object directory", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return apperrors.NewUploadError("failed to create object file", err)
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		os.Remove(path)
		return apperrors.NewUploadError("failed to write object "+key, err)
	}
	if err := f.Close(); err != nil {
		return apperrors.NewUploadError("failed to close object "+key, err)
	}

	return ls.writeMeta(key, localObjectMeta{
		Tags:         opts.Tags,
		StorageClass: opts.StorageClass,
		ContentType:  opts.ContentType,
	})
}

func (ls *LocalStore) writeMeta(key string, meta localObjectMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return apperrors.NewUploadError("failed to marshal object metadata", err)
	}
	if err := os.WriteFile(ls.objectPath(key)+metaSuffix, data, 0o644); err != nil {
		return apperrors.NewUploadError("failed to write object metadata", err)
	}
	return nil
}

func (ls *LocalStore) readMeta(key string) localObjectMeta {
	var meta localObjectMeta
	data, err := os.ReadFile(ls.objectPath(key) + metaSuffix)
	if err != nil {
		return meta
	}
	json.Unmarshal(data, &meta)
	return meta
}

// Get opens the object at key for reading
func (ls *LocalStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(ls.objectPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.NewNotFoundError("object not found: "+key, err)
		}
		return nil, apperrors.NewConnectivityError("failed to open object "+key, err)
	}
	return f, nil
}

// List returns objects whose keys start with prefix
func (ls *LocalStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	err := filepath.Walk(ls.baseDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || strings.HasSuffix(path, metaSuffix) {
			return nil
		}
		rel, err := filepath.Rel(ls.baseDir, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		meta := ls.readMeta(key)
		objects = append(objects, ObjectInfo{
			Key:          key,
			SizeBytes:    info.Size(),
			LastModified: info.ModTime(),
			StorageClass: meta.StorageClass,
		})
		return nil
	})
	if err != nil {
		return nil, apperrors.NewConnectivityError("failed to list local objects", err)
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

// Delete removes the object at key
func (ls *LocalStore) Delete(ctx context.Context, key string) error {
	path := ls.objectPath(key)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return apperrors.NewNotFoundError("object not found: "+key, err)
		}
		return apperrors.NewConnectivityError("failed to delete object "+key, err)
	}
	os.Remove(path + metaSuffix)
	return nil
}

// Copy duplicates srcKey to dstKey, optionally changing storage class
func (ls *LocalStore) Copy(ctx context.Context, srcKey, dstKey string, class StorageClass) error {
	src, err := ls.Get(ctx, srcKey)
	if err != nil {
		return err
	}
	defer src.Close()

	meta := ls.readMeta(srcKey)
	if class != "" {
		meta.StorageClass = class
	}
	if err := ls.Put(ctx, dstKey, src, PutOptions{Tags: meta.Tags, StorageClass: meta.StorageClass, ContentType: meta.ContentType}); err != nil {
		return err
	}
	return nil
}

// HealthCheck verifies the base directory is writable
func (ls *LocalStore) HealthCheck(ctx context.Context) error {
	probe := filepath.Join(ls.baseDir, ".healthcheck")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return apperrors.NewConnectivityError("local storage is not writable", err)
	}
	os.Remove(probe)
	return nil
}

// Provider identifies the backing implementation
func (ls *LocalStore) Provider() ProviderType { return ProviderLocal }

// URI returns the canonical address of an object at key
func (ls *LocalStore) URI(key string) string {
	return "file://" + filepath.ToSlash(ls.objectPath(key))
}
