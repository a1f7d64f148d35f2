// Package storage abstracts the object stores backups are uploaded to.
// Each region runs one ObjectStore; the replication monitor mirrors
// objects between them and the retention manager moves objects across
// storage classes.
package storage

import (
	"context"
	"io"
	"time"

	apperrors "drguard/internal/errors"
)

// StorageClass selects the tier an object is stored in
type StorageClass string

const (
	ClassStandard StorageClass = "standard"
	ClassCold     StorageClass = "cold"
	ClassArchive  StorageClass = "archive"
)

// ProviderType identifies the backing object-store implementation
type ProviderType string

const (
	ProviderLocal ProviderType = "local"
	ProviderS3    ProviderType = "s3"
	ProviderGCS   ProviderType = "gcs"
	ProviderAzure ProviderType = "azure"
)

// ObjectInfo describes one stored object
type ObjectInfo struct {
	Key          string       `json:"key"`
	SizeBytes    int64        `json:"size_bytes"`
	LastModified time.Time    `json:"last_modified"`
	StorageClass StorageClass `json:"storage_class,omitempty"`
}

// PutOptions carries upload metadata
type PutOptions struct {
	Tags         map[string]string
	StorageClass StorageClass
	ContentType  string
}

// ObjectStore is the per-region object storage interface
type ObjectStore interface {
	// Put uploads body under key
	Put(ctx context.Context, key string, body io.Reader, opts PutOptions) error
	// Get opens the object at key for reading
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// List returns objects whose keys start with prefix
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	// Delete removes the object at key
	Delete(ctx context.Context, key string) error
	// Copy duplicates srcKey to dstKey, optionally changing storage class
	Copy(ctx context.Context, srcKey, dstKey string, class StorageClass) error
	// HealthCheck verifies the store is reachable
	HealthCheck(ctx context.Context) error
	// Provider identifies the backing implementation
	Provider() ProviderType
	// URI returns the canonical address of an object at key
	URI(key string) string
}

// Config selects and configures one region's object store
type Config struct {
	Provider ProviderType `json:"provider" yaml:"provider"`
	Region   string       `json:"region" yaml:"region"`
	Local    *LocalConfig `json:"local,omitempty" yaml:"local,omitempty"`
	S3       *S3Config    `json:"s3,omitempty" yaml:"s3,omitempty"`
	GCS      *GCSConfig   `json:"gcs,omitempty" yaml:"gcs,omitempty"`
	Azure    *AzureConfig `json:"azure,omitempty" yaml:"azure,omitempty"`
}

// LocalConfig configures a filesystem-backed store
type LocalConfig struct {
	BaseDir string `json:"base_dir" yaml:"base_dir"`
}

// S3Config configures an Amazon S3 store
type S3Config struct {
	Bucket    string `json:"bucket" yaml:"bucket"`
	Region    string `json:"region" yaml:"region"`
	AccessKey string `json:"access_key,omitempty" yaml:"access_key,omitempty"`
	SecretKey string `json:"secret_key,omitempty" yaml:"secret_key,omitempty"`
	Endpoint  string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
}

// GCSConfig configures a Google Cloud Storage store
type GCSConfig struct {
	Bucket          string `json:"bucket" yaml:"bucket"`
	CredentialsPath string `json:"credentials_path,omitempty" yaml:"credentials_path,omitempty"`
}

// AzureConfig configures an Azure Blob Storage store
type AzureConfig struct {
	AccountName   string `json:"account_name" yaml:"account_name"`
	AccountKey    string `json:"account_key" yaml:"account_key"`
	ContainerName string `json:"container_name" yaml:"container_name"`
}

// Validate checks that the selected provider is fully configured
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderLocal:
		if c.Local == nil || c.Local.BaseDir == "" {
			return apperrors.NewConfigurationError("local storage requires a base directory", nil)
		}
	case ProviderS3:
		if c.S3 == nil || c.S3.Bucket == "" || c.S3.Region == "" {
			return apperrors.NewConfigurationError("S3 storage requires bucket and region", nil)
		}
	case ProviderGCS:
		if c.GCS == nil || c.GCS.Bucket == "" {
			return apperrors.NewConfigurationError("GCS storage requires a bucket", nil)
		}
	case ProviderAzure:
		if c.Azure == nil || c.Azure.AccountName == "" || c.Azure.AccountKey == "" || c.Azure.ContainerName == "" {
			return apperrors.NewConfigurationError("Azure storage requires account name, key, and container", nil)
		}
	default:
		return apperrors.NewConfigurationError("unsupported storage provider: "+string(c.Provider), nil)
	}
	return nil
}
