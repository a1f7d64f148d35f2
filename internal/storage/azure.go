package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/Azure/azure-storage-blob-go/azblob"

	apperrors "drguard/internal/errors"
)

// AzureStore implements ObjectStore on Azure Blob Storage
type AzureStore struct {
	container azblob.ContainerURL
	account   string
	name      string
}

// NewAzureStore creates an Azure-backed object store
func NewAzureStore(config *AzureConfig) (*AzureStore, error) {
	if config == nil {
		return nil, apperrors.NewConfigurationError("Azure storage configuration is required", nil)
	}

	credential, err := azblob.NewSharedKeyCredential(config.AccountName, config.AccountKey)
	if err != nil {
		return nil, apperrors.NewConfigurationError("failed to create Azure credentials", err)
	}

	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{})
	serviceURL, err := url.Parse(fmt.Sprintf("https://%s.blob.core.windows.net", config.AccountName))
	if err != nil {
		return nil, apperrors.NewConfigurationError("failed to parse Azure service URL", err)
	}

	return &AzureStore{
		container: azblob.NewServiceURL(*serviceURL, pipeline).NewContainerURL(config.ContainerName),
		account:   config.AccountName,
		name:      config.ContainerName,
	}, nil
}

func azureAccessTier(class StorageClass) azblob.AccessTierType {
	switch class {
	case ClassCold:
		return azblob.AccessTierCool
	case ClassArchive:
		return azblob.AccessTierArchive
	default:
		return azblob.AccessTierHot
	}
}

// Put uploads body under key
func (a *AzureStore) Put(ctx context.Context, key string, body io.Reader, opts PutOptions) error {
	blobURL := a.container.NewBlockBlobURL(key)

	_, err := azblob.UploadStreamToBlockBlob(ctx, body, blobURL, azblob.UploadStreamToBlockBlobOptions{
		BufferSize: 4 * 1024 * 1024,
		MaxBuffers: 16,
		Metadata:   azblob.Metadata(opts.Tags),
	})
	if err != nil {
		return apperrors.NewUploadError(fmt.Sprintf("failed to upload %s to Azure", key), err)
	}

	if opts.StorageClass != "" && opts.StorageClass != ClassStandard {
		_, err = blobURL.SetTier(ctx, azureAccessTier(opts.StorageClass), azblob.LeaseAccessConditions{}, azblob.RehydratePriorityStandard)
		if err != nil {
			return apperrors.NewUploadError(fmt.Sprintf("failed to set access tier for %s", key), err)
		}
	}
	return nil
}

// Get opens the object at key for reading
func (a *AzureStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	blobURL := a.container.NewBlockBlobURL(key)
	resp, err := blobURL.Download(ctx, 0, azblob.CountToEnd, azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		if stgErr, ok := err.(azblob.StorageError); ok && stgErr.ServiceCode() == azblob.ServiceCodeBlobNotFound {
			return nil, apperrors.NewNotFoundError("object not found: "+key, err)
		}
		return nil, apperrors.NewConnectivityError("failed to download "+key+" from Azure", err)
	}
	return resp.Body(azblob.RetryReaderOptions{MaxRetryRequests: 3}), nil
}

// List returns objects whose keys start with prefix
func (a *AzureStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	for marker := (azblob.Marker{}); marker.NotDone(); {
		resp, err := a.container.ListBlobsFlatSegment(ctx, marker, azblob.ListBlobsSegmentOptions{Prefix: prefix})
		if err != nil {
			return nil, apperrors.NewConnectivityError("failed to list blobs in Azure", err)
		}
		marker = resp.NextMarker

		for _, blob := range resp.Segment.BlobItems {
			info := ObjectInfo{
				Key:          blob.Name,
				LastModified: blob.Properties.LastModified,
			}
			if blob.Properties.ContentLength != nil {
				info.SizeBytes = *blob.Properties.ContentLength
			}
			switch blob.Properties.AccessTier {
			case azblob.AccessTierCool:
				info.StorageClass = ClassCold
			case azblob.AccessTierArchive:
				info.StorageClass = ClassArchive
			default:
				info.StorageClass = ClassStandard
			}
			objects = append(objects, info)
		}
	}
	return objects, nil
}

// Delete removes the object at key
func (a *AzureStore) Delete(ctx context.Context, key string) error {
	blobURL := a.container.NewBlockBlobURL(key)
	_, err := blobURL.Delete(ctx, azblob.DeleteSnapshotsOptionInclude, azblob.BlobAccessConditions{})
	if err != nil {
		if stgErr, ok := err.(azblob.StorageError); ok && stgErr.ServiceCode() == azblob.ServiceCodeBlobNotFound {
			return apperrors.NewNotFoundError("object not found: "+key, err)
		}
		return apperrors.NewConnectivityError("failed to delete "+key+" from Azure", err)
	}
	return nil
}

// Copy duplicates srcKey to dstKey, optionally changing storage class
func (a *AzureStore) Copy(ctx context.Context, srcKey, dstKey string, class StorageClass) error {
	srcURL := a.container.NewBlockBlobURL(srcKey).URL()
	dstBlob := a.container.NewBlockBlobURL(dstKey)

	tier := azblob.AccessTierNone
	if class != "" {
		tier = azureAccessTier(class)
	}
	_, err := dstBlob.StartCopyFromURL(ctx, srcURL, azblob.Metadata{}, azblob.ModifiedAccessConditions{}, azblob.BlobAccessConditions{}, tier, nil)
	if err != nil {
		return apperrors.NewUploadError(fmt.Sprintf("failed to copy %s to %s in Azure", srcKey, dstKey), err)
	}
	return nil
}

// HealthCheck verifies the container is reachable
func (a *AzureStore) HealthCheck(ctx context.Context) error {
	_, err := a.container.GetProperties(ctx, azblob.LeaseAccessConditions{})
	if err != nil {
		return apperrors.NewConnectivityError("Azure container "+a.name+" is unreachable", err)
	}
	return nil
}

// Provider identifies the backing implementation
func (a *AzureStore) Provider() ProviderType { return ProviderAzure }

// URI returns the canonical address of an object at key
func (a *AzureStore) URI(key string) string {
	return fmt.Sprintf("azure://%s/%s", a.name, strings.TrimPrefix(key, "/"))
}
