package storage

import (
	"context"

	apperrors "drguard/internal/errors"
)

// NewObjectStore creates the object store selected by config
func NewObjectStore(ctx context.Context, config Config) (ObjectStore, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Provider {
	case ProviderLocal:
		return NewLocalStore(config.Local.BaseDir)
	case ProviderS3:
		return NewS3Store(config.S3)
	case ProviderGCS:
		return NewGCSStore(ctx, config.GCS)
	case ProviderAzure:
		return NewAzureStore(config.Azure)
	default:
		return nil, apperrors.NewConfigurationError("unsupported storage provider: "+string(config.Provider), nil)
	}
}

// NewRegionStores creates one object store per configured region. Creation
// fails as a whole if any region's configuration is invalid, since a
// missing replica silently weakens the recovery posture.
func NewRegionStores(ctx context.Context, configs map[string]Config) (map[string]ObjectStore, error) {
	stores := make(map[string]ObjectStore, len(configs))
	for region, cfg := range configs {
		store, err := NewObjectStore(ctx, cfg)
		if err != nil {
			return nil, apperrors.NewConfigurationError("failed to create object store for region "+region, err)
		}
		stores[region] = store
	}
	return stores, nil
}
