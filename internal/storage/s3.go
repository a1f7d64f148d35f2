package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	apperrors "drguard/internal/errors"
)

// S3Store implements ObjectStore on Amazon S3
type S3Store struct {
	client *s3.S3
	bucket string
}

// NewS3Store creates an S3-backed object store
func NewS3Store(config *S3Config) (*S3Store, error) {
	if config == nil {
		return nil, apperrors.NewConfigurationError("S3 storage configuration is required", nil)
	}

	awsConfig := &aws.Config{
		Region: aws.String(config.Region),
	}
	if config.AccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(config.AccessKey, config.SecretKey, "")
	}
	if config.Endpoint != "" {
		awsConfig.Endpoint = aws.String(config.Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, apperrors.NewConnectivityError("failed to create AWS session", err)
	}

	return &S3Store{
		client: s3.New(sess),
		bucket: config.Bucket,
	}, nil
}

func s3StorageClass(class StorageClass) *string {
	switch class {
	case ClassCold:
		return aws.String(s3.StorageClassStandardIa)
	case ClassArchive:
		return aws.String(s3.StorageClassGlacier)
	case ClassStandard:
		return aws.String(s3.StorageClassStandard)
	}
	return nil
}

func encodeTags(tags map[string]string) *string {
	if len(tags) == 0 {
		return nil
	}
	values := url.Values{}
	for k, v := range tags {
		values.Set(k, v)
	}
	return aws.String(values.Encode())
}

// Put uploads body under key
func (s *S3Store) Put(ctx context.Context, key string, body io.Reader, opts PutOptions) error {
	input := &s3.PutObjectInput{
		Bucket:       aws.String(s.bucket),
		Key:          aws.String(key),
		Body:         aws.ReadSeekCloser(body),
		Tagging:      encodeTags(opts.Tags),
		StorageClass: s3StorageClass(opts.StorageClass),
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}

	if _, err := s.client.PutObjectWithContext(ctx, input); err != nil {
		return apperrors.NewUploadError(fmt.Sprintf("failed to upload %s to S3", key), err)
	}
	return nil
}

// Get opens the object at key for reading
func (s *S3Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	result, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if strings.Contains(err.Error(), s3.ErrCodeNoSuchKey) {
			return nil, apperrors.NewNotFoundError("object not found: "+key, err)
		}
		return nil, apperrors.NewConnectivityError("failed to download "+key+" from S3", err)
	}
	return result.Body, nil
}

// List returns objects whose keys start with prefix
func (s *S3Store) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	}

	err := s.client.ListObjectsV2PagesWithContext(ctx, input,
		func(page *s3.ListObjectsV2Output, lastPage bool) bool {
			for _, obj := range page.Contents {
				info := ObjectInfo{
					Key:          aws.StringValue(obj.Key),
					SizeBytes:    aws.Int64Value(obj.Size),
					LastModified: aws.TimeValue(obj.LastModified),
				}
				switch aws.StringValue(obj.StorageClass) {
				case s3.StorageClassStandardIa:
					info.StorageClass = ClassCold
				case s3.StorageClassGlacier:
					info.StorageClass = ClassArchive
				default:
					info.StorageClass = ClassStandard
				}
				objects = append(objects, info)
			}
			return true
		})
	if err != nil {
		return nil, apperrors.NewConnectivityError("failed to list objects in S3", err)
	}
	return objects, nil
}

// Delete removes the object at key
func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return apperrors.NewConnectivityError("failed to delete "+key+" from S3", err)
	}
	return nil
}

// Copy duplicates srcKey to dstKey, optionally changing storage class
func (s *S3Store) Copy(ctx context.Context, srcKey, dstKey string, class StorageClass) error {
	input := &s3.CopyObjectInput{
		Bucket:       aws.String(s.bucket),
		CopySource:   aws.String(s.bucket + "/" + srcKey),
		Key:          aws.String(dstKey),
		StorageClass: s3StorageClass(class),
	}
	if _, err := s.client.CopyObjectWithContext(ctx, input); err != nil {
		return apperrors.NewUploadError(fmt.Sprintf("failed to copy %s to %s in S3", srcKey, dstKey), err)
	}
	return nil
}

// HealthCheck verifies the bucket is reachable
func (s *S3Store) HealthCheck(ctx context.Context) error {
	_, err := s.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return apperrors.NewConnectivityError("S3 bucket "+s.bucket+" is unreachable", err)
	}
	return nil
}

// Provider identifies the backing implementation
func (s *S3Store) Provider() ProviderType { return ProviderS3 }

// URI returns the canonical address of an object at key
func (s *S3Store) URI(key string) string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, key)
}
