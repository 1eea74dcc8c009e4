package upload

import (
	"context"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"google.golang.org/api/option"

	"github.com/ajitpratap0/pgexport/pkg/config"
	"github.com/ajitpratap0/pgexport/pkg/errors"
)

// ObjectStore writes objects into one bucket.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) error
	Close() error
}

// NewObjectStore creates the store for target's scheme.
func NewObjectStore(ctx context.Context, target Target, cfg config.UploadConfig) (ObjectStore, error) {
	switch target.Scheme {
	case SchemeS3:
		return newS3Store(ctx, target.Bucket, cfg.Region)
	case SchemeGCS:
		return newGCSStore(ctx, target.Bucket, cfg.CredentialsFile)
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported upload scheme %q", target.Scheme)
	}
}

type s3Store struct {
	bucket   string
	uploader *manager.Uploader
}

func newS3Store(ctx context.Context, bucket, region string) (*s3Store, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to load AWS configuration")
	}

	client := s3.NewFromConfig(cfg)
	return &s3Store{
		bucket:   bucket,
		uploader: manager.NewUploader(client),
	}, nil
}

func (s *s3Store) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			"created": time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeUpload, "failed to upload to S3").
			WithDetail("bucket", s.bucket).
			WithDetail("key", key)
	}
	return nil
}

func (s *s3Store) Close() error { return nil }

type gcsStore struct {
	client *storage.Client
	bucket *storage.BucketHandle
	name   string
}

func newGCSStore(ctx context.Context, bucket, credentialsFile string) (*gcsStore, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create GCS client")
	}
	return &gcsStore{client: client, bucket: client.Bucket(bucket), name: bucket}, nil
}

func (s *gcsStore) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	writer := s.bucket.Object(key).NewWriter(ctx)
	writer.ContentType = contentType
	writer.Metadata = map[string]string{
		"created": time.Now().UTC().Format(time.RFC3339),
	}

	if _, err := io.Copy(writer, body); err != nil {
		_ = writer.Close()
		return errors.Wrap(err, errors.ErrorTypeUpload, "failed to write to GCS").
			WithDetail("bucket", s.name).
			WithDetail("key", key)
	}
	if err := writer.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeUpload, "failed to close GCS writer").
			WithDetail("bucket", s.name).
			WithDetail("key", key)
	}
	return nil
}

func (s *gcsStore) Close() error {
	return s.client.Close()
}
