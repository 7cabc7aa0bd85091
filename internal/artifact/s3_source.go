package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"content-review-queue/internal/models"
)

// S3Config points the source at an S3 or S3-compatible bucket. Endpoint and
// PathStyle support MinIO-style local deployments.
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	PathStyle bool
	KeyPrefix string
	MaxBytes  int64
}

// S3Source fetches artifacts from object storage. Content ids map directly
// to object keys under the configured prefix.
type S3Source struct {
	client   *s3.Client
	bucket   string
	prefix   string
	maxBytes int64
}

var _ Source = (*S3Source)(nil)

// NewS3Source builds the client from ambient AWS config plus overrides.
func NewS3Source(ctx context.Context, cfg S3Config) (*S3Source, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               cfg.Endpoint,
					HostnameImmutable: cfg.PathStyle,
					SigningRegion:     cfg.Region,
					Source:            aws.EndpointSourceCustom,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
	})
	maxBytes := cfg.MaxBytes
	if maxBytes == 0 {
		maxBytes = 100 * 1024 * 1024
	}
	return &S3Source{
		client:   client,
		bucket:   cfg.Bucket,
		prefix:   cfg.KeyPrefix,
		maxBytes: maxBytes,
	}, nil
}

// Fetch downloads the object and derives the display name from the
// "filename" object metadata, falling back to the key's base name.
func (s *S3Source) Fetch(ctx context.Context, contentID string) (models.Artifact, error) {
	key := path.Join(s.prefix, contentID)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *s3types.NoSuchKey
		if errors.As(err, &noKey) {
			return models.Artifact{}, ErrArtifactGone
		}
		return models.Artifact{}, fmt.Errorf("get object %s: %w", key, err)
	}
	defer out.Body.Close()

	limited := io.LimitReader(out.Body, s.maxBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return models.Artifact{}, fmt.Errorf("read object %s: %w", key, err)
	}
	if int64(len(data)) > s.maxBytes {
		return models.Artifact{}, fmt.Errorf("object %s too large (>%d bytes)", key, s.maxBytes)
	}

	name := path.Base(key)
	if out.Metadata != nil {
		if v, ok := out.Metadata["filename"]; ok && v != "" {
			name = v
		}
	}
	contentType := ""
	if out.ContentType != nil {
		contentType = *out.ContentType
	}
	return models.Artifact{
		ContentID:   contentID,
		Name:        name,
		ContentType: contentTypeFor(name, contentType),
		Data:        data,
	}, nil
}
