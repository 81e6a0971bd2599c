package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"

	"pairchat/internal/config"
)

// S3Storage stores objects in an S3-compatible bucket.
type S3Storage struct {
	bucket  string
	baseURL string
	client  *s3.Client
	log     zerolog.Logger
}

func NewS3Storage(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*S3Storage, error) {
	bucket := strings.TrimSpace(cfg.MediaS3Bucket)
	if bucket == "" {
		return nil, errors.New("MEDIA_S3_BUCKET is required for the s3 media backend")
	}

	resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		if cfg.MediaS3Endpoint != "" {
			return aws.Endpoint{
				URL:           cfg.MediaS3Endpoint,
				PartitionID:   "aws",
				SigningRegion: cfg.MediaS3Region,
			}, nil
		}
		return aws.Endpoint{}, &aws.EndpointNotFoundError{}
	})

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.MediaS3Region),
		awsconfig.WithEndpointResolverWithOptions(resolver),
	}
	if cfg.MediaS3AccessKeyID != "" && cfg.MediaS3SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.MediaS3AccessKeyID, cfg.MediaS3SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.MediaS3UsePathStyle
	})

	// Without a public bucket URL objects are proxied through the API.
	baseURL := cfg.MediaS3PublicURL
	if baseURL == "" {
		baseURL = cfg.MediaPublicBaseURL
	}
	return &S3Storage{
		bucket:  bucket,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		log:     log.With().Str("component", "s3-storage").Logger(),
	}, nil
}

func (s *S3Storage) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error) {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(size),
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return s.baseURL + "/" + key, nil
}

func (s *S3Storage) Open(ctx context.Context, key string) (io.ReadCloser, string, error) {
	if !ValidKey(key) {
		return nil, "", ErrObjectNotFound
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, "", ErrObjectNotFound
		}
		return nil, "", fmt.Errorf("get object %s: %w", key, err)
	}
	return out.Body, aws.ToString(out.ContentType), nil
}

// Health checks that the bucket is reachable.
func (s *S3Storage) Health(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	return err
}
