package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"evshop-payment/config"
	"evshop-payment/internal/util"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store keeps payment proof images in a bucket
type S3Store struct {
	client    objectPutter
	bucket    string
	publicURL string
	logger    *zap.Logger
}

// NewS3Store loads the default AWS credential chain. A custom endpoint
// switches to path-style addressing for S3-compatible stores such as MinIO.
func NewS3Store(ctx context.Context, cfg config.StorageConfig) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("S3_PROOF_BUCKET is not set")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("could not load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Store{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: cfg.PublicURL,
		logger:    util.GetLogger(),
	}, nil
}

// Upload stores body under key and returns the URL the admin uses to view it
func (s *S3Store) Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error) {
	ctx, span := util.StartSpan(ctx, "S3Store.Upload")
	defer span.End()

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if size > 0 {
		input.ContentLength = aws.Int64(size)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		util.RecordError(span, err)
		return "", fmt.Errorf("could not put object to S3 bucket: %w", err)
	}
	s.logger.Info("Stored object", zap.String("bucket", s.bucket), zap.String("key", key))
	return s.url(key), nil
}

func (s *S3Store) url(key string) string {
	if s.publicURL != "" {
		return strings.TrimRight(s.publicURL, "/") + "/" + key
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key)
}
