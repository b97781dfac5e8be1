package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/erp/fulfillment/internal/domain/fulfillment"
	"github.com/erp/fulfillment/internal/infrastructure/config"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Ensure S3PayloadArchive implements PayloadArchive
var _ fulfillment.PayloadArchive = (*S3PayloadArchive)(nil)

// S3PayloadArchive stores webhook bodies in an S3-compatible bucket
// (AWS S3, MinIO, RustFS).
type S3PayloadArchive struct {
	client *s3.Client
	bucket string
	prefix string
	now    func() time.Time
	newID  func() uuid.UUID
	logger *zap.Logger
}

// S3PayloadArchiveOption is a functional option for configuring S3PayloadArchive
type S3PayloadArchiveOption func(*S3PayloadArchive)

// WithLogger sets a custom logger
func WithLogger(logger *zap.Logger) S3PayloadArchiveOption {
	return func(s *S3PayloadArchive) {
		s.logger = logger
	}
}

// WithClock replaces time.Now for key dates
func WithClock(now func() time.Time) S3PayloadArchiveOption {
	return func(s *S3PayloadArchive) {
		s.now = now
	}
}

// WithIDGenerator replaces uuid.New for object names
func WithIDGenerator(newID func() uuid.UUID) S3PayloadArchiveOption {
	return func(s *S3PayloadArchive) {
		s.newID = newID
	}
}

// NewS3PayloadArchive creates an archive from configuration
func NewS3PayloadArchive(ctx context.Context, cfg *config.StorageConfig, opts ...S3PayloadArchiveOption) (*S3PayloadArchive, error) {
	if cfg == nil {
		return nil, errors.New("storage configuration is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("storage bucket is required")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" || cfg.SecretAccessKey != "" {
		if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
			return nil, errors.New("storage access key and secret key must be set together")
		}
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}

	endpoint := cfg.Endpoint
	if endpoint != "" && !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "https://" + endpoint
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	archive := &S3PayloadArchive{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		now:    time.Now,
		newID:  uuid.New,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(archive)
	}
	return archive, nil
}

// Archive uploads body and returns its object key
func (s *S3PayloadArchive) Archive(ctx context.Context, source fulfillment.EventSource, contentType string, body []byte) (string, error) {
	key := ObjectKey(s.prefix, source, contentType, s.now(), s.newID())
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload payload: %w", err)
	}

	s.logger.Debug("Webhook payload archived",
		zap.String("bucket", s.bucket),
		zap.String("key", key),
		zap.Int("size", len(body)),
	)
	return key, nil
}

// GetBucket returns the bucket name
func (s *S3PayloadArchive) GetBucket() string {
	return s.bucket
}
