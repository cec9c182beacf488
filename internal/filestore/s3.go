package filestore

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/civicplus/grievance-engine/internal/models"
	"go.uber.org/zap"
)

// S3Config points at an S3-compatible bucket
type S3Config struct {
	Bucket    string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	// PublicURL prefixes object keys in returned URLs; defaults to Endpoint/Bucket
	PublicURL string
}

// S3 stores files in a bucket
type S3 struct {
	client    *s3.Client
	bucket    string
	publicURL string
	logger    *zap.SugaredLogger
}

// NewS3 loads AWS configuration with static credentials and a custom endpoint
func NewS3(ctx context.Context, cfg S3Config, logger *zap.SugaredLogger) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3 bucket is empty")
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	}
	if cfg.Endpoint != "" {
		opts = append(opts, config.WithBaseEndpoint(cfg.Endpoint))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// MinIO and most self-hosted endpoints need path-style addressing
		o.UsePathStyle = cfg.Endpoint != ""
	})

	publicURL := cfg.PublicURL
	if publicURL == "" {
		publicURL = strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.Bucket
	}

	logger.Infow("S3 file storage configured", "bucket", cfg.Bucket, "endpoint", cfg.Endpoint)
	return &S3{client: client, bucket: cfg.Bucket, publicURL: strings.TrimRight(publicURL, "/"), logger: logger}, nil
}

// Store implements Backend
func (s *S3) Store(ctx context.Context, f models.UploadedFile) (string, error) {
	body, err := os.Open(f.Path)
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer body.Close()

	key := objectKey(f.Filename, time.Now())
	contentType := f.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}

	s.logger.Debugw("Evidence uploaded", "bucket", s.bucket, "key", key)
	return s.publicURL + "/" + key, nil
}
