package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	ForcePathStyle  bool
}

// S3Bucket writes public-read objects to an S3 compatible bucket.
type S3Bucket struct {
	client   *s3.Client
	bucket   string
	region   string
	endpoint string
	path     bool
}

func NewS3Bucket(ctx context.Context, cfg S3Config) (*S3Bucket, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("storage: s3 bucket is required")
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return &S3Bucket{
		client:   client,
		bucket:   cfg.Bucket,
		region:   awsCfg.Region,
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		path:     cfg.ForcePathStyle,
	}, nil
}

func (b *S3Bucket) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("s3 put %s: %w", key, err)
	}
	return b.objectURL(key), nil
}

func (b *S3Bucket) objectURL(key string) string {
	switch {
	case b.endpoint != "" && b.path:
		return fmt.Sprintf("%s/%s/%s", b.endpoint, b.bucket, key)
	case b.endpoint != "":
		scheme, host, ok := strings.Cut(b.endpoint, "://")
		if !ok {
			return fmt.Sprintf("https://%s.%s/%s", b.bucket, b.endpoint, key)
		}
		return fmt.Sprintf("%s://%s.%s/%s", scheme, b.bucket, host, key)
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", b.bucket, b.region, key)
	}
}
