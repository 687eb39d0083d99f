// Package storage is the signed-URL gateway over an S3-compatible object
// store (MinIO in the booths, plain S3 elsewhere) plus the key derivation
// helpers for captures and their transcoded counterparts.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

const (
	// UploadTTL bounds presigned PUT URLs: long enough for an immediate
	// device upload, nothing more.
	UploadTTL = 5 * time.Minute
	// DownloadTTL bounds presigned GET URLs: long enough for a moderator to
	// view and re-share the link.
	DownloadTTL = 2 * time.Hour
)

// ErrUnavailable reports that the object store could not serve a request
// (network or auth failure). Callers map it to a 5xx or a pipeline fallback.
var ErrUnavailable = errors.New("object storage unavailable")

// Config holds the gateway settings.
type Config struct {
	Endpoint        string // host[:port]; empty = AWS S3
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UseSSL          bool
	UsePathStyle    bool
}

// Storage issues time-bounded capability URLs and performs server-side
// object I/O. It keeps no state beyond the configured client.
type Storage struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	logger   *zap.Logger
}

// New creates the gateway. Credentials must be explicit: the booths run
// outside AWS, so there is no instance role to fall back to.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Storage, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("storage bucket is required")
	}
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, fmt.Errorf("storage access key and secret key are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			scheme := "https"
			if !cfg.UseSSL {
				scheme = "http"
			}
			o.BaseEndpoint = aws.String(scheme + "://" + cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 5 * 1024 * 1024
	})

	logger.Info("storage gateway ready",
		zap.String("endpoint", cfg.Endpoint),
		zap.String("bucket", cfg.Bucket),
	)
	return &Storage{client: client, uploader: uploader, bucket: cfg.Bucket, logger: logger}, nil
}

// GetOption adjusts the response a presigned GET URL will produce.
type GetOption func(*s3.GetObjectInput)

// AsAttachment forces a download disposition with the given filename, so the
// same object can be served as a file instead of an inline player source.
func AsAttachment(filename string) GetOption {
	return func(in *s3.GetObjectInput) {
		in.ResponseContentDisposition = aws.String(fmt.Sprintf("attachment; filename=%q", filename))
	}
}

// AsInline forces inline disposition (browser playback).
func AsInline() GetOption {
	return func(in *s3.GetObjectInput) {
		in.ResponseContentDisposition = aws.String("inline")
	}
}

// PresignPut issues a time-bounded upload URL for a key.
func (s *Storage) PresignPut(ctx context.Context, key string, ttl time.Duration) (string, error) {
	presigner := s3.NewPresignClient(s.client)
	req, err := presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = ttl
	})
	if err != nil {
		return "", fmt.Errorf("%w: presign put %s: %v", ErrUnavailable, key, err)
	}
	return req.URL, nil
}

// PresignGet issues a time-bounded download URL for a key.
func (s *Storage) PresignGet(ctx context.Context, key string, ttl time.Duration, opts ...GetOption) (string, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	for _, opt := range opts {
		opt(input)
	}
	presigner := s3.NewPresignClient(s.client)
	req, err := presigner.PresignGetObject(ctx, input, func(o *s3.PresignOptions) {
		o.Expires = ttl
	})
	if err != nil {
		return "", fmt.Errorf("%w: presign get %s: %v", ErrUnavailable, key, err)
	}
	return req.URL, nil
}

// Upload streams a reader to the bucket. Used for the server-side upload
// endpoint and for poster frames; device uploads go through presigned PUTs.
func (s *Storage) Upload(ctx context.Context, key, contentType string, body io.Reader, size int64) error {
	var sizePtr *int64
	if size > 0 {
		sizePtr = &size
	}
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentType:   aws.String(contentType),
		ContentLength: sizePtr,
	})
	if err != nil {
		return fmt.Errorf("%w: upload %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

// Exists reports whether an object is present. Errors are treated as absent;
// the only caller uses it for best-effort poster lookups.
func (s *Storage) Exists(ctx context.Context, key string) bool {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	return err == nil
}

// Bucket returns the configured bucket name.
func (s *Storage) Bucket() string { return s.bucket }
