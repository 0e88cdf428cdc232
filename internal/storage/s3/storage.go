package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Options configures the S3 bucket. Credentials come from the default AWS chain.
type Options struct {
	BucketName string
	Region     string
	Endpoint   string // custom endpoint for S3-compatible services, uses path-style addressing
	PublicURL  string // base URL objects are served from, defaults to the bucket URL
}

// Storage is a blob store backed by AWS S3.
type Storage struct {
	client     *s3.Client
	bucketName string
	publicURL  string
}

// NewStorage loads the default AWS configuration and creates the client.
func NewStorage(ctx context.Context, opts Options) (*Storage, error) {
	if opts.BucketName == "" {
		return nil, errors.New("s3 bucket name is required")
	}

	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(opts.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Storage{
		client:     client,
		bucketName: opts.BucketName,
		publicURL:  publicBase(opts),
	}, nil
}

// IsConfigured reports whether the storage holds a live client.
func (s *Storage) IsConfigured() bool {
	return s != nil && s.client != nil
}

// Put uploads data under key and returns its URL.
func (s *Storage) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucketName),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("s3 upload failed: %w", err)
	}

	return s.publicURL + "/" + key, nil
}

// Load returns the body of the object stored under key. The caller closes it.
func (s *Storage) Load(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 download failed: %w", err)
	}

	return resp.Body, nil
}

// Delete removes the object stored under key.
func (s *Storage) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("s3 delete failed: %w", err)
	}

	return nil
}

func publicBase(opts Options) string {
	switch {
	case opts.PublicURL != "":
		return strings.TrimRight(opts.PublicURL, "/")
	case opts.Endpoint != "":
		return strings.TrimRight(opts.Endpoint, "/") + "/" + opts.BucketName
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", opts.BucketName, opts.Region)
	}
}
