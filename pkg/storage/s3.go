package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// S3Client is the subset of the S3 API used by S3Store. *s3.Client
// satisfies it.
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Config describes a bucket holding artifacts.
type S3Config struct {
	Bucket string
	// Prefix is prepended to every object key.
	Prefix string
	// PublicURL is the base URL the chat platform fetches objects from,
	// e.g. a CDN or a public bucket endpoint. Empty means s3:// locators.
	PublicURL string
}

// S3Store stores artifacts in Amazon S3 or an S3-compatible service such as
// MinIO or R2.
type S3Store struct {
	client S3Client
	cfg    S3Config
}

// NewS3 creates an S3Store using a configured client.
func NewS3(client S3Client, cfg S3Config) *S3Store {
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")
	return &S3Store{client: client, cfg: cfg}
}

// S3ClientOptions configures NewS3Client.
type S3ClientOptions struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	// PathStyle forces path-style addressing, required by most
	// S3-compatible servers.
	PathStyle bool
}

// NewS3Client builds an *s3.Client with static credentials.
func NewS3Client(opts S3ClientOptions) *s3.Client {
	cfg := aws.Config{
		Region: opts.Region,
		Credentials: aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return aws.Credentials{
				AccessKeyID:     opts.AccessKeyID,
				SecretAccessKey: opts.SecretAccessKey,
				Source:          "chatrelay",
			}, nil
		}),
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.PathStyle
	})
}

func (s *S3Store) key(p string) (string, error) {
	c, err := cleanPath(p)
	if err != nil {
		return "", err
	}
	if s.cfg.Prefix == "" {
		return c, nil
	}
	return s.cfg.Prefix + "/" + c, nil
}

func (s *S3Store) Put(ctx context.Context, p, contentType string, data []byte) (string, error) {
	key, err := s.key(p)
	if err != nil {
		return "", err
	}
	in := &s3.PutObjectInput{
		Bucket:        aws.String(s.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, in); err != nil {
		return "", fmt.Errorf("storage: put %s: %w", p, err)
	}
	return s.locate(key), nil
}

func (s *S3Store) Exists(ctx context.Context, p string) (bool, error) {
	key, err := s.key(p)
	if err != nil {
		return false, err
	}
	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if isS3NotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("storage: head %s: %w", p, err)
}

// Locate returns the public URL of p, or an s3:// URI when no public URL
// is configured. Invalid paths yield "".
func (s *S3Store) Locate(p string) string {
	key, err := s.key(p)
	if err != nil {
		return ""
	}
	return s.locate(key)
}

func (s *S3Store) locate(key string) string {
	if s.cfg.PublicURL != "" {
		return s.cfg.PublicURL + "/" + key
	}
	return "s3://" + s.cfg.Bucket + "/" + key
}

func isS3NotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

var _ Store = (*S3Store)(nil)
