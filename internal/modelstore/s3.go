package modelstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

// DefaultS3Prefix is the object key prefix for models.
const DefaultS3Prefix = "models/"

// S3Config configures the S3 model store. Endpoint and ForcePathStyle allow
// S3-compatible services such as MinIO.
type S3Config struct {
	Bucket         string
	Prefix         string
	Region         string
	Endpoint       string
	ForcePathStyle bool
}

// S3Store keeps each model as one JSON object.
type S3Store struct {
	api    s3iface.S3API
	logger *slog.Logger
	bucket string
	prefix string
}

// NewS3Store creates an S3 client from the default credential chain.
func NewS3Store(cfg S3Config, logger *slog.Logger) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket cannot be empty")
	}
	awsCfg := &aws.Config{
		Region:           aws.String(cfg.Region),
		S3ForcePathStyle: aws.Bool(cfg.ForcePathStyle),
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create aws session: %w", err)
	}
	return NewS3StoreWithClient(s3.New(sess), cfg.Bucket, cfg.Prefix, logger)
}

// NewS3StoreWithClient wraps an existing S3 client.
func NewS3StoreWithClient(api s3iface.S3API, bucket, prefix string, logger *slog.Logger) (*S3Store, error) {
	if api == nil {
		return nil, errors.New("s3 client cannot be nil")
	}
	if bucket == "" {
		return nil, errors.New("s3 bucket cannot be empty")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if prefix == "" {
		prefix = DefaultS3Prefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Store{api: api, logger: logger, bucket: bucket, prefix: prefix}, nil
}

func (s *S3Store) objectKey(k Key) string {
	return s.prefix + k.String() + ".json"
}

// Save uploads the entry, replacing any previous object for the key.
func (s *S3Store) Save(ctx context.Context, e Entry) error {
	data, err := encode(e)
	if err != nil {
		return err
	}
	_, err = s.api.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.objectKey(e.Key)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload model %s: %w", e.Key, err)
	}
	return nil
}

// LoadAll downloads every model object under the prefix.
func (s *S3Store) LoadAll(ctx context.Context) ([]Entry, error) {
	var keys []string
	err := s.api.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	}, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, obj := range page.Contents {
			if key := aws.StringValue(obj.Key); strings.HasSuffix(key, ".json") {
				keys = append(keys, key)
			}
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}

	out := make([]Entry, 0, len(keys))
	for _, key := range keys {
		data, err := s.get(ctx, key)
		if err != nil {
			return nil, err
		}
		e, err := decode(data)
		if err != nil {
			s.logger.Warn("skipping unreadable model", "key", key, "error", err)
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *S3Store) get(ctx context.Context, key string) ([]byte, error) {
	result, err := s.api.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download model %s: %w", key, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read model %s: %w", key, err)
	}
	return data, nil
}

// Close is a no-op.
func (s *S3Store) Close() error {
	return nil
}

var _ ModelStore = (*S3Store)(nil)
