// Package storage serves the header images referenced by newsletters.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"Mailroom/internal/models"
)

// Object is an opened image. Body must be closed by the caller.
type Object struct {
	Body        io.ReadCloser
	ContentType string
	Size        int64
}

type Images interface {
	Open(ctx context.Context, name string) (*Object, error)
}

type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Images reads images from bucket under prefix.
type S3Images struct {
	client S3API
	bucket string
	prefix string
}

func NewS3Images(client S3API, bucket, prefix string) *S3Images {
	return &S3Images{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// NewS3Client loads the default AWS config for region.
func NewS3Client(ctx context.Context, region string) (*s3.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return s3.NewFromConfig(cfg), nil
}

// Open returns models.ErrNotFound for names that are missing or try to leave the prefix.
func (s *S3Images) Open(ctx context.Context, name string) (*Object, error) {
	clean := path.Clean("/" + name)[1:]
	if clean == "" || clean != strings.TrimPrefix(name, "/") {
		return nil, models.ErrNotFound
	}

	key := clean
	if s.prefix != "" {
		key = s.prefix + "/" + clean
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("get image %s: %w", key, err)
	}

	return &Object{
		Body:        out.Body,
		ContentType: aws.ToString(out.ContentType),
		Size:        aws.ToInt64(out.ContentLength),
	}, nil
}
