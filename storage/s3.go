package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3API is the part of *s3.Client the artifacts use.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Loader implements Loader backed by S3
type S3Loader struct {
	bucket string
	key    string
	s3     S3API
}

func NewS3Loader(s3Client S3API, bucket, key string) *S3Loader {
	return &S3Loader{
		bucket: bucket,
		key:    key,
		s3:     s3Client,
	}
}

func (s *S3Loader) Load(ctx context.Context) ([]byte, error) {
	resp, err := s.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s from S3: %w", s.key, err)
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// S3Writer implements Writer, storing artifacts under prefix.
type S3Writer struct {
	bucket string
	prefix string
	s3     S3API
}

func NewS3Writer(s3Client S3API, bucket, prefix string) *S3Writer {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Writer{bucket: bucket, prefix: prefix, s3: s3Client}
}

func (s *S3Writer) Write(ctx context.Context, name string, data []byte) error {
	contentType := "application/octet-stream"
	switch {
	case strings.HasSuffix(name, ".json"):
		contentType = "application/json"
	case strings.HasSuffix(name, ".txt"):
		contentType = "text/plain; charset=utf-8"
	}
	_, err := s.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.prefix + name),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to put object %s to S3: %w", s.prefix+name, err)
	}
	return nil
}
