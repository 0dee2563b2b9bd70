package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Archive keeps snapshots of the usage log file, e.g. on shutdown.
type Archive interface {
	// Store saves data under name and returns a reference to it.
	Store(ctx context.Context, name string, data []byte) (string, error)
	// Retrieve fetches data by the reference Store returned.
	Retrieve(ctx context.Context, reference string) ([]byte, error)
}

// ArchiveFile snapshots the file at path into archive.
func ArchiveFile(ctx context.Context, archive Archive, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	name := fmt.Sprintf("%s-%s", strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)), time.Now().UTC().Format("20060102T150405Z"))
	return archive.Store(ctx, name, data)
}

// S3Archive stores usage log snapshots in S3-compatible storage
type S3Archive struct {
	client *s3.Client
	bucket string
	prefix string
}

// S3ArchiveConfig holds S3 configuration
type S3ArchiveConfig struct {
	Bucket          string
	Prefix          string // e.g., "usage/"
	Region          string
	Endpoint        string // For MinIO/local S3
	AccessKeyID     string
	SecretAccessKey string
}

func NewS3Archive(ctx context.Context, cfg S3ArchiveConfig) (*S3Archive, error) {
	optFns := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		optFns = append(optFns, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	clientOpts := []func(*s3.Options){}
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // Required for MinIO
		})
	}

	return &S3Archive{
		client: s3.NewFromConfig(awsCfg, clientOpts...),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

func (s *S3Archive) Store(ctx context.Context, name string, data []byte) (string, error) {
	key := s.buildKey(name)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("text/plain"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload usage log to S3: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

func (s *S3Archive) Retrieve(ctx context.Context, reference string) ([]byte, error) {
	output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(extractKey(reference)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get usage log from S3: %w", err)
	}
	defer output.Body.Close()

	data, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read usage log: %w", err)
	}
	return data, nil
}

func (s *S3Archive) buildKey(name string) string {
	return fmt.Sprintf("%s%s/%s.log", s.prefix, time.Now().UTC().Format("2006/01/02"), name)
}

// extractKey strips the s3://bucket/ part of a reference.
func extractKey(reference string) string {
	rest, ok := strings.CutPrefix(reference, "s3://")
	if !ok {
		return reference
	}
	if _, key, found := strings.Cut(rest, "/"); found {
		return key
	}
	return rest
}

// LocalArchive keeps snapshots on the local filesystem (for development/single-node)
type LocalArchive struct {
	basePath string
}

func NewLocalArchive(basePath string) (*LocalArchive, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return &LocalArchive{basePath: basePath}, nil
}

func (l *LocalArchive) Store(_ context.Context, name string, data []byte) (string, error) {
	path := filepath.Join(l.basePath, name+".log")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write archive: %w", err)
	}
	return path, nil
}

func (l *LocalArchive) Retrieve(_ context.Context, reference string) ([]byte, error) {
	return os.ReadFile(reference)
}
