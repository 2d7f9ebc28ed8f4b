package archive

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/lehigh-university-libraries/annotator/internal/config"
	"github.com/lehigh-university-libraries/annotator/internal/models"
)

// Archiver mirrors annotated images to durable storage
type Archiver interface {
	Archive(ctx context.Context, record *models.ImageRecord, data []byte) error
}

type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// S3Archiver uploads the embedded image file under prefix/<file name>
type S3Archiver struct {
	client s3API
	bucket string
	region string
	prefix string
}

// NewS3 creates an archiver. A custom endpoint (MinIO, localstack) uses path-style addressing.
func NewS3(ctx context.Context, cfg config.ArchiveConfig) (*S3Archiver, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	a := &S3Archiver{client: client, bucket: cfg.Bucket, region: cfg.Region, prefix: cfg.Prefix}
	if err := a.ensureBucketExists(ctx); err != nil {
		slog.Warn("Failed to ensure bucket exists", "bucket", cfg.Bucket, "err", err)
	}
	return a, nil
}

func (a *S3Archiver) ensureBucketExists(ctx context.Context) error {
	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(a.bucket),
	})
	if err == nil {
		slog.Info("Bucket already exists", "bucket", a.bucket)
		return nil
	}

	slog.Info("Creating bucket", "bucket", a.bucket)
	input := &s3.CreateBucketInput{Bucket: aws.String(a.bucket)}
	// us-east-1 rejects an explicit location constraint
	if a.region != "" && a.region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(a.region),
		}
	}
	if _, err := a.client.CreateBucket(ctx, input); err != nil {
		return err
	}
	slog.Info("Bucket created successfully", "bucket", a.bucket)
	return nil
}

// Key returns the object key for a record
func (a *S3Archiver) Key(record *models.ImageRecord) string {
	return path.Join(a.prefix, filepath.Base(record.ImagePath))
}

func (a *S3Archiver) Archive(ctx context.Context, record *models.ImageRecord, data []byte) error {
	key := a.Key(record)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(http.DetectContentType(data)),
		ContentLength: aws.Int64(int64(len(data))),
		Metadata: map[string]string{
			"record-id": record.ID,
		},
	})
	if err != nil {
		slog.Error("Failed to upload file to S3", "key", key, "err", err)
		return fmt.Errorf("failed to archive %s: %w", key, err)
	}

	slog.Info("File uploaded to S3", "key", key, "size", len(data))
	return nil
}
