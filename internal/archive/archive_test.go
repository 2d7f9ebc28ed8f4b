package archive

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lehigh-university-libraries/annotator/internal/models"
)

type fakeS3 struct {
	bucketExists bool
	created      *s3.CreateBucketInput
	put          *s3.PutObjectInput
	body         []byte
	putErr       error
}

func (f *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	f.put = params
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.body = body
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if f.bucketExists {
		return &s3.HeadBucketOutput{}, nil
	}
	return nil, errors.New("not found")
}

func (f *fakeS3) CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	f.created = params
	return &s3.CreateBucketOutput{}, nil
}

func TestArchive(t *testing.T) {
	fake := &fakeS3{}
	a := &S3Archiver{client: fake, bucket: "images", prefix: "annotated/"}
	record := &models.ImageRecord{ID: "rec-1", ImagePath: "uploads/0cc175b9.png"}
	data := []byte("\x89PNG\r\n\x1a\nrest")

	require.NoError(t, a.Archive(context.Background(), record, data))
	require.NotNil(t, fake.put)
	assert.Equal(t, "annotated/0cc175b9.png", *fake.put.Key)
	assert.Equal(t, "images", *fake.put.Bucket)
	assert.Equal(t, "image/png", *fake.put.ContentType)
	assert.Equal(t, int64(len(data)), *fake.put.ContentLength)
	assert.Equal(t, "rec-1", fake.put.Metadata["record-id"])
	assert.Equal(t, data, fake.body)
}

func TestArchiveError(t *testing.T) {
	a := &S3Archiver{client: &fakeS3{putErr: errors.New("denied")}, bucket: "images"}
	err := a.Archive(context.Background(), &models.ImageRecord{ImagePath: "x.jpg"}, []byte("x"))
	assert.Error(t, err)
}

func TestEnsureBucketExists(t *testing.T) {
	existing := &fakeS3{bucketExists: true}
	a := &S3Archiver{client: existing, bucket: "images", region: "eu-west-1"}
	require.NoError(t, a.ensureBucketExists(context.Background()))
	assert.Nil(t, existing.created)

	missing := &fakeS3{}
	a = &S3Archiver{client: missing, bucket: "images", region: "eu-west-1"}
	require.NoError(t, a.ensureBucketExists(context.Background()))
	require.NotNil(t, missing.created)
	assert.Equal(t, "eu-west-1", string(missing.created.CreateBucketConfiguration.LocationConstraint))

	useast := &fakeS3{}
	a = &S3Archiver{client: useast, bucket: "images", region: "us-east-1"}
	require.NoError(t, a.ensureBucketExists(context.Background()))
	assert.Nil(t, useast.created.CreateBucketConfiguration)
}
