package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUploader struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakeUploader) Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.input = input
	b, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	f.body = b
	return &manager.UploadOutput{Key: input.Key}, nil
}

func TestS3_Archive(t *testing.T) {
	local := filepath.Join(t.TempDir(), "a_s_1.mp4")
	require.NoError(t, os.WriteFile(local, []byte("recording"), 0o644))

	up := &fakeUploader{}
	s := newS3(up, S3Config{Region: "eu-west-1", Bucket: "archive"}, nil)

	key, err := s.Archive(context.Background(), local, "/recordings//act/a_s_1.mp4")
	require.NoError(t, err)
	assert.Equal(t, "recordings/act/a_s_1.mp4", key)
	assert.Equal(t, "archive", aws.ToString(up.input.Bucket))
	assert.Equal(t, "video/mp4", aws.ToString(up.input.ContentType))
	assert.Equal(t, int64(9), aws.ToInt64(up.input.ContentLength))
	assert.Equal(t, "recording", string(up.body))
	assert.Equal(t, "https://archive.s3.eu-west-1.amazonaws.com/recordings/act/a_s_1.mp4", s.ObjectURL(key))
}

func TestS3_ArchiveErrors(t *testing.T) {
	s := newS3(&fakeUploader{}, S3Config{Bucket: "archive"}, nil)
	_, err := s.Archive(context.Background(), filepath.Join(t.TempDir(), "missing.mp4"), "k")
	assert.ErrorContains(t, err, "open archive source")

	local := filepath.Join(t.TempDir(), "v.mp4")
	require.NoError(t, os.WriteFile(local, []byte("x"), 0o644))
	s = newS3(&fakeUploader{err: errors.New("access denied")}, S3Config{Bucket: "archive"}, nil)
	_, err = s.Archive(context.Background(), local, "k")
	assert.ErrorContains(t, err, "access denied")
}

func TestNewS3_RequiresBucket(t *testing.T) {
	_, err := NewS3(context.Background(), S3Config{Region: "us-east-1"}, nil)
	assert.Error(t, err)
}
