package testutil

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"
	"github.com/stretchr/testify/require"
)

const (
	FakeS3Region    = "us-east-1"
	FakeS3AccessKey = "test-access-key"
	FakeS3SecretKey = "test-secret-key"
)

type FakeS3 struct {
	Endpoint string
	Client   *s3.Client
}

// NewFakeS3 starts an in-memory S3 server with the given buckets.
func NewFakeS3(t *testing.T, buckets ...string) *FakeS3 {
	t.Helper()

	backend := s3mem.New()
	server := gofakes3.New(backend)
	ts := httptest.NewServer(server.Server())
	t.Cleanup(ts.Close)

	client := s3.New(s3.Options{
		Region:       FakeS3Region,
		Credentials:  credentials.NewStaticCredentialsProvider(FakeS3AccessKey, FakeS3SecretKey, ""),
		BaseEndpoint: aws.String(ts.URL),
		UsePathStyle: true,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	for _, bucket := range buckets {
		_, err := client.CreateBucket(ctx, &s3.CreateBucketInput{
			Bucket: aws.String(bucket),
		})
		require.NoError(t, err)
	}

	return &FakeS3{Endpoint: ts.URL, Client: client}
}

func (f *FakeS3) Put(t *testing.T, bucket, key string, data []byte) {
	t.Helper()

	_, err := f.Client.PutObject(context.Background(), &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	require.NoError(t, err)
}

func (f *FakeS3) Get(t *testing.T, bucket, key string) []byte {
	t.Helper()

	resp, err := f.Client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return data
}
