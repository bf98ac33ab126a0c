//go:build integration

package solid

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/beam-cloud/solid/pkg/source"
)

func TestLocalstackArchive(t *testing.T) {
	ctx := context.Background()

	req := tc.ContainerRequest{
		Image:        "localstack/localstack:3",
		ExposedPorts: []string{"4566/tcp"},
		WaitingFor:   wait.ForListeningPort("4566/tcp").WithStartupTimeout(2 * time.Minute),
	}
	localstackContainer, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "Failed to start localstack container")
	defer func() {
		if err := localstackContainer.Terminate(ctx); err != nil {
			t.Fatalf("Failed to terminate localstack container: %s", err)
		}
	}()

	hostPort, err := localstackContainer.MappedPort(ctx, "4566/tcp")
	require.NoError(t, err)
	hostIP, err := localstackContainer.Host(ctx)
	require.NoError(t, err)

	clientOpts := source.S3ClientOpts{
		Region:         "us-east-1",
		Endpoint:       "http://" + hostIP + ":" + hostPort.Port(),
		AccessKey:      "test",
		SecretKey:      "test",
		ForcePathStyle: true,
	}

	client, err := source.NewS3Client(ctx, clientOpts)
	require.NoError(t, err)

	for _, bucket := range []string{"archives", "output"} {
		_, err = client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)})
		require.NoError(t, err)
	}

	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String("archives"),
		Key:    aws.String("archive.solid"),
		Body:   bytes.NewReader(buildArchive(t)),
	})
	require.NoError(t, err)

	a, err := Open(ctx, OpenOptions{
		Bucket:    "archives",
		Key:       "archive.solid",
		S3:        clientOpts,
		CachePath: filepath.Join(t.TempDir(), "archive.cache"),
	})
	require.NoError(t, err)
	defer a.Close()

	var buf bytes.Buffer
	_, err = a.ExtractTo(ctx, "data/blob.bin", &buf)
	require.NoError(t, err)
	assert.Equal(t, dataBin, buf.Bytes())

	summary, err := a.ExtractAll(ctx, "s3://output/extracted")
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Extracted)
}
