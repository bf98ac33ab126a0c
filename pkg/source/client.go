package source

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/beam-cloud/solid/pkg/common"
)

type S3ClientOpts struct {
	Region         string
	Endpoint       string
	AccessKey      string
	SecretKey      string
	ForcePathStyle bool
}

// NewS3Client builds an S3 client. Static credentials come from opts, then
// from AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY, then from the default chain.
func NewS3Client(ctx context.Context, opts S3ClientOpts) (*s3.Client, error) {
	accessKey := os.Getenv("AWS_ACCESS_KEY_ID")
	secretKey := os.Getenv("AWS_SECRET_ACCESS_KEY")

	if opts.AccessKey != "" && opts.SecretKey != "" {
		accessKey = opts.AccessKey
		secretKey = opts.SecretKey
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(opts.Region),
	}

	// Custom endpoints (minio, localstack) are IPv4 only in practice
	httpClient := &http.Client{}
	if opts.Endpoint == "" && common.IsIPv6Available() {
		httpClient.Transport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         common.DialContextIPv6,
			TLSHandshakeTimeout: 10 * time.Second,
		}
		loadOpts = append(loadOpts, config.WithUseDualStackEndpoint(aws.DualStackEndpointStateEnabled))
	}
	loadOpts = append(loadOpts, config.WithHTTPClient(httpClient))

	if accessKey != "" && secretKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		if opts.ForcePathStyle {
			o.UsePathStyle = true
		}
	}), nil
}
