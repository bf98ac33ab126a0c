package sink

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	"github.com/beam-cloud/solid/pkg/source"
)

type S3Opts struct {
	source.S3ClientOpts
	Bucket string

	// Prefix is joined in front of every target key.
	Prefix      string
	Concurrency int

	// Client overrides the client built from S3ClientOpts.
	Client *s3.Client
}

// S3Destination streams each target to an object as it is written.
type S3Destination struct {
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

func S3(ctx context.Context, opts S3Opts) (*S3Destination, error) {
	svc := opts.Client
	if svc == nil {
		var err error
		svc, err = source.NewS3Client(ctx, opts.S3ClientOpts)
		if err != nil {
			return nil, err
		}
	}

	if opts.Concurrency <= 0 {
		opts.Concurrency = 16
	}

	uploader := manager.NewUploader(svc, func(u *manager.Uploader) {
		u.Concurrency = opts.Concurrency
	})

	return &S3Destination{
		uploader: uploader,
		bucket:   opts.Bucket,
		prefix:   opts.Prefix,
	}, nil
}

func (d *S3Destination) Key(target string) string {
	if d.prefix == "" {
		return target
	}
	return path.Join(d.prefix, target)
}

// Open starts an upload fed through a pipe. The object is committed when
// the returned writer is closed.
func (d *S3Destination) Open(ctx context.Context, target string) (io.WriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	w := &uploadWriter{pw: pw, done: make(chan error, 1)}
	key := d.Key(target)

	go func() {
		_, err := d.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(d.bucket),
			Key:    aws.String(key),
			Body:   pr,
		})
		if err != nil {
			err = fmt.Errorf("failed to upload <s3://%s/%s>: %v", d.bucket, key, err)
			pr.CloseWithError(err)
		} else {
			log.Debug().Str("bucket", d.bucket).Str("key", key).Msg("upload complete")
		}
		w.done <- err
	}()

	return w, nil
}

type uploadWriter struct {
	pw     *io.PipeWriter
	done   chan error
	closed bool
	err    error
}

func (w *uploadWriter) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

func (w *uploadWriter) Close() error {
	if w.closed {
		return w.err
	}
	w.closed = true

	w.pw.Close()
	w.err = <-w.done
	return w.err
}
