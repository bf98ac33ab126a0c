package sink

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"time"

	"github.com/beam-cloud/solid/pkg/common"
	"github.com/beam-cloud/solid/pkg/source"
)

// Destination creates writers for extraction targets.
type Destination interface {
	Open(ctx context.Context, target string) (io.WriteCloser, error)
}

// MetadataSetter is implemented by destinations that can apply file mode
// and modification time after a target is written.
type MetadataSetter interface {
	SetMetadata(target string, mode fs.FileMode, modTime time.Time) error
}

// ForURL resolves an s3:// URL or a local path into a destination and the
// target name to open on it.
func ForURL(ctx context.Context, url string, opts source.S3ClientOpts) (Destination, string, error) {
	if !strings.HasPrefix(url, "s3://") {
		dest, err := Dir("")
		return dest, url, err
	}

	bucket, key, err := source.ParseS3URI(url)
	if err != nil {
		return nil, "", err
	}

	dest, err := S3(ctx, S3Opts{S3ClientOpts: opts, Bucket: bucket})
	if err != nil {
		return nil, "", err
	}
	return dest, key, nil
}

// ForDirURL resolves s3://bucket[/prefix] or a local directory into a
// destination that names targets relative to it.
func ForDirURL(ctx context.Context, url string, opts source.S3ClientOpts) (Destination, error) {
	if !strings.HasPrefix(url, "s3://") {
		return Dir(url)
	}

	bucket, prefix, _ := strings.Cut(strings.TrimPrefix(url, "s3://"), "/")
	if bucket == "" {
		return nil, fmt.Errorf("%w: no bucket in %q", common.ErrInvalidTarget, url)
	}

	return S3(ctx, S3Opts{S3ClientOpts: opts, Bucket: bucket, Prefix: strings.Trim(prefix, "/")})
}
