package source

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/beam-cloud/solid/pkg/common"
)

// Source is random-access storage holding an archive's bytes.
type Source interface {
	io.ReaderAt
	Size() int64
}

// Close releases src if it holds resources.
func Close(src Source) error {
	if c, ok := src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// ParseS3URI splits s3://bucket/key into its parts.
func ParseS3URI(uri string) (bucket string, key string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", err
	}

	if u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("not an s3 uri: %q", uri)
	}

	key = strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", fmt.Errorf("s3 uri has no key: %q", uri)
	}

	return u.Host, key, nil
}

func wrapIOError(err error) error {
	if err == nil || err == io.EOF || errors.Is(err, common.ErrIO) {
		return err
	}
	return fmt.Errorf("%w: %v", common.ErrIO, err)
}

func metrics() *common.Metrics {
	return common.GetGlobalMetrics()
}
