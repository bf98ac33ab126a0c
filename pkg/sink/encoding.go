package sink

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"

	"github.com/beam-cloud/solid/pkg/common"
)

type Kind int

const (
	None Kind = iota
	Gzip
	Zstd
	Unsupported
)

func (k Kind) String() string {
	switch k {
	case None:
		return "none"
	case Gzip:
		return "gzip"
	case Zstd:
		return "zstd"
	default:
		return "unsupported"
	}
}

// Encoding is how decoded bytes are re-compressed on the way to a target.
type Encoding struct {
	Kind   Kind
	Reason string
}

var unsupportedExtensions = map[string]string{
	".bz2": "bzip2 output is not supported",
	".xz":  "xz output is not supported",
	".lz4": "lz4 output is not supported",
	".7z":  "writing 7z archives is not supported",
}

// EncodingFor picks the output encoding from the target's extension.
func EncodingFor(target string) Encoding {
	ext := strings.ToLower(filepath.Ext(target))

	switch ext {
	case ".gz", ".gzip":
		return Encoding{Kind: Gzip}
	case ".zst", ".zstd":
		return Encoding{Kind: Zstd}
	}

	if reason, ok := unsupportedExtensions[ext]; ok {
		return Encoding{Kind: Unsupported, Reason: reason}
	}

	return Encoding{Kind: None}
}

// Wrap returns a writer that encodes into w. Closing it flushes the encoder
// and then closes w.
func (e Encoding) Wrap(w io.WriteCloser) (io.WriteCloser, error) {
	switch e.Kind {
	case None:
		return w, nil
	case Gzip:
		return &encodingWriter{enc: pgzip.NewWriter(w), dst: w}, nil
	case Zstd:
		enc, err := zstd.NewWriter(w)
		if err != nil {
			return nil, err
		}
		return &encodingWriter{enc: enc, dst: w}, nil
	default:
		return nil, fmt.Errorf("%w: %s", common.ErrUnsupportedEncoding, e.Reason)
	}
}

type encodingWriter struct {
	enc io.WriteCloser
	dst io.WriteCloser
}

func (w *encodingWriter) Write(p []byte) (int, error) {
	return w.enc.Write(p)
}

func (w *encodingWriter) Close() error {
	encErr := w.enc.Close()
	dstErr := w.dst.Close()
	if encErr != nil {
		return encErr
	}
	return dstErr
}
