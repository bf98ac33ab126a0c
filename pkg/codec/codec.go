package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"
	"golang.org/x/crypto/pbkdf2"

	"github.com/beam-cloud/solid/pkg/common"
)

const (
	KeyLength               = 32
	DefaultKDFIterations    = 100_000
	defaultDecoderMaxMemory = 256 << 20
	discardBufferSize       = 64 << 10
)

// Decoder turns the packed bytes of a single folder into its decoded bytes.
type Decoder interface {
	io.Reader

	// Discard decodes and drops the next n bytes.
	Discard(n int64) (int64, error)
	Close() error
}

type options struct {
	key       []byte
	iv        [16]byte
	maxMemory uint64
	lowMemory bool
}

type Option func(*options)

// WithKey decrypts packed bytes with AES-256-CTR before decompression.
func WithKey(key []byte, iv [16]byte) Option {
	return func(o *options) {
		o.key = key
		o.iv = iv
	}
}

func WithMaxMemory(bytes uint64) Option {
	return func(o *options) {
		o.maxMemory = bytes
	}
}

func WithLowMemory(enabled bool) Option {
	return func(o *options) {
		o.lowMemory = enabled
	}
}

// NewDecoder builds the decoder for method reading packed bytes from packed.
// packed must yield the folder's bytes in order starting at its first byte.
func NewDecoder(method common.Method, packed io.Reader, opts ...Option) (Decoder, error) {
	o := options{maxMemory: defaultDecoderMaxMemory}
	for _, opt := range opts {
		opt(&o)
	}

	if o.key != nil {
		r, err := decryptingReader(packed, o.key, o.iv)
		if err != nil {
			return nil, err
		}
		packed = r
	}

	var (
		r      io.Reader
		closer func() error
	)

	switch method {
	case common.MethodCopy:
		r = packed
	case common.MethodFlate:
		fr := flate.NewReader(packed)
		r, closer = fr, fr.Close
	case common.MethodZstd:
		zr, err := zstd.NewReader(packed,
			zstd.WithDecoderConcurrency(1),
			zstd.WithDecoderLowmem(o.lowMemory),
			zstd.WithDecoderMaxMemory(o.maxMemory),
		)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrDecompression, err)
		}
		r = zr
		closer = func() error {
			zr.Close()
			return nil
		}
	case common.MethodXZ:
		xr, err := xz.NewReader(packed)
		if err != nil {
			return nil, wrapDecodeError(err)
		}
		r = xr
	case common.MethodLZMA2:
		lr, err := lzma.NewReader2(packed)
		if err != nil {
			return nil, wrapDecodeError(err)
		}
		r = lr
	case common.MethodS2:
		r = s2.NewReader(packed)
	default:
		return nil, fmt.Errorf("%w: %d", common.ErrUnsupportedMethod, method)
	}

	return &decoder{r: r, closer: closer}, nil
}

type decoder struct {
	r      io.Reader
	closer func() error
	buf    []byte
	closed bool
}

func (d *decoder) Read(p []byte) (int, error) {
	if d.closed {
		return 0, common.ErrStreamClosed
	}

	n, err := d.r.Read(p)
	if err != nil && err != io.EOF {
		return n, wrapDecodeError(err)
	}
	return n, err
}

func (d *decoder) Discard(n int64) (int64, error) {
	if d.buf == nil {
		d.buf = make([]byte, discardBufferSize)
	}

	var discarded int64
	for discarded < n {
		want := n - discarded
		if want > int64(len(d.buf)) {
			want = int64(len(d.buf))
		}

		read, err := d.Read(d.buf[:want])
		discarded += int64(read)
		if err == io.EOF {
			if discarded < n {
				return discarded, fmt.Errorf("%w: folder ended after %d of %d bytes", common.ErrDecompression, discarded, n)
			}
			break
		}
		if err != nil {
			return discarded, err
		}
	}

	return discarded, nil
}

func (d *decoder) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	d.buf = nil

	if d.closer != nil {
		return d.closer()
	}
	return nil
}

func wrapDecodeError(err error) error {
	if errors.Is(err, common.ErrIO) || errors.Is(err, common.ErrDecompression) {
		return err
	}
	return fmt.Errorf("%w: %v", common.ErrDecompression, err)
}

func decryptingReader(r io.Reader, key []byte, iv [16]byte) (io.Reader, error) {
	if len(key) != KeyLength {
		return nil, fmt.Errorf("%w: key must be %d bytes", common.ErrUnsupportedEncryption, KeyLength)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrUnsupportedEncryption, err)
	}

	return &cipher.StreamReader{S: cipher.NewCTR(block, iv[:]), R: r}, nil
}

// DeriveKey stretches a password into an AES-256 key.
func DeriveKey(password string, salt []byte, iterations int) []byte {
	return pbkdf2.Key([]byte(password), salt, iterations, KeyLength, sha256.New)
}

// KeyCheck returns the short fingerprint stored in the archive header to
// detect a wrong password before any folder is decoded.
func KeyCheck(key []byte) [4]byte {
	sum := sha256.Sum256(key)
	var check [4]byte
	copy(check[:], sum[:4])
	return check
}
