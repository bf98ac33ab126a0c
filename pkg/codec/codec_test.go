package codec_test

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beam-cloud/solid/pkg/codec"
	"github.com/beam-cloud/solid/pkg/common"
	"github.com/beam-cloud/solid/pkg/testutil"
)

var allMethods = []common.Method{
	common.MethodCopy,
	common.MethodFlate,
	common.MethodZstd,
	common.MethodXZ,
	common.MethodLZMA2,
	common.MethodS2,
}

func TestDecoderMethods(t *testing.T) {
	plain := testutil.TextBytes(300_000, 1)

	for _, method := range allMethods {
		t.Run(method.String(), func(t *testing.T) {
			packed, err := testutil.Compress(method, plain)
			require.NoError(t, err)

			dec, err := codec.NewDecoder(method, bytes.NewReader(packed))
			require.NoError(t, err)
			defer dec.Close()

			got, err := io.ReadAll(dec)
			require.NoError(t, err)
			assert.Equal(t, plain, got)
		})
	}
}

func TestDecoderDiscard(t *testing.T) {
	plain := testutil.RandomBytes(200_000, 2)
	packed, err := testutil.Compress(common.MethodZstd, plain)
	require.NoError(t, err)

	dec, err := codec.NewDecoder(common.MethodZstd, bytes.NewReader(packed), codec.WithLowMemory(true))
	require.NoError(t, err)
	defer dec.Close()

	n, err := dec.Discard(150_000)
	require.NoError(t, err)
	assert.Equal(t, int64(150_000), n)

	rest, err := io.ReadAll(dec)
	require.NoError(t, err)
	assert.Equal(t, plain[150_000:], rest)
}

func TestDecoderDiscardPastEnd(t *testing.T) {
	dec, err := codec.NewDecoder(common.MethodCopy, bytes.NewReader([]byte("short")))
	require.NoError(t, err)

	n, err := dec.Discard(10)
	assert.Equal(t, int64(5), n)
	assert.ErrorIs(t, err, common.ErrDecompression)
}

func TestDecoderCorruptInput(t *testing.T) {
	packed, err := testutil.Compress(common.MethodXZ, testutil.TextBytes(10_000, 3))
	require.NoError(t, err)
	packed = packed[:len(packed)/2]

	dec, err := codec.NewDecoder(common.MethodXZ, bytes.NewReader(packed))
	require.NoError(t, err)

	_, err = io.ReadAll(dec)
	assert.ErrorIs(t, err, common.ErrDecompression)
}

func TestDecoderUnknownMethod(t *testing.T) {
	_, err := codec.NewDecoder(common.Method(42), bytes.NewReader(nil))
	assert.ErrorIs(t, err, common.ErrUnsupportedMethod)
}

func TestDecoderWithKey(t *testing.T) {
	plain := testutil.TextBytes(50_000, 4)
	packed, err := testutil.Compress(common.MethodFlate, plain)
	require.NoError(t, err)

	salt := []byte("0123456789abcdef")
	key := codec.DeriveKey("hunter2", salt, 1000)
	require.Len(t, key, codec.KeyLength)
	assert.Equal(t, codec.KeyCheck(key), codec.KeyCheck(codec.DeriveKey("hunter2", salt, 1000)))
	assert.NotEqual(t, codec.KeyCheck(key), codec.KeyCheck(codec.DeriveKey("hunter3", salt, 1000)))

	var iv [16]byte
	iv[3] = 7
	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	encrypted := make([]byte, len(packed))
	cipher.NewCTR(block, iv[:]).XORKeyStream(encrypted, packed)

	dec, err := codec.NewDecoder(common.MethodFlate, bytes.NewReader(encrypted), codec.WithKey(key, iv))
	require.NoError(t, err)
	defer dec.Close()

	got, err := io.ReadAll(dec)
	require.NoError(t, err)
	assert.Equal(t, plain, got)
}

func TestDecoderCloseIsIdempotent(t *testing.T) {
	dec, err := codec.NewDecoder(common.MethodZstd, bytes.NewReader(nil))
	require.NoError(t, err)

	require.NoError(t, dec.Close())
	require.NoError(t, dec.Close())

	_, err = dec.Read(make([]byte, 1))
	assert.ErrorIs(t, err, common.ErrStreamClosed)
}
