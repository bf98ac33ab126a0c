package format_test

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beam-cloud/solid/pkg/common"
	"github.com/beam-cloud/solid/pkg/format"
	"github.com/beam-cloud/solid/pkg/testutil"
)

func TestHeaderRoundTrip(t *testing.T) {
	header := &format.Header{
		StartBytes:    format.StartBytes,
		FormatVersion: format.FormatVersion,
		PackPos:       format.HeaderLength,
		PackLength:    1024,
		IndexPos:      format.HeaderLength + 1024,
		IndexLength:   77,
		IndexCRC:      0xdeadbeef,
	}

	encoded, err := format.EncodeHeader(header)
	require.NoError(t, err)
	require.Len(t, encoded, format.HeaderLength)

	decoded, err := format.DecodeHeader(encoded)
	require.NoError(t, err)
	assert.Equal(t, header, decoded)
	assert.False(t, decoded.Encrypted())
}

func TestReadArchive(t *testing.T) {
	data, err := testutil.NewBuilder().
		AddFolder(common.MethodZstd,
			testutil.File{Name: "a.txt", Data: []byte("hello")},
			testutil.File{Name: "b.txt", Data: []byte("world")},
		).
		AddEmpty("empty").
		Build()
	require.NoError(t, err)

	header, index, err := format.ReadArchive(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	assert.Equal(t, int64(format.HeaderLength), header.PackPos)
	require.Len(t, index.Folders, 1)
	assert.Equal(t, int64(10), index.Folders[0].UnpackSize)
	require.Len(t, index.Files, 3)
	assert.Equal(t, "a.txt", index.Files[0].Name)
	assert.Equal(t, common.NoFolder, index.Files[2].Folder)
}

func TestReadArchiveMalformed(t *testing.T) {
	good, err := testutil.NewBuilder().
		AddFolder(common.MethodCopy, testutil.File{Name: "a", Data: []byte("abc")}).
		Build()
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{"truncated header", func(b []byte) []byte { return b[:10] }},
		{"bad start bytes", func(b []byte) []byte { b[1] = 'X'; return b }},
		{"unknown version", func(b []byte) []byte { b[8] = 9; return b }},
		{"index corrupted", func(b []byte) []byte { b[len(b)-3] ^= 0xFF; return b }},
		{"index truncated", func(b []byte) []byte { return b[:len(b)-5] }},
		{"index length overflows", withHeader(t, func(h *format.Header) { h.IndexLength = math.MaxInt64 - 10 })},
		{"index position past end", withHeader(t, func(h *format.Header) { h.IndexPos = math.MaxInt64 - 10 })},
		{"pack length overflows", withHeader(t, func(h *format.Header) { h.PackLength = math.MaxInt64 - 10 })},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.mutate(append([]byte(nil), good...))
			_, _, err := format.ReadArchive(bytes.NewReader(data), int64(len(data)))
			require.ErrorIs(t, err, common.ErrMalformedArchive)
		})
	}
}

// withHeader rewrites the encoded header in place.
func withHeader(t *testing.T, fn func(*format.Header)) func([]byte) []byte {
	return func(b []byte) []byte {
		header, err := format.DecodeHeader(b[:format.HeaderLength])
		require.NoError(t, err)

		fn(header)

		encoded, err := format.EncodeHeader(header)
		require.NoError(t, err)
		copy(b, encoded)
		return b
	}
}
