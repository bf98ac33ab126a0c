// Package testutil writes small archives for tests. The library itself
// never compresses; this is the only encoder in the module.
package testutil

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"hash/crc32"
	"io"
	mrand "math/rand"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"

	"github.com/beam-cloud/solid/pkg/codec"
	"github.com/beam-cloud/solid/pkg/common"
	"github.com/beam-cloud/solid/pkg/format"
)

type File struct {
	Name string
	Data []byte

	// BadCRC records a checksum that will not match Data.
	BadCRC bool
}

type folderSpec struct {
	method common.Method
	files  []File
}

type Builder struct {
	folders    []folderSpec
	empties    []string
	password   string
	iterations int
	mutate     func(*format.Header, *format.Index)
	modTime    time.Time
}

func NewBuilder() *Builder {
	return &Builder{modTime: time.Unix(1700000000, 0).UTC()}
}

// AddFolder appends a folder whose members are decoded in the given order.
func (b *Builder) AddFolder(method common.Method, files ...File) *Builder {
	b.folders = append(b.folders, folderSpec{method: method, files: files})
	return b
}

// AddEmpty appends a zero-length file that belongs to no folder.
func (b *Builder) AddEmpty(name string) *Builder {
	b.empties = append(b.empties, name)
	return b
}

func (b *Builder) WithPassword(password string, iterations int) *Builder {
	b.password = password
	b.iterations = iterations
	return b
}

// Mutate runs fn on the header and index right before they are encoded.
func (b *Builder) Mutate(fn func(*format.Header, *format.Index)) *Builder {
	b.mutate = fn
	return b
}

func (b *Builder) Build() ([]byte, error) {
	header := &format.Header{
		StartBytes:    format.StartBytes,
		FormatVersion: format.FormatVersion,
		PackPos:       format.HeaderLength,
	}

	var key []byte
	if b.password != "" {
		header.Cipher = uint8(common.CipherAES256CTR)
		header.KDFIterations = uint32(b.iterations)
		if _, err := rand.Read(header.Salt[:]); err != nil {
			return nil, err
		}
		key = codec.DeriveKey(b.password, header.Salt[:], b.iterations)
		header.KeyCheck = codec.KeyCheck(key)
	}

	index := &format.Index{}
	var pack bytes.Buffer

	for i, folder := range b.folders {
		var plain bytes.Buffer
		for _, f := range folder.files {
			plain.Write(f.Data)

			checksum := crc32.ChecksumIEEE(f.Data)
			if f.BadCRC {
				checksum ^= 0xFFFFFFFF
			}

			index.Files = append(index.Files, format.FileInfo{
				Name:    f.Name,
				Size:    int64(len(f.Data)),
				CRC32:   checksum,
				Folder:  i,
				Mode:    0644,
				ModTime: b.modTime,
			})
		}

		packed, err := Compress(folder.method, plain.Bytes())
		if err != nil {
			return nil, err
		}

		info := format.FolderInfo{
			Method:     folder.method,
			PackOffset: int64(pack.Len()),
			PackSize:   int64(len(packed)),
			UnpackSize: int64(plain.Len()),
		}

		if key != nil {
			if _, err := rand.Read(info.IV[:]); err != nil {
				return nil, err
			}
			packed, err = encrypt(packed, key, info.IV)
			if err != nil {
				return nil, err
			}
		}

		pack.Write(packed)
		index.Folders = append(index.Folders, info)
	}

	for _, name := range b.empties {
		index.Files = append(index.Files, format.FileInfo{
			Name:    name,
			Folder:  common.NoFolder,
			Mode:    0644,
			ModTime: b.modTime,
		})
	}

	header.PackLength = int64(pack.Len())
	header.IndexPos = header.PackPos + header.PackLength

	if b.mutate != nil {
		b.mutate(header, index)
	}

	indexBytes, err := format.EncodeIndex(index)
	if err != nil {
		return nil, err
	}
	header.IndexLength = int64(len(indexBytes))
	header.IndexCRC = crc32.ChecksumIEEE(indexBytes)

	headerBytes, err := format.EncodeHeader(header)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(headerBytes)+pack.Len()+len(indexBytes))
	out = append(out, headerBytes...)
	out = append(out, pack.Bytes()...)
	out = append(out, indexBytes...)
	return out, nil
}

// Compress encodes data with the folder coder for method.
func Compress(method common.Method, data []byte) ([]byte, error) {
	var buf bytes.Buffer
	var w io.WriteCloser

	switch method {
	case common.MethodCopy:
		return append([]byte(nil), data...), nil
	case common.MethodFlate:
		fw, err := flate.NewWriter(&buf, flate.BestSpeed)
		if err != nil {
			return nil, err
		}
		w = fw
	case common.MethodZstd:
		zw, err := zstd.NewWriter(&buf)
		if err != nil {
			return nil, err
		}
		w = zw
	case common.MethodXZ:
		xw, err := xz.NewWriter(&buf)
		if err != nil {
			return nil, err
		}
		w = xw
	case common.MethodLZMA2:
		lw, err := lzma.NewWriter2(&buf)
		if err != nil {
			return nil, err
		}
		w = lw
	case common.MethodS2:
		w = s2.NewWriter(&buf)
	default:
		return nil, fmt.Errorf("no encoder for method %d", method)
	}

	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encrypt(data, key []byte, iv [16]byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	cipher.NewCTR(block, iv[:]).XORKeyStream(out, data)
	return out, nil
}

// RandomBytes returns n pseudo-random bytes that are stable for a given seed.
func RandomBytes(n int, seed int64) []byte {
	data := make([]byte, n)
	mrand.New(mrand.NewSource(seed)).Read(data)
	return data
}

// TextBytes returns n bytes of compressible text.
func TextBytes(n int, seed int64) []byte {
	words := []string{"solid ", "folder ", "entry ", "stream ", "archive ", "decode ", "\n"}
	rng := mrand.New(mrand.NewSource(seed))

	var buf bytes.Buffer
	for buf.Len() < n {
		buf.WriteString(words[rng.Intn(len(words))])
	}
	return buf.Bytes()[:n]
}

// MemorySource is an in-memory io.ReaderAt with a size, used as an archive source.
type MemorySource struct {
	*bytes.Reader
}

func NewMemorySource(data []byte) *MemorySource {
	return &MemorySource{Reader: bytes.NewReader(data)}
}
