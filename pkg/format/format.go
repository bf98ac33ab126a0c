package format

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"hash/crc32"
	"io"
	"io/fs"
	"time"

	"github.com/beam-cloud/solid/pkg/common"
)

var StartBytes = [8]byte{0x89, 'S', 'O', 'L', 'I', 'D', 0x0D, 0x0A}

const (
	FormatVersion uint8 = 1
	HeaderLength        = 72
)

// Header is the fixed-size little-endian record at offset zero of every archive.
type Header struct {
	StartBytes    [8]byte
	FormatVersion uint8
	Cipher        uint8
	Reserved      [2]byte
	PackPos       int64
	PackLength    int64
	IndexPos      int64
	IndexLength   int64
	IndexCRC      uint32
	KDFIterations uint32
	Salt          [16]byte
	KeyCheck      [4]byte
}

// Encrypted returns true if folder packed bytes need a key to decode.
func (h *Header) Encrypted() bool {
	return common.Cipher(h.Cipher) != common.CipherNone
}

type FolderInfo struct {
	Method     common.Method
	PackOffset int64 // Relative to Header.PackPos
	PackSize   int64
	UnpackSize int64
	IV         [16]byte
}

type FileInfo struct {
	Name    string
	Size    int64
	CRC32   uint32
	Folder  int // Index into Index.Folders, or common.NoFolder
	Mode    fs.FileMode
	ModTime time.Time
}

// Index lists folders and files. Members of a folder are decoded in the
// order they appear in Files.
type Index struct {
	Folders []FolderInfo
	Files   []FileInfo
}

func EncodeHeader(header *Header) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DecodeHeader(headerBytes []byte) (*Header, error) {
	if len(headerBytes) < HeaderLength {
		return nil, fmt.Errorf("%w: short header (%d bytes)", common.ErrMalformedArchive, len(headerBytes))
	}

	header := new(Header)
	if err := binary.Read(bytes.NewReader(headerBytes[:HeaderLength]), binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrMalformedArchive, err)
	}

	if header.StartBytes != StartBytes {
		return nil, fmt.Errorf("%w: bad start bytes", common.ErrMalformedArchive)
	}

	if header.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("%w: unknown format version %d", common.ErrMalformedArchive, header.FormatVersion)
	}

	return header, nil
}

func EncodeIndex(index *Index) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(index); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DecodeIndex(indexBytes []byte) (*Index, error) {
	index := new(Index)
	if err := gob.NewDecoder(bytes.NewReader(indexBytes)).Decode(index); err != nil {
		return nil, fmt.Errorf("%w: error decoding index: %v", common.ErrMalformedArchive, err)
	}
	return index, nil
}

// ReadArchive reads the header and index of an archive of the given size.
// Only the header and the index byte ranges are read.
func ReadArchive(r io.ReaderAt, size int64) (*Header, *Index, error) {
	headerBytes := make([]byte, HeaderLength)
	if n, err := r.ReadAt(headerBytes, 0); n < HeaderLength {
		if err == nil || err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, nil, fmt.Errorf("%w: truncated header", common.ErrMalformedArchive)
		}
		return nil, nil, fmt.Errorf("%w: reading header: %v", common.ErrIO, err)
	}

	header, err := DecodeHeader(headerBytes)
	if err != nil {
		return nil, nil, err
	}

	if header.PackPos < HeaderLength || header.PackPos > size || header.PackLength < 0 ||
		header.PackLength > size-header.PackPos {
		return nil, nil, fmt.Errorf("%w: packed stream out of bounds", common.ErrMalformedArchive)
	}

	if header.IndexPos < HeaderLength || header.IndexPos > size || header.IndexLength <= 0 ||
		header.IndexLength > size-header.IndexPos {
		return nil, nil, fmt.Errorf("%w: index out of bounds", common.ErrMalformedArchive)
	}

	indexBytes := make([]byte, header.IndexLength)
	if n, err := r.ReadAt(indexBytes, header.IndexPos); n < len(indexBytes) {
		return nil, nil, fmt.Errorf("%w: reading index: %v", common.ErrIO, err)
	}

	if crc32.ChecksumIEEE(indexBytes) != header.IndexCRC {
		return nil, nil, fmt.Errorf("%w: index checksum mismatch", common.ErrMalformedArchive)
	}

	index, err := DecodeIndex(indexBytes)
	if err != nil {
		return nil, nil, err
	}

	return header, index, nil
}
