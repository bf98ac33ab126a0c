package common

import (
	"io/fs"
	"time"
)

// NoFolder marks a file entry that has no packed data.
const NoFolder = -1

// FolderRecord describes one solid block inside the packed stream.
type FolderRecord struct {
	Index      int
	Method     Method
	PackOffset int64 // Offset of the folder relative to the start of the packed stream
	PackSize   int64 // Number of packed bytes belonging to the folder
	UnpackSize int64 // Total decoded length of the folder
	IV         [16]byte

	// Files are the folder members in decode order.
	Files []*FileEntry
}

// Position returns the index of entry within the folder's decode order, or -1.
func (f *FolderRecord) Position(entry *FileEntry) int {
	for i, member := range f.Files {
		if member == entry {
			return i
		}
	}
	return -1
}

// End returns the first packed offset after the folder.
func (f *FolderRecord) End() int64 {
	return f.PackOffset + f.PackSize
}

// FileEntry is one logical file in the archive.
type FileEntry struct {
	Name    string
	Size    int64
	CRC32   uint32
	Mode    fs.FileMode
	ModTime time.Time

	// Folder is the owning folder, nil for entries without packed data.
	Folder *FolderRecord
}

// IsEmpty returns true if the entry has no decoded bytes.
func (e *FileEntry) IsEmpty() bool {
	return e.Size == 0
}

// Method identifies the coder used for a folder's packed bytes.
type Method uint8

const (
	MethodCopy Method = iota
	MethodFlate
	MethodZstd
	MethodXZ
	MethodLZMA2
	MethodS2
)

func (m Method) String() string {
	switch m {
	case MethodCopy:
		return "copy"
	case MethodFlate:
		return "flate"
	case MethodZstd:
		return "zstd"
	case MethodXZ:
		return "xz"
	case MethodLZMA2:
		return "lzma2"
	case MethodS2:
		return "s2"
	default:
		return "unknown"
	}
}

// Valid returns true if the method is known to this version of the format.
func (m Method) Valid() bool {
	return m <= MethodS2
}

// Cipher identifies how folder packed bytes are encrypted.
type Cipher uint8

const (
	CipherNone Cipher = iota
	CipherAES256CTR
)

func (c Cipher) String() string {
	switch c {
	case CipherNone:
		return "none"
	case CipherAES256CTR:
		return "aes256-ctr"
	default:
		return "unknown"
	}
}

type StorageMode string

const (
	StorageModeLocal StorageMode = "local"
	StorageModeS3    StorageMode = "s3"
	StorageModeHTTP  StorageMode = "http"
)
