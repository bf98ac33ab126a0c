package common

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedArchive      = errors.New("malformed archive")
	ErrUnsupportedEncryption = errors.New("unsupported encryption")
	ErrInvalidPassword       = errors.New("invalid password")
	ErrUnsupportedMethod     = errors.New("unsupported compression method")
	ErrNotFound              = errors.New("file not found in archive")
	ErrCatalogInconsistency  = errors.New("catalog inconsistency")
	ErrChecksumMismatch      = errors.New("crc32 mismatch")
	ErrDecompression         = errors.New("decompression failed")
	ErrIO                    = errors.New("byte source i/o failure")
	ErrStreamStarted         = errors.New("stream already started")
	ErrStreamClosed          = errors.New("stream closed")
	ErrUnsupportedEncoding   = errors.New("unsupported output encoding")
	ErrInvalidTarget         = errors.New("invalid output target")
)

// ChecksumMismatchError is returned when a fully decoded entry does not
// match the CRC32 recorded in the archive index.
type ChecksumMismatchError struct {
	Name     string
	Expected uint32
	Computed uint32
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("calculated checksum was incorrect for %s: expected %08x, computed %08x", e.Name, e.Expected, e.Computed)
}

func (e *ChecksumMismatchError) Is(target error) bool {
	return target == ErrChecksumMismatch
}
