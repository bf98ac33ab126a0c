package source

import (
	"fmt"
	"os"
)

type File struct {
	f    *os.File
	size int64
	path string
}

func NewFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, wrapIOError(fmt.Errorf("failed to open archive <%s>: %v", path, err))
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, wrapIOError(err)
	}

	return &File{f: f, size: fi.Size(), path: path}, nil
}

func (s *File) ReadAt(p []byte, off int64) (int, error) {
	n, err := s.f.ReadAt(p, off)
	return n, wrapIOError(err)
}

func (s *File) Size() int64 {
	return s.size
}

func (s *File) String() string {
	return s.path
}

func (s *File) Close() error {
	return s.f.Close()
}
