package stream

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"

	"github.com/beam-cloud/solid/pkg/catalog"
	"github.com/beam-cloud/solid/pkg/codec"
	"github.com/beam-cloud/solid/pkg/common"
)

const (
	DefaultReadBufferSize = 1 << 20
	discardStep           = 4 << 20
)

type PositionOpts struct {
	// ReadBufferSize bounds how far ahead of the decoder packed bytes are fetched.
	ReadBufferSize int
	MaxMemory      uint64
	LowMemory      bool
}

// Position builds a cursor primed at the first decoded byte of entry. Every
// member of the folder listed before entry is decoded and discarded; nothing
// of entry itself is decoded. Zero-length entries get a cursor that never
// touches the byte source.
func Position(ctx context.Context, cat *catalog.Catalog, entry *common.FileEntry, opts PositionOpts) (*Cursor, error) {
	if entry.IsEmpty() {
		return newCursor(entry, nil, nil), nil
	}

	folder := entry.Folder
	if folder == nil {
		return nil, fmt.Errorf("%w: %s has no folder", common.ErrCatalogInconsistency, entry.Name)
	}

	position := folder.Position(entry)
	if position < 0 {
		return nil, fmt.Errorf("%w: %s is not a member of folder %d", common.ErrCatalogInconsistency, entry.Name, folder.Index)
	}

	if opts.ReadBufferSize <= 0 {
		opts.ReadBufferSize = DefaultReadBufferSize
	}

	// Each cursor gets its own section so concurrent streams never share a position
	section := io.NewSectionReader(cat.Source(), cat.FolderStart(folder), folder.PackSize)
	packed := &countingReader{r: section}

	decoderOpts := []codec.Option{
		codec.WithLowMemory(opts.LowMemory),
	}
	if opts.MaxMemory > 0 {
		decoderOpts = append(decoderOpts, codec.WithMaxMemory(opts.MaxMemory))
	}
	if key := cat.Key(); key != nil {
		decoderOpts = append(decoderOpts, codec.WithKey(key, folder.IV))
	}

	dec, err := codec.NewDecoder(folder.Method, bufio.NewReaderSize(packed, opts.ReadBufferSize), decoderOpts...)
	if err != nil {
		return nil, err
	}

	cursor := newCursor(entry, dec, packed)

	for _, prev := range folder.Files[:position] {
		if err := cursor.discard(ctx, prev.Size); err != nil {
			cursor.Close()
			return nil, err
		}
	}

	log.Debug().
		Str("name", entry.Name).
		Int("folder", folder.Index).
		Int("position", position).
		Int64("discarded", cursor.Discarded()).
		Msg("cursor positioned")

	return cursor, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.n += int64(n)
	return n, err
}
