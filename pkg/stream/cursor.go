package stream

import (
	"context"
	"fmt"
	"hash"
	"hash/crc32"
	"io"

	"github.com/beam-cloud/solid/pkg/codec"
	"github.com/beam-cloud/solid/pkg/common"
)

// Cursor is the live decode state for one entry. It must not be shared.
type Cursor struct {
	entry     *common.FileEntry
	dec       codec.Decoder
	packed    *countingReader
	remaining int64
	discarded int64
	crc       hash.Hash32
	closed    bool
}

func newCursor(entry *common.FileEntry, dec codec.Decoder, packed *countingReader) *Cursor {
	return &Cursor{
		entry:     entry,
		dec:       dec,
		packed:    packed,
		remaining: entry.Size,
		crc:       crc32.NewIEEE(),
	}
}

func (c *Cursor) Entry() *common.FileEntry {
	return c.entry
}

// Remaining is the number of entry bytes not yet decoded.
func (c *Cursor) Remaining() int64 {
	return c.remaining
}

// Discarded is the number of bytes of preceding folder members decoded and
// dropped while positioning. Bytes of the entry itself are never counted.
func (c *Cursor) Discarded() int64 {
	return c.discarded
}

// PackedConsumed is the number of packed bytes fetched from the source so far.
func (c *Cursor) PackedConsumed() int64 {
	if c.packed == nil {
		return 0
	}
	return c.packed.n
}

// Checksum is the CRC32 of the entry bytes decoded so far.
func (c *Cursor) Checksum() uint32 {
	return c.crc.Sum32()
}

// read decodes up to len(p) entry bytes, never past the end of the entry.
func (c *Cursor) read(p []byte) (int, error) {
	if c.closed {
		return 0, common.ErrStreamClosed
	}
	if int64(len(p)) > c.remaining {
		p = p[:c.remaining]
	}
	if len(p) == 0 {
		return 0, nil
	}

	total := 0
	for total < len(p) {
		n, err := c.dec.Read(p[total:])
		total += n
		if err == io.EOF && total == len(p) {
			break
		}
		if err == io.EOF {
			c.fold(p[:total])
			return total, fmt.Errorf("%w: folder ended with %d bytes of %s outstanding",
				common.ErrDecompression, c.remaining, c.entry.Name)
		}
		if err != nil {
			c.fold(p[:total])
			return total, err
		}
	}

	c.fold(p)
	return total, nil
}

func (c *Cursor) fold(p []byte) {
	c.crc.Write(p)
	c.remaining -= int64(len(p))
}

// discard drops n bytes of a preceding folder member.
func (c *Cursor) discard(ctx context.Context, n int64) error {
	for n > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		step := n
		if step > discardStep {
			step = discardStep
		}

		dropped, err := c.dec.Discard(step)
		c.discarded += dropped
		metrics().RecordDiscarded(dropped)
		if err != nil {
			return err
		}
		n -= dropped
	}
	return nil
}

func (c *Cursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	if c.dec != nil {
		return c.dec.Close()
	}
	return nil
}

func metrics() *common.Metrics {
	return common.GetGlobalMetrics()
}
