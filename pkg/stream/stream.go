package stream

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"

	"github.com/beam-cloud/solid/pkg/common"
	"github.com/beam-cloud/solid/pkg/progress"
)

const DefaultChunkSize = 4 << 20

type State int

const (
	Primed State = iota
	Streaming
	Completed
	ChecksumFailed
	Failed
)

func (s State) String() string {
	switch s {
	case Primed:
		return "primed"
	case Streaming:
		return "streaming"
	case Completed:
		return "completed"
	case ChecksumFailed:
		return "checksum_failed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal returns true once no more bytes will be produced.
func (s State) Terminal() bool {
	return s >= Completed
}

type Option func(*EntryStream)

func WithChunkSize(n int) Option {
	return func(s *EntryStream) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

// WithProgress calls fn after every chunk with a completion estimate.
func WithProgress(fn func(progress.Estimate)) Option {
	return func(s *EntryStream) {
		s.observer = fn
	}
}

// WithPackedReporting logs how far the packed source has been consumed
// after every chunk.
func WithPackedReporting(enabled bool) Option {
	return func(s *EntryStream) {
		s.reportPacked = enabled
	}
}

// EntryStream is a single-use, pull-based reader over one entry's decoded
// bytes. The entry's CRC32 is verified after the last byte is emitted.
type EntryStream struct {
	ctx          context.Context
	cursor       *Cursor
	entry        *common.FileEntry
	state        State
	err          error
	buf          []byte
	chunkSize    int
	emitted      int64
	skipped      int64
	observer     func(progress.Estimate)
	tracker      *progress.Tracker
	reportPacked bool
}

func New(ctx context.Context, cursor *Cursor, opts ...Option) *EntryStream {
	s := &EntryStream{
		ctx:       ctx,
		cursor:    cursor,
		entry:     cursor.Entry(),
		chunkSize: DefaultChunkSize,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.observer != nil {
		s.tracker = progress.NewTracker(s.entry.Size, nil)
	}

	return s
}

func (s *EntryStream) Entry() *common.FileEntry {
	return s.entry
}

func (s *EntryStream) State() State {
	return s.state
}

// Emitted is the number of bytes handed to the caller.
func (s *EntryStream) Emitted() int64 {
	return s.emitted
}

func (s *EntryStream) Remaining() int64 {
	return s.cursor.Remaining()
}

// Checksum is the running CRC32, including bytes skipped by StartAt.
func (s *EntryStream) Checksum() uint32 {
	return s.cursor.Checksum()
}

// Discarded is the number of bytes of preceding folder members decoded
// only to position the stream.
func (s *EntryStream) Discarded() int64 {
	return s.cursor.Discarded()
}

// Skipped is the number of leading entry bytes dropped by StartAt or
// SkipBytes. They are part of the checksum but were never emitted.
func (s *EntryStream) Skipped() int64 {
	return s.skipped
}

// Err returns the terminal error, if any.
func (s *EntryStream) Err() error {
	return s.err
}

// StartAt skips the leading fraction of the entry. The skipped bytes are
// still decoded and checksummed, they are just not emitted. Skipping costs
// two replays: positioning decodes the folder from its first byte up to the
// entry, then StartAt decodes the entry itself from its first byte up to the
// requested offset.
func (s *EntryStream) StartAt(fraction float64) error {
	if fraction < 0 || fraction > 1 {
		return fmt.Errorf("start fraction %v out of range [0, 1]", fraction)
	}
	return s.SkipBytes(int64(fraction * float64(s.entry.Size)))
}

// SkipBytes decodes and drops the next n bytes of the entry. Only valid
// before the first chunk is pulled.
func (s *EntryStream) SkipBytes(n int64) error {
	if s.state != Primed {
		return fmt.Errorf("%w: %s is %s", common.ErrStreamStarted, s.entry.Name, s.state)
	}
	if n > s.cursor.Remaining() {
		n = s.cursor.Remaining()
	}
	if n <= 0 {
		return nil
	}

	scratch := s.chunk()
	for n > 0 {
		if err := s.ctx.Err(); err != nil {
			return s.fail(err)
		}

		step := int64(len(scratch))
		if step > n {
			step = n
		}

		read, err := s.cursor.read(scratch[:step])
		s.skipped += int64(read)
		metrics().RecordSkippedBytes(int64(read))
		if err != nil {
			return s.fail(err)
		}
		n -= int64(read)
	}

	return nil
}

// Next returns the next chunk of decoded bytes. The chunk is only valid
// until the following call. After the last chunk Next verifies the checksum
// and returns io.EOF, or a *common.ChecksumMismatchError. Terminal outcomes
// are repeated on every later call.
func (s *EntryStream) Next() ([]byte, error) {
	if s.state.Terminal() {
		return nil, s.err
	}

	if s.cursor.Remaining() == 0 {
		return nil, s.finish()
	}

	if err := s.ctx.Err(); err != nil {
		return nil, s.fail(err)
	}

	buf := s.chunk()
	n, err := s.cursor.read(buf)
	if err != nil {
		return nil, s.fail(err)
	}

	s.advance(n)
	return buf[:n], nil
}

// Read implements io.Reader over the remaining entry bytes.
func (s *EntryStream) Read(p []byte) (int, error) {
	if s.state.Terminal() {
		return 0, s.err
	}

	if s.cursor.Remaining() == 0 {
		return 0, s.finish()
	}

	if len(p) == 0 {
		return 0, nil
	}

	if err := s.ctx.Err(); err != nil {
		return 0, s.fail(err)
	}

	n, err := s.cursor.read(p)
	if err != nil {
		return 0, s.fail(err)
	}

	s.advance(n)
	return n, nil
}

// WriteTo drains the stream into w.
func (s *EntryStream) WriteTo(w io.Writer) (int64, error) {
	var written int64
	for {
		chunk, err := s.Next()
		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			return written, err
		}

		n, err := w.Write(chunk)
		written += int64(n)
		if err != nil {
			return written, s.fail(err)
		}
	}
}

// Close releases the decoder. Closing a stream that has not finished makes
// every later pull fail with common.ErrStreamClosed.
func (s *EntryStream) Close() error {
	if !s.state.Terminal() {
		s.state = Failed
		s.err = common.ErrStreamClosed
	}
	return s.cursor.Close()
}

func (s *EntryStream) chunk() []byte {
	if s.buf == nil {
		size := int64(s.chunkSize)
		if size > s.entry.Size && s.entry.Size > 0 {
			size = s.entry.Size
		}
		s.buf = make([]byte, size)
	}
	return s.buf
}

func (s *EntryStream) advance(n int) {
	s.state = Streaming
	s.emitted += int64(n)
	metrics().RecordDecoded(int64(n))

	if s.observer != nil {
		s.observer(s.tracker.Observe(s.entry.Size - s.cursor.Remaining()))
	}

	if s.reportPacked {
		log.Debug().
			Str("name", s.entry.Name).
			Int64("packed_consumed", s.cursor.PackedConsumed()).
			Msg("packed position advanced")
	}
}

func (s *EntryStream) finish() error {
	defer s.cursor.Close()

	// Zero-length entries match vacuously
	if !s.entry.IsEmpty() && s.cursor.Checksum() != s.entry.CRC32 {
		s.state = ChecksumFailed
		s.err = &common.ChecksumMismatchError{
			Name:     s.entry.Name,
			Expected: s.entry.CRC32,
			Computed: s.cursor.Checksum(),
		}
		metrics().RecordChecksumFailure()
		log.Error().Err(s.err).Str("name", s.entry.Name).Msg("checksum verification failed")
		return s.err
	}

	s.state = Completed
	s.err = io.EOF

	if s.reportPacked {
		log.Debug().
			Str("name", s.entry.Name).
			Int64("packed_consumed", s.cursor.PackedConsumed()).
			Int64("size", s.entry.Size).
			Msg("entry streaming complete")
	}

	return io.EOF
}

func (s *EntryStream) fail(err error) error {
	s.state = Failed
	s.err = err
	s.cursor.Close()
	return err
}
