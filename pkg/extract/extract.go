package extract

import (
	"context"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog/log"

	"github.com/beam-cloud/solid/pkg/catalog"
	"github.com/beam-cloud/solid/pkg/common"
	"github.com/beam-cloud/solid/pkg/sink"
	"github.com/beam-cloud/solid/pkg/stream"
)

type Option func(*Extractor)

// WithSkipLogging logs each zero-length entry skipped by ExtractAll and
// each entry it starts extracting.
func WithSkipLogging(enabled bool) Option {
	return func(e *Extractor) {
		e.logSkips = enabled
	}
}

// WithContinueOnError makes ExtractAll keep going after a failed entry and
// report every failure together.
func WithContinueOnError(enabled bool) Option {
	return func(e *Extractor) {
		e.continueOnError = enabled
	}
}

func WithPositionOpts(opts stream.PositionOpts) Option {
	return func(e *Extractor) {
		e.positionOpts = opts
	}
}

// WithStreamOptions applies opts to every stream the extractor opens.
func WithStreamOptions(opts ...stream.Option) Option {
	return func(e *Extractor) {
		e.streamOpts = append(e.streamOpts, opts...)
	}
}

type Summary struct {
	Extracted int
	Skipped   int
	Failed    int
	Bytes     int64
}

// Extractor drives entry streams from one catalog into destinations.
type Extractor struct {
	cat             *catalog.Catalog
	logSkips        bool
	continueOnError bool
	positionOpts    stream.PositionOpts
	streamOpts      []stream.Option
}

func New(cat *catalog.Catalog, opts ...Option) *Extractor {
	e := &Extractor{cat: cat}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Stream opens a primed stream over the named entry.
func (e *Extractor) Stream(ctx context.Context, name string, opts ...stream.Option) (*stream.EntryStream, error) {
	entry, err := e.cat.Lookup(name)
	if err != nil {
		return nil, err
	}
	return e.streamEntry(ctx, entry, opts...)
}

func (e *Extractor) streamEntry(ctx context.Context, entry *common.FileEntry, opts ...stream.Option) (*stream.EntryStream, error) {
	cursor, err := stream.Position(ctx, e.cat, entry, e.positionOpts)
	if err != nil {
		return nil, err
	}

	all := append(append([]stream.Option{}, e.streamOpts...), opts...)
	return stream.New(ctx, cursor, all...), nil
}

// ExtractTo writes the named entry to w and returns the bytes written.
func (e *Extractor) ExtractTo(ctx context.Context, name string, w io.Writer) (int64, error) {
	s, err := e.Stream(ctx, name)
	if err != nil {
		return 0, err
	}
	defer s.Close()

	return s.WriteTo(w)
}

// ExtractOne writes the named entry to target on dest. The target's
// extension selects the output encoding. Partial output is left in place
// when extraction fails.
func (e *Extractor) ExtractOne(ctx context.Context, name string, dest sink.Destination, target string) (int64, error) {
	entry, err := e.cat.Lookup(name)
	if err != nil {
		return 0, err
	}
	return e.extractEntry(ctx, entry, dest, target)
}

func (e *Extractor) extractEntry(ctx context.Context, entry *common.FileEntry, dest sink.Destination, target string) (int64, error) {
	encoding := sink.EncodingFor(target)
	if encoding.Kind == sink.Unsupported {
		return 0, fmt.Errorf("%w: %s: %s", common.ErrUnsupportedEncoding, target, encoding.Reason)
	}

	s, err := e.streamEntry(ctx, entry)
	if err != nil {
		return 0, err
	}
	defer s.Close()

	raw, err := dest.Open(ctx, target)
	if err != nil {
		return 0, err
	}

	w, err := encoding.Wrap(raw)
	if err != nil {
		raw.Close()
		return 0, err
	}

	n, err := s.WriteTo(w)
	if closeErr := w.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return n, err
	}

	if setter, ok := dest.(sink.MetadataSetter); ok && encoding.Kind == sink.None {
		if err := setter.SetMetadata(target, entry.Mode, entry.ModTime); err != nil {
			return n, err
		}
	}

	common.GetGlobalMetrics().RecordExtracted()

	log.Debug().
		Str("name", entry.Name).
		Str("target", target).
		Str("encoding", encoding.Kind.String()).
		Str("size", humanize.Bytes(uint64(n))).
		Msg("entry extracted")

	return n, nil
}

// ExtractAll extracts every non-empty entry in archive order, using the
// entry name as the target.
func (e *Extractor) ExtractAll(ctx context.Context, dest sink.Destination) (Summary, error) {
	var (
		summary Summary
		result  *multierror.Error
	)

	for _, entry := range e.cat.Files() {
		if err := ctx.Err(); err != nil {
			return summary, multierror.Append(result, err).ErrorOrNil()
		}

		if entry.IsEmpty() {
			summary.Skipped++
			common.GetGlobalMetrics().RecordSkipped()
			if e.logSkips {
				log.Info().Str("name", entry.Name).Msg("skipping file because it is of size 0 bytes")
			}
			continue
		}

		if e.logSkips {
			log.Info().Str("name", entry.Name).Str("size", humanize.Bytes(uint64(entry.Size))).Msg("decompressing")
		}

		n, err := e.extractEntry(ctx, entry, dest, entry.Name)
		summary.Bytes += n
		if err != nil {
			summary.Failed++
			err = fmt.Errorf("%s: %w", entry.Name, err)
			if !e.continueOnError {
				return summary, err
			}
			log.Warn().Err(err).Msg("extraction failed, continuing")
			result = multierror.Append(result, err)
			continue
		}

		summary.Extracted++
	}

	log.Info().
		Int("extracted", summary.Extracted).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Str("bytes", humanize.Bytes(uint64(summary.Bytes))).
		Msg("extraction complete")

	return summary, result.ErrorOrNil()
}
