package solid

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/beam-cloud/solid/pkg/catalog"
	"github.com/beam-cloud/solid/pkg/common"
	"github.com/beam-cloud/solid/pkg/config"
	"github.com/beam-cloud/solid/pkg/extract"
	"github.com/beam-cloud/solid/pkg/progress"
	"github.com/beam-cloud/solid/pkg/sink"
	"github.com/beam-cloud/solid/pkg/source"
	"github.com/beam-cloud/solid/pkg/stream"
)

// SetLogLevel configures the logging verbosity for the library.
// Valid levels: "debug", "info", "warn", "error", "disabled"
func SetLogLevel(level string) error {
	switch strings.ToLower(level) {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn", "warning":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "disabled", "none", "off":
		zerolog.SetGlobalLevel(zerolog.Disabled)
	default:
		return fmt.Errorf("invalid log level %q: must be one of: debug, info, warn, error, disabled", level)
	}
	return nil
}

type OpenOptions struct {
	// Exactly one of Path, URL or Bucket+Key names the archive.
	Path   string
	URL    string
	Bucket string
	Key    string

	Password string

	S3                source.S3ClientOpts
	S3Client          *s3.Client
	CachePath         string
	CacheStartupDelay time.Duration

	BlockCache     bool
	BlockCacheOpts source.BlockCacheOpts

	PositionOpts   stream.PositionOpts
	ChunkSize      int
	ReportProgress bool
	ReportPacked   bool
	LogSkips       bool
}

// OptionsFromConfig maps environment configuration onto open options.
func OptionsFromConfig(cfg config.Config) OpenOptions {
	return OpenOptions{
		Password:          cfg.Password,
		S3:                cfg.S3.ClientOpts(),
		CachePath:         cfg.CachePath,
		CacheStartupDelay: cfg.CacheStartupDelay,
		BlockCache:        cfg.BlockCache.Enabled,
		BlockCacheOpts:    cfg.BlockCacheOpts(),
		PositionOpts:      cfg.PositionOpts(),
		ChunkSize:         cfg.ChunkSize,
		ReportProgress:    cfg.ReportProgress,
		ReportPacked:      cfg.ReportPacked,
		LogSkips:          cfg.ReportProgress,
	}
}

// WithLocation sets the archive location from a local path, an s3:// URI or
// an http(s):// URL.
func (o OpenOptions) WithLocation(location string) (OpenOptions, error) {
	o.Path, o.URL, o.Bucket, o.Key = "", "", "", ""

	switch {
	case strings.HasPrefix(location, "s3://"):
		bucket, key, err := source.ParseS3URI(location)
		if err != nil {
			return o, err
		}
		o.Bucket, o.Key = bucket, key
	case strings.HasPrefix(location, "http://"), strings.HasPrefix(location, "https://"):
		o.URL = location
	default:
		o.Path = location
	}
	return o, nil
}

// Archive is an open archive handle. The header and index are read once, in
// Open. Streams opened from one archive may run concurrently.
type Archive struct {
	cat         *catalog.Catalog
	extractor   *extract.Extractor
	storageInfo common.StorageInfo
	opts        OpenOptions
	streamOpts  []stream.Option
}

func Open(ctx context.Context, opts OpenOptions) (*Archive, error) {
	src, storageInfo, err := openSource(ctx, opts)
	if err != nil {
		return nil, err
	}

	if opts.BlockCache && storageInfo.Type() != common.StorageModeLocal {
		cacheOpts := opts.BlockCacheOpts
		if cacheOpts.Name == "" {
			cacheOpts.Name = storageInfo.String()
		}

		cached, err := source.NewBlockCache(src, cacheOpts)
		if err != nil {
			source.Close(src)
			return nil, err
		}
		src = cached
	}

	cat, err := catalog.Open(src, catalog.Opts{Password: opts.Password})
	if err != nil {
		source.Close(src)
		return nil, err
	}

	var streamOpts []stream.Option
	if opts.ChunkSize > 0 {
		streamOpts = append(streamOpts, stream.WithChunkSize(opts.ChunkSize))
	}
	if opts.ReportPacked {
		streamOpts = append(streamOpts, stream.WithPackedReporting(true))
	}

	a := &Archive{
		cat:         cat,
		storageInfo: storageInfo,
		opts:        opts,
		streamOpts:  streamOpts,
	}
	a.extractor = a.newExtractor()

	log.Info().
		Str("archive", storageInfo.String()).
		Int("files", len(cat.Files())).
		Int("folders", len(cat.Folders())).
		Msg("archive opened")

	return a, nil
}

func openSource(ctx context.Context, opts OpenOptions) (source.Source, common.StorageInfo, error) {
	switch {
	case opts.Bucket != "" && opts.Key != "":
		src, err := source.NewS3(ctx, source.S3Opts{
			S3ClientOpts:      opts.S3,
			Bucket:            opts.Bucket,
			Key:               opts.Key,
			CachePath:         opts.CachePath,
			CacheStartupDelay: opts.CacheStartupDelay,
			Client:            opts.S3Client,
		})
		if err != nil {
			return nil, nil, err
		}
		return src, common.S3StorageInfo{
			Bucket:         opts.Bucket,
			Key:            opts.Key,
			Region:         opts.S3.Region,
			Endpoint:       opts.S3.Endpoint,
			ForcePathStyle: opts.S3.ForcePathStyle,
		}, nil
	case opts.URL != "":
		src, err := source.NewHTTP(ctx, opts.URL)
		if err != nil {
			return nil, nil, err
		}
		return src, common.HTTPStorageInfo{URL: opts.URL}, nil
	case opts.Path != "":
		src, err := source.NewFile(opts.Path)
		if err != nil {
			return nil, nil, err
		}
		return src, common.LocalStorageInfo{Path: opts.Path}, nil
	default:
		return nil, nil, fmt.Errorf("no archive location given")
	}
}

func (a *Archive) StorageInfo() common.StorageInfo {
	return a.storageInfo
}

func (a *Archive) Catalog() *catalog.Catalog {
	return a.cat
}

// Files lists entries in archive order.
func (a *Archive) Files() []*common.FileEntry {
	return a.cat.Files()
}

func (a *Archive) Lookup(name string) (*common.FileEntry, error) {
	return a.cat.Lookup(name)
}

// Stream opens a pull-based stream over one entry.
func (a *Archive) Stream(ctx context.Context, name string) (*stream.EntryStream, error) {
	return a.extractor.Stream(ctx, name, a.progressOptions(name)...)
}

// StreamPortion opens a stream that starts emitting at startFraction of the
// entry. The leading bytes are decoded and checksummed but not emitted.
func (a *Archive) StreamPortion(ctx context.Context, name string, startFraction float64) (*stream.EntryStream, error) {
	s, err := a.Stream(ctx, name)
	if err != nil {
		return nil, err
	}

	if err := s.StartAt(startFraction); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (a *Archive) progressOptions(name string) []stream.Option {
	if !a.opts.ReportProgress {
		return nil
	}
	return []stream.Option{stream.WithProgress(progress.Logger(log.Logger, name))}
}

// ExtractTo writes one entry to w.
func (a *Archive) ExtractTo(ctx context.Context, name string, w io.Writer) (int64, error) {
	s, err := a.Stream(ctx, name)
	if err != nil {
		return 0, err
	}
	defer s.Close()

	return s.WriteTo(w)
}

// ExtractFile writes one entry to a local path or an s3:// URL. A .gz or
// .zst suffix on the target re-compresses the output.
func (a *Archive) ExtractFile(ctx context.Context, name string, targetURL string) (int64, error) {
	dest, target, err := sink.ForURL(ctx, targetURL, a.opts.S3)
	if err != nil {
		return 0, err
	}
	return a.extractor.ExtractOne(ctx, name, dest, target)
}

// ExtractFileTo writes one entry to target on dest.
func (a *Archive) ExtractFileTo(ctx context.Context, name string, dest sink.Destination, target string) (int64, error) {
	return a.extractor.ExtractOne(ctx, name, dest, target)
}

// ExtractAll writes every non-empty entry below a local directory or an
// s3://bucket/prefix URL.
func (a *Archive) ExtractAll(ctx context.Context, outURL string, opts ...extract.Option) (extract.Summary, error) {
	dest, err := sink.ForDirURL(ctx, outURL, a.opts.S3)
	if err != nil {
		return extract.Summary{}, err
	}
	return a.ExtractAllTo(ctx, dest, opts...)
}

func (a *Archive) ExtractAllTo(ctx context.Context, dest sink.Destination, opts ...extract.Option) (extract.Summary, error) {
	extractor := a.extractor
	if len(opts) > 0 {
		extractor = a.newExtractor(opts...)
	}
	return extractor.ExtractAll(ctx, dest)
}

func (a *Archive) newExtractor(opts ...extract.Option) *extract.Extractor {
	base := []extract.Option{
		extract.WithPositionOpts(a.opts.PositionOpts),
		extract.WithSkipLogging(a.opts.LogSkips),
		extract.WithStreamOptions(a.streamOpts...),
	}
	return extract.New(a.cat, append(base, opts...)...)
}

func (a *Archive) Close() error {
	return a.cat.Close()
}
